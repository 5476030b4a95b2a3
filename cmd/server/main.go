package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"mocktest-backend/internal/config"
	"mocktest-backend/internal/database"
	"mocktest-backend/internal/handlers"
	"mocktest-backend/internal/middleware"
	"mocktest-backend/internal/navigation"
	"mocktest-backend/internal/repository"
	"mocktest-backend/internal/results"
	"mocktest-backend/internal/router"
	"mocktest-backend/internal/services"
	"mocktest-backend/internal/storage"
	"mocktest-backend/internal/websocket"
	"mocktest-backend/internal/worker"
)

func main() {
	log.Println("🚀 Starting Mock Test Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(context.Background(), pool, database.Migrations()); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Step 5: Open Engine Storage ────
	var engineStore storage.Store
	switch cfg.StorageType {
	case "redis":
		engineStore = storage.NewRedisStore(redisClients.Queue, 7*24*time.Hour)
	case "sqlite":
		sqliteStore, err := storage.NewSQLiteStore(cfg.StoragePath)
		if err != nil {
			log.Fatalf("✗ SQLite store failed: %v", err)
		}
		defer sqliteStore.Close()
		engineStore = sqliteStore
	case "memory":
		engineStore = storage.NewMemoryStore()
	default:
		log.Fatalf("✗ Unknown STORAGE_TYPE %q", cfg.StorageType)
	}
	log.Printf("✓ Engine storage ready (%s)", cfg.StorageType)

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	publisher := services.NewRedisPublisher(redisClients.PubSub)
	retryQueue := worker.NewRetryQueue(redisClients.Queue)
	resultsClient := results.NewClient(engineStore, results.Options{
		BaseURL: cfg.ResultsAPIURL,
		MaxRPS:  cfg.ResultsMaxRPS,
	})
	runner := services.NewTestRunner(
		engineStore,
		resultsClient,
		jwtAuth,
		func(userID uuid.UUID) navigation.RetryQueue { return retryQueue.ForLearner(userID) },
		publisher,
		services.RunnerConfig{
			Durations:     cfg.Durations,
			BridgeTimeout: cfg.BridgeTimeout,
			TemplateID:    cfg.TemplateID,
		},
	)

	// ──── Initialize Handlers ────
	quizResultHandler := handlers.NewQuizResultHandler(repository.NewQuizResultRepo(pool))
	testSessionHandler := handlers.NewTestSessionHandler(runner)

	// ──── Step 6: Start Result Retry Workers ────
	workerPool := worker.NewPool(
		redisClients.Queue,
		retryQueue,
		engineStore,
		resultsClient,
		jwtAuth,
		publisher,
		cfg.RetryWorkers,
	)
	workerPool.Start()
	log.Printf("✓ Worker pool started (%d goroutines)", cfg.RetryWorkers)

	// ──── Step 7: Start WebSocket Hub ────
	wsHub := websocket.NewHub(redisClients.PubSub, jwtAuth, runner)
	log.Println("✓ WebSocket hub started")

	// ──── Step 8: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		quizResultHandler,
		testSessionHandler,
		wsHub,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// Advances wait on the quiz surface for up to the bridge timeout.
		WriteTimeout: cfg.BridgeTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		workerPool.Stop()
		runner.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Mock Test Backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Printf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
