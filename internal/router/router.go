package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"mocktest-backend/internal/handlers"
	"mocktest-backend/internal/middleware"
	"mocktest-backend/internal/websocket"
)

func New(
	jwtAuth *middleware.JWTAuth,
	quizResultHandler *handlers.QuizResultHandler,
	testSessionHandler *handlers.TestSessionHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Result submissions: 120 req/min per learner
	resultLimiter := middleware.NewRateLimiter(120, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Quiz Result Routes ────
		r.Route("/quiz-results", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.With(resultLimiter.Middleware).Post("/", quizResultHandler.Submit)
			r.Get("/summary", quizResultHandler.Summary)
		})

		// ──── Test Session Routes ────
		r.Route("/tests", func(r chi.Router) {
			// The quiz surface authenticates with the token query param.
			r.Get("/{sequenceID}/surface", wsHub.HandleSurface)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/start", testSessionHandler.Start)
				r.Get("/{sequenceID}", testSessionHandler.State)
				r.Post("/{sequenceID}/advance", testSessionHandler.Advance)
				r.Post("/{sequenceID}/resume", testSessionHandler.Resume)
				r.Post("/{sequenceID}/acknowledge", testSessionHandler.Acknowledge)
				r.Post("/{sequenceID}/abandon", testSessionHandler.Abandon)
			})
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
