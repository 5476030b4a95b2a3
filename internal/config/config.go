package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"mocktest-backend/internal/timer"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Engine storage: "redis", "sqlite" or "memory"
	StorageType string
	StoragePath string

	// Result persistence
	ResultsAPIURL string
	ResultsMaxRPS float64
	RetryWorkers  int

	// Answer bridge
	BridgeTimeout time.Duration

	// Module timers
	Durations timer.Durations

	TemplateID string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	port := getEnvOrDefault("PORT", "8080")
	cfg := &Config{
		Port:          port,
		Env:           getEnvOrDefault("ENV", "development"),
		DatabaseURL:   mustGetEnv("DATABASE_URL"),
		RedisURL:      mustGetEnv("REDIS_URL"),
		JWTSecret:     mustGetEnv("JWT_SECRET"),
		StorageType:   getEnvOrDefault("STORAGE_TYPE", "redis"),
		StoragePath:   getEnvOrDefault("STORAGE_PATH", "./mocktest.db"),
		ResultsAPIURL: getEnvOrDefault("RESULTS_API_URL", "http://localhost:"+port),
		ResultsMaxRPS: getEnvAsFloatOrDefault("RESULTS_MAX_RPS", 5),
		RetryWorkers:  getEnvAsIntOrDefault("RETRY_WORKERS", 2),
		BridgeTimeout: time.Duration(getEnvAsIntOrDefault("BRIDGE_TIMEOUT_SECONDS", 15)) * time.Second,
		TemplateID:    getEnvOrDefault("TEMPLATE_ID", "mock-test-quiz"),
		FrontendURL:   getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	durations, err := LoadDurations(
		getEnvAsIntOrDefault("DEFAULT_MODULE_DURATION_SECONDS", 1800),
		os.Getenv("MODULE_DURATIONS_FILE"),
		os.Getenv("MODULE_DURATIONS"),
	)
	if err != nil {
		panic(err)
	}
	cfg.Durations = durations

	return cfg
}

// durationFile is the layout of MODULE_DURATIONS_FILE:
//
//	default = 1800
//
//	[modules]
//	1 = 1920
//	2 = 2100
type durationFile struct {
	Default int            `toml:"default"`
	Modules map[string]int `toml:"modules"`
}

// LoadDurations builds the module duration table. Entries from path (a TOML
// file, skipped when empty or missing) are overridden by the "1=1920,2=2100"
// list.
func LoadDurations(def int, path, list string) (timer.Durations, error) {
	d := timer.Durations{Default: def, ByModule: map[int]int{}}

	if path != "" {
		var f durationFile
		_, err := toml.DecodeFile(path, &f)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return d, fmt.Errorf("config: parse %s: %w", path, err)
		default:
			if f.Default > 0 {
				d.Default = f.Default
			}
			for k, v := range f.Modules {
				m, err := strconv.Atoi(k)
				if err != nil || m <= 0 {
					return d, fmt.Errorf("config: %s: bad module number %q", path, k)
				}
				d.ByModule[m] = v
			}
		}
	}

	overrides, err := parseDurationList(list)
	if err != nil {
		return d, err
	}
	for m, v := range overrides {
		d.ByModule[m] = v
	}
	return d, nil
}

func parseDurationList(s string) (map[int]int, error) {
	out := map[int]int{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("config: MODULE_DURATIONS entry %q is not module=seconds", part)
		}
		m, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil || m <= 0 {
			return nil, fmt.Errorf("config: MODULE_DURATIONS bad module %q", k)
		}
		secs, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("config: MODULE_DURATIONS bad seconds %q", v)
		}
		out[m] = secs
	}
	return out, nil
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
