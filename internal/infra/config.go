package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv string
	Port   string

	// KVBackend selects the persistence layer: "sqlite" or "postgres".
	KVBackend   string
	DataDir     string
	DatabaseURL string

	PromptProvider string
	GeminiAPIKey   string
	GeminiModel    string
	GeminiBaseURL  string

	ImageAPIKey  string
	ImageModel   string
	ImageBaseURL string

	ShareBaseURL string
	ShareAPIKey  string

	StoragePath  string
	PanelBaseURL string

	DraftCount int

	PollInterval       time.Duration
	PollBackoffBase    time.Duration
	PollBackoffCeiling time.Duration
	PollMaxSession     time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		KVBackend:      getEnv("KV_BACKEND", "sqlite"),
		DataDir:        getEnv("DATA_DIR", "./data"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		PromptProvider: getEnv("PROMPT_PROVIDER", "gemini"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:  getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		ImageAPIKey:    os.Getenv("IMAGE_API_KEY"),
		ImageModel:     getEnv("IMAGE_MODEL", "artisan-xl"),
		ImageBaseURL:   getEnv("IMAGE_BASE_URL", "https://api.cardforge-images.dev/v1"),
		ShareBaseURL:   os.Getenv("SHARE_BASE_URL"),
		ShareAPIKey:    os.Getenv("SHARE_API_KEY"),
		StoragePath:    getEnv("STORAGE_PATH", "./data/panels"),
		PanelBaseURL:   getEnv("PANEL_BASE_URL", "http://localhost:8080/static"),
		DraftCount:     getEnvInt("DRAFT_COUNT", 5),

		PollInterval:       time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)),
		PollBackoffBase:    time.Second * time.Duration(getEnvInt("POLL_BACKOFF_BASE_SECONDS", 2)),
		PollBackoffCeiling: time.Second * time.Duration(getEnvInt("POLL_BACKOFF_CEILING_SECONDS", 30)),
		PollMaxSession:     time.Minute * time.Duration(getEnvInt("POLL_MAX_SESSION_MINUTES", 45)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	switch cfg.KVBackend {
	case "sqlite":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when KV_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown KV_BACKEND %q (want sqlite or postgres)", cfg.KVBackend)
	}

	if cfg.ImageAPIKey == "" {
		return nil, fmt.Errorf("IMAGE_API_KEY is required")
	}

	if cfg.DraftCount <= 0 {
		return nil, fmt.Errorf("DRAFT_COUNT must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
