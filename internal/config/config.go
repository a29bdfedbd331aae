package config

import (
	"os"
	"time"
)

// Runtime configuration, populated from the environment.
type Config struct {
	Port        string
	DBPath      string
	JWTSecret   string
	ExecURL     string
	ExecTimeout time.Duration
}

func Load() Config {
	cfg := Config{
		Port:        getenv("PORT", "8080"),
		DBPath:      getenv("CODECOLLAB_DB_PATH", "./data/codecollab.db"),
		JWTSecret:   getenv("CODECOLLAB_JWT_SECRET", "dev-secret-change-in-production"),
		ExecURL:     getenv("CODECOLLAB_EXEC_URL", "http://localhost:2000/api/v2/execute"),
		ExecTimeout: 15 * time.Second,
	}

	if raw := os.Getenv("CODECOLLAB_EXEC_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.ExecTimeout = d
		}
	}

	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
