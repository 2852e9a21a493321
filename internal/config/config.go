// Package config loads server configuration from .env and the environment.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the process configuration.
type Config struct {
	DatabaseURL string
	ServerPort  int

	// APIJWTSecret signs and verifies the bearer tokens protecting the
	// REST surface.
	APIJWTSecret string

	// SecretsPath is the file holding sealed provider credentials.
	SecretsPath string
	// SecretsPassphrase derives the sealing key.
	SecretsPassphrase string

	// AvailabilityConcurrency bounds in-flight per-item cache checks.
	AvailabilityConcurrency int
}

// Load reads .env when present, then the environment, applying defaults.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DatabaseURL:             getEnv("DATABASE_URL", "postgres://localhost/debridarr?sslmode=disable"),
		ServerPort:              getEnvInt("PORT", 8484),
		APIJWTSecret:            getEnv("API_JWT_SECRET", ""),
		SecretsPath:             getEnv("SECRETS_PATH", "data/secrets.json"),
		SecretsPassphrase:       getEnv("SECRETS_PASSPHRASE", ""),
		AvailabilityConcurrency: getEnvInt("AVAILABILITY_CONCURRENCY", 10),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
