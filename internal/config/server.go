package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds configuration for the remote API server (stintd).
type ServerConfig struct {
	// Server
	Port string

	// JWT
	JWTSecret string

	// Storage: Postgres when DatabaseURL is set, otherwise SQLite under DataDir
	DatabaseURL string
	DataDir     string

	// Redis (optional): serializes concurrent replays of the same idempotency key
	RedisURL           string
	IdempotencyLockTTL time.Duration
}

// LoadServer loads server configuration from the environment.
// A .env file in the working directory is read first if present.
func LoadServer() (*ServerConfig, error) {
	_ = godotenv.Load()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("required environment variable JWT_SECRET is not set")
	}

	return &ServerConfig{
		Port:               getEnvOrDefault("PORT", "8080"),
		JWTSecret:          secret,
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		DataDir:            getEnvOrDefault("DATA_DIR", "./data"),
		RedisURL:           os.Getenv("REDIS_URL"),
		IdempotencyLockTTL: time.Duration(getEnvAsIntOrDefault("IDEMPOTENCY_LOCK_TTL_SECONDS", 30)) * time.Second,
	}, nil
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
