package config

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds all portal client configuration.
type Config struct {
	APIBaseURL string
	LogLevel   string
	LogFormat  string
	// RedisURL points at the shared per-origin store that backs session
	// persistence and the cross-tab broadcast channel.
	RedisURL string
	// ClientID identifies this tab/process on the broadcast channel so a
	// publisher can ignore its own notifications.
	ClientID string
	// ExpiryCheckInterval is how often the session manager re-evaluates
	// token expiry while authenticated.
	ExpiryCheckInterval time.Duration
	HTTPTimeout         time.Duration
	RetryMaxAttempts    int
	RetryInitialDelay   time.Duration

	// Dev stub server only.
	DevServerPort string
	JWTSecret     string
	JWTExpiry     time.Duration
	BcryptCost    int
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		APIBaseURL:          getEnv("API_BASE_URL", "http://localhost:8080/api/v1"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "pretty"),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		ClientID:            getEnv("CLIENT_ID", uuid.New().String()),
		ExpiryCheckInterval: time.Duration(getEnvInt("EXPIRY_CHECK_SECONDS", 60)) * time.Second,
		HTTPTimeout:         time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 15)) * time.Second,
		RetryMaxAttempts:    getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay:   time.Duration(getEnvInt("RETRY_INITIAL_DELAY_MS", 500)) * time.Millisecond,
		DevServerPort:       getEnv("DEV_SERVER_PORT", "8080"),
		JWTSecret:           getEnv("JWT_SECRET", "change-this-to-a-secure-random-string"),
		JWTExpiry:           time.Duration(getEnvInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
		BcryptCost:          getEnvInt("BCRYPT_COST", 6),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
