package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway.
type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// SecretsKey decrypts provider connection credentials (AES-256-GCM).
	SecretsKey []byte

	// KeyHashSecret keys the HMAC used to index gateway API keys.
	KeyHashSecret []byte

	// Upstream
	UpstreamTimeout time.Duration

	// Settlement
	USDToEURRate float64

	// Ledger
	LedgerQueueSize  int
	LedgerWorkers    int
	LedgerMaxRetries int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379"),
		UpstreamTimeout:  getEnvDuration("UPSTREAM_TIMEOUT", 60*time.Second),
		USDToEURRate:     getEnvFloat("USD_EUR_RATE", 0.92),
		LedgerQueueSize:  getEnvInt("LEDGER_QUEUE_SIZE", 1024),
		LedgerWorkers:    getEnvInt("LEDGER_WORKERS", 2),
		LedgerMaxRetries: getEnvInt("LEDGER_MAX_RETRIES", 3),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	secretsKey, err := getEnvHexKey("SECRETS_KEY", 32)
	if err != nil {
		return nil, err
	}
	cfg.SecretsKey = secretsKey

	hashSecret := getEnv("KEY_HASH_SECRET", "")
	if hashSecret == "" {
		return nil, fmt.Errorf("KEY_HASH_SECRET is required")
	}
	cfg.KeyHashSecret = []byte(hashSecret)

	if cfg.USDToEURRate <= 0 {
		return nil, fmt.Errorf("USD_EUR_RATE must be positive")
	}

	return cfg, nil
}

func getEnvHexKey(key string, size int) ([]byte, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return nil, fmt.Errorf("%s is required", key)
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex encoded: %w", key, err)
	}
	if len(decoded) != size {
		return nil, fmt.Errorf("%s must decode to %d bytes, got %d", key, size, len(decoded))
	}
	return decoded, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
