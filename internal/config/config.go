package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	DBDSN         string
	JWTSecret     string
	RedisAddr     string
	RedisChannel  string
	NodeID        string
	LogLevel      string
	ClientOrigin  string
	StorageURL    string
	StorageBucket string
	StorageKey    string
}

// Load reads an optional .env file and then the process environment.
// DB_DSN and JWT_SECRET are required.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBDSN:         getEnv("DB_DSN", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisChannel:  getEnv("REDIS_CHANNEL", "dm:events"),
		NodeID:        getEnv("NODE_ID", uuid.NewString()),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		ClientOrigin:  getEnv("CLIENT_ORIGIN", ""),
		StorageURL:    strings.TrimRight(getEnv("STORAGE_URL", ""), "/"),
		StorageBucket: getEnv("STORAGE_BUCKET", ""),
		StorageKey:    getEnv("STORAGE_KEY", ""),
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

func (c *Config) RelayEnabled() bool {
	return c != nil && c.RedisAddr != ""
}

func (c *Config) StorageEnabled() bool {
	return c != nil && c.StorageURL != "" && c.StorageBucket != "" && c.StorageKey != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}
