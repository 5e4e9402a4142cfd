package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// Storage. DatabaseURL selects PostgreSQL; otherwise SQLitePath is
	// used (defaulting under ./data).
	DatabaseURL string
	SQLitePath  string
	RedisURL    string

	// Typing presence
	TypingTTL time.Duration

	// Attachment boundary
	MaxUploadBytes int64
	UploadDir      string
	PublicBaseURL  string

	// Collaborators
	DirectoryURL string

	// Rate limiting
	RateLimitPerMinute int
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         os.Getenv("SQLITE_PATH"),
		RedisURL:           os.Getenv("REDIS_URL"),
		TypingTTL:          getDuration("TYPING_TTL", 5*time.Second),
		MaxUploadBytes:     getInt64("MAX_UPLOAD_BYTES", 25<<20),
		UploadDir:          getEnv("UPLOAD_DIR", "./data/uploads"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", ""),
		DirectoryURL:       os.Getenv("DIRECTORY_URL"),
		RateLimitPerMinute: int(getInt64("RATE_LIMIT_PER_MINUTE", 300)),
	}

	if cfg.Env == "production" {
		if cfg.DatabaseURL == "" {
			panic("DATABASE_URL is required in production")
		}
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
