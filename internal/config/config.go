package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database. Empty means the in-memory document store.
	DatabaseURL string

	// Redis. Optional; without it snapshot fan-out stays in-process.
	RedisURL string

	// JWT
	JWTSecret    string
	JWTAccessTTL time.Duration

	// CORS
	AllowedOrigins []string

	// Spam guard
	BurstLimit      int
	BurstWindow     time.Duration
	SpamBanDuration time.Duration

	// Logging
	LogLevel string
}

func Load() *Config {
	// Load .env file in development
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret:    getEnv("JWT_SECRET", "super-secret-key-change-me"),
		JWTAccessTTL: parseDuration(getEnv("JWT_ACCESS_TTL", "15m"), 15*time.Minute),

		AllowedOrigins: parseStringSlice(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		BurstLimit:      parseInt(getEnv("BURST_LIMIT", "5"), 5),
		BurstWindow:     parseDuration(getEnv("BURST_WINDOW", "30s"), 30*time.Second),
		SpamBanDuration: parseDuration(getEnv("SPAM_BAN_DURATION", "30s"), 30*time.Second),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseStringSlice(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
