package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string
	// DefaultTenantID backs anonymous take-a-number requests that
	// carry no explicit tenant. The engine itself never defaults a
	// tenant; this value is handed to the public facade only.
	DefaultTenantID          string
	QueueLocation            *time.Location
	EventBufferSize          int
	RateLimitPerMinute       int
	RateLimitBurst           int
	TenantRateLimitPerMinute int
	TenantRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                     port,
		DatabaseURL:              os.Getenv("DB_DSN"),
		DefaultTenantID:          os.Getenv("DEFAULT_TENANT_ID"),
		QueueLocation:            readLocation("QUEUE_TIMEZONE"),
		EventBufferSize:          readInt("EVENT_BUFFER_SIZE", 64),
		RateLimitPerMinute:       readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:           readInt("RATE_LIMIT_BURST", 30),
		TenantRateLimitPerMinute: readInt("TENANT_RATE_LIMIT_PER_MIN", 600),
		TenantRateLimitBurst:     readInt("TENANT_RATE_LIMIT_BURST", 120),
	}
}

func readLocation(key string) *time.Location {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Local
	}
	location, err := time.LoadLocation(raw)
	if err != nil {
		log.Printf("invalid %s %q, using local time: %v", key, raw, err)
		return time.Local
	}
	return location
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
