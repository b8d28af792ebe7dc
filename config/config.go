package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache (optional; empty disables summary caching)
	RedisAddr string

	// Auth
	APIKey string // shared secret expected in the x-api-key header

	// Alerts
	WebhookURL         string
	WebhookTimeout     time.Duration // per-attempt delivery timeout, default: 5s
	CostAlertThreshold float64       // minimum cost to alert on, default: 0 (every event)
	AlertWorkers       int           // default: 4
	AlertQueueSize     int           // default: 256

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		APIKey:               os.Getenv("API_KEY"),
		WebhookURL:           os.Getenv("WEBHOOK_URL"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	timeoutStr := getEnv("WEBHOOK_TIMEOUT", "5s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}
	cfg.WebhookTimeout = timeout

	thresholdStr := getEnv("COST_ALERT_THRESHOLD", "0")
	threshold, err := strconv.ParseFloat(thresholdStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid COST_ALERT_THRESHOLD: %w", err)
	}
	cfg.CostAlertThreshold = threshold

	workersStr := getEnv("ALERT_WORKERS", "4")
	workers, err := strconv.Atoi(workersStr)
	if err != nil || workers < 1 {
		return nil, fmt.Errorf("invalid ALERT_WORKERS: %q", workersStr)
	}
	cfg.AlertWorkers = workers

	queueStr := getEnv("ALERT_QUEUE_SIZE", "256")
	queue, err := strconv.Atoi(queueStr)
	if err != nil || queue < 1 {
		return nil, fmt.Errorf("invalid ALERT_QUEUE_SIZE: %q", queueStr)
	}
	cfg.AlertQueueSize = queue

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API_KEY is required")
	}
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("WEBHOOK_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
