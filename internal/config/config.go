package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	ReceiptDelay     time.Duration
	CompletionWindow time.Duration
	SweepInterval    time.Duration
}

func Load() (*Config, error) {
	// Local dev convenience; ignored when no .env is present.
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	receiptDelay, err := envDuration("RECEIPT_DELAY", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	completionWindow, err := envDuration("TRADE_COMPLETION_WINDOW", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}
	sweepInterval, err := envDuration("SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	return &Config{
		DBSource:         dbSource,
		Port:             port,
		Env:              env,
		ReceiptDelay:     receiptDelay,
		CompletionWindow: completionWindow,
		SweepInterval:    sweepInterval,
	}, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
