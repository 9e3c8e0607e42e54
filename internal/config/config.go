package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL string
	ServerAddr  string

	RazorpayKeyID     string
	RazorpayKeySecret string

	PushWebhookURL string

	CommissionDefaultBps int64
	MaxRevisions         int

	MessageRateLimit  int
	MessageRateWindow time.Duration
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "influmatch")
		pass := getenv("POSTGRES_PASSWORD", "influmatch_pass")
		db := getenv("POSTGRES_DB", "influmatch")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	commissionPercent := parseFloat(getenv("COMMISSION_DEFAULT_PERCENT", "10"), 10)
	if commissionPercent < 0 || commissionPercent > 100 {
		return nil, fmt.Errorf("COMMISSION_DEFAULT_PERCENT out of range: %v", commissionPercent)
	}

	return &Config{
		DatabaseURL:          dsn,
		ServerAddr:           getenv("SERVER_ADDR", "0.0.0.0:8080"),
		RazorpayKeyID:        os.Getenv("RAZORPAY_KEY_ID"),
		RazorpayKeySecret:    os.Getenv("RAZORPAY_KEY_SECRET"),
		PushWebhookURL:       os.Getenv("PUSH_WEBHOOK_URL"),
		CommissionDefaultBps: int64(commissionPercent * 100),
		MaxRevisions:         parseInt(getenv("MAX_REVISIONS", "3"), 3),
		MessageRateLimit:     parseInt(getenv("MESSAGE_RATE_LIMIT", "30"), 30),
		MessageRateWindow:    parseDuration(getenv("MESSAGE_RATE_WINDOW", "1m"), time.Minute),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(val string, def float64) float64 {
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return f
}
