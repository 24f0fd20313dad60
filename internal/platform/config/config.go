package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration. Values come from the
// environment so main stays lean; defaults suit local development.
type Config struct {
	Addr          string
	PostgresDSN   string
	RedisURL      string
	JWTSigningKey string

	// ActivationTokenTTL bounds how long an email activation link stays
	// valid.
	ActivationTokenTTL time.Duration

	// TxTimeout bounds a single transactional operation; exceeding it
	// surfaces as a retryable timeout to the caller.
	TxTimeout time.Duration

	// ReminderConcurrency bounds the overdue-reminder fan-out.
	ReminderConcurrency int

	SMTP SMTP
}

// SMTP holds outbound mail settings. Delivery mechanics live behind the
// notification sink; these fields only feed its construction.
type SMTP struct {
	Host   string
	Port   int
	From   string
	Enable bool
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:                envOr("BIBLIO_ADDR", ":8080"),
		PostgresDSN:         os.Getenv("BIBLIO_POSTGRES_DSN"),
		RedisURL:            os.Getenv("BIBLIO_REDIS_URL"),
		JWTSigningKey:       envOr("BIBLIO_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ActivationTokenTTL:  durationOr("BIBLIO_ACTIVATION_TTL", 24*time.Hour),
		TxTimeout:           durationOr("BIBLIO_TX_TIMEOUT", 5*time.Second),
		ReminderConcurrency: intOr("BIBLIO_REMINDER_CONCURRENCY", 4),
		SMTP: SMTP{
			Host:   os.Getenv("BIBLIO_SMTP_HOST"),
			Port:   intOr("BIBLIO_SMTP_PORT", 587),
			From:   envOr("BIBLIO_SMTP_FROM", "biblioteca@municipio.cl"),
			Enable: os.Getenv("BIBLIO_SMTP_ENABLE") == "true",
		},
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
