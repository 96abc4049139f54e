package dbconfig

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
)

// Config holds the Postgres connection settings read from the environment.
// The same DSN feeds the pgx pool and the lib/pq LISTEN connections, so it
// lives in its own package instead of internal/cmd.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewConfigFromEnv builds a Config from DB_* environment variables, falling
// back to local-development defaults.
func NewConfigFromEnv() Config {
	cfg := Config{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     5432,
		User:     envOr("DB_USER", "postgres"),
		Password: envOr("DB_PASSWORD", "postgres"),
		Database: envOr("DB_NAME", "quizbuzz"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}
	if p, err := strconv.Atoi(envOr("DB_PORT", "5432")); err == nil {
		cfg.Port = p
	}
	return cfg
}

// DSN renders the config as a postgres:// URL. The password is URL-escaped so
// generated credentials with special characters survive the round trip.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password),
		c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
