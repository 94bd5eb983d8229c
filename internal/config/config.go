// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration for the market engine server.
type Config struct {
	// Port the HTTP server listens on.
	Port int

	// DatabaseURL is the Postgres connection string. Empty selects the
	// in-memory store.
	DatabaseURL string

	// RedisURL enables the read-through cache when set.
	RedisURL string

	// CacheTTL bounds staleness of cached reads.
	CacheTTL time.Duration

	// LockTimeout bounds how long a trade waits for a market lock.
	LockTimeout time.Duration

	// StartingCredits is the balance granted to a user on first trade.
	StartingCredits decimal.Decimal

	// MaxSharesPerMarket caps a user's holdings in a single market.
	// Zero disables the cap.
	MaxSharesPerMarket decimal.Decimal

	// MaxTotalShares caps a user's holdings across all markets.
	// Zero disables the cap.
	MaxTotalShares decimal.Decimal
}

// Load reads configuration from the environment, with a .env file as
// fallback when present.
func Load() (Config, error) {
	// Ignore a missing .env file; real env vars always win.
	_ = godotenv.Load()

	cfg := Config{
		Port:            8080,
		CacheTTL:        5 * time.Second,
		LockTimeout:     3 * time.Second,
		StartingCredits: decimal.NewFromInt(1000),
	}

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p <= 0 || p > 65535 {
			return Config{}, fmt.Errorf("config: invalid PORT %q", v)
		}
		cfg.Port = p
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	var err error
	if cfg.CacheTTL, err = durationEnv("CACHE_TTL", cfg.CacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.LockTimeout, err = durationEnv("LOCK_TIMEOUT", cfg.LockTimeout); err != nil {
		return Config{}, err
	}
	if cfg.StartingCredits, err = decimalEnv("STARTING_CREDITS", cfg.StartingCredits); err != nil {
		return Config{}, err
	}
	if cfg.MaxSharesPerMarket, err = decimalEnv("MAX_SHARES_PER_MARKET", cfg.MaxSharesPerMarket); err != nil {
		return Config{}, err
	}
	if cfg.MaxTotalShares, err = decimalEnv("MAX_TOTAL_SHARES", cfg.MaxTotalShares); err != nil {
		return Config{}, err
	}

	if cfg.StartingCredits.IsNegative() {
		return Config{}, fmt.Errorf("config: STARTING_CREDITS must not be negative")
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: invalid %s %q", key, v)
	}
	return d, nil
}

func decimalEnv(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("config: invalid %s %q", key, v)
	}
	return d, nil
}
