// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration for the trading engine.
type Config struct {
	Port        int
	LogLevel    string
	DatabaseURL string
	RedisURL    string

	// StartingBalance is the USD balance every new wallet opens with.
	StartingBalance decimal.Decimal

	// PriceRefreshInterval doubles as the snapshot freshness window and
	// the base of the fetch retry backoff.
	PriceRefreshInterval time.Duration
	PriceFetchTimeout    time.Duration
	PriceMaxBackoff      time.Duration

	// LockTimeout bounds how long an order waits on the wallet row lock.
	LockTimeout time.Duration

	CacheTTL        time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	startingBalance, err := getDecimal("STARTING_BALANCE", decimal.NewFromInt(10000))
	if err != nil {
		return nil, fmt.Errorf("invalid STARTING_BALANCE: %w", err)
	}
	if startingBalance.IsNegative() {
		return nil, fmt.Errorf("invalid STARTING_BALANCE: must not be negative")
	}

	refreshInterval, err := getDuration("PRICE_REFRESH_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_REFRESH_INTERVAL: %w", err)
	}

	fetchTimeout, err := getDuration("PRICE_FETCH_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_FETCH_TIMEOUT: %w", err)
	}

	maxBackoff, err := getDuration("PRICE_MAX_BACKOFF", 30*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid PRICE_MAX_BACKOFF: %w", err)
	}

	lockTimeout, err := getDuration("LOCK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid LOCK_TIMEOUT: %w", err)
	}

	cacheTTL, err := getDuration("CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:                 port,
		LogLevel:             logLevel,
		DatabaseURL:          getStr("DATABASE_URL", ""),
		RedisURL:             getStr("REDIS_URL", ""),
		StartingBalance:      startingBalance,
		PriceRefreshInterval: refreshInterval,
		PriceFetchTimeout:    fetchTimeout,
		PriceMaxBackoff:      maxBackoff,
		LockTimeout:          lockTimeout,
		CacheTTL:             cacheTTL,
		ReadTimeout:          readTimeout,
		WriteTimeout:         writeTimeout,
		IdleTimeout:          idleTimeout,
		ShutdownTimeout:      shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func getDecimal(key string, defaultVal decimal.Decimal) (decimal.Decimal, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return decimal.NewFromString(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
