// Package config provides configuration management for the miner.
// It handles loading configuration from environment variables with sensible defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds the miner configuration
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Job API
	APIURL       string
	Ticker       string
	MinerAddress string
	ChainNetwork string
	APIChain     string
	APIWallet    string

	// Search and submission tuning
	BatchSize       int
	WorkerCount     int
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	SubmitTimeout   time.Duration
	SubmitWorkers   int
	SubmitQueueSize int
	SearchSeed      uint64

	// Optional sinks; empty disables each
	KafkaBrokers []string
	PostgresURL  string
	RedisURL     string
	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	ZMQEndpoint  string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		// Service defaults
		ServiceName: getEnv("SERVICE_NAME", "powminer"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Job API defaults
		APIURL:       getEnv("API_URL", "http://api.pow20.io"),
		Ticker:       getEnv("TICKER", ""),
		MinerAddress: getEnv("MINER_ADDRESS", ""),
		ChainNetwork: getEnv("CHAIN_NETWORK", "mainnet"),
		APIChain:     getEnv("API_CHAIN", "BSV"),
		APIWallet:    getEnv("API_WALLET", "PANDA"),

		// Search defaults
		BatchSize:       getEnvInt("BATCH_SIZE", 1_000_000),
		WorkerCount:     getEnvInt("WORKER_COUNT", 2*runtime.NumCPU()),
		RefreshInterval: getEnvDuration("REFRESH_INTERVAL", 500*time.Millisecond),
		FetchTimeout:    getEnvDuration("FETCH_TIMEOUT", 5*time.Second),
		SubmitTimeout:   getEnvDuration("SUBMIT_TIMEOUT", 10*time.Second),
		SubmitWorkers:   getEnvInt("SUBMIT_WORKERS", 4),
		SubmitQueueSize: getEnvInt("SUBMIT_QUEUE_SIZE", 64),
		SearchSeed:      getEnvUint64("SEARCH_SEED", 0),

		// Sinks are off unless configured
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", nil),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", "gompow"),
		InfluxBucket: getEnv("INFLUX_BUCKET", "mining"),
		ZMQEndpoint:  getEnv("ZMQ_ENDPOINT", ""),

		// Logging defaults
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if c.Ticker == "" {
		return fmt.Errorf("TICKER is required")
	}

	if c.MinerAddress == "" {
		return fmt.Errorf("MINER_ADDRESS is required")
	}

	u, err := url.Parse(c.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API_URL must be an http(s) URL, got %q", c.APIURL)
	}

	if c.BatchSize <= 0 || uint64(c.BatchSize) > 1<<32 {
		return fmt.Errorf("BATCH_SIZE must be between 1 and 4294967296")
	}

	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive")
	}

	if c.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive")
	}

	if c.FetchTimeout <= 0 || c.SubmitTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT and SUBMIT_TIMEOUT must be positive")
	}

	if c.SubmitWorkers <= 0 {
		return fmt.Errorf("SUBMIT_WORKERS must be positive")
	}

	if c.SubmitQueueSize <= 0 {
		return fmt.Errorf("SUBMIT_QUEUE_SIZE must be positive")
	}

	if c.InfluxURL != "" && c.InfluxToken == "" {
		return fmt.Errorf("INFLUX_TOKEN is required when INFLUX_URL is set")
	}

	return nil
}

// DatabaseEnabled reports whether any database sink is configured
func (c *Config) DatabaseEnabled() bool {
	return c.PostgresURL != "" || c.RedisURL != "" || c.InfluxURL != ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
