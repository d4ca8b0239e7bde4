// Package postgres stores the miner's submission log in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// NewClient opens cfg.URL and pings the server
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{db: db}, nil
}

// EnsureSchema creates the shares table and its indexes if missing
func (c *Client) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS shares (
		id           BIGSERIAL PRIMARY KEY,
		job_id       TEXT NOT NULL,
		ticker       TEXT NOT NULL,
		miner        TEXT NOT NULL,
		nonce        TEXT NOT NULL,
		hash         TEXT NOT NULL,
		location     TEXT NOT NULL,
		difficulty   INTEGER NOT NULL,
		status       TEXT NOT NULL,
		status_code  INTEGER NOT NULL DEFAULT 0,
		response     TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		latency_ms   DOUBLE PRECISION NOT NULL DEFAULT 0,
		submitted_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS shares_ticker_submitted_idx ON shares (ticker, submitted_at DESC)`,
	`CREATE INDEX IF NOT EXISTS shares_status_idx ON shares (status)`,
}
