// Package database coordinates the miner's optional sinks: the PostgreSQL
// share log, live Redis counters and InfluxDB time series. Any backend left
// unconfigured is skipped.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bardlex/gompow/internal/database/influx"
	"github.com/bardlex/gompow/internal/database/postgres"
	"github.com/bardlex/gompow/internal/database/redis"
	"github.com/bardlex/gompow/internal/search"
	"github.com/bardlex/gompow/internal/submit"
	"github.com/bardlex/gompow/internal/work"
	"github.com/bardlex/gompow/pkg/circuit"
	"github.com/bardlex/gompow/pkg/errors"
	"github.com/bardlex/gompow/pkg/log"
	"github.com/bardlex/gompow/pkg/retry"
)

const (
	// HashrateWindow is how long Redis keeps hashrate samples
	HashrateWindow = 10 * time.Minute
	// CounterTTL is how long share counters live after their last update
	CounterTTL = 24 * time.Hour
)

// ShareStore persists submission outcomes
type ShareStore interface {
	CreateShare(ctx context.Context, share *postgres.Share) error
}

// LiveStore holds the current job, counters and recent hashrate
type LiveStore interface {
	SetCurrentJob(ctx context.Context, ticker string, jobData any) error
	IncrementCounter(ctx context.Context, key string, expiration time.Duration) (int64, error)
	SetHashrate(ctx context.Context, ticker, miner string, hashrate float64, window time.Duration) error
}

// MetricsWriter writes time series points
type MetricsWriter interface {
	WriteHashrateMetric(ticker, miner string, difficulty int, attempts int64, solutions int, hashrate float64, at time.Time)
	WriteShareMetric(ticker, miner, status string, difficulty, statusCode int, latency time.Duration, at time.Time)
	WriteJobMetric(ticker, jobID string, difficulty int, at time.Time)
}

// Manager coordinates all database operations across PostgreSQL, Redis, and InfluxDB
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	shares  ShareStore
	live    LiveStore
	metrics MetricsWriter

	shareReader ShareReader
	liveReader  LiveReader
	history     MetricsReader

	miner  string
	logger *log.Logger
	now    func() time.Time

	// Error handling
	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
}

// Config holds configuration for all database systems. A nil entry
// disables that backend.
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
	Miner    string
}

// NewManager connects every configured backend. On failure the
// connections already opened are closed again.
func NewManager(cfg *Config, logger *log.Logger) (*Manager, error) {
	m := newManager(cfg.Miner, logger)

	if cfg.Postgres != nil {
		pgClient, err := postgres.NewClient(cfg.Postgres)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
				"failed to connect to PostgreSQL database"))
		}
		m.Postgres = pgClient

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = pgClient.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_schema",
				"failed to create shares table"))
		}
		repo := postgres.NewShareRepository(pgClient.DB())
		m.shares, m.shareReader = repo, repo
	}

	if cfg.Redis != nil {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database"))
		}
		m.Redis = redisClient
		m.live, m.liveReader = redisClient, redisClient
	}

	if cfg.Influx != nil {
		influxClient, err := influx.NewClient(cfg.Influx)
		if err != nil {
			return nil, m.abort(errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB database"))
		}
		m.Influx = influxClient
		m.metrics, m.history = influxClient, influxClient
	}

	return m, nil
}

func newManager(miner string, logger *log.Logger) *Manager {
	cbConfig := &circuit.Config{
		Name:            "database",
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
		IsFailure:       errors.IsRetryable,
	}

	return &Manager{
		miner:          miner,
		logger:         logger.WithComponent("database"),
		now:            time.Now,
		circuitBreaker: circuit.New(cbConfig),
		retryConfig:    retry.DatabaseConfig(),
	}
}

func (m *Manager) abort(err *errors.ServiceError) error {
	if closeErr := m.Close(); closeErr != nil {
		return err.WithContext("cleanup_error", closeErr.Error())
	}
	return err
}

// Close closes all database connections
func (m *Manager) Close() error {
	var errs []error

	if m.Postgres != nil {
		if err := m.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if m.Influx != nil {
		m.Influx.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks the health of all configured database connections
func (m *Manager) Health(ctx context.Context) error {
	if m.Postgres != nil {
		if err := m.Postgres.Health(ctx); err != nil {
			return fmt.Errorf("PostgreSQL health check failed: %w", err)
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}

	return nil
}

// High-level operations that coordinate across multiple databases

// RecordShare stores a submission outcome. The PostgreSQL insert is
// retried and its failure returned; Redis and InfluxDB are best effort.
func (m *Manager) RecordShare(ctx context.Context, outcome *submit.Outcome) error {
	share := ShareFromOutcome(outcome, m.miner, m.now())

	if m.metrics != nil {
		m.metrics.WriteShareMetric(share.Ticker, m.miner, share.Status, share.Difficulty,
			share.StatusCode, outcome.Duration, share.SubmittedAt)
	}

	if m.live != nil {
		key := redis.CounterKey(share.Ticker, m.miner, share.Status)
		if _, err := m.live.IncrementCounter(ctx, key, CounterTTL); err != nil {
			m.logger.Warn("failed to update share counter in Redis", "key", key, "error", err)
		}
	}

	if m.shares == nil {
		return nil
	}

	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.shares.CreateShare(ctx, share); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_share",
					"failed to store share in PostgreSQL").
					WithContext("job_id", share.JobID).
					WithContext("status", share.Status)
			}
			return nil
		})
	})
}

// RecordHashrate stores a batch summary in Redis and InfluxDB
func (m *Manager) RecordHashrate(ctx context.Context, result *search.BatchResult) error {
	hashrate := result.Hashrate()
	item := result.Item

	if m.metrics != nil {
		m.metrics.WriteHashrateMetric(item.Ticker, m.miner, item.Difficulty, result.Attempts,
			len(result.Solutions), hashrate, m.now())
	}

	if m.live != nil {
		if err := m.live.SetHashrate(ctx, item.Ticker, m.miner, hashrate, HashrateWindow); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "record_hashrate",
				"failed to update hashrate in Redis").
				WithContext("job_id", item.ID)
		}
	}

	return nil
}

// RecordJob publishes the new current job to Redis and InfluxDB
func (m *Manager) RecordJob(ctx context.Context, item work.Item) error {
	if m.metrics != nil {
		m.metrics.WriteJobMetric(item.Ticker, item.ID, item.Difficulty, m.now())
	}

	if m.live != nil {
		if err := m.live.SetCurrentJob(ctx, item.Ticker, item); err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "record_job",
				"failed to store current job in Redis").
				WithContext("job_id", item.ID)
		}
	}

	return nil
}

// StartPeriodicTasks flushes InfluxDB writes and drains its async error
// channel until ctx is done
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	if m.Influx == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()

	go func() {
		errs := m.Influx.Errors()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}
				m.logger.Warn("InfluxDB write failed", "error", err)
			}
		}
	}()
}

// ShareFromOutcome converts a submission outcome into a share row
func ShareFromOutcome(outcome *submit.Outcome, miner string, at time.Time) *postgres.Share {
	sol := outcome.Solution
	share := &postgres.Share{
		JobID:       sol.TokenID,
		Ticker:      sol.Ticker,
		Miner:       miner,
		Nonce:       sol.NonceHex(),
		Hash:        sol.HashHex(),
		Location:    sol.Location,
		Difficulty:  sol.Difficulty,
		Status:      outcome.Status.String(),
		StatusCode:  outcome.StatusCode,
		Response:    outcome.Body,
		LatencyMs:   float64(outcome.Duration.Microseconds()) / 1000,
		SubmittedAt: at.UTC(),
	}
	if outcome.Err != nil {
		share.Error = outcome.Err.Error()
	}
	return share
}
