package database

import (
	"context"
	"time"

	"github.com/bardlex/gompow/internal/database/influx"
	"github.com/bardlex/gompow/internal/database/postgres"
	"github.com/bardlex/gompow/internal/database/redis"
	"github.com/bardlex/gompow/internal/work"
	"github.com/bardlex/gompow/pkg/errors"
)

const (
	// SummaryRecentShares is how many stored shares a Summary carries
	SummaryRecentShares = 5
	// SummaryHistory is how far back a Summary reads InfluxDB
	SummaryHistory = time.Hour
)

// ShareReader reads back the share log
type ShareReader interface {
	RecentShares(ctx context.Context, ticker string, limit int) ([]*postgres.Share, error)
	CountByStatus(ctx context.Context, ticker string) (postgres.StatusCounts, error)
}

// LiveReader reads the live Redis state
type LiveReader interface {
	GetCurrentJob(ctx context.Context, ticker string, dest any) error
	GetCounter(ctx context.Context, key string) (int64, error)
	GetAverageHashrate(ctx context.Context, ticker, miner string, window time.Duration) (float64, error)
}

// MetricsReader queries stored time series
type MetricsReader interface {
	GetHashrateHistory(ctx context.Context, ticker, miner string, duration time.Duration) ([]influx.HashrateSample, error)
}

// Summary is what the configured backends hold for one ticker. Fields
// for a backend that is not configured stay zero.
type Summary struct {
	Ticker string

	// PostgreSQL
	StoredShares postgres.StatusCounts
	RecentShares []*postgres.Share

	// Redis
	CurrentJobID    string
	LiveAccepted    int64
	LiveRejected    int64
	AverageHashrate float64

	// InfluxDB
	HistorySamples int
	PeakHashrate   float64
}

// Summary reads every configured backend for ticker. Each backend is
// queried even when another fails; the first failure is returned along
// with whatever was read.
func (m *Manager) Summary(ctx context.Context, ticker string) (*Summary, error) {
	s := &Summary{Ticker: ticker}
	var firstErr error
	fail := func(op, msg string, err error) {
		wrapped := errors.Wrap(err, errors.ErrorTypeDatabase, op, msg).WithContext("ticker", ticker)
		m.logger.WithError(wrapped).Warn("summary read failed", "operation", op)
		if firstErr == nil {
			firstErr = wrapped
		}
	}

	if m.shareReader != nil {
		if counts, err := m.shareReader.CountByStatus(ctx, ticker); err != nil {
			fail("summary_counts", "failed to count shares in PostgreSQL", err)
		} else {
			s.StoredShares = counts
		}
		if recent, err := m.shareReader.RecentShares(ctx, ticker, SummaryRecentShares); err != nil {
			fail("summary_recent", "failed to read recent shares from PostgreSQL", err)
		} else {
			s.RecentShares = recent
		}
	}

	if m.liveReader != nil {
		var job work.Item
		if err := m.liveReader.GetCurrentJob(ctx, ticker, &job); err != nil {
			fail("summary_job", "failed to read current job from Redis", err)
		} else {
			s.CurrentJobID = job.ID
		}

		accepted, err := m.liveReader.GetCounter(ctx, redis.CounterKey(ticker, m.miner, "accepted"))
		if err != nil {
			fail("summary_counter", "failed to read share counter from Redis", err)
		}
		rejected, err := m.liveReader.GetCounter(ctx, redis.CounterKey(ticker, m.miner, "rejected"))
		if err != nil {
			fail("summary_counter", "failed to read share counter from Redis", err)
		}
		s.LiveAccepted, s.LiveRejected = accepted, rejected

		if avg, err := m.liveReader.GetAverageHashrate(ctx, ticker, m.miner, HashrateWindow); err != nil {
			fail("summary_hashrate", "failed to read hashrate from Redis", err)
		} else {
			s.AverageHashrate = avg
		}
	}

	if m.history != nil {
		samples, err := m.history.GetHashrateHistory(ctx, ticker, m.miner, SummaryHistory)
		if err != nil {
			fail("summary_history", "failed to query hashrate history from InfluxDB", err)
		}
		s.HistorySamples = len(samples)
		for _, sample := range samples {
			if sample.Hashrate > s.PeakHashrate {
				s.PeakHashrate = sample.Hashrate
			}
		}
	}

	return s, firstErr
}
