// Package main implements powminer, a proof-of-work token miner.
// It polls the job API for the current challenge, searches nonces in
// parallel and submits winning hashes back to the API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bardlex/gompow/internal/api"
	"github.com/bardlex/gompow/internal/bitcoin"
	"github.com/bardlex/gompow/internal/config"
	"github.com/bardlex/gompow/internal/database"
	"github.com/bardlex/gompow/internal/database/influx"
	"github.com/bardlex/gompow/internal/database/postgres"
	"github.com/bardlex/gompow/internal/database/redis"
	"github.com/bardlex/gompow/internal/messaging"
	"github.com/bardlex/gompow/internal/notify"
	"github.com/bardlex/gompow/internal/search"
	"github.com/bardlex/gompow/internal/stats"
	"github.com/bardlex/gompow/internal/submit"
	"github.com/bardlex/gompow/internal/work"
	"github.com/bardlex/gompow/pkg/errors"
	"github.com/bardlex/gompow/pkg/log"
	"github.com/bardlex/gompow/pkg/retry"
)

const healthTimeout = 5 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting powminer",
		"version", cfg.Version,
		"api_url", cfg.APIURL,
		"ticker", cfg.Ticker,
		"workers", cfg.WorkerCount,
		"batch_size", cfg.BatchSize,
	)

	miner, err := NewMiner(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("failed to create miner")
		os.Exit(1)
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := miner.Start(ctx); err != nil {
		logger.WithError(err).Error("failed to start miner")
		_ = miner.Close()
		os.Exit(1)
	}

	// Wait for shutdown signal
	<-sigChan
	logger.Info("shutdown signal received")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := miner.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}

	logger.Info("powminer stopped")
}

// Miner wires the job API, work state, search engine, submission pipeline
// and the optional event sinks together
type Miner struct {
	cfg     *config.Config
	logger  *log.Logger
	address *bitcoin.AddressInfo

	client    *api.Client
	state     *work.State
	refresher *work.Refresher
	engine    *search.Engine
	pipeline  *submit.Pipeline
	counter   *stats.Counter
	events    *eventSink

	// Optional sinks, nil when not configured
	kafka      *messaging.KafkaClient
	db         *database.Manager
	subscriber *notify.Subscriber

	// closers release the sinks above, in reverse order of opening
	closers []func() error

	cancel       context.CancelFunc
	submitCancel context.CancelFunc
	wg           sync.WaitGroup
}

// NewMiner validates the miner identity and builds every component. It
// connects the configured sinks but does not start any loop.
func NewMiner(cfg *config.Config, logger *log.Logger) (*Miner, error) {
	params, err := bitcoin.NetworkParams(cfg.ChainNetwork)
	if err != nil {
		return nil, err
	}
	address, err := bitcoin.ValidateAddress(cfg.MinerAddress, params)
	if err != nil {
		return nil, err
	}

	m := &Miner{
		cfg:     cfg,
		logger:  logger.WithComponent("miner"),
		address: address,
		counter: stats.NewCounter(),
		state:   work.NewState(),
		events:  newEventSink(logger, eventQueueSize),
	}

	m.client = api.NewClient(api.Config{
		BaseURL: cfg.APIURL,
		Address: cfg.MinerAddress,
		Chain:   cfg.APIChain,
		Wallet:  cfg.APIWallet,
	}, logger)

	m.refresher = work.NewRefresher(m.state, m.client, work.RefresherConfig{
		Ticker:       cfg.Ticker,
		Interval:     cfg.RefreshInterval,
		FetchTimeout: cfg.FetchTimeout,
	}, logger)

	m.pipeline = submit.NewPipeline(submit.Config{
		Workers:   cfg.SubmitWorkers,
		QueueSize: cfg.SubmitQueueSize,
		Timeout:   cfg.SubmitTimeout,
	}, m.client, m.counter, m.refresher, logger)

	m.engine = search.NewEngine(search.Config{
		BatchSize: cfg.BatchSize,
		Workers:   cfg.WorkerCount,
		Seed:      cfg.SearchSeed,
	}, m.state, m.pipeline, m.counter, logger)

	if err := m.connectSinks(logger); err != nil {
		_ = m.Close()
		return nil, err
	}

	m.engine.SetRecorder(m.events)
	m.pipeline.SetRecorder(m.events)
	m.state.OnChange(m.onJobChange)

	return m, nil
}

func (m *Miner) connectSinks(logger *log.Logger) error {
	if len(m.cfg.KafkaBrokers) > 0 {
		m.kafka = messaging.NewKafkaClient(m.cfg.KafkaBrokers, logger.WithComponent("kafka").Logger)
		m.closers = append(m.closers, m.kafka.Close)
		m.events.Add("kafka", messaging.NewPublisher(m.kafka, m.cfg.MinerAddress))
	}

	if m.cfg.DatabaseEnabled() {
		db, err := database.NewManager(databaseConfig(m.cfg), logger)
		if err != nil {
			return err
		}
		m.db = db
		m.closers = append(m.closers, db.Close)

		healthCtx, cancel := context.WithTimeout(context.Background(), healthTimeout)
		err = db.Health(healthCtx)
		cancel()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeDatabase, "database_health",
				"database health check failed")
		}
		m.events.Add("database", db)
	}

	if m.cfg.ZMQEndpoint != "" {
		sub, err := notify.NewSubscriber(m.cfg.ZMQEndpoint, logger)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_connect",
				"failed to create ZMQ subscriber")
		}
		m.subscriber = sub
		m.closers = append(m.closers, sub.Close)
		if err := sub.Subscribe(""); err != nil {
			return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_connect",
				"failed to subscribe")
		}
		if err := sub.Connect(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_connect",
				"failed to connect ZMQ subscriber").
				WithContext("endpoint", m.cfg.ZMQEndpoint)
		}
	}

	return nil
}

func databaseConfig(cfg *config.Config) *database.Config {
	dbCfg := &database.Config{Miner: cfg.MinerAddress}
	if cfg.PostgresURL != "" {
		dbCfg.Postgres = &postgres.Config{
			URL:          cfg.PostgresURL,
			MaxOpenConns: cfg.SubmitWorkers + 1,
			MaxIdleConns: 2,
			MaxLifetime:  30 * time.Minute,
		}
	}
	if cfg.RedisURL != "" {
		dbCfg.Redis = &redis.Config{URL: cfg.RedisURL}
	}
	if cfg.InfluxURL != "" {
		dbCfg.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		}
	}
	return dbCfg
}

func (m *Miner) onJobChange(ev work.ChangeEvent) {
	item := ev.Current
	m.logger.LogJobChange(item.Ticker, item.ID, item.Difficulty, len(item.Challenge)/2)
	m.events.RecordJob(item)
}

// Start fetches the initial job and launches the refresh, search and
// submission loops. A failed initial fetch is returned and nothing runs.
func (m *Miner) Start(ctx context.Context) error {
	m.logger.Info("miner starting",
		"address", m.address.Address,
		"network", m.address.Network,
		"address_class", m.address.Class,
		"sinks", m.events.Len(),
	)

	if err := m.bootstrap(ctx); err != nil {
		return err
	}

	// Submissions outlive the search context so Shutdown can drain them.
	submitCtx, submitCancel := context.WithCancel(context.Background())
	m.submitCancel = submitCancel
	m.events.Start(submitCtx)
	m.pipeline.Start(submitCtx)

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if m.db != nil {
		m.db.StartPeriodicTasks(runCtx)
	}

	m.goRun("refresher", func() error { return m.refresher.Run(runCtx) })
	m.goRun("search", func() error { return m.engine.Run(runCtx) })
	if m.subscriber != nil {
		handler := notify.RefreshHandler(m.refresher, m.logger)
		m.goRun("notify", func() error { return m.subscriber.Listen(runCtx, handler) })
	}

	return nil
}

func (m *Miner) bootstrap(ctx context.Context) error {
	item, err := retry.DoWithResult(ctx, retry.BootstrapConfig(), func() (work.Item, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
		defer cancel()
		return m.client.FetchWork(fetchCtx, m.cfg.Ticker)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "bootstrap",
			"failed to fetch initial job").
			WithContext("ticker", m.cfg.Ticker)
	}

	if _, err := m.state.Refresh(item); err != nil {
		return err
	}
	return nil
}

func (m *Miner) goRun(name string, fn func() error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := fn(); err != nil && err != context.Canceled {
			m.logger.WithError(err).Error("loop stopped", "loop", name)
		}
	}()
}

// Counter exposes accepted/rejected totals
func (m *Miner) Counter() *stats.Counter {
	return m.counter
}

// Shutdown stops searching, drains queued submissions and events, and
// closes every sink
func (m *Miner) Shutdown(ctx context.Context) error {
	m.logger.Info("miner shutting down")

	if m.cancel != nil {
		m.cancel()
	}

	loopsDone := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(loopsDone)
	}()
	select {
	case <-loopsDone:
	case <-ctx.Done():
		if m.submitCancel != nil {
			m.submitCancel()
		}
		err := errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "shutdown",
			"loops did not stop")
		if closeErr := m.Close(); closeErr != nil {
			return err.WithContext("close_error", closeErr.Error())
		}
		return err
	}

	var firstErr error
	if err := m.pipeline.Shutdown(ctx); err != nil {
		firstErr = err
	}
	if err := m.events.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if m.submitCancel != nil {
		m.submitCancel()
	}

	if m.db != nil {
		m.logSummary(ctx)
	}

	if err := m.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	snapshot := m.counter.Snapshot()
	m.logger.Info("miner stopped",
		"accepted", snapshot.Accepted,
		"rejected", snapshot.Rejected,
		"events_dropped", m.events.Dropped(),
	)
	return firstErr
}

func (m *Miner) logSummary(ctx context.Context) {
	summaryCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	s, err := m.db.Summary(summaryCtx, m.cfg.Ticker)
	if err != nil {
		m.logger.WithError(err).Warn("database summary incomplete")
	}
	if s == nil {
		return
	}
	m.logger.Info("database summary",
		"ticker", s.Ticker,
		"stored_shares", s.StoredShares,
		"recent_shares", len(s.RecentShares),
		"current_job", s.CurrentJobID,
		"live_accepted", s.LiveAccepted,
		"live_rejected", s.LiveRejected,
		"average_hashrate", s.AverageHashrate,
		"history_samples", s.HistorySamples,
		"peak_hashrate", s.PeakHashrate,
	)
}

// Close releases the optional sinks. Each sink is closed at most once.
func (m *Miner) Close() error {
	var firstErr error
	for i := len(m.closers) - 1; i >= 0; i-- {
		if err := m.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.closers = nil
	return firstErr
}
