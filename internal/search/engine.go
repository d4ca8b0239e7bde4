// Package search runs the proof-of-work batches.
//
// Each batch takes one snapshot of the current job, splits a fixed index
// space across worker goroutines and tests one nonce per index. Workers own
// their random generator and preimage buffer, so the hot loop touches no
// shared state.
package search

import (
	"context"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/bardlex/gompow/internal/pow"
	"github.com/bardlex/gompow/internal/stats"
	"github.com/bardlex/gompow/internal/work"
	"github.com/bardlex/gompow/pkg/errors"
	"github.com/bardlex/gompow/pkg/log"
)

// DefaultBatchSize is the number of attempts per batch.
const DefaultBatchSize = 1_000_000

// cancelCheckInterval is how many attempts a worker makes between context
// checks.
const cancelCheckInterval = 1 << 12

// Config controls batch shape.
type Config struct {
	BatchSize int
	Workers   int
	// Seed makes the random nonce halves reproducible. Zero seeds from the
	// runtime generator.
	Seed uint64
}

// DefaultConfig returns a Config sized to the machine.
func DefaultConfig() Config {
	return Config{
		BatchSize: DefaultBatchSize,
		Workers:   2 * runtime.NumCPU(),
	}
}

// Source provides job snapshots.
type Source interface {
	Current() (work.Item, bool)
}

// Sink accepts solutions without blocking.
type Sink interface {
	Enqueue(sol *work.Solution) bool
}

// StatsSource reports share counters for throughput lines.
type StatsSource interface {
	Snapshot() stats.Snapshot
}

// Recorder receives every finished batch. Errors are logged and ignored.
type Recorder interface {
	RecordBatch(ctx context.Context, result *BatchResult) error
}

// BatchResult is the outcome of one batch.
type BatchResult struct {
	Item      work.Item
	Tag       string
	Attempts  int64
	Duration  time.Duration
	Solutions []work.Solution
}

// Hashrate returns attempts per second.
func (r *BatchResult) Hashrate() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Attempts) / r.Duration.Seconds()
}

// Engine runs batches against the current job.
type Engine struct {
	config   Config
	source   Source
	sink     Sink
	stats    StatsSource
	recorder Recorder
	logger   *log.Logger

	rngs []*rand.Rand
}

// NewEngine creates an Engine. Invalid sizes fall back to DefaultConfig
// values.
func NewEngine(config Config, source Source, sink Sink, statsSource StatsSource, logger *log.Logger) *Engine {
	defaults := DefaultConfig()
	if config.BatchSize <= 0 || uint64(config.BatchSize) > 1<<32 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.Workers > config.BatchSize {
		config.Workers = config.BatchSize
	}

	rngs := make([]*rand.Rand, config.Workers)
	for i := range rngs {
		if config.Seed != 0 {
			rngs[i] = rand.New(rand.NewPCG(config.Seed, uint64(i)))
		} else {
			rngs[i] = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
	}

	return &Engine{
		config: config,
		source: source,
		sink:   sink,
		stats:  statsSource,
		logger: logger.WithComponent("search"),
		rngs:   rngs,
	}
}

// SetRecorder attaches a batch recorder. Call before Run.
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// RunBatch tests one batch of nonces against item. It must not be called
// concurrently with itself. A cancelled batch returns what it found so far
// together with the context error.
func (e *Engine) RunBatch(ctx context.Context, item work.Item) (*BatchResult, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	raw, err := item.ChallengeBytes()
	if err != nil {
		return nil, err
	}
	challenge := pow.SearchOrder(raw)

	result := &BatchResult{
		Item: item,
		Tag:  log.ChallengeTag(challenge),
	}

	workers := e.config.Workers
	chunk := (e.config.BatchSize + workers - 1) / workers

	type partial struct {
		attempts  int64
		solutions []work.Solution
	}
	partials := make([]partial, workers)

	start := time.Now()
	var wg sync.WaitGroup
	for w := range workers {
		lo := w * chunk
		hi := min(lo+chunk, e.config.BatchSize)
		if lo >= hi {
			continue
		}

		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			attempts, found := e.scan(ctx, e.rngs[w], item, challenge, lo, hi)
			partials[w] = partial{attempts: attempts, solutions: found}
		}(w, lo, hi)
	}
	wg.Wait()
	result.Duration = time.Since(start)

	for _, p := range partials {
		result.Attempts += p.attempts
		result.Solutions = append(result.Solutions, p.solutions...)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// scan tests indices [lo, hi) and returns the attempt count and passing
// candidates.
func (e *Engine) scan(ctx context.Context, rng *rand.Rand, item work.Item, challenge []byte, lo, hi int) (int64, []work.Solution) {
	preimage, ok := pow.NewPreimage(challenge)
	if !ok {
		return 0, nil
	}

	var found []work.Solution
	var attempts int64
	for i := lo; i < hi; i++ {
		if attempts%cancelCheckInterval == 0 && ctx.Err() != nil {
			break
		}
		attempts++

		nonce := pow.NewNonce(uint32(i), rng.Uint32())
		digest := preimage.Digest(nonce)
		if !pow.Passes(&digest, item.Difficulty) {
			continue
		}

		found = append(found, work.Solution{
			Nonce:      nonce,
			Hash:       digest,
			Location:   item.CurrentLocation,
			TokenID:    item.ID,
			Ticker:     item.Ticker,
			Difficulty: item.Difficulty,
			Challenge:  challenge,
		})
	}
	return attempts, found
}

// Run searches until ctx is cancelled. Each batch uses the job that was
// current when it started; at most one solution per batch is handed to the
// sink.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("search engine started",
		"batch_size", e.config.BatchSize,
		"workers", e.config.Workers,
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		_, err := e.RunCurrent(ctx)
		switch {
		case err == nil:
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		case err != ErrNoWork:
			e.logger.WithError(err).Warn("skipping job")
		}
		if err := sleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
}

func (e *Engine) report(ctx context.Context, result *BatchResult) {
	snap := e.stats.Snapshot()
	e.logger.LogThroughput(result.Tag, result.Item.Difficulty, result.Attempts,
		result.Duration.Nanoseconds(), snap.Accepted, snap.Rejected)

	if e.recorder != nil {
		if err := e.recorder.RecordBatch(ctx, result); err != nil {
			e.logger.WithError(err).Debug("failed to record batch")
		}
	}

	if len(result.Solutions) == 0 {
		return
	}

	sol := result.Solutions[0]
	jobLogger := e.logger.WithJob(result.Item.ID, result.Item.Ticker, result.Item.Difficulty)
	jobLogger.LogSolutionFound(result.Tag, sol.NonceHex(), sol.HashHex(), sol.Location)
	if !e.sink.Enqueue(&sol) {
		jobLogger.Warn("submission queue full, dropping solution",
			"challenge", result.Tag,
			"nonce", sol.NonceHex(),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ErrNoWork is returned by RunCurrent when no job has been set yet.
var ErrNoWork = errors.New(errors.ErrorTypeValidation, "run_batch", "no current job")

// RunCurrent runs one batch against the current job and reports it the
// way Run does.
func (e *Engine) RunCurrent(ctx context.Context) (*BatchResult, error) {
	item, ok := e.source.Current()
	if !ok {
		return nil, ErrNoWork
	}
	result, err := e.RunBatch(ctx, item)
	if err != nil {
		return result, err
	}
	e.report(ctx, result)
	return result, nil
}
