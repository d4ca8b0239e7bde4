// Package submit delivers found solutions to the job API off the search
// path. Solutions go onto a bounded queue; a small pool of workers submits
// them one attempt each, updates the share counters and asks for a work
// refresh.
package submit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bardlex/gompow/internal/stats"
	"github.com/bardlex/gompow/internal/work"
	"github.com/bardlex/gompow/pkg/errors"
	"github.com/bardlex/gompow/pkg/log"
)

// AcceptedStatusCode is the only response code that counts as accepted.
const AcceptedStatusCode = http.StatusCreated

// Submitter delivers one solution and reports the response.
type Submitter interface {
	SubmitSolution(ctx context.Context, sol *work.Solution) (statusCode int, body string, err error)
}

// Refresher is asked to refresh work after every submission.
type Refresher interface {
	Trigger()
}

// Counter records share results.
type Counter interface {
	RecordAccepted() stats.Snapshot
	RecordRejected() stats.Snapshot
}

// Recorder receives every outcome, for persistence or events.
type Recorder interface {
	RecordOutcome(ctx context.Context, outcome *Outcome) error
}

// Status classifies a submission.
type Status int

const (
	// StatusAccepted means the API answered 201
	StatusAccepted Status = iota
	// StatusRejected means the API answered with any other code
	StatusRejected
	// StatusFailed means no answer was received
	StatusFailed
)

// String returns the status name used in logs and events
func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of handling one solution.
type Outcome struct {
	Solution   *work.Solution
	Status     Status
	StatusCode int
	Body       string
	Err        error
	Stats      stats.Snapshot
	Duration   time.Duration
}

// Config holds pipeline sizing.
type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// DefaultConfig returns the default pipeline sizing.
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 64,
		Timeout:   10 * time.Second,
	}
}

// Pipeline submits solutions asynchronously.
type Pipeline struct {
	config    Config
	submitter Submitter
	counter   Counter
	refresher Refresher
	recorder  Recorder
	logger    *log.Logger

	queue  chan *work.Solution
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPipeline creates a Pipeline. Call Start before Enqueue.
func NewPipeline(config Config, submitter Submitter, counter Counter, refresher Refresher, logger *log.Logger) *Pipeline {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	return &Pipeline{
		config:    config,
		submitter: submitter,
		counter:   counter,
		refresher: refresher,
		logger:    logger.WithComponent("submit"),
		queue:     make(chan *work.Solution, config.QueueSize),
	}
}

// SetRecorder attaches an outcome recorder. Call before Start.
func (p *Pipeline) SetRecorder(r Recorder) {
	p.recorder = r
}

// Start launches the workers. They stop when ctx is cancelled or after
// Shutdown has drained the queue.
func (p *Pipeline) Start(ctx context.Context) {
	for id := range p.config.Workers {
		p.wg.Add(1)
		go p.worker(ctx, id)
	}
	p.logger.Info("submission pipeline started",
		"workers", p.config.Workers,
		"queue_size", p.config.QueueSize,
	)
}

// Enqueue hands sol to the workers. It never blocks: false means the queue
// was full or the pipeline is shut down, and sol was dropped.
func (p *Pipeline) Enqueue(sol *work.Solution) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.queue <- sol:
		return true
	default:
		return false
	}
}

// Pending returns the number of queued solutions.
func (p *Pipeline) Pending() int {
	return len(p.queue)
}

// Shutdown stops accepting solutions and waits for queued ones to be
// handled, or for ctx to expire.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("submission pipeline stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "submit_shutdown",
			"queued solutions not drained").
			WithContext("pending", p.Pending())
	}
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sol, ok := <-p.queue:
			if !ok {
				return
			}
			p.handleSafely(ctx, id, sol)
		}
	}
}

func (p *Pipeline) handleSafely(ctx context.Context, id int, sol *work.Solution) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("submission worker panic", "worker", id, "error", r)
		}
	}()
	p.Handle(ctx, sol)
}

// Handle submits sol once and records the result. Status 201 counts as
// accepted, any other status as rejected; a transport failure changes no
// counter. A work refresh is triggered in every case.
func (p *Pipeline) Handle(ctx context.Context, sol *work.Solution) *Outcome {
	defer p.refresher.Trigger()

	submitCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	code, body, err := p.submitter.SubmitSolution(submitCtx, sol)
	outcome := &Outcome{
		Solution:   sol,
		StatusCode: code,
		Duration:   time.Since(start),
	}

	tag := log.ChallengeTag(sol.Challenge)
	switch {
	case err != nil:
		outcome.Status = StatusFailed
		outcome.Err = err
		p.logger.WithError(err).Warn("share submission failed",
			"challenge", tag,
			"job_id", sol.TokenID,
			"nonce", sol.NonceHex(),
		)
	case code == AcceptedStatusCode:
		outcome.Status = StatusAccepted
		outcome.Stats = p.counter.RecordAccepted()
		p.logger.LogShareSubmission(tag, sol.TokenID, outcome.Status.String(), code, "")
	default:
		outcome.Status = StatusRejected
		outcome.Body = body
		outcome.Stats = p.counter.RecordRejected()
		p.logger.LogShareSubmission(tag, sol.TokenID, outcome.Status.String(), code, body)
	}

	if p.recorder != nil {
		if err := p.recorder.RecordOutcome(ctx, outcome); err != nil {
			p.logger.WithError(err).Debug("failed to record submission outcome")
		}
	}

	return outcome
}
