package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bardlex/gompow/internal/search"
	"github.com/bardlex/gompow/internal/submit"
	"github.com/bardlex/gompow/internal/work"
	"github.com/bardlex/gompow/pkg/errors"
	"github.com/bardlex/gompow/pkg/log"
)

const (
	eventQueueSize = 256
	recordTimeout  = 5 * time.Second
)

// eventRecorder is implemented by messaging.Publisher and database.Manager
type eventRecorder interface {
	RecordJob(ctx context.Context, item work.Item) error
	RecordShare(ctx context.Context, outcome *submit.Outcome) error
	RecordHashrate(ctx context.Context, result *search.BatchResult) error
}

type namedRecorder struct {
	name string
	eventRecorder
}

type event struct {
	kind  string
	apply func(ctx context.Context, r eventRecorder) error
}

// eventSink fans miner events out to every recorder on its own goroutine.
// Events are dropped when the queue is full so slow sinks never stall the
// search loop or the submission workers.
type eventSink struct {
	recorders []namedRecorder
	logger    *log.Logger

	mu      sync.RWMutex
	closed  bool
	events  chan event
	dropped atomic.Int64
	wg      sync.WaitGroup
}

func newEventSink(logger *log.Logger, queueSize int) *eventSink {
	if queueSize <= 0 {
		queueSize = eventQueueSize
	}
	return &eventSink{
		logger: logger.WithComponent("events"),
		events: make(chan event, queueSize),
	}
}

// Add registers a recorder. Must be called before Start.
func (s *eventSink) Add(name string, r eventRecorder) {
	s.recorders = append(s.recorders, namedRecorder{name: name, eventRecorder: r})
}

// Len returns the number of registered recorders
func (s *eventSink) Len() int {
	return len(s.recorders)
}

// Dropped returns how many events were discarded on a full queue
func (s *eventSink) Dropped() int64 {
	return s.dropped.Load()
}

// Start runs the dispatch goroutine
func (s *eventSink) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range s.events {
			s.dispatch(ctx, ev)
		}
	}()
}

func (s *eventSink) dispatch(ctx context.Context, ev event) {
	for _, r := range s.recorders {
		recordCtx, cancel := context.WithTimeout(ctx, recordTimeout)
		err := ev.apply(recordCtx, r.eventRecorder)
		cancel()
		if err != nil {
			s.logger.WithError(err).Warn("failed to record event",
				"event", ev.kind,
				"sink", r.name,
			)
		}
	}
}

func (s *eventSink) enqueue(ev event) {
	if len(s.recorders) == 0 {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.events <- ev:
	default:
		if n := s.dropped.Add(1); n == 1 || n%100 == 0 {
			s.logger.Warn("event queue full, dropping events", "event", ev.kind, "dropped", n)
		}
	}
}

// RecordJob queues a job change
func (s *eventSink) RecordJob(item work.Item) {
	s.enqueue(event{kind: "job", apply: func(ctx context.Context, r eventRecorder) error {
		return r.RecordJob(ctx, item)
	}})
}

// RecordBatch implements search.Recorder
func (s *eventSink) RecordBatch(_ context.Context, result *search.BatchResult) error {
	s.enqueue(event{kind: "hashrate", apply: func(ctx context.Context, r eventRecorder) error {
		return r.RecordHashrate(ctx, result)
	}})
	return nil
}

// RecordOutcome implements submit.Recorder
func (s *eventSink) RecordOutcome(_ context.Context, outcome *submit.Outcome) error {
	s.enqueue(event{kind: "share", apply: func(ctx context.Context, r eventRecorder) error {
		return r.RecordShare(ctx, outcome)
	}})
	return nil
}

// Close stops accepting events and waits for queued ones to be delivered
func (s *eventSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "events_shutdown",
			"queued events not delivered").
			WithContext("pending", len(s.events))
	}
}
