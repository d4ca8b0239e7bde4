package submit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bardlex/gompow/internal/stats"
	"github.com/bardlex/gompow/internal/work"
	powErrors "github.com/bardlex/gompow/pkg/errors"
	"github.com/bardlex/gompow/pkg/log"
)

type fakeSubmitter struct {
	code  int
	body  string
	err   error
	delay time.Duration
	calls atomic.Int32

	release chan struct{}
}

func (f *fakeSubmitter) SubmitSolution(ctx context.Context, _ *work.Solution) (int, string, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return 0, "", ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return 0, "", ctx.Err()
		}
	}
	return f.code, f.body, f.err
}

type fakeRefresher struct {
	triggers atomic.Int32
}

func (f *fakeRefresher) Trigger() { f.triggers.Add(1) }

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []*Outcome
}

func (f *fakeRecorder) RecordOutcome(_ context.Context, o *Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
	return nil
}

func testSolution() *work.Solution {
	return &work.Solution{
		Location:  "loc_0",
		TokenID:   "job-1",
		Challenge: []byte{0xff, 0x00},
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusAccepted, "accepted"},
		{StatusRejected, "rejected"},
		{StatusFailed, "failed"},
		{Status(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status.String() = %q, want %q", got, tt.want)
		}
	}
}

func TestHandle(t *testing.T) {
	tests := []struct {
		name         string
		submitter    *fakeSubmitter
		wantStatus   Status
		wantAccepted int64
		wantRejected int64
		wantBody     string
	}{
		{
			name:         "created is accepted",
			submitter:    &fakeSubmitter{code: 201, body: `{"ok":true}`},
			wantStatus:   StatusAccepted,
			wantAccepted: 1,
		},
		{
			name:         "ok is still rejected",
			submitter:    &fakeSubmitter{code: 200, body: "already minted"},
			wantStatus:   StatusRejected,
			wantRejected: 1,
			wantBody:     "already minted",
		},
		{
			name:         "client error is rejected",
			submitter:    &fakeSubmitter{code: 400, body: "stale challenge"},
			wantStatus:   StatusRejected,
			wantRejected: 1,
			wantBody:     "stale challenge",
		},
		{
			name:       "transport failure counts nothing",
			submitter:  &fakeSubmitter{err: errors.New("connection refused")},
			wantStatus: StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := stats.NewCounter()
			refresher := &fakeRefresher{}
			recorder := &fakeRecorder{}
			p := NewPipeline(Config{}, tt.submitter, counter, refresher, log.Discard())
			p.SetRecorder(recorder)

			outcome := p.Handle(context.Background(), testSolution())

			if outcome.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", outcome.Status, tt.wantStatus)
			}
			if outcome.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", outcome.Body, tt.wantBody)
			}
			snap := counter.Snapshot()
			if snap.Accepted != tt.wantAccepted || snap.Rejected != tt.wantRejected {
				t.Errorf("counters = %+v, want accepted %d rejected %d", snap, tt.wantAccepted, tt.wantRejected)
			}
			if got := refresher.triggers.Load(); got != 1 {
				t.Errorf("refresh triggers = %d, want 1", got)
			}
			if len(recorder.outcomes) != 1 {
				t.Errorf("recorded outcomes = %d, want 1", len(recorder.outcomes))
			}
			if tt.wantStatus == StatusFailed && outcome.Err == nil {
				t.Error("Err = nil for failed submission")
			}
		})
	}
}

func TestHandle_Timeout(t *testing.T) {
	submitter := &fakeSubmitter{code: 201, delay: time.Second}
	counter := stats.NewCounter()
	refresher := &fakeRefresher{}
	p := NewPipeline(Config{Timeout: 10 * time.Millisecond}, submitter, counter, refresher, log.Discard())

	outcome := p.Handle(context.Background(), testSolution())
	if outcome.Status != StatusFailed {
		t.Errorf("Status = %s, want failed", outcome.Status)
	}
	if !errors.Is(outcome.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want deadline exceeded", outcome.Err)
	}
	if counter.Snapshot() != (stats.Snapshot{}) {
		t.Errorf("counters changed on timeout: %+v", counter.Snapshot())
	}
	if refresher.triggers.Load() != 1 {
		t.Error("timeout should still trigger a refresh")
	}
}

func TestPipeline_EnqueueProcesses(t *testing.T) {
	submitter := &fakeSubmitter{code: 201}
	counter := stats.NewCounter()
	refresher := &fakeRefresher{}
	p := NewPipeline(Config{Workers: 2, QueueSize: 8}, submitter, counter, refresher, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	for range 5 {
		if !p.Enqueue(testSolution()) {
			t.Fatal("Enqueue() = false with room in the queue")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := p.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if got := counter.Snapshot().Accepted; got != 5 {
		t.Errorf("Accepted = %d, want 5", got)
	}
	if got := refresher.triggers.Load(); got != 5 {
		t.Errorf("triggers = %d, want 5", got)
	}
}

func TestPipeline_EnqueueDoesNotBlockWhenFull(t *testing.T) {
	submitter := &fakeSubmitter{code: 201, release: make(chan struct{})}
	p := NewPipeline(Config{Workers: 1, QueueSize: 1}, submitter, stats.NewCounter(), &fakeRefresher{}, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	// First one is picked up by the worker and blocks there.
	if !p.Enqueue(testSolution()) {
		t.Fatal("first Enqueue() = false")
	}
	deadline := time.Now().Add(2 * time.Second)
	for submitter.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first solution")
		}
		time.Sleep(time.Millisecond)
	}

	if !p.Enqueue(testSolution()) {
		t.Fatal("second Enqueue() = false, queue should have one slot")
	}

	done := make(chan bool, 1)
	go func() { done <- p.Enqueue(testSolution()) }()
	select {
	case ok := <-done:
		if ok {
			t.Error("Enqueue() = true on a full queue")
		}
	case <-time.After(time.Second):
		t.Fatal("Enqueue() blocked on a full queue")
	}

	close(submitter.release)
}

func TestPipeline_EnqueueAfterShutdown(t *testing.T) {
	p := NewPipeline(Config{}, &fakeSubmitter{code: 201}, stats.NewCounter(), &fakeRefresher{}, log.Discard())
	p.Start(context.Background())

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if p.Enqueue(testSolution()) {
		t.Error("Enqueue() = true after Shutdown")
	}
	// second shutdown is a no-op
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestPipeline_ShutdownDeadline(t *testing.T) {
	submitter := &fakeSubmitter{code: 201, release: make(chan struct{})}
	defer close(submitter.release)
	p := NewPipeline(Config{Workers: 1, Timeout: time.Minute}, submitter, stats.NewCounter(), &fakeRefresher{}, log.Discard())
	p.Start(context.Background())
	p.Enqueue(testSolution())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	if !powErrors.IsType(err, powErrors.ErrorTypeTimeout) {
		t.Errorf("Shutdown() error = %v, want timeout error", err)
	}
}
