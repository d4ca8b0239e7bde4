package stats

import (
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter()

	if got := c.Snapshot(); got != (Snapshot{}) {
		t.Errorf("Snapshot() = %+v, want zero", got)
	}

	if got := c.RecordAccepted(); got != (Snapshot{Accepted: 1}) {
		t.Errorf("RecordAccepted() = %+v, want accepted 1", got)
	}
	if got := c.RecordRejected(); got != (Snapshot{Accepted: 1, Rejected: 1}) {
		t.Errorf("RecordRejected() = %+v, want 1/1", got)
	}
	if got := c.Snapshot().Total(); got != 2 {
		t.Errorf("Total() = %d, want 2", got)
	}
}

func TestCounter_Concurrent(t *testing.T) {
	c := NewCounter()
	var wg sync.WaitGroup

	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 1000 {
				c.RecordAccepted()
			}
		}()
		go func() {
			defer wg.Done()
			for range 500 {
				c.RecordRejected()
			}
		}()
	}

	// Readers must never observe a counter going backwards.
	var last Snapshot
	for range 1000 {
		s := c.Snapshot()
		if s.Accepted < last.Accepted || s.Rejected < last.Rejected {
			t.Fatalf("Snapshot() went backwards: %+v after %+v", s, last)
		}
		last = s
	}

	wg.Wait()
	if got := c.Snapshot(); got != (Snapshot{Accepted: 8000, Rejected: 4000}) {
		t.Errorf("Snapshot() = %+v, want 8000/4000", got)
	}
}
