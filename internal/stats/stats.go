// Package stats keeps the process-lifetime share counters.
package stats

import "sync"

// Snapshot is a consistent view of both counters.
type Snapshot struct {
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

// Total returns the number of shares that got an answer from the job API.
func (s Snapshot) Total() int64 {
	return s.Accepted + s.Rejected
}

// Counter counts accepted and rejected shares.
type Counter struct {
	mu       sync.Mutex
	accepted int64
	rejected int64
}

// NewCounter creates a zeroed Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// RecordAccepted adds one accepted share and returns the new snapshot.
func (c *Counter) RecordAccepted() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted++
	return Snapshot{Accepted: c.accepted, Rejected: c.rejected}
}

// RecordRejected adds one rejected share and returns the new snapshot.
func (c *Counter) RecordRejected() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected++
	return Snapshot{Accepted: c.accepted, Rejected: c.rejected}
}

// Snapshot returns both counters read together.
func (c *Counter) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{Accepted: c.accepted, Rejected: c.rejected}
}
