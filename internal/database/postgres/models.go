package postgres

import (
	"time"
)

// Share is one submission attempt and how the endpoint answered it
type Share struct {
	ID          int64     `db:"id"`
	JobID       string    `db:"job_id"`
	Ticker      string    `db:"ticker"`
	Miner       string    `db:"miner"`
	Nonce       string    `db:"nonce"`
	Hash        string    `db:"hash"`
	Location    string    `db:"location"`
	Difficulty  int       `db:"difficulty"`
	Status      string    `db:"status"` // accepted, rejected, failed
	StatusCode  int       `db:"status_code"`
	Response    string    `db:"response"`
	Error       string    `db:"error"`
	LatencyMs   float64   `db:"latency_ms"`
	SubmittedAt time.Time `db:"submitted_at"`
}

// StatusCounts is the number of shares per status for one ticker
type StatusCounts map[string]int64

// Total sums all statuses
func (s StatusCounts) Total() int64 {
	var total int64
	for _, n := range s {
		total += n
	}
	return total
}
