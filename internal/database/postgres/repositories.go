package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// ShareRepository handles share-related database operations
type ShareRepository struct {
	db *sql.DB
}

// NewShareRepository creates a new share repository
func NewShareRepository(db *sql.DB) *ShareRepository {
	return &ShareRepository{db: db}
}

// CreateShare inserts a share and sets its ID
func (r *ShareRepository) CreateShare(ctx context.Context, share *Share) error {
	query := `
		INSERT INTO shares (job_id, ticker, miner, nonce, hash, location, difficulty,
		                    status, status_code, response, error, latency_ms, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		share.JobID, share.Ticker, share.Miner, share.Nonce, share.Hash, share.Location,
		share.Difficulty, share.Status, share.StatusCode, share.Response, share.Error,
		share.LatencyMs, share.SubmittedAt,
	).Scan(&share.ID)
	if err != nil {
		return fmt.Errorf("failed to create share: %w", err)
	}

	return nil
}

// RecentShares returns the newest shares for a ticker, newest first
func (r *ShareRepository) RecentShares(ctx context.Context, ticker string, limit int) ([]*Share, error) {
	query := `
		SELECT id, job_id, ticker, miner, nonce, hash, location, difficulty,
		       status, status_code, response, error, latency_ms, submitted_at
		FROM shares
		WHERE ticker = $1
		ORDER BY submitted_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, ticker, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var shares []*Share
	for rows.Next() {
		share := &Share{}
		if err := rows.Scan(
			&share.ID, &share.JobID, &share.Ticker, &share.Miner, &share.Nonce, &share.Hash,
			&share.Location, &share.Difficulty, &share.Status, &share.StatusCode,
			&share.Response, &share.Error, &share.LatencyMs, &share.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan share: %w", err)
		}
		shares = append(shares, share)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shares: %w", err)
	}

	return shares, nil
}

// CountByStatus counts a ticker's shares grouped by status
func (r *ShareRepository) CountByStatus(ctx context.Context, ticker string) (StatusCounts, error) {
	query := `SELECT status, COUNT(*) FROM shares WHERE ticker = $1 GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to count shares: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := StatusCounts{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan share count: %w", err)
		}
		counts[status] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating share counts: %w", err)
	}

	return counts, nil
}
