package work

import (
	"context"
	"time"

	"github.com/bardlex/gompow/pkg/errors"
	"github.com/bardlex/gompow/pkg/log"
)

// Fetcher pulls the current job for a ticker from the job source.
type Fetcher interface {
	FetchWork(ctx context.Context, ticker string) (Item, error)
}

// RefresherConfig controls the refresh cadence.
type RefresherConfig struct {
	Ticker       string
	Interval     time.Duration
	FetchTimeout time.Duration
}

// Refresher keeps State in step with the job source. It polls on a fixed
// interval and whenever Trigger is called.
type Refresher struct {
	state   *State
	fetcher Fetcher
	config  RefresherConfig
	logger  *log.Logger

	trigger chan struct{}
}

// NewRefresher creates a Refresher. Zero interval and timeout fall back to
// 500ms and 5s.
func NewRefresher(state *State, fetcher Fetcher, config RefresherConfig, logger *log.Logger) *Refresher {
	if config.Interval <= 0 {
		config.Interval = 500 * time.Millisecond
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 5 * time.Second
	}
	return &Refresher{
		state:   state,
		fetcher: fetcher,
		config:  config,
		logger:  logger.WithComponent("refresher"),
		trigger: make(chan struct{}, 1),
	}
}

// Trigger asks for an immediate refresh. It never blocks; triggers that
// arrive while one is pending are merged.
func (r *Refresher) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run refreshes until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("refresh loop started",
		"ticker", r.config.Ticker,
		"interval", r.config.Interval,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.trigger:
		}

		if _, err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.WithError(err).Debug("refresh skipped")
		}
	}
}

// RefreshOnce fetches one candidate and hands it to State. Fetch failures
// and rejected candidates leave State untouched.
func (r *Refresher) RefreshOnce(ctx context.Context) (bool, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.config.FetchTimeout)
	defer cancel()

	candidate, err := r.fetcher.FetchWork(fetchCtx, r.config.Ticker)
	if err != nil {
		if fetchCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return false, errors.Wrap(err, errors.ErrorTypeTimeout, "fetch_work",
				"fetch timed out").
				WithContext("timeout", r.config.FetchTimeout.String())
		}
		return false, err
	}

	changed, err := r.state.Refresh(candidate)
	if err != nil {
		r.logger.WithError(err).Warn("rejected job from source",
			"job_id", candidate.ID,
			"difficulty", candidate.Difficulty,
		)
		return false, err
	}
	return changed, nil
}
