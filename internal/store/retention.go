package store

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Retention periodically prunes requests older than MaxAge.
type Retention struct {
	store      *Store
	maxAge     time.Duration
	cron       *cron.Cron
	now        func() time.Time
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

// NewRetention schedules PruneNow on schedule, a standard five-field cron
// expression or descriptor such as "@hourly".
func NewRetention(s *Store, maxAge time.Duration, schedule string) (*Retention, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", maxAge)
	}
	c := cron.New()
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	r := &Retention{
		store:      s,
		maxAge:     maxAge,
		cron:       c,
		now:        time.Now,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}

	if _, err := c.AddFunc(schedule, func() {
		if _, err := r.PruneNow(r.lifeCtx); err != nil {
			s.logger.Warn("scheduled prune failed", zap.Error(err))
		}
	}); err != nil {
		lifeCancel()
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return r, nil
}

// PruneNow removes requests older than the retention window.
func (r *Retention) PruneNow(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	removed, err := r.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		r.store.logger.Info("pruned old requests",
			zap.Int64("requests", removed), zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

// Start runs the scheduler in the background.
func (r *Retention) Start() { r.cron.Start() }

// Stop halts the scheduler and waits for a running prune to finish.
func (r *Retention) Stop() {
	r.lifeCancel()
	<-r.cron.Stop().Done()
}
