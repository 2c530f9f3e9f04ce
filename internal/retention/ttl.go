// Package retention removes archived transcripts once they outlive their TTL.
package retention

import (
	"context"
	"log/slog"
	"time"
)

// Purger deletes transcripts started before a cutoff.
type Purger interface {
	DeleteDiscussionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PurgeCallback is called after a sweep that deleted at least one transcript.
type PurgeCallback func(ctx context.Context, deleted int64)

// Worker periodically sweeps expired transcripts.
type Worker struct {
	repo     Purger
	ttl      time.Duration
	interval time.Duration
	onPurge  PurgeCallback
	now      func() time.Time
}

// NewWorker creates a Worker. onPurge may be nil.
func NewWorker(repo Purger, ttl, interval time.Duration, onPurge PurgeCallback) *Worker {
	return &Worker{
		repo:     repo,
		ttl:      ttl,
		interval: interval,
		onPurge:  onPurge,
		now:      time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	slog.Info("Retention worker started", "interval", w.interval, "ttl", w.ttl)

	w.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			w.Sweep(ctx)
		case <-ctx.Done():
			slog.Info("Retention worker shutting down", "reason", ctx.Err())
			return
		}
	}
}

// Sweep deletes transcripts older than the TTL and returns how many went.
// Failures are logged; the next tick retries.
func (w *Worker) Sweep(ctx context.Context) int64 {
	cutoff := w.now().Add(-w.ttl)
	deleted, err := w.repo.DeleteDiscussionsBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Retention sweep interrupted", "error", err)
			return 0
		}
		slog.Error("Retention sweep failed", "cutoff", cutoff, "error", err)
		return 0
	}
	if deleted > 0 {
		slog.Info("Retention sweep removed transcripts", "deleted", deleted, "cutoff", cutoff)
		if w.onPurge != nil {
			w.onPurge(ctx, deleted)
		}
	}
	return deleted
}
