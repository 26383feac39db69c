// Package worker contains background maintenance loops for the sync server.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// InboxPurger is the store operation the purge coordinator needs.
type InboxPurger interface {
	PurgeInbox(ctx context.Context, olderThan time.Time) (int64, error)
}

// PurgeCoordinator periodically deletes inbox rows past the retention
// horizon. The retention window must comfortably exceed the client's retry
// ceiling, otherwise a purged event id could be reapplied on redelivery.
type PurgeCoordinator struct {
	store     InboxPurger
	interval  time.Duration
	retention time.Duration
}

// NewPurgeCoordinator creates a coordinator that purges the inbox every
// interval, keeping rows younger than retention.
func NewPurgeCoordinator(store InboxPurger, interval, retention time.Duration) *PurgeCoordinator {
	return &PurgeCoordinator{
		store:     store,
		interval:  interval,
		retention: retention,
	}
}

// Run starts the coordinator loop. Blocks until ctx is cancelled.
func (c *PurgeCoordinator) Run(ctx context.Context) {
	slog.Info("worker started",
		"component", "worker",
		"worker", "inbox-purge",
		"action", "worker_started",
		"interval", c.interval.String(),
		"retention", c.retention.String(),
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// Purge immediately on start, then on each tick
	c.purge(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped",
				"component", "worker",
				"worker", "inbox-purge",
				"action", "worker_stopped",
				"reason", "context_cancelled",
			)
			return
		case <-ticker.C:
			c.purge(ctx)
		}
	}
}

func (c *PurgeCoordinator) purge(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-c.retention)
	deleted, err := c.store.PurgeInbox(ctx, cutoff)
	if err != nil {
		slog.Error("inbox purge failed",
			"component", "worker",
			"worker", "inbox-purge",
			"action", "purge_failed",
			"error", err,
		)
		return
	}
	if deleted > 0 {
		slog.Info("inbox purged",
			"component", "worker",
			"worker", "inbox-purge",
			"action", "purge_completed",
			"deleted", deleted,
		)
	}
}
