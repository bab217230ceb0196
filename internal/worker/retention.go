package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/campaign-pipeline/internal/pkg/logger"
)

// RetentionStore is the persistence surface the sweeper needs.
type RetentionStore interface {
	SoftDeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// RetentionSweeper retires old data: finished campaigns older than the
// retention age are soft-deleted, and their tracking events are removed in
// batches. A partial sweep is fine; the next pass picks up the rest.
type RetentionSweeper struct {
	store     RetentionStore
	interval  time.Duration
	age       time.Duration
	batchSize int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRetentionSweeper creates a sweeper with the given retention age.
func NewRetentionSweeper(store RetentionStore, interval, age time.Duration, batchSize int) *RetentionSweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if age <= 0 {
		age = 30 * 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &RetentionSweeper{
		store:     store,
		interval:  interval,
		age:       age,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (rs *RetentionSweeper) Start(ctx context.Context) {
	rs.wg.Add(1)
	go rs.run(ctx)
}

// Stop halts the loop.
func (rs *RetentionSweeper) Stop() {
	close(rs.stopCh)
	rs.wg.Wait()
}

func (rs *RetentionSweeper) run(ctx context.Context) {
	defer rs.wg.Done()

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rs.stopCh:
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep and returns the counts of campaigns and
// events removed.
func (rs *RetentionSweeper) RunOnce(ctx context.Context) (campaigns, events int64) {
	cutoff := time.Now().Add(-rs.age)

	campaigns, err := rs.store.SoftDeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		logger.Error("campaign retention sweep failed", "error", err)
	}

	events, err = rs.store.DeleteEventsBefore(ctx, cutoff, rs.batchSize)
	if err != nil {
		logger.Error("event retention sweep failed", "error", err)
	}

	if campaigns > 0 || events > 0 {
		logger.Info("retention sweep complete",
			"campaigns_deleted", campaigns, "events_deleted", events)
	}
	return campaigns, events
}
