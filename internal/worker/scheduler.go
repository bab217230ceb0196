// Package worker holds the background loops: the delivery scheduler, the
// stats aggregator, and the retention sweeper. All of them follow the same
// shape: a ticker, a stop channel, and a WaitGroup for clean shutdown.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/campaign-pipeline/internal/domain"
	"github.com/ignite/campaign-pipeline/internal/pkg/logger"
)

// SchedulerStore is the persistence surface the scheduler needs.
type SchedulerStore interface {
	DueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error)
	ClaimForSending(ctx context.Context, id string) (bool, error)
}

// CampaignSender kicks off delivery for one claimed campaign. The delivery
// engine implements it.
type CampaignSender interface {
	SendCampaign(ctx context.Context, campaignID string) (sent, failed int, err error)
}

// Scheduler polls for due campaigns and hands each one to the sender. At
// most one scheduling pass runs at a time: a tick that arrives while a
// pass is in flight is skipped, not queued.
type Scheduler struct {
	store    SchedulerStore
	sender   CampaignSender
	interval time.Duration

	guard   inflight
	running bool
	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a delivery scheduler.
func NewScheduler(store SchedulerStore, sender CampaignSender, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		store:    store,
		sender:   sender,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	logger.Info("delivery scheduler started", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	logger.Info("delivery scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single scheduling pass. If a previous pass is still
// running the call is a no-op and returns false.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.guard.TryAcquire() {
		logger.Warn("scheduling pass still in flight, skipping tick")
		return false
	}
	defer s.guard.Release()

	due, err := s.store.DueCampaigns(ctx, time.Now())
	if err != nil {
		logger.Error("due campaign query failed", "error", err)
		return true
	}

	for _, c := range due {
		if ctx.Err() != nil {
			return true
		}
		s.dispatch(ctx, c)
	}
	return true
}

// dispatch claims and sends one campaign. A failure here is contained so
// the rest of the due list still runs.
func (s *Scheduler) dispatch(ctx context.Context, c domain.Campaign) {
	claimed, err := s.store.ClaimForSending(ctx, c.ID)
	if err != nil {
		logger.Error("campaign claim failed", "campaign_id", c.ID, "error", err)
		return
	}
	if !claimed {
		// Another worker took it between the query and the claim.
		return
	}

	sent, failed, err := s.sender.SendCampaign(ctx, c.ID)
	if err != nil {
		logger.Error("campaign delivery failed",
			"campaign_id", c.ID, "sent", sent, "failed", failed, "error", err)
		return
	}
	logger.Info("campaign delivered",
		"campaign_id", c.ID, "sent", sent, "failed", failed)
}
