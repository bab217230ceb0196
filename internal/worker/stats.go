package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/campaign-pipeline/internal/domain"
	"github.com/ignite/campaign-pipeline/internal/pkg/logger"
)

// StatsStore is the persistence surface the aggregator needs.
type StatsStore interface {
	CampaignsNeedingStats(ctx context.Context, staleBefore time.Time) ([]string, error)
	AggregateCampaignStats(ctx context.Context, campaignID string) (domain.CampaignStats, error)
	UpdateCampaignStats(ctx context.Context, campaignID string, stats domain.CampaignStats) error
}

// StatsAggregator periodically folds tracking events back into campaign
// counters. Campaigns whose counters were refreshed within the staleness
// window are left alone.
type StatsAggregator struct {
	store     StatsStore
	interval  time.Duration
	staleness time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewStatsAggregator creates an aggregator that runs every interval and
// refreshes campaigns staler than staleness.
func NewStatsAggregator(store StatsStore, interval, staleness time.Duration) *StatsAggregator {
	if interval <= 0 {
		interval = time.Hour
	}
	if staleness <= 0 {
		staleness = time.Hour
	}
	return &StatsAggregator{
		store:     store,
		interval:  interval,
		staleness: staleness,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the aggregation loop.
func (a *StatsAggregator) Start(ctx context.Context) {
	a.wg.Add(1)
	go a.run(ctx)
}

// Stop halts the loop.
func (a *StatsAggregator) Stop() {
	close(a.stopCh)
	a.wg.Wait()
}

func (a *StatsAggregator) run(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes every stale campaign. A failure on one campaign is
// logged and the pass continues with the rest.
func (a *StatsAggregator) RunOnce(ctx context.Context) int {
	ids, err := a.store.CampaignsNeedingStats(ctx, time.Now().Add(-a.staleness))
	if err != nil {
		logger.Error("stale stats query failed", "error", err)
		return 0
	}

	refreshed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return refreshed
		}
		stats, err := a.store.AggregateCampaignStats(ctx, id)
		if err != nil {
			logger.Error("stats aggregation failed", "campaign_id", id, "error", err)
			continue
		}
		if err := a.store.UpdateCampaignStats(ctx, id, stats); err != nil {
			logger.Error("stats write-back failed", "campaign_id", id, "error", err)
			continue
		}
		refreshed++

		rates := stats.Rates()
		logger.Debug("campaign stats refreshed",
			"campaign_id", id,
			"opens", stats.OpenCount, "unique_opens", stats.UniqueOpenCount,
			"clicks", stats.ClickCount, "open_rate", rates.OpenRate)
	}
	return refreshed
}
