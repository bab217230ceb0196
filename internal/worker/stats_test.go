package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-pipeline/internal/domain"
	"github.com/ignite/campaign-pipeline/internal/store"
)

func sentCampaignWithEvents(t *testing.T, mem *store.Memory) *domain.Campaign {
	t.Helper()
	ctx := context.Background()

	c := &domain.Campaign{Name: "finished"}
	require.NoError(t, mem.CreateCampaign(ctx, c))
	require.NoError(t, mem.AddRecipients(ctx, c.ID, []domain.Recipient{
		{ID: "r-1", Email: "a@example.com"},
		{ID: "r-2", Email: "b@example.com"},
		{ID: "r-3", Email: "c@example.com"},
	}))
	for _, id := range []string{"r-1", "r-2", "r-3"} {
		require.NoError(t, mem.MarkRecipientSent(ctx, id, time.Now()))
	}
	ok, err := mem.TransitionStatus(ctx, c.ID, []domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignScheduled)
	require.NoError(t, err)
	require.True(t, ok)
	claimed, err := mem.ClaimForSending(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, mem.CompleteCampaign(ctx, c.ID))

	// r-1 opens twice (second one deduplicated), clicks twice (both kept).
	_, err = mem.RecordOpenOnce(ctx, &domain.TrackingEvent{CampaignID: c.ID, MessageID: "m-1", RecipientID: "r-1"})
	require.NoError(t, err)
	_, err = mem.RecordOpenOnce(ctx, &domain.TrackingEvent{CampaignID: c.ID, MessageID: "m-1", RecipientID: "r-1"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, mem.RecordEvent(ctx, &domain.TrackingEvent{
			EventType: domain.EventClick, CampaignID: c.ID, RecipientID: "r-1", LinkID: "0",
		}))
	}
	_, err = mem.RecordOpenOnce(ctx, &domain.TrackingEvent{CampaignID: c.ID, MessageID: "m-2", RecipientID: "r-2"})
	require.NoError(t, err)
	require.NoError(t, mem.RecordEvent(ctx, &domain.TrackingEvent{
		EventType: domain.EventUnsubscribe, CampaignID: c.ID, RecipientID: "r-3",
	}))
	return c
}

func TestStatsAggregatorRunOnce(t *testing.T) {
	mem := store.NewMemory()
	c := sentCampaignWithEvents(t, mem)

	agg := NewStatsAggregator(mem, time.Hour, time.Hour)
	refreshed := agg.RunOnce(context.Background())
	assert.Equal(t, 1, refreshed)

	got, err := mem.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Stats.SentCount)
	assert.Equal(t, 2, got.Stats.OpenCount)
	assert.Equal(t, 2, got.Stats.UniqueOpenCount)
	assert.Equal(t, 2, got.Stats.ClickCount)
	assert.Equal(t, 1, got.Stats.UniqueClickCount)
	assert.Equal(t, 1, got.Stats.UnsubscribeCount)
	assert.NotNil(t, got.StatsRefreshedAt)

	rates := got.Stats.Rates()
	assert.InDelta(t, 66.67, rates.OpenRate, 0.01)
	assert.InDelta(t, 33.33, rates.ClickRate, 0.01)
	assert.InDelta(t, 100.0, rates.ClickThroughRate, 0.01)
}

func TestStatsAggregatorSkipsFresh(t *testing.T) {
	mem := store.NewMemory()
	c := sentCampaignWithEvents(t, mem)

	agg := NewStatsAggregator(mem, time.Hour, time.Hour)
	require.Equal(t, 1, agg.RunOnce(context.Background()))

	// Counters were just refreshed; a second pass finds nothing stale.
	assert.Equal(t, 0, agg.RunOnce(context.Background()))

	_, err := mem.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
}

func TestRetentionSweeperRunOnce(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	c := sentCampaignWithEvents(t, mem)
	sweeper := NewRetentionSweeper(mem, time.Hour, 30*24*time.Hour, 100)

	// Everything is recent, nothing to sweep.
	campaigns, events := sweeper.RunOnce(ctx)
	assert.Zero(t, campaigns)
	assert.Zero(t, events)

	// Backdate completion past the retention window and sweep again.
	require.NoError(t, mem.SetCompletedAt(c.ID, time.Now().Add(-40*24*time.Hour)))
	campaigns, _ = sweeper.RunOnce(ctx)
	assert.Equal(t, int64(1), campaigns)

	_, err := mem.GetCampaign(ctx, c.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
