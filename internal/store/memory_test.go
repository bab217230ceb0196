package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-pipeline/internal/domain"
)

func TestMemoryRecordOpenOnce(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	first, err := s.RecordOpenOnce(ctx, &domain.TrackingEvent{CampaignID: "c-1", MessageID: "m-1", RecipientID: "r-1"})
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.RecordOpenOnce(ctx, &domain.TrackingEvent{CampaignID: "c-1", MessageID: "m-1", RecipientID: "r-1"})
	require.NoError(t, err)
	assert.False(t, second)

	// A different recipient in the same campaign is not deduplicated away.
	other, err := s.RecordOpenOnce(ctx, &domain.TrackingEvent{CampaignID: "c-1", MessageID: "m-2", RecipientID: "r-2"})
	require.NoError(t, err)
	assert.True(t, other)

	assert.Len(t, s.Events("c-1"), 2)
}

func TestMemoryProgressMonotonic(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	c := &domain.Campaign{Name: "n"}
	require.NoError(t, s.CreateCampaign(ctx, c))

	require.NoError(t, s.SetProgress(ctx, c.ID, 42))
	require.NoError(t, s.SetProgress(ctx, c.ID, 30))

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Progress)
}

func TestMemoryPendingRecipientsOrdered(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	c := &domain.Campaign{Name: "n"}
	require.NoError(t, s.CreateCampaign(ctx, c))
	require.NoError(t, s.AddRecipients(ctx, c.ID, []domain.Recipient{
		{Email: "c@example.com", Position: 2},
		{Email: "a@example.com", Position: 0},
		{Email: "b@example.com", Position: 1},
	}))

	pending, err := s.PendingRecipients(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "a@example.com", pending[0].Email)
	assert.Equal(t, "b@example.com", pending[1].Email)
	assert.Equal(t, "c@example.com", pending[2].Email)

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalRecipients)
}

func TestMemorySoftDeleteFinishedBefore(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	old := &domain.Campaign{Name: "old"}
	require.NoError(t, s.CreateCampaign(ctx, old))
	done := time.Now().Add(-60 * 24 * time.Hour)
	s.campaigns[old.ID].Status = domain.CampaignSent
	s.campaigns[old.ID].CompletedAt = &done

	fresh := &domain.Campaign{Name: "fresh"}
	require.NoError(t, s.CreateCampaign(ctx, fresh))
	now := time.Now()
	s.campaigns[fresh.ID].Status = domain.CampaignSent
	s.campaigns[fresh.ID].CompletedAt = &now

	// Only sent campaigns are swept. Failed ones keep their error history.
	failed := &domain.Campaign{Name: "failed"}
	require.NoError(t, s.CreateCampaign(ctx, failed))
	s.campaigns[failed.ID].Status = domain.CampaignFailed
	s.campaigns[failed.ID].CompletedAt = &done

	n, err := s.SoftDeleteFinishedBefore(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetCampaign(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetCampaign(ctx, fresh.ID)
	assert.NoError(t, err)

	_, err = s.GetCampaign(ctx, failed.ID)
	assert.NoError(t, err)
}

func TestMemoryClaimResetsProgress(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	c := &domain.Campaign{Name: "n"}
	require.NoError(t, s.CreateCampaign(ctx, c))
	ok, err := s.TransitionStatus(ctx, c.ID, []domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignScheduled)
	require.NoError(t, err)
	require.True(t, ok)

	claimed, err := s.ClaimForSending(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, s.SetProgress(ctx, c.ID, 42))

	// Pause mid-run, resume, and re-claim: the new run starts from zero.
	ok, err = s.TransitionStatus(ctx, c.ID, []domain.CampaignStatus{domain.CampaignSending}, domain.CampaignPaused)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = s.TransitionStatus(ctx, c.ID, []domain.CampaignStatus{domain.CampaignPaused}, domain.CampaignScheduled)
	require.NoError(t, err)
	require.True(t, ok)

	claimed, err = s.ClaimForSending(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	got, err := s.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
}
