package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-pipeline/internal/domain"
	"github.com/ignite/campaign-pipeline/internal/store"
)

// transportFunc adapts a function to the Transport interface.
type transportFunc func(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)

func (f transportFunc) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	return f(ctx, msg)
}

func okTransport() Transport {
	return transportFunc(func(_ context.Context, _ *domain.EmailMessage) (*domain.SendResult, error) {
		return &domain.SendResult{Success: true, MessageID: "msg", SentAt: time.Now()}, nil
	})
}

// recordingStore wraps Memory and captures every progress value persisted.
type recordingStore struct {
	*store.Memory
	mu       sync.Mutex
	progress []int
}

func (s *recordingStore) SetProgress(ctx context.Context, id string, percent int) error {
	s.mu.Lock()
	s.progress = append(s.progress, percent)
	s.mu.Unlock()
	return s.Memory.SetProgress(ctx, id, percent)
}

func newTestCampaign(t *testing.T, s *store.Memory, n int) *domain.Campaign {
	t.Helper()
	ctx := context.Background()

	c := &domain.Campaign{
		Name:        "spring promo",
		Subject:     "Hello {{first_name}}",
		FromName:    "Promo Team",
		FromEmail:   "promo@example.com",
		HTMLContent: `<html><body><p>Hi {{first_name}}</p><a href="https://example.com/sale">Sale</a></body></html>`,
	}
	require.NoError(t, s.CreateCampaign(ctx, c))

	recipients := make([]domain.Recipient, n)
	for i := 0; i < n; i++ {
		recipients[i] = domain.Recipient{
			Email:     fmt.Sprintf("user%d@example.com", i),
			FirstName: fmt.Sprintf("User%d", i),
			Position:  i,
		}
	}
	require.NoError(t, s.AddRecipients(ctx, c.ID, recipients))

	ok, err := s.TransitionStatus(ctx, c.ID, []domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignScheduled)
	require.NoError(t, err)
	require.True(t, ok)
	return c
}

func newTestEngine(s Store, tr Transport, batchSize int) *Engine {
	return NewEngine(s, tr, NewPersonalizer("https://t.example.com"), Config{
		BatchSize:   batchSize,
		BatchDelay:  0,
		SendTimeout: 2 * time.Second,
	})
}

func TestSendCampaignProgressSequence(t *testing.T) {
	mem := store.NewMemory()
	rec := &recordingStore{Memory: mem}
	c := newTestCampaign(t, mem, 120)

	e := newTestEngine(rec, okTransport(), 50)
	sent, failed, err := e.SendCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 120, sent)
	assert.Equal(t, 0, failed)

	// 120 recipients in batches of 50: 50/120, 100/120, 120/120.
	assert.Equal(t, []int{0, 42, 83, 100}, rec.progress)

	got, err := mem.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSent, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)
}

func TestSendCampaignRecipientFailureIsolated(t *testing.T) {
	mem := store.NewMemory()
	c := newTestCampaign(t, mem, 10)

	tr := transportFunc(func(_ context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
		if msg.Email == "user4@example.com" {
			return nil, errors.New("mailbox unavailable")
		}
		return &domain.SendResult{Success: true, SentAt: time.Now()}, nil
	})

	e := newTestEngine(mem, tr, 10)
	sent, failed, err := e.SendCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, sent)
	assert.Equal(t, 1, failed)

	got, err := mem.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSent, got.Status)
	assert.Equal(t, 100, got.Progress)

	stats, err := mem.AggregateCampaignStats(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, stats.SentCount)
	assert.Equal(t, 1, stats.FailedCount)
}

func TestSendCampaignDraftRejected(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	c := &domain.Campaign{Name: "draft"}
	require.NoError(t, mem.CreateCampaign(ctx, c))

	e := newTestEngine(mem, okTransport(), 10)
	sent, failed, err := e.SendCampaign(ctx, c.ID)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, failed)

	var stateErr *domain.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, domain.CampaignDraft, stateErr.From)

	got, err := mem.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignDraft, got.Status)
	assert.Equal(t, 0, got.Progress)
}

func TestSendCampaignAllOutcomesAccounted(t *testing.T) {
	mem := store.NewMemory()
	c := newTestCampaign(t, mem, 23)

	i := 0
	var mu sync.Mutex
	tr := transportFunc(func(_ context.Context, _ *domain.EmailMessage) (*domain.SendResult, error) {
		mu.Lock()
		i++
		n := i
		mu.Unlock()
		if n%3 == 0 {
			return nil, errors.New("flaky relay")
		}
		return &domain.SendResult{Success: true, SentAt: time.Now()}, nil
	})

	e := newTestEngine(mem, tr, 5)
	sent, failed, err := e.SendCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 23, sent+failed)
}

func TestSendCampaignPerSendTimeout(t *testing.T) {
	mem := store.NewMemory()
	c := newTestCampaign(t, mem, 2)

	tr := transportFunc(func(ctx context.Context, _ *domain.EmailMessage) (*domain.SendResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Second):
			return &domain.SendResult{Success: true}, nil
		}
	})

	e := NewEngine(mem, tr, NewPersonalizer("https://t.example.com"), Config{
		BatchSize:   2,
		SendTimeout: 20 * time.Millisecond,
	})

	sent, failed, err := e.SendCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 2, failed)

	got, err := mem.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSent, got.Status)
}

func TestSendCampaignNoPendingRecipients(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	c := &domain.Campaign{Name: "empty"}
	require.NoError(t, mem.CreateCampaign(ctx, c))
	ok, err := mem.TransitionStatus(ctx, c.ID, []domain.CampaignStatus{domain.CampaignDraft}, domain.CampaignScheduled)
	require.NoError(t, err)
	require.True(t, ok)

	e := newTestEngine(mem, okTransport(), 10)
	sent, failed, err := e.SendCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Zero(t, failed)

	got, err := mem.GetCampaign(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignSent, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestSendCampaignCancellation(t *testing.T) {
	mem := store.NewMemory()
	c := newTestCampaign(t, mem, 20)

	ctx, cancel := context.WithCancel(context.Background())
	sends := 0
	var mu sync.Mutex
	tr := transportFunc(func(_ context.Context, _ *domain.EmailMessage) (*domain.SendResult, error) {
		mu.Lock()
		sends++
		if sends == 5 {
			cancel()
		}
		mu.Unlock()
		return &domain.SendResult{Success: true, SentAt: time.Now()}, nil
	})

	e := newTestEngine(mem, tr, 5)
	_, _, err := e.SendCampaign(ctx, c.ID)

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, context.Canceled)

	got, getErr := mem.GetCampaign(context.Background(), c.ID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.CampaignFailed, got.Status)
	assert.NotEmpty(t, got.ErrorMessage)
}

func TestPartition(t *testing.T) {
	mk := func(n int) []domain.Recipient {
		rs := make([]domain.Recipient, n)
		for i := range rs {
			rs[i].Position = i
		}
		return rs
	}

	tests := []struct {
		n, size, want int
	}{
		{120, 50, 3},
		{100, 50, 2},
		{1, 50, 1},
		{0, 50, 0},
		{10, 1, 10},
		{7, 3, 3},
	}

	for _, tt := range tests {
		batches := Partition(mk(tt.n), tt.size)
		assert.Len(t, batches, tt.want, "n=%d size=%d", tt.n, tt.size)

		total := 0
		for _, b := range batches {
			assert.LessOrEqual(t, len(b), tt.size)
			total += len(b)
		}
		assert.Equal(t, tt.n, total)
	}
}

// faultyStore wraps Memory and fails campaign loads on demand.
type faultyStore struct {
	*store.Memory
	loadErr error
}

func (s *faultyStore) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.Memory.GetCampaign(ctx, id)
}

func TestSendCampaignLoadFailureMarksClaimedCampaignFailed(t *testing.T) {
	mem := store.NewMemory()
	c := newTestCampaign(t, mem, 3)

	claimed, err := mem.ClaimForSending(context.Background(), c.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	e := newTestEngine(&faultyStore{Memory: mem, loadErr: errors.New("connection reset")}, okTransport(), 50)
	_, _, err = e.SendCampaign(context.Background(), c.ID)

	var perr *PipelineError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "load", perr.Stage)

	got, err := mem.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "connection reset")
}

func TestSendCampaignLoadFailureLeavesUnclaimedCampaignAlone(t *testing.T) {
	mem := store.NewMemory()
	c := newTestCampaign(t, mem, 3)

	e := newTestEngine(&faultyStore{Memory: mem, loadErr: errors.New("connection reset")}, okTransport(), 50)
	_, _, err := e.SendCampaign(context.Background(), c.ID)
	require.Error(t, err)

	got, err := mem.GetCampaign(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CampaignScheduled, got.Status)
	assert.Empty(t, got.ErrorMessage)
}
