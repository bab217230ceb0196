package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-pipeline/internal/domain"
)

// Memory is an in-memory store with the same behavior as Postgres. It backs
// tests and database-free local runs.
type Memory struct {
	mu         sync.Mutex
	campaigns  map[string]*domain.Campaign
	recipients map[string]*domain.Recipient
	events     []*domain.TrackingEvent
	opens      map[string]bool // campaignID|recipientID
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		campaigns:  make(map[string]*domain.Campaign),
		recipients: make(map[string]*domain.Recipient),
		opens:      make(map[string]bool),
	}
}

// --- Campaigns ---

func (s *Memory) CreateCampaign(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()

	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *Memory) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok || c.Deleted {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Memory) ListCampaigns(_ context.Context, filter ListFilter) ([]domain.Campaign, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	var all []domain.Campaign
	for _, c := range s.campaigns {
		if c.Deleted {
			continue
		}
		if filter.Status != "" && string(c.Status) != filter.Status {
			continue
		}
		all = append(all, *c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if filter.Offset >= len(all) {
		return nil, total, nil
	}
	all = all[filter.Offset:]
	if len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, total, nil
}

func (s *Memory) UpdateCampaign(_ context.Context, c *domain.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.campaigns[c.ID]
	if !ok || existing.Deleted {
		return ErrNotFound
	}
	existing.Name = c.Name
	existing.Subject = c.Subject
	existing.FromName = c.FromName
	existing.FromEmail = c.FromEmail
	existing.ReplyTo = c.ReplyTo
	existing.HTMLContent = c.HTMLContent
	existing.PlainContent = c.PlainContent
	existing.ScheduledAt = c.ScheduledAt
	existing.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) TransitionStatus(_ context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok || c.Deleted {
		return false, nil
	}
	for _, st := range from {
		if c.Status == st {
			c.Status = to
			c.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (s *Memory) ClaimForSending(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok || c.Deleted || c.Status != domain.CampaignScheduled {
		return false, nil
	}
	now := time.Now()
	c.Status = domain.CampaignSending
	c.Progress = 0
	c.StartedAt = &now
	c.UpdatedAt = now
	return true, nil
}

func (s *Memory) DueCampaigns(_ context.Context, now time.Time) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Campaign
	for _, c := range s.campaigns {
		if !c.Deleted && c.IsDue(now) {
			due = append(due, *c)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledAt.Before(*due[j].ScheduledAt)
	})
	return due, nil
}

func (s *Memory) SetProgress(_ context.Context, id string, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	if percent > c.Progress {
		c.Progress = percent
	}
	c.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) CompleteCampaign(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status != domain.CampaignSending {
		return nil
	}
	now := time.Now()
	c.Status = domain.CampaignSent
	c.Progress = 100
	c.CompletedAt = &now
	c.UpdatedAt = now
	return nil
}

func (s *Memory) FailCampaign(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	if c.Status != domain.CampaignSending {
		return nil
	}
	now := time.Now()
	c.Status = domain.CampaignFailed
	c.ErrorMessage = message
	c.CompletedAt = &now
	c.UpdatedAt = now
	return nil
}

func (s *Memory) UpdateCampaignStats(_ context.Context, id string, stats domain.CampaignStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	c.Stats = stats
	c.StatsRefreshedAt = &now
	c.UpdatedAt = now
	return nil
}

func (s *Memory) SoftDeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	now := time.Now()
	for _, c := range s.campaigns {
		if c.Deleted || c.Status != domain.CampaignSent {
			continue
		}
		if c.CompletedAt != nil && c.CompletedAt.Before(cutoff) {
			c.Deleted = true
			c.DeletedAt = &now
			c.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// --- Recipients ---

func (s *Memory) AddRecipients(_ context.Context, campaignID string, recipients []domain.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range recipients {
		r := recipients[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CampaignID = campaignID
		if r.Status == "" {
			r.Status = domain.RecipientPending
		}
		r.CreatedAt = time.Now()
		r.UpdatedAt = time.Now()
		s.recipients[r.ID] = &r
	}
	if c, ok := s.campaigns[campaignID]; ok {
		c.TotalRecipients += len(recipients)
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (s *Memory) GetRecipient(_ context.Context, id string) (*domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recipients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Memory) PendingRecipients(_ context.Context, campaignID string) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []domain.Recipient
	for _, r := range s.recipients {
		if r.CampaignID == campaignID && r.Status == domain.RecipientPending && !r.Unsubscribed {
			pending = append(pending, *r)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Position < pending[j].Position })
	return pending, nil
}

func (s *Memory) MarkRecipientSent(_ context.Context, id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recipients[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = domain.RecipientSent
	r.SentAt = &sentAt
	r.ErrorMessage = ""
	r.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) MarkRecipientFailed(_ context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recipients[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = domain.RecipientFailed
	r.ErrorMessage = message
	r.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) TouchRecipientOpen(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recipients[id]
	if !ok {
		return ErrNotFound
	}
	if r.OpenedAt == nil {
		r.OpenedAt = &at
	}
	r.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) TouchRecipientClick(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recipients[id]
	if !ok {
		return ErrNotFound
	}
	if r.ClickedAt == nil {
		r.ClickedAt = &at
	}
	r.UpdatedAt = time.Now()
	return nil
}

func (s *Memory) UnsubscribeRecipient(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.recipients[id]
	if !ok {
		return ErrNotFound
	}
	r.Unsubscribed = true
	if r.UnsubscribedAt == nil {
		r.UnsubscribedAt = &at
	}
	r.UpdatedAt = time.Now()
	return nil
}

// --- Tracking events ---

func (s *Memory) RecordEvent(_ context.Context, ev *domain.TrackingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendEventLocked(ev)
	return nil
}

func (s *Memory) RecordOpenOnce(_ context.Context, ev *domain.TrackingEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ev.MessageID + "|" + ev.RecipientID
	if s.opens[key] {
		return false, nil
	}
	s.opens[key] = true
	ev.EventType = domain.EventOpen
	s.appendEventLocked(ev)
	return true, nil
}

func (s *Memory) appendEventLocked(ev *domain.TrackingEvent) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.EventAt.IsZero() {
		ev.EventAt = time.Now()
	}
	ev.CreatedAt = time.Now()
	cp := *ev
	s.events = append(s.events, &cp)
}

func (s *Memory) AggregateCampaignStats(_ context.Context, campaignID string) (domain.CampaignStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats domain.CampaignStats
	for _, r := range s.recipients {
		if r.CampaignID != campaignID {
			continue
		}
		switch r.Status {
		case domain.RecipientSent:
			stats.SentCount++
		case domain.RecipientFailed:
			stats.FailedCount++
		case domain.RecipientBounced:
			stats.BounceCount++
		}
	}

	openers := make(map[string]bool)
	clickers := make(map[string]bool)
	for _, ev := range s.events {
		if ev.CampaignID != campaignID {
			continue
		}
		switch ev.EventType {
		case domain.EventOpen:
			stats.OpenCount++
			openers[ev.RecipientID] = true
		case domain.EventClick:
			stats.ClickCount++
			clickers[ev.RecipientID] = true
		case domain.EventUnsubscribe:
			stats.UnsubscribeCount++
		case domain.EventSpamComplaint:
			stats.ComplaintCount++
		}
	}
	stats.UniqueOpenCount = len(openers)
	stats.UniqueClickCount = len(clickers)
	stats.DeliveredCount = stats.SentCount - stats.BounceCount
	if stats.DeliveredCount < 0 {
		stats.DeliveredCount = 0
	}
	return stats, nil
}

func (s *Memory) CampaignsNeedingStats(_ context.Context, staleBefore time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for _, c := range s.campaigns {
		if c.Deleted {
			continue
		}
		if c.Status != domain.CampaignSending && c.Status != domain.CampaignSent {
			continue
		}
		if c.StatsRefreshedAt == nil || c.StatsRefreshedAt.Before(staleBefore) {
			ids = append(ids, c.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Memory) DeleteEventsBefore(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []*domain.TrackingEvent
	var removed int64
	for _, ev := range s.events {
		if ev.EventAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept

	// Dropping open rows frees their dedup keys too.
	for key := range s.opens {
		parts := strings.SplitN(key, "|", 2)
		if len(parts) != 2 {
			continue
		}
		if !s.hasOpenLocked(parts[0], parts[1]) {
			delete(s.opens, key)
		}
	}
	return removed, nil
}

func (s *Memory) hasOpenLocked(messageID, recipientID string) bool {
	for _, ev := range s.events {
		if ev.EventType == domain.EventOpen && ev.MessageID == messageID && ev.RecipientID == recipientID {
			return true
		}
	}
	return false
}

// SetCompletedAt backdates a campaign's completion time. Test helper.
func (s *Memory) SetCompletedAt(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.CompletedAt = &at
	return nil
}

// Events returns a copy of the event log for a campaign, in insertion
// order. Test helper.
func (s *Memory) Events(campaignID string) []domain.TrackingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TrackingEvent
	for _, ev := range s.events {
		if campaignID == "" || ev.CampaignID == campaignID {
			out = append(out, *ev)
		}
	}
	return out
}
