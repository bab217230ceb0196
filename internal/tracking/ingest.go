// Package tracking ingests recipient engagement signals: opens, clicks,
// unsubscribes, and spam complaints. Opens are deduplicated per message
// and recipient; every other event type is appended as-is, because each
// repeat click or complaint is its own signal.
package tracking

import (
	"context"
	"time"

	"github.com/ignite/campaign-pipeline/internal/domain"
	"github.com/ignite/campaign-pipeline/internal/pkg/logger"
	"github.com/ignite/campaign-pipeline/internal/token"
)

// Store is the persistence surface the ingestor needs.
type Store interface {
	RecordEvent(ctx context.Context, ev *domain.TrackingEvent) error
	RecordOpenOnce(ctx context.Context, ev *domain.TrackingEvent) (bool, error)
	TouchRecipientOpen(ctx context.Context, id string, at time.Time) error
	TouchRecipientClick(ctx context.Context, id string, at time.Time) error
	UnsubscribeRecipient(ctx context.Context, id string, at time.Time) error
}

// RequestMeta carries the client details captured from the HTTP request.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Ingestor turns decoded tokens into stored tracking events plus their
// denormalized side effects on recipient rows.
type Ingestor struct {
	store Store
	bots  *BotDetector
}

// NewIngestor creates an ingestor.
func NewIngestor(store Store) *Ingestor {
	return &Ingestor{store: store, bots: NewBotDetector()}
}

// RecordOpen ingests an open. The first open per message and recipient is
// stored; repeats are no-ops. Bot user agents are dropped entirely.
// Returns whether a new event was stored.
func (in *Ingestor) RecordOpen(ctx context.Context, tok token.Token, meta RequestMeta) (bool, error) {
	if in.bots.IsBot(meta.UserAgent) {
		logger.Debug("open from bot dropped",
			"campaign_id", tok.CampaignID, "user_agent", meta.UserAgent)
		return false, nil
	}

	now := time.Now()
	ev := &domain.TrackingEvent{
		EventType:   domain.EventOpen,
		MessageID:   tok.MessageID,
		RecipientID: tok.RecipientID,
		CampaignID:  tok.CampaignID,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		DeviceClass: DeviceClassFromUA(meta.UserAgent),
		EventAt:     now,
	}

	recorded, err := in.store.RecordOpenOnce(ctx, ev)
	if err != nil {
		return false, err
	}
	if recorded {
		if err := in.store.TouchRecipientOpen(ctx, tok.RecipientID, now); err != nil {
			logger.Warn("recipient open touch failed",
				"recipient_id", tok.RecipientID, "error", err)
		}
	}
	return recorded, nil
}

// RecordClick ingests a click. Clicks are never deduplicated: prefetchers
// and genuine repeat clicks both append rows, and unique counts are
// derived at aggregation time.
func (in *Ingestor) RecordClick(ctx context.Context, tok token.Token, linkURL string, attribution domain.Attribution, meta RequestMeta) error {
	now := time.Now()
	ev := &domain.TrackingEvent{
		EventType:   domain.EventClick,
		MessageID:   tok.MessageID,
		RecipientID: tok.RecipientID,
		CampaignID:  tok.CampaignID,
		LinkID:      tok.LinkID,
		LinkURL:     linkURL,
		Attribution: attribution,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		DeviceClass: DeviceClassFromUA(meta.UserAgent),
		EventAt:     now,
	}
	if err := in.store.RecordEvent(ctx, ev); err != nil {
		return err
	}

	if err := in.store.TouchRecipientClick(ctx, tok.RecipientID, now); err != nil {
		logger.Warn("recipient click touch failed",
			"recipient_id", tok.RecipientID, "error", err)
	}
	return nil
}

// RecordUnsubscribe ingests an unsubscribe and flips the recipient's
// subscription flag.
func (in *Ingestor) RecordUnsubscribe(ctx context.Context, tok token.Token, reason string, meta RequestMeta) error {
	now := time.Now()
	ev := &domain.TrackingEvent{
		EventType:   domain.EventUnsubscribe,
		MessageID:   tok.MessageID,
		RecipientID: tok.RecipientID,
		CampaignID:  tok.CampaignID,
		Reason:      reason,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		DeviceClass: DeviceClassFromUA(meta.UserAgent),
		EventAt:     now,
	}
	if err := in.store.RecordEvent(ctx, ev); err != nil {
		return err
	}

	if err := in.store.UnsubscribeRecipient(ctx, tok.RecipientID, now); err != nil {
		logger.Warn("recipient unsubscribe flag failed",
			"recipient_id", tok.RecipientID, "error", err)
	}
	return nil
}

// RecordSpamComplaint ingests a feedback-loop complaint. Complaints also
// unsubscribe the recipient; a complainer must never be mailed again.
func (in *Ingestor) RecordSpamComplaint(ctx context.Context, tok token.Token, complaintType, feedback string) error {
	now := time.Now()
	ev := &domain.TrackingEvent{
		EventType:     domain.EventSpamComplaint,
		MessageID:     tok.MessageID,
		RecipientID:   tok.RecipientID,
		CampaignID:    tok.CampaignID,
		ComplaintType: complaintType,
		Feedback:      feedback,
		EventAt:       now,
	}
	if err := in.store.RecordEvent(ctx, ev); err != nil {
		return err
	}

	if err := in.store.UnsubscribeRecipient(ctx, tok.RecipientID, now); err != nil {
		logger.Warn("recipient unsubscribe flag failed",
			"recipient_id", tok.RecipientID, "error", err)
	}
	return nil
}
