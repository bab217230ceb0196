// Package delivery implements the batch delivery pipeline: it walks a
// campaign's recipient list in contiguous batches, personalizes and sends
// each message through a Transport, and keeps campaign progress and
// per-recipient outcomes persisted as it goes.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-pipeline/internal/domain"
	"github.com/ignite/campaign-pipeline/internal/pkg/logger"
)

// Store is the persistence surface the engine needs.
type Store interface {
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ClaimForSending(ctx context.Context, id string) (bool, error)
	PendingRecipients(ctx context.Context, campaignID string) ([]domain.Recipient, error)
	MarkRecipientSent(ctx context.Context, id string, sentAt time.Time) error
	MarkRecipientFailed(ctx context.Context, id, message string) error
	SetProgress(ctx context.Context, id string, percent int) error
	CompleteCampaign(ctx context.Context, id string) error
	FailCampaign(ctx context.Context, id, message string) error
}

// RateLimiter gates batch starts. A nil limiter always allows.
type RateLimiter interface {
	Allow(ctx context.Context, campaignID string, n int) (bool, error)
}

// Config holds the engine's tunables.
type Config struct {
	// BatchSize is the number of recipients processed concurrently per
	// batch.
	BatchSize int
	// BatchDelay is the pause between consecutive batches.
	BatchDelay time.Duration
	// SendTimeout bounds each individual transport send.
	SendTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
}

// Engine drives campaign delivery.
type Engine struct {
	store        Store
	transport    Transport
	personalizer *Personalizer
	limiter      RateLimiter
	cfg          Config
}

// NewEngine creates a delivery engine.
func NewEngine(store Store, transport Transport, personalizer *Personalizer, cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:        store,
		transport:    transport,
		personalizer: personalizer,
		cfg:          cfg,
	}
}

// SetRateLimiter installs an optional batch rate limiter.
func (e *Engine) SetRateLimiter(l RateLimiter) { e.limiter = l }

// SendCampaign delivers a campaign to all of its pending recipients and
// returns the per-recipient outcome counts. The campaign must be in
// sending status (claimed by the scheduler) or still scheduled, in which
// case the engine claims it itself. Any other status is rejected with an
// InvalidStateError and nothing is mutated.
//
// A recipient failure is contained: it marks that recipient failed and the
// rest of the batch proceeds. The campaign still finishes as sent. Only a
// pipeline-level failure (store errors, cancellation) marks the campaign
// failed and returns a PipelineError.
func (e *Engine) SendCampaign(ctx context.Context, campaignID string) (sent, failed int, err error) {
	// FailCampaign only touches campaigns in sending status, so routing a
	// load failure through fail() marks a claimed campaign failed while
	// leaving an unclaimed one untouched.
	c, err := e.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return e.fail(ctx, campaignID, "load", err, 0, 0)
	}

	switch c.Status {
	case domain.CampaignSending:
		// Claimed upstream.
	case domain.CampaignScheduled:
		claimed, claimErr := e.store.ClaimForSending(ctx, campaignID)
		if claimErr != nil {
			return 0, 0, &PipelineError{CampaignID: campaignID, Stage: "claim", Err: claimErr}
		}
		if !claimed {
			return 0, 0, &domain.InvalidStateError{From: c.Status, To: domain.CampaignSending}
		}
	default:
		return 0, 0, &domain.InvalidStateError{From: c.Status, To: domain.CampaignSending}
	}

	if err := e.store.SetProgress(ctx, campaignID, 0); err != nil {
		return e.fail(ctx, campaignID, "progress", err, 0, 0)
	}

	recipients, err := e.store.PendingRecipients(ctx, campaignID)
	if err != nil {
		return e.fail(ctx, campaignID, "recipients", err, 0, 0)
	}
	if len(recipients) == 0 {
		if err := e.store.CompleteCampaign(ctx, campaignID); err != nil {
			return 0, 0, &PipelineError{CampaignID: campaignID, Stage: "complete", Err: err}
		}
		return 0, 0, nil
	}

	total := len(recipients)
	batches := Partition(recipients, e.cfg.BatchSize)
	processed := 0

	logger.Info("campaign delivery started",
		"campaign_id", campaignID, "recipients", total, "batches", len(batches))

	for i, batch := range batches {
		if ctx.Err() != nil {
			return e.fail(ctx, campaignID, "cancelled", ctx.Err(), sent, failed)
		}

		if err := e.waitForQuota(ctx, campaignID, len(batch)); err != nil {
			return e.fail(ctx, campaignID, "rate limit", err, sent, failed)
		}

		batchSent, batchFailed := e.sendBatch(ctx, c, batch)
		sent += batchSent
		failed += batchFailed
		processed += len(batch)

		if err := e.store.SetProgress(ctx, campaignID, domain.ProgressPercent(processed, total)); err != nil {
			return e.fail(ctx, campaignID, "progress", err, sent, failed)
		}

		if i < len(batches)-1 && e.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return e.fail(ctx, campaignID, "cancelled", ctx.Err(), sent, failed)
			case <-time.After(e.cfg.BatchDelay):
			}
		}
	}

	if err := e.store.CompleteCampaign(ctx, campaignID); err != nil {
		return sent, failed, &PipelineError{CampaignID: campaignID, Stage: "complete", Err: err}
	}

	logger.Info("campaign delivery finished",
		"campaign_id", campaignID, "sent", sent, "failed", failed)
	return sent, failed, nil
}

// sendBatch delivers one batch with one goroutine per recipient. Each
// outcome is captured independently.
func (e *Engine) sendBatch(ctx context.Context, c *domain.Campaign, batch []domain.Recipient) (sent, failed int) {
	results := make([]error, len(batch))

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.sendOne(ctx, c, &batch[i])
		}(i)
	}
	wg.Wait()

	for i, err := range results {
		if err != nil {
			failed++
			logger.Warn("recipient delivery failed",
				"campaign_id", c.ID, "recipient_id", batch[i].ID,
				"email", batch[i].Email, "error", err)
		} else {
			sent++
		}
	}
	return sent, failed
}

// sendOne personalizes and sends a single message under its own timeout.
func (e *Engine) sendOne(ctx context.Context, c *domain.Campaign, r *domain.Recipient) error {
	messageID := uuid.New().String()
	msg := e.personalizer.BuildMessage(c, r, messageID)

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	defer cancel()

	result, err := e.transport.Send(sendCtx, msg)
	if err == nil && result != nil && !result.Success {
		err = fmt.Errorf("transport reported failure: %s", result.Error)
	}
	if err != nil {
		derr := &RecipientDeliveryError{RecipientID: r.ID, Email: r.Email, Err: err}
		if markErr := e.store.MarkRecipientFailed(ctx, r.ID, err.Error()); markErr != nil {
			logger.Error("mark recipient failed errored",
				"recipient_id", r.ID, "error", markErr)
		}
		return derr
	}

	sentAt := result.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	if markErr := e.store.MarkRecipientSent(ctx, r.ID, sentAt); markErr != nil {
		logger.Error("mark recipient sent errored",
			"recipient_id", r.ID, "error", markErr)
	}
	return nil
}

// waitForQuota blocks until the limiter admits the batch or ctx ends.
func (e *Engine) waitForQuota(ctx context.Context, campaignID string, n int) error {
	if e.limiter == nil {
		return nil
	}
	for {
		allowed, err := e.limiter.Allow(ctx, campaignID, n)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (e *Engine) fail(_ context.Context, campaignID, stage string, cause error, sent, failed int) (int, int, error) {
	perr := &PipelineError{CampaignID: campaignID, Stage: stage, Err: cause}

	// The caller's context may already be cancelled. The failure still has
	// to be persisted.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.FailCampaign(ctx, campaignID, perr.Error()); err != nil {
		logger.Error("mark campaign failed errored", "campaign_id", campaignID, "error", err)
	}
	return sent, failed, perr
}
