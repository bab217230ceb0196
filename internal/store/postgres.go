package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/campaign-pipeline/internal/domain"
)

// Postgres implements campaign, recipient, and event persistence on top of
// a *sql.DB opened with the pq driver.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a store backed by the given database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// --- Campaigns ---

const campaignColumns = `id, name, subject, from_name, from_email, reply_to,
	html_content, plain_content, status, scheduled_at, progress, error_message,
	sent_count, failed_count, delivered_count, bounce_count, open_count, unique_open_count,
	click_count, unique_click_count, unsubscribe_count, complaint_count,
	total_recipients, stats_refreshed_at, started_at, completed_at,
	deleted, deleted_at, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.FromName, &c.FromEmail, &c.ReplyTo,
		&c.HTMLContent, &c.PlainContent, &c.Status, &c.ScheduledAt, &c.Progress, &c.ErrorMessage,
		&c.Stats.SentCount, &c.Stats.FailedCount, &c.Stats.DeliveredCount, &c.Stats.BounceCount,
		&c.Stats.OpenCount, &c.Stats.UniqueOpenCount, &c.Stats.ClickCount, &c.Stats.UniqueClickCount,
		&c.Stats.UnsubscribeCount, &c.Stats.ComplaintCount,
		&c.TotalRecipients, &c.StatsRefreshedAt, &c.StartedAt, &c.CompletedAt,
		&c.Deleted, &c.DeletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// CreateCampaign inserts a new campaign in draft status.
func (s *Postgres) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = domain.CampaignDraft
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = time.Now()

	query := `INSERT INTO campaigns (id, name, subject, from_name, from_email, reply_to,
		html_content, plain_content, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.Subject, c.FromName, c.FromEmail,
		c.ReplyTo, c.HTMLContent, c.PlainContent, c.Status, c.ScheduledAt, c.CreatedAt, c.UpdatedAt)
	return err
}

// GetCampaign retrieves a campaign by ID. Soft-deleted campaigns are not
// returned.
func (s *Postgres) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 AND deleted = FALSE`
	return scanCampaign(s.db.QueryRowContext(ctx, query, id))
}

// ListCampaigns returns campaigns ordered by created_at DESC, with the total
// count for pagination.
func (s *Postgres) ListCampaigns(ctx context.Context, filter ListFilter) ([]domain.Campaign, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE deleted = FALSE AND ($1 = '' OR status = $1)`
	if err := s.db.QueryRowContext(ctx, countQuery, filter.Status).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE deleted = FALSE AND ($1 = '' OR status = $1)
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.db.QueryContext(ctx, query, filter.Status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var campaigns []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, *c)
	}
	return campaigns, total, rows.Err()
}

// UpdateCampaign persists the mutable content fields of a draft campaign.
func (s *Postgres) UpdateCampaign(ctx context.Context, c *domain.Campaign) error {
	query := `UPDATE campaigns SET name = $2, subject = $3, from_name = $4, from_email = $5,
		reply_to = $6, html_content = $7, plain_content = $8, scheduled_at = $9, updated_at = NOW()
		WHERE id = $1 AND deleted = FALSE`

	res, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.Subject, c.FromName, c.FromEmail,
		c.ReplyTo, c.HTMLContent, c.PlainContent, c.ScheduledAt)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TransitionStatus moves a campaign to a new status only if its current
// status is one of the allowed source states. Returns false when the guard
// did not match, which callers treat as a lost race or an invalid request.
func (s *Postgres) TransitionStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) (bool, error) {
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	query := `UPDATE campaigns SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3) AND deleted = FALSE`

	res, err := s.db.ExecContext(ctx, query, id, to, pq.Array(states))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ClaimForSending atomically moves a scheduled campaign into sending,
// stamps its start time, and resets progress for the new run. Returns false
// if another worker already claimed it.
func (s *Postgres) ClaimForSending(ctx context.Context, id string) (bool, error) {
	query := `UPDATE campaigns SET status = 'sending', progress = 0, started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled' AND deleted = FALSE`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DueCampaigns returns scheduled campaigns whose send time has arrived.
func (s *Postgres) DueCampaigns(ctx context.Context, now time.Time) ([]domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1 AND total_recipients > 0 AND deleted = FALSE
		ORDER BY scheduled_at`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, *c)
	}
	return due, rows.Err()
}

// SetProgress records delivery progress. Progress never moves backwards.
func (s *Postgres) SetProgress(ctx context.Context, id string, percent int) error {
	query := `UPDATE campaigns SET progress = GREATEST(progress, $2), updated_at = NOW() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, percent)
	return err
}

// CompleteCampaign marks a campaign fully processed.
func (s *Postgres) CompleteCampaign(ctx context.Context, id string) error {
	query := `UPDATE campaigns SET status = 'sent', progress = 100, completed_at = NOW(),
		updated_at = NOW() WHERE id = $1 AND status = 'sending'`
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// FailCampaign marks a campaign failed with a diagnostic message.
func (s *Postgres) FailCampaign(ctx context.Context, id, message string) error {
	query := `UPDATE campaigns SET status = 'failed', error_message = $2, completed_at = NOW(),
		updated_at = NOW() WHERE id = $1 AND status = 'sending'`
	_, err := s.db.ExecContext(ctx, query, id, message)
	return err
}

// UpdateCampaignStats overwrites the denormalized counters from a fresh
// aggregation pass.
func (s *Postgres) UpdateCampaignStats(ctx context.Context, id string, stats domain.CampaignStats) error {
	query := `UPDATE campaigns SET sent_count = $2, failed_count = $3, delivered_count = $4,
		bounce_count = $5, open_count = $6, unique_open_count = $7, click_count = $8,
		unique_click_count = $9, unsubscribe_count = $10, complaint_count = $11,
		stats_refreshed_at = NOW(), updated_at = NOW() WHERE id = $1`

	_, err := s.db.ExecContext(ctx, query, id, stats.SentCount, stats.FailedCount,
		stats.DeliveredCount, stats.BounceCount, stats.OpenCount, stats.UniqueOpenCount,
		stats.ClickCount, stats.UniqueClickCount, stats.UnsubscribeCount, stats.ComplaintCount)
	return err
}

// SoftDeleteFinishedBefore flags sent campaigns older than the cutoff as
// deleted. Failed and cancelled campaigns are left alone so their error and
// cancellation history stays visible. Rows survive for audit but stop
// appearing in reads.
func (s *Postgres) SoftDeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `UPDATE campaigns SET deleted = TRUE, deleted_at = NOW(), updated_at = NOW()
		WHERE deleted = FALSE AND status = 'sent'
		AND completed_at IS NOT NULL AND completed_at < $1`

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Recipients ---

// AddRecipients inserts the recipient list for a campaign in one
// transaction and updates the campaign's recipient total. Position preserves
// insertion order for deterministic batching.
func (s *Postgres) AddRecipients(ctx context.Context, campaignID string, recipients []domain.Recipient) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO campaign_recipients (id, campaign_id, subscriber_id, email,
		first_name, last_name, position, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`

	for i := range recipients {
		r := &recipients[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.CampaignID = campaignID
		if r.Status == "" {
			r.Status = domain.RecipientPending
		}
		if _, err := tx.ExecContext(ctx, query, r.ID, r.CampaignID, r.SubscriberID,
			r.Email, r.FirstName, r.LastName, r.Position, r.Status); err != nil {
			return err
		}
	}

	updateTotal := `UPDATE campaigns SET total_recipients = total_recipients + $2, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, updateTotal, campaignID, len(recipients)); err != nil {
		return err
	}

	return tx.Commit()
}

const recipientColumns = `id, campaign_id, subscriber_id, email, first_name, last_name,
	position, status, error_message, sent_at, opened_at, clicked_at,
	unsubscribed, unsubscribed_at, created_at, updated_at`

func scanRecipient(row interface{ Scan(...any) error }) (*domain.Recipient, error) {
	r := &domain.Recipient{}
	err := row.Scan(&r.ID, &r.CampaignID, &r.SubscriberID, &r.Email, &r.FirstName, &r.LastName,
		&r.Position, &r.Status, &r.ErrorMessage, &r.SentAt, &r.OpenedAt, &r.ClickedAt,
		&r.Unsubscribed, &r.UnsubscribedAt, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetRecipient retrieves a recipient by ID.
func (s *Postgres) GetRecipient(ctx context.Context, id string) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM campaign_recipients WHERE id = $1`
	return scanRecipient(s.db.QueryRowContext(ctx, query, id))
}

// PendingRecipients returns undelivered, still-subscribed recipients in
// insertion order.
func (s *Postgres) PendingRecipients(ctx context.Context, campaignID string) ([]domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM campaign_recipients
		WHERE campaign_id = $1 AND status = 'pending' AND unsubscribed = FALSE
		ORDER BY position`

	rows, err := s.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []domain.Recipient
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, *r)
	}
	return recipients, rows.Err()
}

// MarkRecipientSent records a successful delivery.
func (s *Postgres) MarkRecipientSent(ctx context.Context, id string, sentAt time.Time) error {
	query := `UPDATE campaign_recipients SET status = 'sent', sent_at = $2, error_message = '',
		updated_at = NOW() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, sentAt)
	return err
}

// MarkRecipientFailed records a failed delivery attempt.
func (s *Postgres) MarkRecipientFailed(ctx context.Context, id, message string) error {
	query := `UPDATE campaign_recipients SET status = 'failed', error_message = $2,
		updated_at = NOW() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, message)
	return err
}

// TouchRecipientOpen stamps the first open time. Later opens keep the
// original timestamp.
func (s *Postgres) TouchRecipientOpen(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE campaign_recipients SET opened_at = COALESCE(opened_at, $2), updated_at = NOW() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, at)
	return err
}

// TouchRecipientClick stamps the first click time.
func (s *Postgres) TouchRecipientClick(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE campaign_recipients SET clicked_at = COALESCE(clicked_at, $2), updated_at = NOW() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, at)
	return err
}

// UnsubscribeRecipient flips the recipient's subscription flag. Idempotent.
func (s *Postgres) UnsubscribeRecipient(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE campaign_recipients SET unsubscribed = TRUE,
		unsubscribed_at = COALESCE(unsubscribed_at, $2), updated_at = NOW() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, at)
	return err
}

// --- Tracking events ---

// RecordEvent appends a tracking event. Every call inserts a row; callers
// that need at-most-once semantics use RecordOpenOnce instead.
func (s *Postgres) RecordEvent(ctx context.Context, ev *domain.TrackingEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.EventAt.IsZero() {
		ev.EventAt = time.Now()
	}
	ev.CreatedAt = time.Now()

	query := `INSERT INTO tracking_events (id, event_type, message_id, recipient_id, campaign_id,
		ip_address, user_agent, device_class, link_id, link_url, attribution, reason,
		complaint_type, feedback, event_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := s.db.ExecContext(ctx, query, ev.ID, ev.EventType, ev.MessageID, ev.RecipientID,
		ev.CampaignID, ev.IPAddress, ev.UserAgent, ev.DeviceClass, ev.LinkID, ev.LinkURL,
		ev.Attribution, ev.Reason, ev.ComplaintType, ev.Feedback, ev.EventAt, ev.CreatedAt)
	return err
}

// RecordOpenOnce inserts an open event unless one already exists for the
// message and recipient. Relies on a partial unique index over open rows.
// Returns true when the event was recorded.
func (s *Postgres) RecordOpenOnce(ctx context.Context, ev *domain.TrackingEvent) (bool, error) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.EventAt.IsZero() {
		ev.EventAt = time.Now()
	}
	ev.CreatedAt = time.Now()

	query := `INSERT INTO tracking_events (id, event_type, message_id, recipient_id, campaign_id,
		ip_address, user_agent, device_class, attribution, event_at, created_at)
		VALUES ($1, 'open', $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (message_id, recipient_id) WHERE event_type = 'open' DO NOTHING`

	res, err := s.db.ExecContext(ctx, query, ev.ID, ev.MessageID, ev.RecipientID, ev.CampaignID,
		ev.IPAddress, ev.UserAgent, ev.DeviceClass, ev.Attribution, ev.EventAt, ev.CreatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AggregateCampaignStats recomputes the counters for a campaign from its
// recipient rows and event log.
func (s *Postgres) AggregateCampaignStats(ctx context.Context, campaignID string) (domain.CampaignStats, error) {
	var stats domain.CampaignStats

	recipientQuery := `SELECT
		COUNT(*) FILTER (WHERE status = 'sent'),
		COUNT(*) FILTER (WHERE status = 'failed'),
		COUNT(*) FILTER (WHERE status = 'bounced')
		FROM campaign_recipients WHERE campaign_id = $1`
	if err := s.db.QueryRowContext(ctx, recipientQuery, campaignID).Scan(
		&stats.SentCount, &stats.FailedCount, &stats.BounceCount); err != nil {
		return stats, fmt.Errorf("aggregate recipients: %w", err)
	}

	eventQuery := `SELECT
		COUNT(*) FILTER (WHERE event_type = 'open'),
		COUNT(DISTINCT recipient_id) FILTER (WHERE event_type = 'open'),
		COUNT(*) FILTER (WHERE event_type = 'click'),
		COUNT(DISTINCT recipient_id) FILTER (WHERE event_type = 'click'),
		COUNT(*) FILTER (WHERE event_type = 'unsubscribe'),
		COUNT(*) FILTER (WHERE event_type = 'spam_complaint')
		FROM tracking_events WHERE campaign_id = $1`
	if err := s.db.QueryRowContext(ctx, eventQuery, campaignID).Scan(
		&stats.OpenCount, &stats.UniqueOpenCount, &stats.ClickCount, &stats.UniqueClickCount,
		&stats.UnsubscribeCount, &stats.ComplaintCount); err != nil {
		return stats, fmt.Errorf("aggregate events: %w", err)
	}

	stats.DeliveredCount = stats.SentCount - stats.BounceCount
	if stats.DeliveredCount < 0 {
		stats.DeliveredCount = 0
	}
	return stats, nil
}

// CampaignsNeedingStats returns active or recently finished campaigns whose
// counters are stale.
func (s *Postgres) CampaignsNeedingStats(ctx context.Context, staleBefore time.Time) ([]string, error) {
	query := `SELECT id FROM campaigns
		WHERE deleted = FALSE AND status IN ('sending', 'sent')
		AND (stats_refreshed_at IS NULL OR stats_refreshed_at < $1)`

	rows, err := s.db.QueryContext(ctx, query, staleBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteEventsBefore removes tracking events older than the cutoff in
// batches, so retention passes never hold long row locks.
func (s *Postgres) DeleteEventsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	query := `DELETE FROM tracking_events WHERE id IN (
		SELECT id FROM tracking_events WHERE event_at < $1 LIMIT $2)`

	var total int64
	for {
		res, err := s.db.ExecContext(ctx, query, cutoff, batchSize)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batchSize) {
			return total, nil
		}
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
