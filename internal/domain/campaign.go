package domain

import (
	"fmt"
	"time"
)

// CampaignStatus enumerates the lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignSent      CampaignStatus = "sent"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCancelled CampaignStatus = "cancelled"
	CampaignFailed    CampaignStatus = "failed"
)

// validTransitions is the campaign state machine. A transition not listed
// here is rejected with *InvalidStateError.
var validTransitions = map[CampaignStatus][]CampaignStatus{
	CampaignDraft:     {CampaignScheduled},
	CampaignScheduled: {CampaignSending, CampaignCancelled},
	CampaignSending:   {CampaignSent, CampaignFailed, CampaignPaused},
	CampaignPaused:    {CampaignScheduled},
}

// InvalidStateError reports a campaign status transition that the state
// machine does not permit. The campaign is left unmodified.
type InvalidStateError struct {
	From CampaignStatus
	To   CampaignStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid campaign transition: %s -> %s", e.From, e.To)
}

// CanTransition reports whether the status may move from its current value
// to the given target.
func (s CampaignStatus) CanTransition(to CampaignStatus) bool {
	for _, t := range validTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for states a campaign never leaves.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignSent || s == CampaignCancelled || s == CampaignFailed
}

// ValidateTransition returns *InvalidStateError if from -> to is not allowed.
func ValidateTransition(from, to CampaignStatus) error {
	if !from.CanTransition(to) {
		return &InvalidStateError{From: from, To: to}
	}
	return nil
}

// Campaign represents a single message broadcast to a recipient list, with
// its own lifecycle, progress, and engagement stats.
type Campaign struct {
	ID           string         `json:"id" db:"id"`
	Name         string         `json:"name" db:"name"`
	Subject      string         `json:"subject" db:"subject"`
	FromName     string         `json:"from_name" db:"from_name"`
	FromEmail    string         `json:"from_email" db:"from_email"`
	ReplyTo      string         `json:"reply_to" db:"reply_to"`
	HTMLContent  string         `json:"html_content" db:"html_content"`
	PlainContent string         `json:"plain_content" db:"plain_content"`
	Status       CampaignStatus `json:"status" db:"status"`
	ScheduledAt  *time.Time     `json:"scheduled_at" db:"scheduled_at"`

	// Progress is an integer percentage. It is reset to 0 when a send
	// starts, only ever increases during the send, and ends at 100.
	Progress int `json:"progress" db:"progress"`

	// ErrorMessage holds the pipeline error that moved the campaign to
	// failed. Empty otherwise.
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	Stats            CampaignStats `json:"stats"`
	TotalRecipients  int           `json:"total_recipients" db:"total_recipients"`
	StatsRefreshedAt *time.Time    `json:"stats_refreshed_at" db:"stats_refreshed_at"`

	StartedAt   *time.Time `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at" db:"completed_at"`

	// Soft delete: the retention sweeper sets the flag and timestamp,
	// nothing is physically removed.
	Deleted   bool       `json:"deleted" db:"deleted"`
	DeletedAt *time.Time `json:"deleted_at" db:"deleted_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Duration returns the wall-clock time of the last send run, or zero if the
// campaign has not completed a run.
func (c *Campaign) Duration() time.Duration {
	if c.StartedAt == nil || c.CompletedAt == nil {
		return 0
	}
	return c.CompletedAt.Sub(*c.StartedAt)
}

// IsDue reports whether the scheduler should pick this campaign up.
func (c *Campaign) IsDue(now time.Time) bool {
	return c.Status == CampaignScheduled &&
		c.ScheduledAt != nil && !c.ScheduledAt.After(now) &&
		c.TotalRecipients > 0
}

// CampaignStats holds the engagement counters for a campaign. Sent/Failed
// are written by the delivery engine; the rest by the stats aggregator.
type CampaignStats struct {
	SentCount        int `json:"sent_count" db:"sent_count"`
	FailedCount      int `json:"failed_count" db:"failed_count"`
	DeliveredCount   int `json:"delivered_count" db:"delivered_count"`
	BounceCount      int `json:"bounce_count" db:"bounce_count"`
	OpenCount        int `json:"open_count" db:"open_count"`
	UniqueOpenCount  int `json:"unique_open_count" db:"unique_open_count"`
	ClickCount       int `json:"click_count" db:"click_count"`
	UniqueClickCount int `json:"unique_click_count" db:"unique_click_count"`
	UnsubscribeCount int `json:"unsubscribe_count" db:"unsubscribe_count"`
	ComplaintCount   int `json:"complaint_count" db:"complaint_count"`
}

// CampaignRates provides the derived engagement rates.
type CampaignRates struct {
	OpenRate  float64 `json:"open_rate"`
	ClickRate float64 `json:"click_rate"`
	// ClickThroughRate is clicks divided by opens, not clicks divided
	// by sends.
	ClickThroughRate float64 `json:"click_through_rate"`
}

// Rates derives the engagement rates from the raw counters.
func (s CampaignStats) Rates() CampaignRates {
	var r CampaignRates
	if s.SentCount > 0 {
		r.OpenRate = float64(s.UniqueOpenCount) / float64(s.SentCount) * 100
		r.ClickRate = float64(s.UniqueClickCount) / float64(s.SentCount) * 100
	}
	if s.OpenCount > 0 {
		r.ClickThroughRate = float64(s.ClickCount) / float64(s.OpenCount) * 100
	}
	return r
}

// Progress computes the integer percentage of processed recipients,
// rounding half away from zero. processed=50 of total=120 yields 42.
func ProgressPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	pct := float64(processed) / float64(total) * 100
	return int(pct + 0.5)
}
