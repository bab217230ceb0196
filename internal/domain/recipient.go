package domain

import "time"

// RecipientStatus enumerates the per-recipient delivery states.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSent    RecipientStatus = "sent"
	RecipientFailed  RecipientStatus = "failed"
	RecipientBounced RecipientStatus = "bounced"
)

// Recipient is one addressee of a campaign. Recipients are ordered: the
// position field preserves insertion order, which is also send order within
// a batch slice.
type Recipient struct {
	ID           string          `json:"id" db:"id"`
	CampaignID   string          `json:"campaign_id" db:"campaign_id"`
	SubscriberID string          `json:"subscriber_id" db:"subscriber_id"`
	Email        string          `json:"email" db:"email"`
	FirstName    string          `json:"first_name" db:"first_name"`
	LastName     string          `json:"last_name" db:"last_name"`
	Position     int             `json:"position" db:"position"`
	Status       RecipientStatus `json:"status" db:"status"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`

	// Denormalized engagement timestamps for convenience. The tracking
	// event store is the source of truth.
	SentAt    *time.Time `json:"sent_at" db:"sent_at"`
	OpenedAt  *time.Time `json:"opened_at" db:"opened_at"`
	ClickedAt *time.Time `json:"clicked_at" db:"clicked_at"`

	Unsubscribed   bool       `json:"unsubscribed" db:"unsubscribed"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at" db:"unsubscribed_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FullName joins the name parts, tolerating either being empty.
func (r *Recipient) FullName() string {
	switch {
	case r.FirstName != "" && r.LastName != "":
		return r.FirstName + " " + r.LastName
	case r.FirstName != "":
		return r.FirstName
	default:
		return r.LastName
	}
}
