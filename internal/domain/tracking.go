package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// TrackingEventType enumerates the engagement events ingested by the pipeline.
type TrackingEventType string

const (
	EventOpen          TrackingEventType = "open"
	EventClick         TrackingEventType = "click"
	EventUnsubscribe   TrackingEventType = "unsubscribe"
	EventSpamComplaint TrackingEventType = "spam_complaint"
)

// DeviceClass is the coarse device bucket derived from a user agent.
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceDesktop DeviceClass = "desktop"
	DeviceOther   DeviceClass = "other"
)

// Attribution carries optional campaign-attribution parameters captured on
// click events (utm_source and friends). Stored as JSONB.
type Attribution map[string]string

func (a Attribution) Value() (driver.Value, error) {
	if len(a) == 0 {
		return nil, nil
	}
	return json.Marshal(a)
}

func (a *Attribution) Scan(value any) error {
	if value == nil {
		*a = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(b, a)
}

// TrackingEvent is a single engagement event, immutable once written.
// Every event is keyed by (MessageID, RecipientID, CampaignID), the tuple
// carried inside the tracking token of the delivered content.
//
// Open events are deduplicated per (MessageID, RecipientID) before storage.
// Click, unsubscribe, and spam-complaint events are never deduplicated:
// every distinct signal is stored, including client link-prefetch noise.
type TrackingEvent struct {
	ID          string            `json:"id" db:"id"`
	EventType   TrackingEventType `json:"event_type" db:"event_type"`
	MessageID   string            `json:"message_id" db:"message_id"`
	RecipientID string            `json:"recipient_id" db:"recipient_id"`
	CampaignID  string            `json:"campaign_id" db:"campaign_id"`

	IPAddress   string      `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent   string      `json:"user_agent,omitempty" db:"user_agent"`
	DeviceClass DeviceClass `json:"device_class,omitempty" db:"device_class"`

	// Click fields.
	LinkID      string      `json:"link_id,omitempty" db:"link_id"`
	LinkURL     string      `json:"link_url,omitempty" db:"link_url"`
	Attribution Attribution `json:"attribution,omitempty" db:"attribution"`

	// Unsubscribe fields.
	Reason string `json:"reason,omitempty" db:"reason"`

	// Spam complaint fields.
	ComplaintType string `json:"complaint_type,omitempty" db:"complaint_type"`
	Feedback      string `json:"feedback,omitempty" db:"feedback"`

	EventAt   time.Time `json:"event_at" db:"event_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
