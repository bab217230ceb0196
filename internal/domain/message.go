package domain

import "time"

// EmailMessage is the fully-resolved message ready for a transport.
// By the time a message reaches this struct, all placeholder substitution,
// tracking injection, and header generation is complete.
type EmailMessage struct {
	ID           string            `json:"id"`
	CampaignID   string            `json:"campaign_id"`
	RecipientID  string            `json:"recipient_id"`
	Email        string            `json:"email"`
	FromName     string            `json:"from_name"`
	FromEmail    string            `json:"from_email"`
	ReplyTo      string            `json:"reply_to"`
	Subject      string            `json:"subject"`
	HTMLContent  string            `json:"html_content"`
	PlainContent string            `json:"plain_content"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// SendResult is returned by a transport after attempting delivery of one
// message.
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
	Error     string    `json:"error,omitempty"`
}
