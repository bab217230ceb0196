package delivery

import "fmt"

// RecipientDeliveryError wraps a single recipient's send failure. It is
// recorded against the recipient and never aborts the rest of the batch.
type RecipientDeliveryError struct {
	RecipientID string
	Email       string
	Err         error
}

func (e *RecipientDeliveryError) Error() string {
	return fmt.Sprintf("delivery to recipient %s failed: %v", e.RecipientID, e.Err)
}

func (e *RecipientDeliveryError) Unwrap() error { return e.Err }

// PipelineError wraps a failure of the delivery pipeline itself, as
// opposed to an individual recipient send. When SendCampaign returns one,
// the campaign has been marked failed with partial progress preserved.
type PipelineError struct {
	CampaignID string
	Stage      string
	Err        error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("campaign %s pipeline failed at %s: %v", e.CampaignID, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
