package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/campaign-pipeline/internal/domain"
)

// Transport delivers one fully-personalized message. Implementations must
// honor ctx cancellation and return either a result or an error; they never
// retry on their own.
type Transport interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// HTTPTransport submits messages to a transmissions-style JSON API.
type HTTPTransport struct {
	apiKey     string
	apiURL     string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport for the given API endpoint.
func NewHTTPTransport(apiKey, apiURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		apiKey:     apiKey,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts a single-recipient transmission.
func (t *HTTPTransport) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	payload := map[string]interface{}{
		"recipients": []map[string]interface{}{
			{"address": map[string]string{"email": msg.Email}},
		},
		"content": map[string]interface{}{
			"from":     map[string]string{"name": msg.FromName, "email": msg.FromEmail},
			"reply_to": msg.ReplyTo,
			"subject":  msg.Subject,
			"html":     msg.HTMLContent,
			"text":     msg.PlainContent,
			"headers":  msg.Headers,
		},
		"options": map[string]interface{}{
			// Tracking is injected upstream, so the provider's own
			// rewriting stays off.
			"open_tracking":  false,
			"click_tracking": false,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("transmission rejected: status %d", resp.StatusCode)
	}

	var result struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	json.NewDecoder(resp.Body).Decode(&result)

	return &domain.SendResult{
		Success:   true,
		MessageID: result.Results.ID,
		SentAt:    time.Now(),
	}, nil
}
