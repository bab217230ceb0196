package api

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/campaign-pipeline/internal/domain"
	"github.com/ignite/campaign-pipeline/internal/pkg/httputil"
	"github.com/ignite/campaign-pipeline/internal/store"
)

type campaignInput struct {
	Name         string `json:"name"`
	Subject      string `json:"subject"`
	FromName     string `json:"from_name"`
	FromEmail    string `json:"from_email"`
	ReplyTo      string `json:"reply_to"`
	HTMLContent  string `json:"html_content"`
	PlainContent string `json:"plain_content"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var input campaignInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	if input.Name == "" || input.Subject == "" {
		httputil.BadRequest(w, "name and subject are required")
		return
	}
	if _, err := mail.ParseAddress(input.FromEmail); err != nil {
		httputil.BadRequest(w, "from_email is not a valid address")
		return
	}

	now := time.Now()
	c := &domain.Campaign{
		ID:           uuid.NewString(),
		Name:         input.Name,
		Subject:      input.Subject,
		FromName:     input.FromName,
		FromEmail:    input.FromEmail,
		ReplyTo:      input.ReplyTo,
		HTMLContent:  input.HTMLContent,
		PlainContent: input.PlainContent,
		Status:       domain.CampaignDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateCampaign(r.Context(), c); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, c)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  50,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	campaigns, total, err := s.store.ListCampaigns(r.Context(), filter)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{
		"campaigns": campaigns,
		"total":     total,
		"limit":     filter.Limit,
		"offset":    filter.Offset,
	})
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.getCampaign(w, r)
	if !ok {
		return
	}
	httputil.OK(w, c)
}

func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.getCampaign(w, r)
	if !ok {
		return
	}
	if c.Status != domain.CampaignDraft {
		httputil.Conflict(w, "only draft campaigns can be edited")
		return
	}

	var input campaignInput
	if !httputil.Decode(w, r, &input) {
		return
	}
	if input.Name != "" {
		c.Name = input.Name
	}
	if input.Subject != "" {
		c.Subject = input.Subject
	}
	if input.FromName != "" {
		c.FromName = input.FromName
	}
	if input.FromEmail != "" {
		if _, err := mail.ParseAddress(input.FromEmail); err != nil {
			httputil.BadRequest(w, "from_email is not a valid address")
			return
		}
		c.FromEmail = input.FromEmail
	}
	if input.ReplyTo != "" {
		c.ReplyTo = input.ReplyTo
	}
	if input.HTMLContent != "" {
		c.HTMLContent = input.HTMLContent
	}
	if input.PlainContent != "" {
		c.PlainContent = input.PlainContent
	}

	if err := s.store.UpdateCampaign(r.Context(), c); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (s *Server) handleAddRecipients(w http.ResponseWriter, r *http.Request) {
	c, ok := s.getCampaign(w, r)
	if !ok {
		return
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignScheduled {
		httputil.Conflict(w, "recipients can only be added before sending starts")
		return
	}

	var input struct {
		Recipients []struct {
			Email        string `json:"email"`
			FirstName    string `json:"first_name"`
			LastName     string `json:"last_name"`
			SubscriberID string `json:"subscriber_id"`
		} `json:"recipients"`
	}
	if !httputil.Decode(w, r, &input) {
		return
	}
	if len(input.Recipients) == 0 {
		httputil.BadRequest(w, "recipients list is empty")
		return
	}

	now := time.Now()
	recipients := make([]domain.Recipient, 0, len(input.Recipients))
	skipped := 0
	for _, in := range input.Recipients {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			skipped++
			continue
		}
		recipients = append(recipients, domain.Recipient{
			ID:           uuid.NewString(),
			CampaignID:   c.ID,
			SubscriberID: in.SubscriberID,
			Email:        in.Email,
			FirstName:    in.FirstName,
			LastName:     in.LastName,
			Status:       domain.RecipientPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	if len(recipients) == 0 {
		httputil.BadRequest(w, "no valid recipient addresses")
		return
	}

	if err := s.store.AddRecipients(r.Context(), c.ID, recipients); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, map[string]any{
		"campaign_id": c.ID,
		"added":       len(recipients),
		"skipped":     skipped,
	})
}

func (s *Server) handleScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.getCampaign(w, r)
	if !ok {
		return
	}

	var input struct {
		ScheduledAt string `json:"scheduled_at"`
	}
	if !httputil.Decode(w, r, &input) {
		return
	}

	scheduledAt := time.Now()
	if input.ScheduledAt != "" {
		parsed, err := time.Parse(time.RFC3339, input.ScheduledAt)
		if err != nil {
			httputil.BadRequest(w, "scheduled_at must be RFC 3339, e.g. 2026-09-01T15:00:00Z")
			return
		}
		scheduledAt = parsed
	}

	if err := domain.ValidateTransition(c.Status, domain.CampaignScheduled); err != nil {
		httputil.Conflict(w, err.Error())
		return
	}
	if c.TotalRecipients == 0 {
		httputil.BadRequest(w, "campaign has no recipients")
		return
	}

	c.ScheduledAt = &scheduledAt
	if err := s.store.UpdateCampaign(r.Context(), c); err != nil {
		httputil.InternalError(w, err)
		return
	}
	moved, err := s.store.TransitionStatus(r.Context(), c.ID,
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignPaused}, domain.CampaignScheduled)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !moved {
		httputil.Conflict(w, "campaign status changed concurrently")
		return
	}

	httputil.OK(w, map[string]any{
		"id":           c.ID,
		"status":       domain.CampaignScheduled,
		"scheduled_at": scheduledAt.UTC().Format(time.RFC3339),
	})
}

// handleSendCampaign schedules the campaign for right now and nudges the
// scheduler so it is picked up without waiting for the next tick.
func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	c, ok := s.getCampaign(w, r)
	if !ok {
		return
	}
	if err := domain.ValidateTransition(c.Status, domain.CampaignScheduled); err != nil {
		httputil.Conflict(w, err.Error())
		return
	}
	if c.TotalRecipients == 0 {
		httputil.BadRequest(w, "campaign has no recipients")
		return
	}

	now := time.Now()
	c.ScheduledAt = &now
	if err := s.store.UpdateCampaign(r.Context(), c); err != nil {
		httputil.InternalError(w, err)
		return
	}
	moved, err := s.store.TransitionStatus(r.Context(), c.ID,
		[]domain.CampaignStatus{domain.CampaignDraft, domain.CampaignPaused}, domain.CampaignScheduled)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !moved {
		httputil.Conflict(w, "campaign status changed concurrently")
		return
	}

	if s.dispatcher != nil {
		go s.dispatcher.RunOnce(context.WithoutCancel(r.Context()))
	}

	httputil.JSON(w, http.StatusAccepted, map[string]any{
		"id":     c.ID,
		"status": domain.CampaignScheduled,
	})
}

// Pause only interrupts an active send. A scheduled campaign is cancelled
// instead, never paused.
func (s *Server) handlePauseCampaign(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r,
		[]domain.CampaignStatus{domain.CampaignSending},
		domain.CampaignPaused)
}

func (s *Server) handleResumeCampaign(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r,
		[]domain.CampaignStatus{domain.CampaignPaused},
		domain.CampaignScheduled)
}

func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r,
		[]domain.CampaignStatus{domain.CampaignScheduled},
		domain.CampaignCancelled)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, from []domain.CampaignStatus, to domain.CampaignStatus) {
	c, ok := s.getCampaign(w, r)
	if !ok {
		return
	}

	moved, err := s.store.TransitionStatus(r.Context(), c.ID, from, to)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !moved {
		httputil.Conflict(w, (&domain.InvalidStateError{From: c.Status, To: to}).Error())
		return
	}
	httputil.OK(w, map[string]any{"id": c.ID, "status": to})
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	c, ok := s.getCampaign(w, r)
	if !ok {
		return
	}
	httputil.OK(w, map[string]any{
		"id":               c.ID,
		"status":           c.Status,
		"progress":         c.Progress,
		"total_recipients": c.TotalRecipients,
		"started_at":       c.StartedAt,
		"completed_at":     c.CompletedAt,
	})
}

// handleGetStats recomputes stats from the event log on demand, writes the
// cache back, and returns counters plus derived rates.
func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	c, ok := s.getCampaign(w, r)
	if !ok {
		return
	}

	stats, err := s.store.AggregateCampaignStats(r.Context(), c.ID)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if err := s.store.UpdateCampaignStats(r.Context(), c.ID, stats); err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"id":    c.ID,
		"stats": stats,
		"rates": stats.Rates(),
	})
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) (*domain.Campaign, bool) {
	id := chi.URLParam(r, "campaignID")
	if id == "" {
		httputil.BadRequest(w, "missing campaign id")
		return nil, false
	}
	c, err := s.store.GetCampaign(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "campaign not found")
		return nil, false
	}
	if err != nil {
		httputil.InternalError(w, err)
		return nil, false
	}
	return c, true
}
