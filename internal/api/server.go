// Package api exposes the campaign management HTTP surface: CRUD,
// lifecycle transitions, recipient loading, and progress/stats reads.
// Tracking endpoints live in the tracking package and are served from a
// separate listener so the public surface stays minimal.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-pipeline/internal/domain"
	"github.com/ignite/campaign-pipeline/internal/pkg/httputil"
	"github.com/ignite/campaign-pipeline/internal/store"
)

// Store is the persistence surface the API needs.
type Store interface {
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, filter store.ListFilter) ([]domain.Campaign, int, error)
	UpdateCampaign(ctx context.Context, c *domain.Campaign) error
	TransitionStatus(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus) (bool, error)
	AddRecipients(ctx context.Context, campaignID string, recipients []domain.Recipient) error
	AggregateCampaignStats(ctx context.Context, campaignID string) (domain.CampaignStats, error)
	UpdateCampaignStats(ctx context.Context, id string, stats domain.CampaignStats) error
}

// Dispatcher kicks the scheduler loop so a "send now" request does not
// have to wait for the next tick.
type Dispatcher interface {
	RunOnce(ctx context.Context) bool
}

// Server holds the API handlers and their dependencies.
type Server struct {
	store      Store
	dispatcher Dispatcher
}

// NewServer creates the API server. dispatcher may be nil, in which case
// immediate sends wait for the next scheduler tick.
func NewServer(st Store, dispatcher Dispatcher) *Server {
	return &Server{store: st, dispatcher: dispatcher}
}

// Router builds the chi router with the full API surface.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api/campaigns", func(r chi.Router) {
		r.Post("/", s.handleCreateCampaign)
		r.Get("/", s.handleListCampaigns)

		r.Route("/{campaignID}", func(r chi.Router) {
			r.Get("/", s.handleGetCampaign)
			r.Put("/", s.handleUpdateCampaign)
			r.Post("/recipients", s.handleAddRecipients)
			r.Post("/schedule", s.handleScheduleCampaign)
			r.Post("/send", s.handleSendCampaign)
			r.Post("/pause", s.handlePauseCampaign)
			r.Post("/resume", s.handleResumeCampaign)
			r.Post("/cancel", s.handleCancelCampaign)
			r.Get("/progress", s.handleGetProgress)
			r.Get("/stats", s.handleGetStats)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
