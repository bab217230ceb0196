package tracking

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/campaign-pipeline/internal/domain"
	"github.com/ignite/campaign-pipeline/internal/pkg/logger"
	"github.com/ignite/campaign-pipeline/internal/token"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler serves the public tracking endpoints.
type Handler struct {
	ingestor *Ingestor
}

// NewHandler creates the tracking HTTP handler.
func NewHandler(ingestor *Ingestor) *Handler {
	return &Handler{ingestor: ingestor}
}

// Routes builds the tracking router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/{token}", h.HandleOpen)
	r.Get("/track/click/{token}", h.HandleClick)
	r.Get("/track/unsubscribe/{token}", h.HandleUnsubscribe)
	r.Post("/track/unsubscribe/{token}", h.HandleUnsubscribe)
	r.Post("/track/complaint", h.HandleComplaint)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen ingests an open and always answers with the pixel. A broken
// token must never break image rendering in the recipient's client.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	encoded := chi.URLParam(r, "token")

	tok, err := token.Decode(encoded)
	if err != nil {
		logger.Warn("open with undecodable token", "token", encoded, "error", err)
		h.servePixel(w)
		return
	}

	recorded, err := h.ingestor.RecordOpen(r.Context(), tok, h.meta(r))
	if err != nil {
		logger.Error("open ingestion failed", "campaign_id", tok.CampaignID, "error", err)
	} else if recorded {
		logger.Debug("open recorded",
			"campaign_id", tok.CampaignID, "recipient_id", tok.RecipientID)
	}
	h.servePixel(w)
}

// HandleClick ingests a click and redirects to the original destination
// carried in the url query parameter.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	encoded := chi.URLParam(r, "token")

	tok, err := token.Decode(encoded)
	if err != nil {
		logger.Warn("click with undecodable token", "token", encoded, "error", err)
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	dest := r.URL.Query().Get("url")
	if !validRedirectURL(dest) {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	if err := h.ingestor.RecordClick(r.Context(), tok, dest, attributionParams(r), h.meta(r)); err != nil {
		// The redirect matters more than the event row.
		logger.Error("click ingestion failed", "campaign_id", tok.CampaignID, "error", err)
	}

	http.Redirect(w, r, dest, http.StatusTemporaryRedirect)
}

// HandleUnsubscribe ingests an unsubscribe and renders a confirmation
// page. The reason query parameter is optional.
func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	encoded := chi.URLParam(r, "token")

	tok, err := token.Decode(encoded)
	if err != nil {
		logger.Warn("unsubscribe with undecodable token", "token", encoded, "error", err)
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	reason := r.URL.Query().Get("reason")
	if err := h.ingestor.RecordUnsubscribe(r.Context(), tok, reason, h.meta(r)); err != nil {
		logger.Error("unsubscribe ingestion failed", "campaign_id", tok.CampaignID, "error", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from this sender.</p>
	</body></html>`))
}

// HandleComplaint ingests a feedback-loop complaint posted by the
// transport provider.
func (h *Handler) HandleComplaint(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	encoded := r.FormValue("token")
	tok, err := token.Decode(encoded)
	if err != nil {
		logger.Warn("complaint with undecodable token", "token", encoded, "error", err)
		http.Error(w, "bad token", http.StatusBadRequest)
		return
	}

	complaintType := r.FormValue("type")
	if complaintType == "" {
		complaintType = "abuse"
	}
	if err := h.ingestor.RecordSpamComplaint(r.Context(), tok, complaintType, r.FormValue("feedback")); err != nil {
		logger.Error("complaint ingestion failed", "campaign_id", tok.CampaignID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func (h *Handler) meta(r *http.Request) RequestMeta {
	return RequestMeta{IPAddress: realIP(r), UserAgent: r.UserAgent()}
}

// validRedirectURL accepts only absolute http(s) destinations, so the
// redirect cannot be abused for javascript: or scheme-relative targets.
func validRedirectURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// attributionParams collects utm_* query parameters from the click.
func attributionParams(r *http.Request) domain.Attribution {
	var attr domain.Attribution
	for key, vals := range r.URL.Query() {
		if strings.HasPrefix(key, "utm_") && len(vals) > 0 {
			if attr == nil {
				attr = make(domain.Attribution)
			}
			attr[key] = vals[0]
		}
	}
	return attr
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
