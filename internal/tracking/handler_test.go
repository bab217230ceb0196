package tracking

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/campaign-pipeline/internal/domain"
	"github.com/ignite/campaign-pipeline/internal/store"
	"github.com/ignite/campaign-pipeline/internal/token"
)

func setupHandler(t *testing.T) (*Handler, *store.Memory, token.Token) {
	t.Helper()
	mem := store.NewMemory()

	c := &domain.Campaign{Name: "promo"}
	require.NoError(t, mem.CreateCampaign(context.Background(), c))
	require.NoError(t, mem.AddRecipients(context.Background(), c.ID, []domain.Recipient{
		{ID: "r-1", Email: "jane@example.com"},
	}))

	tok := token.Token{MessageID: "m-1", RecipientID: "r-1", CampaignID: c.ID}
	return NewHandler(NewIngestor(mem)), mem, tok
}

func get(h *Handler, target, userAgent string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	return w
}

const desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"

func TestOpenRecordsOnceServesPixelAlways(t *testing.T) {
	h, mem, tok := setupHandler(t)
	target := "/track/open/" + token.Encode(tok)

	for i := 0; i < 3; i++ {
		w := get(h, target, desktopUA)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
		assert.Equal(t, pixelGIF, w.Body.Bytes())
	}

	events := mem.Events(tok.CampaignID)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventOpen, events[0].EventType)
	assert.Equal(t, domain.DeviceDesktop, events[0].DeviceClass)

	r, err := mem.GetRecipient(context.Background(), "r-1")
	require.NoError(t, err)
	assert.NotNil(t, r.OpenedAt)
}

func TestOpenMalformedTokenStillServesPixel(t *testing.T) {
	h, mem, _ := setupHandler(t)

	w := get(h, "/track/open/%21%21%21garbage", desktopUA)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pixelGIF, w.Body.Bytes())
	assert.Empty(t, mem.Events(""))
}

func TestOpenBotFiltered(t *testing.T) {
	h, mem, tok := setupHandler(t)

	w := get(h, "/track/open/"+token.Encode(tok), "Googlebot/2.1 (+http://www.google.com/bot.html)")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, mem.Events(tok.CampaignID))
}

func TestClickRedirectsAndNeverDeduplicates(t *testing.T) {
	h, mem, tok := setupHandler(t)
	tok.LinkID = "0"

	dest := "https://shop.example.com/sale?utm_source=email&utm_campaign=spring"
	target := "/track/click/" + token.Encode(tok) + "?url=" + url.QueryEscape(dest) +
		"&utm_source=email&utm_campaign=spring"

	for i := 0; i < 2; i++ {
		w := get(h, target, desktopUA)
		assert.Equal(t, http.StatusTemporaryRedirect, w.Code)
		assert.Equal(t, dest, w.Header().Get("Location"))
	}

	events := mem.Events(tok.CampaignID)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, domain.EventClick, ev.EventType)
		assert.Equal(t, "0", ev.LinkID)
		assert.Equal(t, dest, ev.LinkURL)
		assert.Equal(t, "email", ev.Attribution["utm_source"])
		assert.Equal(t, "spring", ev.Attribution["utm_campaign"])
	}

	r, err := mem.GetRecipient(context.Background(), "r-1")
	require.NoError(t, err)
	assert.NotNil(t, r.ClickedAt)
}

func TestClickBadTokenRejected(t *testing.T) {
	h, _, _ := setupHandler(t)

	w := get(h, "/track/click/%21%21%21?url=https%3A%2F%2Fexample.com", desktopUA)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "bad link")
}

func TestClickMissingOrUnsafeURLRejected(t *testing.T) {
	h, mem, tok := setupHandler(t)
	encoded := token.Encode(tok)

	for _, target := range []string{
		"/track/click/" + encoded,
		"/track/click/" + encoded + "?url=" + url.QueryEscape("javascript:alert(1)"),
		"/track/click/" + encoded + "?url=" + url.QueryEscape("//evil.example.com"),
	} {
		w := get(h, target, desktopUA)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
	}
	assert.Empty(t, mem.Events(tok.CampaignID))
}

func TestUnsubscribeFlipsRecipient(t *testing.T) {
	h, mem, tok := setupHandler(t)

	w := get(h, "/track/unsubscribe/"+token.Encode(tok)+"?reason=too+many+emails", desktopUA)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unsubscribed")

	events := mem.Events(tok.CampaignID)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventUnsubscribe, events[0].EventType)
	assert.Equal(t, "too many emails", events[0].Reason)

	r, err := mem.GetRecipient(context.Background(), "r-1")
	require.NoError(t, err)
	assert.True(t, r.Unsubscribed)
	assert.NotNil(t, r.UnsubscribedAt)

	// Repeat unsubscribes append again; the flag stays set.
	get(h, "/track/unsubscribe/"+token.Encode(tok), desktopUA)
	assert.Len(t, mem.Events(tok.CampaignID), 2)
}

func TestComplaintUnsubscribesRecipient(t *testing.T) {
	h, mem, tok := setupHandler(t)

	form := url.Values{}
	form.Set("token", token.Encode(tok))
	form.Set("type", "abuse")
	form.Set("feedback", "marked as spam")

	req := httptest.NewRequest(http.MethodPost, "/track/complaint",
		bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)

	events := mem.Events(tok.CampaignID)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSpamComplaint, events[0].EventType)
	assert.Equal(t, "abuse", events[0].ComplaintType)

	r, err := mem.GetRecipient(context.Background(), "r-1")
	require.NoError(t, err)
	assert.True(t, r.Unsubscribed)
}

func TestHealth(t *testing.T) {
	h, _, _ := setupHandler(t)

	w := get(h, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestDeviceClassFromUA(t *testing.T) {
	tests := []struct {
		ua   string
		want domain.DeviceClass
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148", domain.DeviceMobile},
		{"Mozilla/5.0 (Linux; Android 14; Pixel 8)", domain.DeviceMobile},
		{"Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X)", domain.DeviceTablet},
		{desktopUA, domain.DeviceDesktop},
		{"", domain.DeviceOther},
		{"   ", domain.DeviceOther},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, DeviceClassFromUA(tt.ua), tt.ua)
	}
}

func TestRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", realIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Real-Ip", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", realIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, strings.HasPrefix(realIP(req), "192.0.2."))
}

func TestOpenTimestampPreservedOnRepeat(t *testing.T) {
	h, mem, tok := setupHandler(t)

	get(h, "/track/open/"+token.Encode(tok), desktopUA)
	r1, err := mem.GetRecipient(context.Background(), "r-1")
	require.NoError(t, err)
	first := *r1.OpenedAt

	time.Sleep(5 * time.Millisecond)
	get(h, "/track/open/"+token.Encode(tok), desktopUA)

	r2, err := mem.GetRecipient(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, first, *r2.OpenedAt)
}
