package delivery

import (
	"fmt"
	"html"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	"github.com/ignite/campaign-pipeline/internal/domain"
	"github.com/ignite/campaign-pipeline/internal/pkg/logger"
	"github.com/ignite/campaign-pipeline/internal/token"
)

// Personalizer resolves campaign content into per-recipient messages:
// placeholder substitution, open pixel, click-tracking link rewrite, and
// the unsubscribe link plus headers.
type Personalizer struct {
	engine      *liquid.Engine
	cache       sync.Map // template string -> *liquid.Template
	trackingURL string
}

// NewPersonalizer creates a personalizer. trackingURL is the public base
// URL of the tracking server, without a trailing slash.
func NewPersonalizer(trackingURL string) *Personalizer {
	p := &Personalizer{
		engine:      liquid.NewEngine(),
		trackingURL: strings.TrimSuffix(trackingURL, "/"),
	}
	p.registerFilters()
	return p
}

func (p *Personalizer) registerFilters() {
	p.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	p.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})

	p.engine.RegisterFilter("urlencode", func(s string) string {
		return url.QueryEscape(s)
	})

	p.engine.RegisterFilter("escape", func(s string) string {
		return html.EscapeString(s)
	})

	p.engine.RegisterFilter("mask_email", func(email string) string {
		return logger.RedactEmail(email)
	})
}

// Render substitutes recipient fields into content. Liquid templates are
// rendered lax; on a parse or render error the legacy tag replacement runs
// instead, so a broken template degrades to partially-personalized content
// rather than a failed send.
func (p *Personalizer) Render(content string, r *domain.Recipient) string {
	if content == "" {
		return content
	}

	bindings := map[string]interface{}{
		"email":      r.Email,
		"first_name": r.FirstName,
		"last_name":  r.LastName,
		"full_name":  r.FullName(),
	}

	tpl, err := p.parse(content)
	if err == nil {
		out, renderErr := tpl.RenderString(bindings)
		if renderErr == nil {
			return replaceTags(out, r)
		}
		logger.Warn("template render failed, using tag substitution", "error", renderErr)
	} else {
		logger.Warn("template parse failed, using tag substitution", "error", err)
	}
	return replaceTags(content, r)
}

func (p *Personalizer) parse(content string) (*liquid.Template, error) {
	if cached, ok := p.cache.Load(content); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := p.engine.ParseString(content)
	if err != nil {
		return nil, err
	}
	p.cache.Store(content, tpl)
	return tpl, nil
}

// replaceTags handles the legacy bracket and double-brace placeholder
// style still present in older campaign content.
func replaceTags(content string, r *domain.Recipient) string {
	replacements := map[string]string{
		"{{email}}":      r.Email,
		"{{first_name}}": r.FirstName,
		"{{last_name}}":  r.LastName,
		"[EMAIL]":        r.Email,
		"[FIRST_NAME]":   r.FirstName,
		"[LAST_NAME]":    r.LastName,
	}
	result := content
	for tag, value := range replacements {
		result = strings.ReplaceAll(result, tag, value)
	}
	return result
}

// OpenPixelURL builds the open-tracking pixel URL for one message.
func (p *Personalizer) OpenPixelURL(messageID, recipientID, campaignID string) string {
	tok := token.Encode(token.Token{MessageID: messageID, RecipientID: recipientID, CampaignID: campaignID})
	return fmt.Sprintf("%s/track/open/%s", p.trackingURL, tok)
}

// ClickURL builds a click-tracking redirect that carries the original
// destination as a query parameter.
func (p *Personalizer) ClickURL(messageID, recipientID, campaignID, linkID, originalURL string) string {
	tok := token.Encode(token.Token{MessageID: messageID, RecipientID: recipientID, CampaignID: campaignID, LinkID: linkID})
	return fmt.Sprintf("%s/track/click/%s?url=%s", p.trackingURL, tok, url.QueryEscape(originalURL))
}

// UnsubscribeURL builds the unsubscribe link for one message.
func (p *Personalizer) UnsubscribeURL(messageID, recipientID, campaignID string) string {
	tok := token.Encode(token.Token{MessageID: messageID, RecipientID: recipientID, CampaignID: campaignID})
	return fmt.Sprintf("%s/track/unsubscribe/%s", p.trackingURL, tok)
}

// InjectTracking rewrites hyperlinks through the click redirect, adds the
// open pixel, and guarantees exactly one unsubscribe link.
func (p *Personalizer) InjectTracking(htmlContent, messageID, recipientID, campaignID string) string {
	result := p.rewriteLinks(htmlContent, messageID, recipientID, campaignID)

	unsubURL := p.UnsubscribeURL(messageID, recipientID, campaignID)
	if !strings.Contains(result, "/track/unsubscribe/") {
		footer := fmt.Sprintf(`<p style="font-size:12px;color:#888"><a href="%s">Unsubscribe</a></p>`, unsubURL)
		if strings.Contains(result, "</body>") {
			result = strings.Replace(result, "</body>", footer+"</body>", 1)
		} else {
			result += footer
		}
	}

	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" />`,
		p.OpenPixelURL(messageID, recipientID, campaignID))
	if strings.Contains(result, "</body>") {
		result = strings.Replace(result, "</body>", pixel+"</body>", 1)
	} else {
		result += pixel
	}

	return result
}

// rewriteLinks points every absolute href through the click redirect.
// Tracking and unsubscribe URLs pass through untouched.
func (p *Personalizer) rewriteLinks(htmlContent, messageID, recipientID, campaignID string) string {
	result := htmlContent
	linkIdx := 0

	for {
		start := strings.Index(result, `href="http`)
		if start == -1 {
			break
		}
		start += 6 // skip href="

		end := strings.Index(result[start:], `"`)
		if end == -1 {
			break
		}

		originalURL := result[start : start+end]
		if strings.Contains(originalURL, "/track/") {
			result = result[:start] + "SKIP" + result[start:]
			continue
		}

		tracked := p.ClickURL(messageID, recipientID, campaignID, strconv.Itoa(linkIdx), originalURL)
		linkIdx++
		result = result[:start] + tracked + result[start+end:]
	}

	return strings.ReplaceAll(result, "SKIP", "")
}

// BuildMessage assembles the transport-ready message for one recipient.
func (p *Personalizer) BuildMessage(c *domain.Campaign, r *domain.Recipient, messageID string) *domain.EmailMessage {
	htmlContent := p.Render(c.HTMLContent, r)
	htmlContent = p.InjectTracking(htmlContent, messageID, r.ID, c.ID)

	headers := make(map[string]string)
	AddUnsubscribeHeaders(headers, p.UnsubscribeURL(messageID, r.ID, c.ID))

	return &domain.EmailMessage{
		ID:           messageID,
		CampaignID:   c.ID,
		RecipientID:  r.ID,
		Email:        r.Email,
		FromName:     c.FromName,
		FromEmail:    c.FromEmail,
		ReplyTo:      c.ReplyTo,
		Subject:      p.Render(c.Subject, r),
		HTMLContent:  htmlContent,
		PlainContent: p.Render(c.PlainContent, r),
		Headers:      headers,
	}
}

// AddUnsubscribeHeaders sets the one-click unsubscribe headers required by
// major mailbox providers.
func AddUnsubscribeHeaders(headers map[string]string, unsubscribeURL string) {
	headers["List-Unsubscribe"] = fmt.Sprintf("<%s>", unsubscribeURL)
	headers["List-Unsubscribe-Post"] = "List-Unsubscribe=One-Click"
}
