package tracking

import (
	"strings"

	"github.com/ignite/campaign-pipeline/internal/domain"
)

// DeviceClassFromUA classifies a user agent by substring heuristics. An
// empty user agent maps to "other" rather than "desktop".
func DeviceClassFromUA(userAgent string) domain.DeviceClass {
	if strings.TrimSpace(userAgent) == "" {
		return domain.DeviceOther
	}
	ua := strings.ToLower(userAgent)
	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") {
		return domain.DeviceTablet
	}
	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") || strings.Contains(ua, "iphone") {
		return domain.DeviceMobile
	}
	return domain.DeviceDesktop
}

// BotDetector flags crawler and prefetch traffic so it never inflates
// open counts.
type BotDetector struct {
	patterns []string
}

// NewBotDetector creates a detector with the default pattern list.
func NewBotDetector() *BotDetector {
	return &BotDetector{
		patterns: []string{
			"bot", "crawler", "spider", "slurp", "googlebot", "bingbot",
			"yahoo", "baidu", "yandex", "preview", "proxy", "scanner",
		},
	}
}

// IsBot checks if the user agent matches a known bot pattern.
func (bd *BotDetector) IsBot(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, pattern := range bd.patterns {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}
