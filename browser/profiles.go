package browser

import (
	"math/rand"
	"net/url"
	"strconv"

	"github.com/use-agent/a11yscan/config"
)

// defaultProfiles is the built-in identity pool. Every entry is a
// Chromium build on purpose: the engine underneath really is Chromium,
// and a Firefox user agent on a Chromium TLS and JS fingerprint is
// itself a detection signal. Sec-Ch-Ua values must track the user agent
// version.
func defaultProfiles() []config.AgentProfile {
	return []config.AgentProfile{
		{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			AcceptLanguage: "en-US,en;q=0.9",
			SecChUA:        `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
			Platform:       "Windows",
		},
		{
			UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			AcceptLanguage: "en-US,en;q=0.9",
			SecChUA:        `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
			Platform:       "macOS",
		},
		{
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			AcceptLanguage: "en-US,en;q=0.9",
			SecChUA:        `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
			Platform:       "Linux",
		},
		{
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			AcceptLanguage: "en-US,en;q=0.9",
			SecChUA:        `"Not_A Brand";v="8", "Chromium";v="120", "Microsoft Edge";v="120"`,
			Platform:       "Windows",
		},
	}
}

// profilePool hands out a random identity per session.
type profilePool struct {
	profiles []config.AgentProfile
}

// newProfilePool uses the operator-supplied profiles when present,
// otherwise the built-in pool.
func newProfilePool(custom []config.AgentProfile) *profilePool {
	if len(custom) > 0 {
		return &profilePool{profiles: custom}
	}
	return &profilePool{profiles: defaultProfiles()}
}

func (pp *profilePool) pick() config.AgentProfile {
	return pp.profiles[rand.Intn(len(pp.profiles))]
}

// headersFor builds the navigation header set for a profile. The values
// mirror what the matching desktop browser sends for a cross-site
// document load; the Referer points at a search result so the visit
// reads as an organic click-through. Client-hint headers are only sent
// for profiles that declare them, matching real Firefox/Safari traffic.
func headersFor(p config.AgentProfile, targetURL string) map[string]string {
	headers := map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		"Sec-Fetch-Dest":            "document",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Site":            "cross-site",
		"Sec-Fetch-User":            "?1",
		"Upgrade-Insecure-Requests": "1",
	}
	if p.AcceptLanguage != "" {
		headers["Accept-Language"] = p.AcceptLanguage
	}
	if p.SecChUA != "" {
		headers["Sec-Ch-Ua"] = p.SecChUA
		headers["Sec-Ch-Ua-Mobile"] = "?0"
		if p.Mobile {
			headers["Sec-Ch-Ua-Mobile"] = "?1"
		}
		headers["Sec-Ch-Ua-Platform"] = strconv.Quote(p.Platform)
	}
	if u, err := url.Parse(targetURL); err == nil && u.Hostname() != "" {
		headers["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
	}
	return headers
}
