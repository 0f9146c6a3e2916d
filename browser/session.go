package browser

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
	"github.com/ysmood/gson"
)

// Page-side extraction snippets. Status comes from the performance
// timeline because CDP response listeners conflict with the hijack
// router on recent Chromium builds.
const (
	jsTitle       = `() => document.title`
	jsFinalURL    = `() => window.location.href`
	jsVisibleText = `() => document.body ? document.body.innerText : ""`
	jsScrollTop   = `() => window.scrollTo(0, 0)`
	jsViewHeight  = `() => window.innerHeight`
	jsHTTPStatus  = `() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`
)

// Session owns one Chromium process for the duration of a single scan.
// It is not safe for concurrent use; a scan drives it sequentially.
type Session struct {
	mgr       *Manager
	launcher  *launcher.Launcher
	browser   *rod.Browser
	page      *rod.Page
	router    *rod.HijackRouter
	profile   config.AgentProfile
	cfg       config.BrowserConfig
	targetURL string
	host      string
	closeOnce sync.Once
}

// prepare installs everything that must precede the first navigation.
//
// Order matters:
//  1. Stealth scripts    – EvalOnNewDocument only affects future loads
//  2. Identity override  – UA, Accept-Language and platform as one unit
//  3. Viewport           – audits measure layout, so size it up front
//  4. Tracker blocker    – hijack router sees only requests issued later
func (s *Session) prepare() error {
	// ── 1. Stealth scripts ────────────────────────────────────────────
	if _, err := s.page.EvalOnNewDocument(stealth.JS); err != nil {
		slog.Warn("stealth injection failed, proceeding without stealth",
			"error", err,
		)
	}
	if _, err := s.page.EvalOnNewDocument(extraStealthJS(s.profile)); err != nil {
		slog.Warn("supplemental stealth injection failed",
			"error", err,
		)
	}

	// ── 2. Identity override ──────────────────────────────────────────
	// UA, Accept-Language and navigator.platform have to move together;
	// a mismatched pair is itself a bot signal.
	if err := (proto.NetworkSetUserAgentOverride{
		UserAgent:      s.profile.UserAgent,
		AcceptLanguage: s.profile.AcceptLanguage,
		Platform:       navigatorPlatform(s.profile.Platform),
	}).Call(s.page); err != nil {
		return models.NewScanError(
			models.ErrCodeBrowserCrash,
			"failed to set user agent",
			err,
		)
	}

	// ── 3. Viewport ───────────────────────────────────────────────────
	if err := s.page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.ViewportWidth,
		Height:            s.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
		Mobile:            s.profile.Mobile,
	}); err != nil {
		return models.NewScanError(
			models.ErrCodeBrowserCrash,
			"failed to set viewport",
			err,
		)
	}

	// ── 4. Tracker blocker ────────────────────────────────────────────
	s.router = mountBlocker(s.page, s.cfg.BlockedHosts)
	return nil
}

// Navigate drives the page to rawURL and waits for the DOM to stop
// mutating. The whole step is bounded by the configured navigation
// timeout: challenge interstitials hold a page for tens of seconds, so
// the budget is long, but a page still loading past it fails with a
// navigation timeout.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()

	s.targetURL = rawURL
	if u, err := url.Parse(rawURL); err == nil {
		s.host = u.Hostname()
	}

	// Headers only apply to requests issued after they are installed.
	if headers := headersFor(s.profile, rawURL); len(headers) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(headers),
		}.Call(s.page)
	}

	p := s.page.Context(ctx)
	if err := p.Navigate(rawURL); err != nil {
		return categorizeNavError(err, "navigation to target failed")
	}

	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return categorizeNavError(err, "page did not stabilize in time")
		}
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM",
			"error", err,
		)
	}
	return nil
}

// Settle waits a randomized beat and nudges the page the way a person
// would. Hosts that recently served a challenge get extra time so a
// short-lived interstitial can clear before the page is read. Settle is
// best-effort: it returns early on context expiry and never fails.
func (s *Session) Settle(ctx context.Context) {
	delay := jitter(s.cfg.SettleMin, s.cfg.SettleMax)
	if s.host != "" && s.mgr.memory.Challenged(s.host) {
		delay += s.cfg.ChallengeSettleExtra
		slog.Debug("host recently challenged, settling longer",
			"host", s.host,
			"delay", delay,
		)
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	}

	s.interact(ctx)
}

// interact scrolls partway down in two steps, then returns to the top so
// audits and screenshots start from the initial viewport. Lazy-loaded
// content below the fold gets a chance to mount, and interaction-gated
// challenge scripts see input events.
func (s *Session) interact(ctx context.Context) {
	p := s.page.Context(ctx)

	height := float64(s.cfg.ViewportHeight)
	if res, err := p.Eval(jsViewHeight); err == nil && res.Value.Int() > 0 {
		height = float64(res.Value.Int())
	}

	_ = p.Mouse.MoveTo(proto.Point{X: height * 0.4, Y: height * 0.3})

	for _, delta := range []float64{height * 0.6, height * 0.4} {
		if ctx.Err() != nil {
			return
		}
		if err := p.Mouse.Scroll(0, delta, 2); err != nil {
			return
		}
		// Brief pause between scroll steps to let lazy-loaded content trigger.
		select {
		case <-time.After(120 * time.Millisecond):
		case <-ctx.Done():
			return
		}
	}

	_, _ = p.Eval(jsScrollTop)
}

// Page returns the session's page bound to ctx. Audit evaluation and
// evidence capture go through this handle so their CDP calls inherit the
// scan deadline.
func (s *Session) Page(ctx context.Context) *rod.Page {
	return s.page.Context(ctx)
}

// Profile returns the identity this session presents.
func (s *Session) Profile() config.AgentProfile {
	return s.profile
}

// Host returns the hostname of the last navigated URL.
func (s *Session) Host() string {
	return s.host
}

// HTML returns the rendered markup.
func (s *Session) HTML(ctx context.Context) (string, error) {
	html, err := s.page.Context(ctx).HTML()
	if err != nil {
		return "", categorizeNavError(err, "failed to extract page HTML")
	}
	return html, nil
}

// VisibleText approximates what a user can actually read on the page.
func (s *Session) VisibleText(ctx context.Context) string {
	return evalStringOrEmpty(s.page.Context(ctx), jsVisibleText)
}

// Title returns document.title, empty on failure.
func (s *Session) Title(ctx context.Context) string {
	return evalStringOrEmpty(s.page.Context(ctx), jsTitle)
}

// FinalURL is where navigation actually landed after redirects.
func (s *Session) FinalURL(ctx context.Context) string {
	if u := evalStringOrEmpty(s.page.Context(ctx), jsFinalURL); u != "" {
		return u
	}
	return s.targetURL
}

// HTTPStatus returns the document response status, 0 when unavailable.
func (s *Session) HTTPStatus(ctx context.Context) int {
	res, err := s.page.Context(ctx).Eval(jsHTTPStatus)
	if err != nil {
		return 0
	}
	return res.Value.Int()
}

// Screenshot captures the current viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Close tears down the entire browser process. The launcher kill is the
// backstop for when the CDP close does not get through (renderer crash,
// expired contexts); either way no Chrome process outlives the scan.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.router != nil {
			_ = s.router.Stop()
		}
		if err := s.browser.Close(); err != nil {
			slog.Warn("browser close failed, killing process",
				"error", err,
			)
		}
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.mgr.active.Add(-1)
	})
}

// jitter returns a random duration in [min, max].
func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors (useful for optional metadata extraction).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeNavError wraps raw browser errors into typed ScanErrors so
// the orchestrator can map them onto job error codes.
func categorizeNavError(err error, msg string) *models.ScanError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScanError(models.ErrCodeNavTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScanError(models.ErrCodeNavTimeout, "navigation canceled", err)
	default:
		return models.NewScanError(models.ErrCodeNavigation, msg, err)
	}
}
