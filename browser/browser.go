// Package browser manages per-scan Chromium sessions: process launch,
// stealth preparation, navigation, settle, and guaranteed teardown.
package browser

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
)

// challengeMemoryTTL is how long a host stays on the recently-challenged
// list after serving a bot interstitial.
const challengeMemoryTTL = 30 * time.Minute

// Manager launches a dedicated Chromium process for every scan. Sessions
// are never shared: one scan owns one browser from Acquire to Close, so a
// crashed or poisoned renderer can only hurt its own scan.
type Manager struct {
	cfg      config.BrowserConfig
	profiles *profilePool
	memory   *ChallengeMemory
	active   atomic.Int32
}

// NewManager builds a Manager. Profiles from the policy file replace the
// built-in identity pool when present.
func NewManager(cfg config.BrowserConfig, pol *config.Policy) *Manager {
	var custom []config.AgentProfile
	if pol != nil {
		custom = pol.UserAgents
	}
	return &Manager{
		cfg:      cfg,
		profiles: newProfilePool(custom),
		memory:   NewChallengeMemory(challengeMemoryTTL),
	}
}

// Acquire launches a fresh browser process and returns a prepared session:
// stealth overrides installed, identity and viewport set, tracker hosts
// blocked. The caller must Close the session; Close is safe to call more
// than once and safe to call after a crash.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.NewScanError(
			models.ErrCodeBrowserCrash,
			"scan context expired before browser launch",
			err,
		)
	}

	l := launcher.New().
		Headless(m.cfg.Headless).
		NoSandbox(m.cfg.NoSandbox)

	if m.cfg.BrowserBin != "" {
		l = l.Bin(m.cfg.BrowserBin)
	}
	if m.cfg.Proxy != "" {
		l = l.Proxy(m.cfg.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-prompt-on-repost"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScanError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, models.NewScanError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		l.Cleanup()
		return nil, models.NewScanError(
			models.ErrCodeBrowserCrash,
			"failed to open page",
			err,
		)
	}

	m.active.Add(1)
	sess := &Session{
		mgr:      m,
		launcher: l,
		browser:  browser,
		page:     page,
		profile:  m.profiles.pick(),
		cfg:      m.cfg,
	}

	// Stealth, identity and the tracker blocker must all be in place
	// before the first navigation; none of them apply retroactively.
	if err := sess.prepare(); err != nil {
		sess.Close()
		return nil, err
	}

	slog.Debug("browser session acquired",
		"controlURL", controlURL,
		"profile", sess.profile.UserAgent,
	)
	return sess, nil
}

// Active returns the number of sessions currently alive.
func (m *Manager) Active() int {
	return int(m.active.Load())
}

// MarkChallenged records that host just served a bot interstitial.
// Future sessions for the host settle longer before reading the page.
func (m *Manager) MarkChallenged(host string) {
	if host != "" {
		m.memory.Mark(host)
	}
}

// ClearChallenged drops the challenge memory for a host after a clean scan.
func (m *Manager) ClearChallenged(host string) {
	if host != "" {
		m.memory.Forget(host)
	}
}

// Close stops the challenge memory's background pruning. Live sessions are
// owned by their scans and are not touched.
func (m *Manager) Close() {
	m.memory.Stop()
}
