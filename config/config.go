package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Scan      ScanConfig
	Detect    DetectConfig
	Evidence  EvidenceConfig
	Audit     AuditConfig
	Store     StoreConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Webhook   WebhookConfig
	Probe     ProbeConfig
	Log       LogConfig

	// PolicyFile points at the YAML tuning file for challenge signals and
	// agent profiles. Empty means search the working directory.
	PolicyFile string
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the per-scan Rod browser sessions.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is the proxy URL applied to every session.
	Proxy string

	// ViewportWidth/ViewportHeight set the emulated viewport.
	ViewportWidth  int // default: 1366
	ViewportHeight int // default: 768

	// NavTimeout bounds Navigate plus DOM-stability wait. Keep it in the
	// 60-90s band: challenge interstitials routinely hold a page for tens
	// of seconds before releasing it.
	NavTimeout time.Duration // default: 75s

	// SettleMin/SettleMax bound the randomized post-navigation delay.
	SettleMin time.Duration // default: 500ms
	SettleMax time.Duration // default: 1500ms

	// ChallengeSettleExtra is added to the settle delay for domains that
	// recently served a bot challenge.
	ChallengeSettleExtra time.Duration // default: 2s

	// BlockedHosts lists tracker/analytics host fragments whose requests
	// are dropped. Rendering resources (CSS, images, fonts) are never
	// blocked: the audits need the real layout.
	BlockedHosts []string
}

// ScanConfig controls the orchestrator.
type ScanConfig struct {
	// MaxConcurrent bounds simultaneously running scans. Each scan owns
	// a full browser process.
	MaxConcurrent int // default: 4

	// PublicWindow is the per-requester spacing enforced for the public
	// tier before a job is created.
	PublicWindow time.Duration // default: 24h

	// RecentLimit caps GET /api/v1/scans listings.
	RecentLimit int // default: 50

	// JobTimeout bounds one scan end to end, browser launch included. A
	// job that exceeds it is recorded as failed, never left pending.
	JobTimeout time.Duration // default: 10m

	// BatchFanout bounds concurrent job creation inside one batch submit.
	BatchFanout int // default: 4
}

// DetectConfig controls the challenge detector heuristics. The string
// signal sets live in the policy file (see policy.go) or fall back to
// built-in defaults.
type DetectConfig struct {
	// MinVisibleText and MinMarkup define the suspiciously-empty check:
	// a page under both limits is classified as blocked.
	MinVisibleText int // default: 40 characters
	MinMarkup      int // default: 2048 bytes

	// KeywordText is the looser visible-text limit applied when a
	// challenge keyword co-occurs.
	KeywordText int // default: 160 characters

	// MaxFingerprintDistance is the simhash Hamming distance under which
	// a page matches a known challenge-page DOM shape.
	MaxFingerprintDistance int // default: 3
}

// EvidenceConfig controls finding screenshot capture.
type EvidenceConfig struct {
	// MinSize is the smallest acceptable element dimension in CSS pixels;
	// below it capture retries once against the parent element.
	MinSize float64 // default: 10

	// MaxAttempts bounds element-level capture attempts.
	MaxAttempts int // default: 3

	// Padding expands the captured box on all sides, in CSS pixels.
	Padding float64 // default: 12
}

// AuditConfig controls the audit engines.
type AuditConfig struct {
	// EvalTimeout bounds one engine's in-page script evaluation.
	EvalTimeout time.Duration // default: 30s

	// SnippetMaxLen truncates element HTML captured into findings.
	SnippetMaxLen int // default: 400

	// MaxFindingsPerEngine caps what a single engine may contribute.
	MaxFindingsPerEngine int // default: 500
}

// StoreConfig controls the sqlite job store.
type StoreConfig struct {
	// Path is the sqlite database file.
	Path string // default: "a11yscan.db"

	// ConnectRetries and ConnectBackoff bound the init-on-first-use
	// connection attempts.
	ConnectRetries int           // default: 3
	ConnectBackoff time.Duration // default: 250ms
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys (for MVP; replace with DB later).
	APIKeys []string

	// PublicTier admits unauthenticated requests as the rate-limited
	// public tier instead of rejecting them.
	PublicTier bool // default: true
}

// RateLimitConfig controls per-identity request rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per identity.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per identity.
	Burst int // default: 10
}

// CacheConfig controls the terminal-scan lookup cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached scans.
	MaxEntries int // default: 500

	// TTL is how long a cached scan stays valid.
	TTL time.Duration // default: 5m
}

// WebhookConfig controls scan-completed notifications. Disabled when URL
// is empty.
type WebhookConfig struct {
	URL     string
	Secret  string
	Timeout time.Duration // default: 10s
}

// ProbeConfig controls the TLS-impersonated HTTP preflight.
type ProbeConfig struct {
	// Enabled toggles the preflight. The probe only records response
	// metadata; scans proceed regardless of its outcome.
	Enabled bool          // default: true
	Timeout time.Duration // default: 10s
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("A11YSCAN_HOST", "0.0.0.0"),
			Port: envIntOr("A11YSCAN_PORT", 8080),
			Mode: envOr("A11YSCAN_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:             envBoolOr("A11YSCAN_HEADLESS", true),
			NoSandbox:            envBoolOr("A11YSCAN_NO_SANDBOX", false),
			BrowserBin:           os.Getenv("A11YSCAN_BROWSER_BIN"),
			Proxy:                os.Getenv("A11YSCAN_PROXY"),
			ViewportWidth:        envIntOr("A11YSCAN_VIEWPORT_WIDTH", 1366),
			ViewportHeight:       envIntOr("A11YSCAN_VIEWPORT_HEIGHT", 768),
			NavTimeout:           envDurationOr("A11YSCAN_NAV_TIMEOUT", 75*time.Second),
			SettleMin:            envDurationOr("A11YSCAN_SETTLE_MIN", 500*time.Millisecond),
			SettleMax:            envDurationOr("A11YSCAN_SETTLE_MAX", 1500*time.Millisecond),
			ChallengeSettleExtra: envDurationOr("A11YSCAN_CHALLENGE_SETTLE_EXTRA", 2*time.Second),
			BlockedHosts: envSliceOr("A11YSCAN_BLOCKED_HOSTS", []string{
				"google-analytics.com", "googletagmanager.com", "doubleclick.net",
				"facebook.net", "hotjar.com", "segment.io",
			}),
		},
		Scan: ScanConfig{
			MaxConcurrent: envIntOr("A11YSCAN_MAX_CONCURRENT", 4),
			PublicWindow:  envDurationOr("A11YSCAN_PUBLIC_WINDOW", 24*time.Hour),
			RecentLimit:   envIntOr("A11YSCAN_RECENT_LIMIT", 50),
			JobTimeout:    envDurationOr("A11YSCAN_JOB_TIMEOUT", 10*time.Minute),
			BatchFanout:   envIntOr("A11YSCAN_BATCH_FANOUT", 4),
		},
		Detect: DetectConfig{
			MinVisibleText:         envIntOr("A11YSCAN_DETECT_MIN_TEXT", 40),
			MinMarkup:              envIntOr("A11YSCAN_DETECT_MIN_MARKUP", 2048),
			KeywordText:            envIntOr("A11YSCAN_DETECT_KEYWORD_TEXT", 160),
			MaxFingerprintDistance: envIntOr("A11YSCAN_DETECT_FP_DISTANCE", 3),
		},
		Evidence: EvidenceConfig{
			MinSize:     envFloatOr("A11YSCAN_EVIDENCE_MIN_SIZE", 10),
			MaxAttempts: envIntOr("A11YSCAN_EVIDENCE_MAX_ATTEMPTS", 3),
			Padding:     envFloatOr("A11YSCAN_EVIDENCE_PADDING", 12),
		},
		Audit: AuditConfig{
			EvalTimeout:          envDurationOr("A11YSCAN_AUDIT_EVAL_TIMEOUT", 30*time.Second),
			SnippetMaxLen:        envIntOr("A11YSCAN_AUDIT_SNIPPET_LEN", 400),
			MaxFindingsPerEngine: envIntOr("A11YSCAN_AUDIT_MAX_FINDINGS", 500),
		},
		Store: StoreConfig{
			Path:           envOr("A11YSCAN_DB_PATH", "a11yscan.db"),
			ConnectRetries: envIntOr("A11YSCAN_DB_RETRIES", 3),
			ConnectBackoff: envDurationOr("A11YSCAN_DB_BACKOFF", 250*time.Millisecond),
		},
		Auth: AuthConfig{
			Enabled:    envBoolOr("A11YSCAN_AUTH_ENABLED", true),
			APIKeys:    envSliceOr("A11YSCAN_API_KEYS", nil),
			PublicTier: envBoolOr("A11YSCAN_PUBLIC_TIER", true),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("A11YSCAN_RATE_RPS", 5.0),
			Burst:             envIntOr("A11YSCAN_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("A11YSCAN_CACHE_MAX_ENTRIES", 500),
			TTL:        envDurationOr("A11YSCAN_CACHE_TTL", 5*time.Minute),
		},
		Webhook: WebhookConfig{
			URL:     os.Getenv("A11YSCAN_WEBHOOK_URL"),
			Secret:  os.Getenv("A11YSCAN_WEBHOOK_SECRET"),
			Timeout: envDurationOr("A11YSCAN_WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Probe: ProbeConfig{
			Enabled: envBoolOr("A11YSCAN_PROBE_ENABLED", true),
			Timeout: envDurationOr("A11YSCAN_PROBE_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  envOr("A11YSCAN_LOG_LEVEL", "info"),
			Format: envOr("A11YSCAN_LOG_FORMAT", "json"),
		},
		PolicyFile: os.Getenv("A11YSCAN_POLICY_FILE"),
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
