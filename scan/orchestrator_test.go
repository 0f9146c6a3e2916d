package scan

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/use-agent/a11yscan/audit"
	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/detect"
	"github.com/use-agent/a11yscan/models"
	"github.com/use-agent/a11yscan/target"
)

// hostsResolver resolves only the hosts it knows, so tests never touch
// real DNS.
type hostsResolver map[string][]string

func (r hostsResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	ips, ok := r[host]
	if !ok {
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
	addrs := make([]net.IPAddr, 0, len(ips))
	for _, s := range ips {
		addrs = append(addrs, net.IPAddr{IP: net.ParseIP(s)})
	}
	return addrs, nil
}

type fakeSession struct {
	html    string
	visible string
	title   string
	final   string
	status  int
	host    string
	shot    []byte

	navErr  error
	htmlErr error
	shotErr error

	navigated []string
	closed    bool
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.navigated = append(s.navigated, url)
	return s.navErr
}
func (s *fakeSession) Settle(context.Context)            {}
func (s *fakeSession) Page(context.Context) *rod.Page    { return nil }
func (s *fakeSession) HTML(context.Context) (string, error) {
	if s.htmlErr != nil {
		return "", s.htmlErr
	}
	return s.html, nil
}
func (s *fakeSession) VisibleText(context.Context) string { return s.visible }
func (s *fakeSession) Title(context.Context) string       { return s.title }
func (s *fakeSession) FinalURL(context.Context) string    { return s.final }
func (s *fakeSession) HTTPStatus(context.Context) int     { return s.status }
func (s *fakeSession) Host() string                       { return s.host }
func (s *fakeSession) Profile() config.AgentProfile {
	return config.AgentProfile{UserAgent: "test-agent"}
}
func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	if s.shotErr != nil {
		return nil, s.shotErr
	}
	return s.shot, nil
}
func (s *fakeSession) Close() { s.closed = true }

type fakeBrowser struct {
	session    *fakeSession
	acquireErr error

	acquired int
	marked   []string
	cleared  []string
}

func (b *fakeBrowser) Acquire(context.Context) (Session, error) {
	b.acquired++
	if b.acquireErr != nil {
		return nil, b.acquireErr
	}
	return b.session, nil
}
func (b *fakeBrowser) MarkChallenged(host string)  { b.marked = append(b.marked, host) }
func (b *fakeBrowser) ClearChallenged(host string) { b.cleared = append(b.cleared, host) }

type stubEngine struct {
	name     string
	findings []models.Finding
	err      error
	delay    time.Duration
	runs     int
}

func (e *stubEngine) Name() string { return e.name }
func (e *stubEngine) Ruleset(level models.ConformanceLevel) string {
	return "wcag2" + strings.ToLower(string(level))
}
func (e *stubEngine) Run(context.Context, *rod.Page, models.ConformanceLevel) ([]models.Finding, error) {
	e.runs++
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	return e.findings, e.err
}

// cleanPage and cleanText stay clear of every challenge signal: enough
// text, no phrases, no markers, ordinary document structure.
const cleanPage = `<!doctype html><html lang="en"><head><title>Acme Rockets</title>` +
	`<meta charset="utf-8"></head><body><nav><a href="/">Home</a><a href="/shop">Shop</a>` +
	`<a href="/about">About</a></nav><main><h1>Welcome to Acme Rockets</h1>` +
	`<article><h2>Our catalog</h2><p>We build small sounding rockets for schools and hobby clubs.</p>` +
	`<p>Every kit ships with motors, recovery wadding and a build manual.</p>` +
	`<img src="/rocket.jpg"></article></main><footer><p>Acme Rockets Ltd.</p></footer></body></html>`

const cleanText = "Welcome to Acme Rockets. We build small sounding rockets for schools " +
	"and hobby clubs. Every kit ships with motors, recovery wadding and a build manual. " +
	"Browse the catalog or contact our support team for bulk orders."

func testValidator() *target.Validator {
	return target.NewValidatorWithResolver(hostsResolver{
		"example.com": {"93.184.216.34"},
	})
}

func testDetector(t *testing.T) *detect.Detector {
	t.Helper()
	d, err := detect.NewDetector(config.DetectConfig{
		MinVisibleText:         40,
		MinMarkup:              2048,
		KeywordText:            160,
		MaxFingerprintDistance: 3,
	}, nil)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

func newTestOrchestrator(t *testing.T, br Browser, engines ...audit.Engine) *Orchestrator {
	t.Helper()
	agg := audit.NewAggregator(config.AuditConfig{
		EvalTimeout:          5 * time.Second,
		SnippetMaxLen:        400,
		MaxFindingsPerEngine: 100,
	}, nil, engines...)
	return NewOrchestrator(testValidator(), br, testDetector(t), agg, nil, nil)
}

func scanJob(url string) *models.Job {
	return &models.Job{
		ID:        "job-1",
		Kind:      models.KindScan,
		TargetURL: url,
		Level:     models.LevelAA,
		Status:    models.StatusPending,
	}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	return asScanError(err).Code
}

func TestOrchestrator_CleanRunMergesEngines(t *testing.T) {
	sess := &fakeSession{
		html:    cleanPage,
		visible: cleanText,
		title:   "Acme Rockets",
		final:   "https://example.com/home",
		status:  200,
		host:    "example.com",
		shot:    []byte("fake-png-bytes"),
	}
	br := &fakeBrowser{session: sess}
	rules := &stubEngine{name: "rules", findings: []models.Finding{
		{Engine: "rules", RuleID: "img-alt", Type: models.TypeViolation, Severity: models.SeverityCritical, Selector: "img", Summary: "image has no alternative text"},
		{Engine: "rules", RuleID: "html-lang", Type: models.TypePass, Severity: models.SeverityMinor, Summary: "document language declared"},
	}}
	criteria := &stubEngine{name: "criteria", findings: []models.Finding{
		{Engine: "criteria", RuleID: "contrast", Type: models.TypeWarning, Severity: models.SeverityModerate, Selector: "p", Summary: "text contrast below threshold"},
	}}
	o := newTestOrchestrator(t, br, rules, criteria)

	result, err := o.Run(context.Background(), scanJob("https://example.com/home"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Issues) != 2 {
		t.Fatalf("issues = %d, want 2", len(result.Issues))
	}
	if result.Issues[0].Severity != models.SeverityCritical {
		t.Errorf("issues not severity-sorted, first = %s", result.Issues[0].Severity)
	}
	if len(result.Passes) != 1 {
		t.Errorf("passes = %d, want 1", len(result.Passes))
	}
	if len(result.Engines) != 2 || !result.Engines[0].OK || !result.Engines[1].OK {
		t.Errorf("engine runs = %+v, want two successful", result.Engines)
	}
	if result.FinalURL != "https://example.com/home" {
		t.Errorf("final url = %q", result.FinalURL)
	}
	if result.Page.Title != "Acme Rockets" {
		t.Errorf("title = %q", result.Page.Title)
	}
	if !strings.HasPrefix(result.Screenshot, "data:image/png;base64,") {
		t.Errorf("screenshot is not a png data uri: %.40q", result.Screenshot)
	}
	if !sess.closed {
		t.Error("session not closed after a clean run")
	}
	if len(br.cleared) != 1 || br.cleared[0] != "example.com" {
		t.Errorf("challenge memory not cleared for host: %v", br.cleared)
	}
	if len(br.marked) != 0 {
		t.Errorf("clean run marked hosts as challenged: %v", br.marked)
	}
}

func TestOrchestrator_ForbiddenTargetNeverTouchesBrowser(t *testing.T) {
	br := &fakeBrowser{session: &fakeSession{}}
	o := newTestOrchestrator(t, br, &stubEngine{name: "rules"})

	_, err := o.Run(context.Background(), scanJob("http://192.168.1.5/admin"))
	if code := errCode(t, err); code != models.ErrCodeForbiddenTarget {
		t.Errorf("code = %s, want FORBIDDEN_TARGET", code)
	}
	if br.acquired != 0 {
		t.Error("browser session acquired for a forbidden target")
	}
}

func TestOrchestrator_ChallengeAbortsBeforeAudit(t *testing.T) {
	sess := &fakeSession{
		html:    `<html><head><title>Just a moment...</title></head><body><p>Verifying you are human.</p></body></html>`,
		visible: "Verifying you are human. This may take a few seconds.",
		host:    "example.com",
	}
	br := &fakeBrowser{session: sess}
	rules := &stubEngine{name: "rules"}
	o := newTestOrchestrator(t, br, rules)

	_, err := o.Run(context.Background(), scanJob("https://example.com/"))
	if code := errCode(t, err); code != models.ErrCodeChallenge {
		t.Errorf("code = %s, want CHALLENGE_DETECTED", code)
	}
	if rules.runs != 0 {
		t.Error("audit engines ran on a challenge page")
	}
	if len(br.marked) != 1 || br.marked[0] != "example.com" {
		t.Errorf("host not marked challenged: %v", br.marked)
	}
	if !sess.closed {
		t.Error("session leaked after challenge abort")
	}
	if !strings.Contains(asScanError(err).Message, "bot challenge") {
		t.Errorf("message carries no guidance: %q", asScanError(err).Message)
	}
}

func TestOrchestrator_NavigationFailureFailsScan(t *testing.T) {
	sess := &fakeSession{
		navErr: models.NewScanError(models.ErrCodeNavTimeout, "navigation exceeded 75s", context.DeadlineExceeded),
	}
	br := &fakeBrowser{session: sess}
	o := newTestOrchestrator(t, br, &stubEngine{name: "rules"})

	_, err := o.Run(context.Background(), scanJob("https://example.com/"))
	if code := errCode(t, err); code != models.ErrCodeNavTimeout {
		t.Errorf("code = %s, want NAVIGATION_TIMEOUT", code)
	}
	if !sess.closed {
		t.Error("session leaked after navigation failure")
	}
}

func TestOrchestrator_AcquireFailureFailsScan(t *testing.T) {
	br := &fakeBrowser{
		acquireErr: models.NewScanError(models.ErrCodeBrowserCrash, "browser failed to launch", nil),
	}
	o := newTestOrchestrator(t, br, &stubEngine{name: "rules"})

	_, err := o.Run(context.Background(), scanJob("https://example.com/"))
	if code := errCode(t, err); code != models.ErrCodeBrowserCrash {
		t.Errorf("code = %s, want BROWSER_CRASH", code)
	}
}

func TestOrchestrator_EngineFailureDegradesNotFails(t *testing.T) {
	sess := &fakeSession{
		html:    cleanPage,
		visible: cleanText,
		host:    "example.com",
		final:   "https://example.com/",
		shot:    []byte("png"),
	}
	br := &fakeBrowser{session: sess}
	rules := &stubEngine{name: "rules", err: models.NewScanError(models.ErrCodeEngineFailure, "script eval threw", nil)}
	criteria := &stubEngine{name: "criteria", findings: []models.Finding{
		{Engine: "criteria", RuleID: "contrast", Type: models.TypeWarning, Severity: models.SeverityModerate, Summary: "text contrast below threshold"},
	}}
	o := newTestOrchestrator(t, br, rules, criteria)

	result, err := o.Run(context.Background(), scanJob("https://example.com/"))
	if err != nil {
		t.Fatalf("Run failed on a single engine failure: %v", err)
	}
	if !result.EngineFailed("rules") {
		t.Error("failed engine not recorded")
	}
	if len(result.Issues) != 1 {
		t.Errorf("issues = %d, want the surviving engine's finding", len(result.Issues))
	}
}

func TestOrchestrator_ScreenshotFailureKeepsResult(t *testing.T) {
	sess := &fakeSession{
		html:    cleanPage,
		visible: cleanText,
		host:    "example.com",
		shotErr: models.NewScanError(models.ErrCodeBrowserCrash, "capture failed", nil),
	}
	br := &fakeBrowser{session: sess}
	o := newTestOrchestrator(t, br, &stubEngine{name: "rules"})

	result, err := o.Run(context.Background(), scanJob("https://example.com/"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Screenshot != "" {
		t.Errorf("screenshot = %q, want empty after capture failure", result.Screenshot)
	}
}
