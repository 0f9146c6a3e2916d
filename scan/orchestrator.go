// Package scan coordinates one accessibility scan end to end: target
// validation, browser acquisition, challenge detection, the audit run
// and result assembly. The Runner wraps the orchestrator behind the
// fire-and-forget job boundary.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"

	"github.com/use-agent/a11yscan/audit"
	"github.com/use-agent/a11yscan/browser"
	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/detect"
	"github.com/use-agent/a11yscan/models"
	"github.com/use-agent/a11yscan/probe"
	"github.com/use-agent/a11yscan/summary"
	"github.com/use-agent/a11yscan/target"
)

// Stage is one phase of a running scan. Stages advance strictly forward;
// Done, Aborted and Failed are terminal and mutually exclusive.
type Stage string

const (
	StageValidating     Stage = "validating"
	StageRendering      Stage = "rendering"
	StageChallengeCheck Stage = "challenge-check"
	StageAuditing       Stage = "auditing"
	StageDone           Stage = "done"
	StageAborted        Stage = "aborted"
	StageFailed         Stage = "failed"
)

// Session is the slice of a browser session the orchestrator drives.
// *browser.Session implements it; tests substitute a fake.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Settle(ctx context.Context)
	Page(ctx context.Context) *rod.Page
	HTML(ctx context.Context) (string, error)
	VisibleText(ctx context.Context) string
	Title(ctx context.Context) string
	FinalURL(ctx context.Context) string
	HTTPStatus(ctx context.Context) int
	Host() string
	Profile() config.AgentProfile
	Screenshot(ctx context.Context) ([]byte, error)
	Close()
}

// Browser acquires sessions and keeps the per-host challenge memory.
type Browser interface {
	Acquire(ctx context.Context) (Session, error)
	MarkChallenged(host string)
	ClearChallenged(host string)
}

// Sessions adapts a *browser.Manager to the Browser interface. The
// explicit wrapper exists because Acquire returns the concrete session
// type, which does not satisfy the interface method on its own.
func Sessions(m *browser.Manager) Browser { return managerBrowser{m} }

type managerBrowser struct{ m *browser.Manager }

func (b managerBrowser) Acquire(ctx context.Context) (Session, error) {
	sess, err := b.m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (b managerBrowser) MarkChallenged(host string)  { b.m.MarkChallenged(host) }
func (b managerBrowser) ClearChallenged(host string) { b.m.ClearChallenged(host) }

// Orchestrator drives one scan through its stages. It owns the session
// for the whole run and releases it on every exit path; the components
// it calls receive the page handle and never construct or close it.
type Orchestrator struct {
	validator *target.Validator
	browser   Browser
	detector  *detect.Detector
	auditor   *audit.Aggregator

	// prober and pages are optional refinements; nil disables them.
	prober *probe.Prober
	pages  *summary.Builder
}

// NewOrchestrator wires the scan stages together. prober and pages may
// be nil.
func NewOrchestrator(
	validator *target.Validator,
	br Browser,
	detector *detect.Detector,
	auditor *audit.Aggregator,
	prober *probe.Prober,
	pages *summary.Builder,
) *Orchestrator {
	return &Orchestrator{
		validator: validator,
		browser:   br,
		detector:  detector,
		auditor:   auditor,
		prober:    prober,
		pages:     pages,
	}
}

// Run executes one scan to a terminal state.
//
// Stage machine:
//
//	Validating → Rendering → ChallengeCheck → Auditing → Done
//	     │                        │
//	     └────── Aborted ─────────┘         Failed ← any stage
//
// Aborted covers deliberate refusals (forbidden target, bot challenge);
// Failed covers everything that broke. Engine and evidence failures are
// neither: they degrade inside a Done result. The stages run strictly in
// order because each one consumes the rendered state of the previous.
func (o *Orchestrator) Run(ctx context.Context, job *models.Job) (*models.ScanResult, error) {
	start := time.Now()
	p := &progress{id: job.ID, stage: StageValidating}
	slog.Info("scan starting",
		"id", job.ID,
		"url", job.TargetURL,
		"level", job.Level,
	)

	// ── Validating ────────────────────────────────────────────────────
	// The SSRF check runs before anything touches the network stack of a
	// browser; a rejected target never gets a session.
	resolved, err := o.validator.Check(ctx, job.TargetURL)
	if err != nil {
		return nil, p.terminal(err)
	}
	slog.Debug("target validated",
		"id", job.ID,
		"host", resolved.Host,
		"addresses", len(resolved.Addrs),
	)

	// ── Rendering ─────────────────────────────────────────────────────
	p.advance(StageRendering)
	sess, err := o.browser.Acquire(ctx)
	if err != nil {
		return nil, p.terminal(err)
	}
	// The one deferred Close guards every exit below, including panics
	// inside engine or capture code.
	defer sess.Close()

	result := &models.ScanResult{
		TargetURL: job.TargetURL,
		Level:     job.Level,
		Issues:    []models.Finding{},
		Passes:    []models.Finding{},
	}

	o.preflight(ctx, job, sess, result)

	navStart := time.Now()
	if err := sess.Navigate(ctx, job.TargetURL); err != nil {
		return nil, p.terminal(err)
	}
	sess.Settle(ctx)
	result.Timing.NavigationMs = time.Since(navStart).Milliseconds()

	html, err := sess.HTML(ctx)
	if err != nil {
		return nil, p.terminal(err)
	}
	visible := sess.VisibleText(ctx)

	// ── ChallengeCheck ────────────────────────────────────────────────
	p.advance(StageChallengeCheck)
	if verdict := o.detector.Classify(html, visible); verdict.Blocked {
		o.browser.MarkChallenged(sess.Host())
		slog.Info("bot challenge detected",
			"id", job.ID,
			"host", sess.Host(),
			"signal", verdict.Signal,
		)
		return nil, p.terminal(models.NewScanError(
			models.ErrCodeChallenge,
			challengeGuidance(verdict),
			nil,
		))
	}
	o.browser.ClearChallenged(sess.Host())

	// ── Auditing ──────────────────────────────────────────────────────
	p.advance(StageAuditing)
	outcome := o.auditor.Run(ctx, sess.Page(ctx), job.Level)
	result.Issues = outcome.Issues
	result.Passes = outcome.Passes
	result.Engines = outcome.Engines
	result.Timing.AuditMs = outcome.AuditMs
	result.Timing.EvidenceMs = outcome.EvidenceMs

	// The one whole-viewport shot every result carries. Losing it is not
	// worth failing a scan that already has findings.
	if shot, err := sess.Screenshot(ctx); err == nil {
		result.Screenshot = models.PNGDataURI(shot)
	} else {
		slog.Debug("viewport screenshot failed",
			"id", job.ID,
			"error", err,
		)
	}

	result.FinalURL = sess.FinalURL(ctx)
	result.Page.Title = sess.Title(ctx)
	if result.Page.HTTPStatus == 0 {
		result.Page.HTTPStatus = sess.HTTPStatus(ctx)
	}
	if o.pages != nil {
		info := o.pages.Describe(html, result.FinalURL)
		if result.Page.Title == "" {
			result.Page.Title = info.Title
		}
		result.Page.Language = info.Language
		result.Page.Overview = info.Overview
	}

	result.Timing.TotalMs = time.Since(start).Milliseconds()

	p.advance(StageDone)
	slog.Info("scan finished",
		"id", job.ID,
		"issues", len(result.Issues),
		"passes", len(result.Passes),
		"total_ms", result.Timing.TotalMs,
	)
	return result, nil
}

// preflight records response metadata from the utls probe into the
// result. Never authoritative: a failed probe logs and is forgotten.
func (o *Orchestrator) preflight(ctx context.Context, job *models.Job, sess Session, result *models.ScanResult) {
	if o.prober == nil || !o.prober.Enabled() {
		return
	}
	meta, err := o.prober.Do(ctx, job.TargetURL, sess.Profile().UserAgent)
	if err != nil {
		slog.Debug("preflight probe failed, continuing",
			"id", job.ID,
			"error", err,
		)
		return
	}
	result.Page.HTTPStatus = meta.Status
	result.Page.Server = meta.Server
	result.Page.ContentType = meta.ContentType
}

// progress tracks the stage machine for one scan and logs transitions.
type progress struct {
	id    string
	stage Stage
}

func (p *progress) advance(next Stage) {
	slog.Debug("scan stage",
		"id", p.id,
		"from", p.stage,
		"to", next,
	)
	p.stage = next
}

// terminal classifies err into the Aborted or Failed terminal state and
// returns it typed for the runner to persist. Which state is reached
// follows from the error code alone: validator rejections and challenge
// verdicts abort, everything else is a failure.
func (p *progress) terminal(err error) error {
	var scanErr *models.ScanError
	if !errors.As(err, &scanErr) {
		scanErr = models.NewScanError(models.ErrCodeInternal, "scan failed", err)
	}

	from := p.stage
	if scanErr.Aborts() {
		p.stage = StageAborted
		slog.Info("scan aborted",
			"id", p.id,
			"stage", from,
			"code", scanErr.Code,
		)
	} else {
		p.stage = StageFailed
		slog.Warn("scan failed",
			"id", p.id,
			"stage", from,
			"code", scanErr.Code,
			"error", scanErr.Err,
		)
	}
	return scanErr
}

// challengeGuidance turns a blocked verdict into the operator-facing
// message stored on the job.
func challengeGuidance(v detect.Verdict) string {
	return fmt.Sprintf(
		"the target served a bot challenge instead of its content (%s); "+
			"retry once the protection relaxes, lower the site's bot sensitivity, "+
			"or allowlist this scanner's egress address",
		v.Detail,
	)
}
