package scan

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/a11yscan/audit"
	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
	"github.com/use-agent/a11yscan/store"
)

func testRunnerStore(t *testing.T) *store.Store {
	t.Helper()
	s := store.New(config.StoreConfig{
		Path:           filepath.Join(t.TempDir(), "jobs.db"),
		ConnectRetries: 1,
		ConnectBackoff: 10 * time.Millisecond,
	})
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testRunner(t *testing.T, st *store.Store, br Browser, engines ...audit.Engine) *Runner {
	t.Helper()
	if len(engines) == 0 {
		engines = []audit.Engine{&stubEngine{name: "rules", findings: []models.Finding{
			{Engine: "rules", RuleID: "img-alt", Type: models.TypeViolation, Severity: models.SeverityCritical, Summary: "image has no alternative text"},
		}}}
	}
	o := newTestOrchestrator(t, br, engines...)
	r := NewRunner(config.ScanConfig{
		MaxConcurrent: 2,
		PublicWindow:  24 * time.Hour,
		JobTimeout:    5 * time.Second,
		BatchFanout:   2,
	}, o, st, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func cleanSession() *fakeSession {
	return &fakeSession{
		html:    cleanPage,
		visible: cleanText,
		title:   "Acme Rockets",
		final:   "https://example.com/",
		status:  200,
		host:    "example.com",
		shot:    []byte("png"),
	}
}

// waitTerminal polls the store until the job leaves pending.
func waitTerminal(t *testing.T, st *store.Store, id string) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.FindByID(context.Background(), id)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if job != nil && job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return nil
}

func TestRunner_SubmitReturnsBeforeScanFinishes(t *testing.T) {
	st := testRunnerStore(t)
	br := &fakeBrowser{session: cleanSession()}
	r := testRunner(t, st, br)

	job, err := r.Submit(context.Background(), Submission{
		TargetURL: "https://example.com/",
		Requester: "key-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.ID == "" {
		t.Fatal("no job id assigned")
	}
	if job.Status != models.StatusPending {
		t.Errorf("status at submission = %q, want pending", job.Status)
	}
	if job.Level != models.LevelAA {
		t.Errorf("level not defaulted: %q", job.Level)
	}

	// The row exists before the scan completes; status may legitimately
	// already be terminal if the goroutine won the race.
	stored, err := st.FindByID(context.Background(), job.ID)
	if err != nil || stored == nil {
		t.Fatalf("job row missing right after Submit: %v", err)
	}

	done := waitTerminal(t, st, job.ID)
	if done.Status != models.StatusComplete {
		t.Fatalf("status = %q (%s: %s), want complete", done.Status, done.ErrorCode, done.Error)
	}
	if done.Result == nil || len(done.Result.Issues) != 1 {
		t.Errorf("stored result = %+v, want one issue", done.Result)
	}
}

func TestRunner_ForbiddenTargetTerminatesAsError(t *testing.T) {
	st := testRunnerStore(t)
	br := &fakeBrowser{session: cleanSession()}
	r := testRunner(t, st, br)

	job, err := r.Submit(context.Background(), Submission{
		TargetURL: "http://10.0.0.8/internal",
		Requester: "key-1",
	})
	if err != nil {
		t.Fatalf("Submit must accept the job and fail it asynchronously, got %v", err)
	}

	done := waitTerminal(t, st, job.ID)
	if done.Status != models.StatusError {
		t.Fatalf("status = %q, want error", done.Status)
	}
	if done.ErrorCode != models.ErrCodeForbiddenTarget {
		t.Errorf("code = %q, want FORBIDDEN_TARGET", done.ErrorCode)
	}
	if br.acquired != 0 {
		t.Error("browser session acquired for a forbidden target")
	}
}

func TestRunner_PublicTierEnforcesWindow(t *testing.T) {
	st := testRunnerStore(t)
	r := testRunner(t, st, &fakeBrowser{session: cleanSession()})
	ctx := context.Background()

	first, err := r.Submit(ctx, Submission{
		TargetURL: "https://example.com/",
		Requester: "public:198.51.100.7",
		Public:    true,
	})
	if err != nil {
		t.Fatalf("first public submit: %v", err)
	}
	waitTerminal(t, st, first.ID)

	_, err = r.Submit(ctx, Submission{
		TargetURL: "https://example.com/other",
		Requester: "public:198.51.100.7",
		Public:    true,
	})
	if err == nil {
		t.Fatal("second public submit inside the window must be rejected")
	}
	scanErr := asScanError(err)
	if scanErr.Code != models.ErrCodeRateLimited {
		t.Errorf("code = %q, want RATE_LIMITED", scanErr.Code)
	}
	if !strings.Contains(scanErr.Message, "retry after") {
		t.Errorf("message gives no retry hint: %q", scanErr.Message)
	}

	// The rejection leaves no job row behind.
	jobs, err := st.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("job rows = %d, want 1 after a rejected submit", len(jobs))
	}

	// A different public identity is unaffected.
	if _, err := r.Submit(ctx, Submission{
		TargetURL: "https://example.com/",
		Requester: "public:203.0.113.9",
		Public:    true,
	}); err != nil {
		t.Errorf("other identity blocked: %v", err)
	}
}

func TestRunner_AuthenticatedSubmitsSkipWindow(t *testing.T) {
	st := testRunnerStore(t)
	r := testRunner(t, st, &fakeBrowser{session: cleanSession()})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.Submit(ctx, Submission{
			TargetURL: "https://example.com/",
			Requester: "key-1",
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
}

func TestRunner_InvalidLevelRejectedUpfront(t *testing.T) {
	st := testRunnerStore(t)
	r := testRunner(t, st, &fakeBrowser{session: cleanSession()})

	_, err := r.Submit(context.Background(), Submission{
		TargetURL: "https://example.com/",
		Level:     "AAAA",
		Requester: "key-1",
	})
	if err == nil {
		t.Fatal("invalid level accepted")
	}
	if code := asScanError(err).Code; code != models.ErrCodeInvalidInput {
		t.Errorf("code = %q, want INVALID_INPUT", code)
	}

	jobs, _ := st.ListRecent(context.Background(), 10)
	if len(jobs) != 0 {
		t.Errorf("rejected submit left %d job rows", len(jobs))
	}
}

func TestRunner_SubmitBatchGroupsJobs(t *testing.T) {
	st := testRunnerStore(t)
	r := testRunner(t, st, &fakeBrowser{session: cleanSession()})
	ctx := context.Background()

	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}
	batchID, jobs, err := r.SubmitBatch(ctx, urls, models.LevelAAA, "key-1")
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if !strings.HasPrefix(batchID, "batch-") {
		t.Errorf("batch id = %q", batchID)
	}
	if len(jobs) != len(urls) {
		t.Fatalf("jobs = %d, want %d", len(jobs), len(urls))
	}
	for i, job := range jobs {
		if job.BatchID != batchID {
			t.Errorf("job %d batch id = %q, want %q", i, job.BatchID, batchID)
		}
		if job.TargetURL != urls[i] {
			t.Errorf("job %d url = %q, want %q", i, job.TargetURL, urls[i])
		}
		if job.Level != models.LevelAAA {
			t.Errorf("job %d level = %q", i, job.Level)
		}
	}

	members, err := st.FindByBatch(ctx, batchID)
	if err != nil {
		t.Fatalf("FindByBatch: %v", err)
	}
	if len(members) != len(urls) {
		t.Errorf("batch rows = %d, want %d", len(members), len(urls))
	}

	for _, job := range jobs {
		done := waitTerminal(t, st, job.ID)
		if done.Status != models.StatusComplete {
			t.Errorf("job %s status = %q (%s)", job.ID, done.Status, done.ErrorCode)
		}
	}
}

func TestRunner_ShutdownWaitsForWriteBack(t *testing.T) {
	st := testRunnerStore(t)
	br := &fakeBrowser{session: cleanSession()}
	slow := &stubEngine{name: "rules", delay: 200 * time.Millisecond}
	r := testRunner(t, st, br, slow)

	job, err := r.Submit(context.Background(), Submission{
		TargetURL: "https://example.com/",
		Requester: "key-1",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// Shutdown returning means the terminal state is already persisted.
	stored, err := st.FindByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored == nil || !stored.Status.Terminal() {
		t.Fatalf("job not terminal after Shutdown: %+v", stored)
	}
}

func TestRunner_ShutdownHonorsContext(t *testing.T) {
	st := testRunnerStore(t)
	slow := &stubEngine{name: "rules", delay: 2 * time.Second}
	r := testRunner(t, st, &fakeBrowser{session: cleanSession()}, slow)

	if _, err := r.Submit(context.Background(), Submission{
		TargetURL: "https://example.com/",
		Requester: "key-1",
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); err == nil {
		t.Fatal("Shutdown returned before the slow scan inside a tiny deadline")
	}
}
