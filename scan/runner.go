package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
	"github.com/use-agent/a11yscan/store"
	"github.com/use-agent/a11yscan/webhook"
)

// writeBackTimeout bounds the terminal store update. It uses a fresh
// context because the job's own context may already be expired.
const writeBackTimeout = 30 * time.Second

// Submission is one scan request crossing the fire-and-forget boundary.
type Submission struct {
	TargetURL string
	Level     models.ConformanceLevel

	// Requester identifies who pays for the job: an API key name or a
	// "public:<ip>" identity. Public submissions are additionally spaced
	// by the 24h window.
	Requester string
	Public    bool

	// BatchID groups jobs submitted together. Empty for single scans.
	BatchID string
}

// Runner owns the async job model: Submit persists a pending job and
// returns immediately; a background goroutine runs the scan and writes
// the terminal state back. Submitted jobs always terminate, there is no
// cancellation and no retry.
type Runner struct {
	cfg      config.ScanConfig
	orch     *Orchestrator
	store    *store.Store
	notifier *webhook.Notifier

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewRunner creates a runner executing at most cfg.MaxConcurrent scans
// at once. notifier may be nil.
func NewRunner(cfg config.ScanConfig, orch *Orchestrator, st *store.Store, notifier *webhook.Notifier) *Runner {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.BatchFanout < 1 {
		cfg.BatchFanout = 1
	}
	return &Runner{
		cfg:      cfg,
		orch:     orch,
		store:    st,
		notifier: notifier,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Submit validates the submission, persists a pending job and schedules
// the scan. It returns as soon as the job row exists; everything after
// that is observable only through the job's status.
//
// The public-tier window is checked before the job is created, so a
// rate-limited submission leaves no trace.
func (r *Runner) Submit(ctx context.Context, sub Submission) (*models.Job, error) {
	if sub.Level == "" {
		sub.Level = models.LevelAA
	}
	if !sub.Level.Valid() {
		return nil, models.NewScanError(models.ErrCodeInvalidInput,
			fmt.Sprintf("unsupported conformance level %q", sub.Level), nil)
	}

	if sub.Public {
		last, found, err := r.store.FindRecentByRequester(ctx, sub.Requester, models.KindScan, r.cfg.PublicWindow)
		if err != nil {
			return nil, err
		}
		if found {
			retryAt := last.Add(r.cfg.PublicWindow).UTC()
			return nil, models.NewScanError(models.ErrCodeRateLimited,
				fmt.Sprintf("public scans are limited to one per %s; retry after %s",
					r.cfg.PublicWindow, retryAt.Format(time.RFC3339)), nil)
		}
	}

	job := &models.Job{
		ID:        uuid.NewString(),
		Kind:      models.KindScan,
		Requester: sub.Requester,
		BatchID:   sub.BatchID,
		TargetURL: sub.TargetURL,
		Level:     sub.Level,
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.Create(ctx, job); err != nil {
		return nil, err
	}

	slog.Info("scan accepted",
		"id", job.ID,
		"url", job.TargetURL,
		"requester", job.Requester,
		"batch_id", job.BatchID,
	)
	r.launch(job)
	return job, nil
}

// SubmitBatch creates one pending job per URL under a shared batch id
// and schedules them all. Creation is fanned out with a bounded group;
// a store error fails the batch, but jobs already scheduled still run
// to their terminal state.
func (r *Runner) SubmitBatch(ctx context.Context, urls []string, level models.ConformanceLevel, requester string) (string, []*models.Job, error) {
	batchID := "batch-" + uuid.NewString()
	jobs := make([]*models.Job, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.BatchFanout)
	for i, rawURL := range urls {
		g.Go(func() error {
			job, err := r.Submit(gctx, Submission{
				TargetURL: rawURL,
				Level:     level,
				Requester: requester,
				BatchID:   batchID,
			})
			if err != nil {
				return err
			}
			jobs[i] = job
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", nil, err
	}

	slog.Info("batch accepted",
		"batch_id", batchID,
		"jobs", len(jobs),
		"requester", requester,
	)
	return batchID, jobs, nil
}

// Active returns the number of scans currently holding a slot.
func (r *Runner) Active() int { return len(r.sem) }

// MaxConcurrent returns the scan slot capacity.
func (r *Runner) MaxConcurrent() int { return cap(r.sem) }

// Shutdown waits for in-flight scans to reach their terminal states.
// Scans exceeding the context are abandoned mid-write.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) launch(job *models.Job) {
	r.wg.Add(1)
	go r.run(job)
}

// run executes one job to its terminal state. The semaphore is taken
// here, not in Submit, so acceptance never blocks behind running scans.
func (r *Runner) run(job *models.Job) {
	defer r.wg.Done()

	r.sem <- struct{}{}
	defer func() { <-r.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.JobTimeout)
	defer cancel()

	result, err := r.orch.Run(ctx, job)
	r.finish(job, result, err)
}

// finish writes the terminal state back and fires the webhook. The
// write uses its own context: the scan context may have been the very
// reason the job failed.
func (r *Runner) finish(job *models.Job, result *models.ScanResult, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
	defer cancel()

	if runErr != nil {
		scanErr := asScanError(runErr)
		job.Status = models.StatusError
		job.ErrorCode = scanErr.Code
		job.Error = scanErr.Message
		if err := r.store.UpdateError(ctx, job.ID, scanErr.Code, scanErr.Message); err != nil {
			slog.Error("terminal write-back failed",
				"id", job.ID,
				"status", job.Status,
				"error", err,
			)
		}
	} else {
		job.Status = models.StatusComplete
		job.Result = result
		if err := r.store.UpdateResult(ctx, job.ID, result); err != nil {
			slog.Error("terminal write-back failed",
				"id", job.ID,
				"status", job.Status,
				"error", err,
			)
		}
	}
	job.UpdatedAt = time.Now().UTC()

	if r.notifier != nil {
		r.notifier.NotifyJob(job)
	}
}

// asScanError normalizes any error reaching the job boundary into a
// coded one. The orchestrator already returns coded errors; this guards
// the persisted error_code column against anything that slipped by.
func asScanError(err error) *models.ScanError {
	var scanErr *models.ScanError
	if errors.As(err, &scanErr) {
		return scanErr
	}
	return models.NewScanError(models.ErrCodeInternal, "scan failed", err)
}
