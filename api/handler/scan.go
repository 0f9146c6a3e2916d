package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/a11yscan/api/middleware"
	"github.com/use-agent/a11yscan/cache"
	"github.com/use-agent/a11yscan/models"
	"github.com/use-agent/a11yscan/report"
	"github.com/use-agent/a11yscan/scan"
	"github.com/use-agent/a11yscan/store"
)

// PostScan returns a handler for POST /api/v1/scans.
//
// Submission flow:
//  1. Parse & validate request, apply defaults.
//  2. Runner.Submit → pending job row (public-tier window checked first).
//  3. Respond 202 with the job id; the scan runs in the background.
//
// No scan work happens on this request path. Everything after the row
// insert is observable only through GET /scans/:id.
func PostScan(runner *scan.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		job, err := runner.Submit(c.Request.Context(), scan.Submission{
			TargetURL: req.URL,
			Level:     req.ConformanceLevel,
			Requester: c.GetString(middleware.CtxRequester),
			Public:    c.GetBool(middleware.CtxPublic),
		})
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusAccepted, models.ScanAccepted{
			ID:     job.ID,
			Status: job.Status,
		})
	}
}

// GetScan returns a handler for GET /api/v1/scans/:id.
//
// Terminal jobs are immutable, so they are served from the lookup cache
// when possible; pending jobs always hit the store.
func GetScan(st *store.Store, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, found, err := findJob(c, st, cc)
		if err != nil {
			respondError(c, err)
			return
		}
		if !found {
			respondNotFound(c, "scan not found")
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// GetScanReport returns a handler for GET /api/v1/scans/:id/report.
// Terminal jobs render as a markdown document, failures included; a
// pending job is a 409 so pollers can tell "not yet" from "gone".
func GetScanReport(st *store.Store, cc *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, found, err := findJob(c, st, cc)
		if err != nil {
			respondError(c, err)
			return
		}
		if !found {
			respondNotFound(c, "scan not found")
			return
		}
		if job.Status == models.StatusPending {
			c.JSON(http.StatusConflict, models.ErrorResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeScanPending,
					Message: "scan is still running; request the report once it completes",
				},
			})
			return
		}

		c.Header("Content-Type", "text/markdown; charset=utf-8")
		c.Status(http.StatusOK)
		if _, err := report.NewMarkdownWriter(c.Writer).Write(job); err != nil {
			// Headers are already out; the log is all that's left.
			slog.Error("report rendering failed", "id", job.ID, "error", err)
		}
	}
}

// ListScans returns a handler for GET /api/v1/scans. Listings never
// include result payloads; those are per-job lookups.
func ListScans(st *store.Store, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := st.ListRecent(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}
		c.JSON(http.StatusOK, models.ScanListResponse{
			Scans: jobs,
			Total: len(jobs),
		})
	}
}

// findJob resolves :id through the cache, then the store, and caches
// terminal results on the way out.
func findJob(c *gin.Context, st *store.Store, cc *cache.Cache) (*models.Job, bool, error) {
	id := c.Param("id")

	if cc != nil {
		if job, hit := cc.Get(id); hit {
			return job, true, nil
		}
	}

	job, err := st.FindByID(c.Request.Context(), id)
	if err != nil {
		return nil, false, err
	}
	if job == nil {
		return nil, false, nil
	}
	if cc != nil && job.Status.Terminal() {
		cc.Put(job)
	}
	return job, true, nil
}

func respondNotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, models.ErrorResponse{
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeInvalidInput,
			Message: message,
		},
	})
}

// respondError maps a ScanError to the correct HTTP status code and
// writes a structured JSON error response.
func respondError(c *gin.Context, err error) {
	var scanErr *models.ScanError
	if !errors.As(err, &scanErr) {
		scanErr = models.NewScanError(models.ErrCodeInternal, err.Error(), err)
	}

	c.JSON(mapErrorToStatus(scanErr), models.ErrorResponse{
		Error: scanErr.ToDetail(),
	})
}

// mapErrorToStatus translates error codes to HTTP status codes. Only
// codes that can surface on a synchronous request path matter here;
// scan-stage codes live on the job row, not on HTTP responses.
func mapErrorToStatus(e *models.ScanError) int {
	switch e.Code {
	case models.ErrCodeInvalidInput, models.ErrCodeInvalidTarget:
		return http.StatusBadRequest // 400
	case models.ErrCodeForbiddenTarget:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeScanPending:
		return http.StatusConflict // 409
	default:
		return http.StatusInternalServerError // 500
	}
}
