package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/a11yscan/api/middleware"
	"github.com/use-agent/a11yscan/models"
	"github.com/use-agent/a11yscan/scan"
	"github.com/use-agent/a11yscan/store"
)

// PostBatch returns a handler for POST /api/v1/batch/scans. Each URL
// becomes an independent job sharing one batch id; jobs succeed and fail
// individually. Batch submission needs a real API key: the public tier's
// one-scan window makes a multi-URL batch pointless.
func PostBatch(runner *scan.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool(middleware.CtxPublic) {
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeUnauthorized,
					Message: "batch scans require an API key",
				},
			})
			return
		}

		var req models.BatchScanRequest
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

		batchID, jobs, err := runner.SubmitBatch(
			c.Request.Context(),
			req.URLs,
			req.ConformanceLevel,
			c.GetString(middleware.CtxRequester),
		)
		if err != nil {
			respondError(c, err)
			return
		}

		jobIDs := make([]string, len(jobs))
		for i, job := range jobs {
			jobIDs[i] = job.ID
		}
		c.JSON(http.StatusAccepted, models.BatchScanResponse{
			ID:     batchID,
			Status: "processing",
			Total:  len(jobs),
			JobIDs: jobIDs,
		})
	}
}

// GetBatch returns a handler for GET /api/v1/batch/scans/:id. Batch
// state is derived from the member job rows on every read; there is no
// separate batch record to fall out of sync.
func GetBatch(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := st.FindByBatch(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if len(jobs) == 0 {
			respondNotFound(c, "batch not found")
			return
		}

		status, terminal := batchStatus(jobs)
		c.JSON(http.StatusOK, models.BatchStatusResponse{
			ID:        c.Param("id"),
			Status:    status,
			Completed: terminal,
			Total:     len(jobs),
			Jobs:      jobs,
		})
	}
}

// batchStatus reduces member jobs to one batch status plus the count of
// jobs that have reached a terminal state. "processing" while anything
// is pending, then "completed", "partial" or "failed" by how many
// members ended in error.
func batchStatus(jobs []*models.Job) (string, int) {
	terminal := 0
	failed := 0
	for _, job := range jobs {
		if job.Status.Terminal() {
			terminal++
		}
		if job.Status == models.StatusError {
			failed++
		}
	}

	switch {
	case terminal < len(jobs):
		return "processing", terminal
	case failed == len(jobs):
		return "failed", terminal
	case failed > 0:
		return "partial", terminal
	default:
		return "completed", terminal
	}
}
