package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/a11yscan/models"
	"github.com/use-agent/a11yscan/scan"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports scan-slot occupancy and degrades status when > 80% of slots
// are busy, so load balancers can steer new submissions away early.
func Health(runner *scan.Runner, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		active := runner.Active()
		max := runner.MaxConcurrent()

		status := "healthy"
		if max > 0 && active > int(float64(max)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status: status,
			Uptime: time.Since(startTime).Round(time.Second).String(),
			Scans: models.ScanStats{
				MaxConcurrent: max,
				Active:        active,
			},
			Version: "0.1.0",
		})
	}
}
