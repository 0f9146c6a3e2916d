package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/a11yscan/api/handler"
	"github.com/use-agent/a11yscan/api/middleware"
	"github.com/use-agent/a11yscan/cache"
	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/scan"
	"github.com/use-agent/a11yscan/store"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(runner *scan.Runner, st *store.Store, cc *cache.Cache, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(runner, startTime))

	// Protected group — auth + rate limit. Auth also admits keyless
	// requests as the public tier when that is enabled.
	protected := v1.Group("")
	protected.Use(middleware.Auth(cfg.Auth))
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Scans
	protected.POST("/scans", handler.PostScan(runner))
	protected.GET("/scans", handler.ListScans(st, cfg.Scan.RecentLimit))
	protected.GET("/scans/:id", handler.GetScan(st, cc))
	protected.GET("/scans/:id/report", handler.GetScanReport(st, cc))

	// Batch
	protected.POST("/batch/scans", handler.PostBatch(runner))
	protected.GET("/batch/scans/:id", handler.GetBatch(st))

	return r
}
