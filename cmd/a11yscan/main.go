package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/a11yscan/api"
	"github.com/use-agent/a11yscan/audit"
	"github.com/use-agent/a11yscan/browser"
	"github.com/use-agent/a11yscan/cache"
	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/detect"
	"github.com/use-agent/a11yscan/evidence"
	"github.com/use-agent/a11yscan/probe"
	"github.com/use-agent/a11yscan/scan"
	"github.com/use-agent/a11yscan/store"
	"github.com/use-agent/a11yscan/summary"
	"github.com/use-agent/a11yscan/target"
	"github.com/use-agent/a11yscan/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	slog.Info("a11yscan starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxConcurrent", cfg.Scan.MaxConcurrent,
	)

	// ── 3. Load detection policy (optional file) ─────────────────────
	pol := loadPolicy(cfg.PolicyFile)

	// ── 4. Initialise job store ──────────────────────────────────────
	st := store.New(cfg.Store)
	defer st.Close()

	// ── 5. Initialise browser manager and detector ───────────────────
	mgr := browser.NewManager(cfg.Browser, pol)
	defer mgr.Close()

	detector, err := detect.NewDetector(cfg.Detect, pol)
	if err != nil {
		slog.Error("failed to compile challenge detector", "error", err)
		os.Exit(1)
	}

	// ── 6. Initialise audit pipeline ─────────────────────────────────
	capturer := evidence.NewCapturer(cfg.Evidence)
	auditor := audit.NewAggregator(cfg.Audit, capturer,
		audit.NewRulesEngine(cfg.Audit),
		audit.NewCriteriaEngine(cfg.Audit),
	)

	// ── 7. Wire the orchestrator and runner ──────────────────────────
	orch := scan.NewOrchestrator(
		target.NewValidator(),
		scan.Sessions(mgr),
		detector,
		auditor,
		probe.New(cfg.Probe, cfg.Browser.Proxy),
		summary.NewBuilder(0),
	)
	runner := scan.NewRunner(cfg.Scan, orch, st, webhook.New(cfg.Webhook))

	// ── 8. Setup router ──────────────────────────────────────────────
	cc := cache.New(cfg.Cache)
	defer cc.Stop()

	startTime := time.Now()
	router := api.NewRouter(runner, st, cc, cfg, startTime)

	// ── 9. Start HTTP server ─────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 10. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to drain, then wait out running
	// scans so every accepted job still reaches a terminal state.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	scanCtx, scanCancel := context.WithTimeout(context.Background(), cfg.Scan.JobTimeout)
	defer scanCancel()
	if err := runner.Shutdown(scanCtx); err != nil {
		slog.Error("scans still running at forced shutdown", "error", err)
	} else {
		slog.Info("all scans drained")
	}

	slog.Info("a11yscan stopped")
}

// loadPolicy resolves and loads the YAML policy. A missing file is not
// an error: the built-in signal sets and agent profiles apply.
func loadPolicy(explicit string) *config.Policy {
	path := config.FindPolicyFile(explicit)
	if path == "" {
		slog.Info("no policy file, using built-in detection defaults")
		return nil
	}

	pol, err := config.LoadPolicy(path)
	if err != nil {
		if errors.Is(err, config.ErrPolicyNotFound) {
			slog.Info("no policy file, using built-in detection defaults")
			return nil
		}
		slog.Error("failed to load policy file", "path", path, "error", err)
		os.Exit(1)
	}
	slog.Info("detection policy loaded",
		"path", path,
		"phrases", len(pol.Challenge.Phrases),
		"markers", len(pol.Challenge.Markers),
		"profiles", len(pol.UserAgents),
	)
	return pol
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
