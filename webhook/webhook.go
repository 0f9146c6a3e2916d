// Package webhook delivers scan lifecycle notifications to an operator
// endpoint. Request bodies are HMAC-SHA256 signed when a secret is
// configured, so receivers can verify origin.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
)

// Event types sent on job completion.
const (
	EventScanCompleted = "scan.completed"
	EventScanFailed    = "scan.failed"
)

// SignatureHeader carries the hex HMAC of the request body.
const SignatureHeader = "X-A11yscan-Signature"

// Event is the payload sent to the webhook endpoint.
type Event struct {
	Type      string   `json:"type"`
	JobID     string   `json:"job_id"`
	Timestamp int64    `json:"timestamp"`
	Data      ScanData `json:"data"`
}

// ScanData summarizes the finished job. The full result stays behind the
// API; webhook consumers poll GET /scans/{id} when they want it.
type ScanData struct {
	TargetURL string                  `json:"target_url"`
	Status    models.JobStatus        `json:"status"`
	ErrorCode string                  `json:"error_code,omitempty"`
	Issues    map[models.Severity]int `json:"issues,omitempty"`
}

// NewScanEvent builds the terminal-state event for a finished job.
func NewScanEvent(job *models.Job) *Event {
	event := &Event{
		Type:      EventScanCompleted,
		JobID:     job.ID,
		Timestamp: time.Now().Unix(),
		Data: ScanData{
			TargetURL: job.TargetURL,
			Status:    job.Status,
			ErrorCode: job.ErrorCode,
		},
	}
	if job.Status == models.StatusError {
		event.Type = EventScanFailed
	}
	if job.Result != nil {
		event.Data.Issues = job.Result.IssueCount()
	}
	return event
}

// Notifier sends events to the configured endpoint. A Notifier with an
// empty URL silently drops everything, so callers never need to branch.
type Notifier struct {
	cfg    config.WebhookConfig
	delays []time.Duration
}

// New creates a notifier with the standard retry schedule.
func New(cfg config.WebhookConfig) *Notifier {
	return &Notifier{
		cfg:    cfg,
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
	}
}

// Enabled reports whether an endpoint is configured.
func (n *Notifier) Enabled() bool { return n.cfg.URL != "" }

// NotifyJob fires the terminal-state event for job on a background
// goroutine with retries. No-op when no endpoint is configured.
func (n *Notifier) NotifyJob(job *models.Job) {
	if !n.Enabled() || job == nil {
		return
	}
	n.deliverAsync(NewScanEvent(job))
}

// Deliver sends one event synchronously.
func (n *Notifier) Deliver(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "A11yscan-Webhook/1.0")

	if n.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(n.cfg.Secret, body))
	}

	client := &http.Client{Timeout: n.cfg.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the signature header value for a request body. Receivers
// recompute it with the shared secret and compare.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// deliverAsync retries on the notifier's delay schedule and logs the
// final outcome. Delivery failures never affect the scan.
func (n *Notifier) deliverAsync(event *Event) {
	go func() {
		for attempt, delay := range n.delays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Timeout)
			err := n.Deliver(ctx, event)
			cancel()
			if err == nil {
				slog.Info("webhook delivered",
					"url", n.cfg.URL,
					"event", event.Type,
					"job_id", event.JobID,
					"attempt", attempt+1,
				)
				return
			}
			slog.Warn("webhook delivery failed",
				"url", n.cfg.URL,
				"event", event.Type,
				"job_id", event.JobID,
				"attempt", attempt+1,
				"error", err,
			)
		}
		slog.Error("webhook delivery exhausted all retries",
			"url", n.cfg.URL,
			"event", event.Type,
			"job_id", event.JobID,
		)
	}()
}
