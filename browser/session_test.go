package browser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
)

func TestJitter_StaysInBounds(t *testing.T) {
	min := 100 * time.Millisecond
	max := 300 * time.Millisecond
	for i := 0; i < 200; i++ {
		d := jitter(min, max)
		if d < min || d > max {
			t.Fatalf("jitter(%v, %v) = %v, out of bounds", min, max, d)
		}
	}
}

func TestJitter_DegenerateRanges(t *testing.T) {
	if d := jitter(time.Second, time.Second); d != time.Second {
		t.Errorf("equal bounds should return min, got %v", d)
	}
	if d := jitter(time.Second, time.Millisecond); d != time.Second {
		t.Errorf("inverted bounds should return min, got %v", d)
	}
}

func TestCategorizeNavError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"deadline exceeded", context.DeadlineExceeded, models.ErrCodeNavTimeout},
		{"canceled", context.Canceled, models.ErrCodeNavTimeout},
		{"wrapped deadline", errors.Join(errors.New("nav"), context.DeadlineExceeded), models.ErrCodeNavTimeout},
		{"connection refused", errors.New("net::ERR_CONNECTION_REFUSED"), models.ErrCodeNavigation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanErr := categorizeNavError(tt.err, "navigation to target failed")
			if scanErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", scanErr.Code, tt.wantCode)
			}
			if !errors.Is(scanErr, tt.err) && !errors.Is(scanErr.Err, context.DeadlineExceeded) {
				t.Errorf("wrapped error chain lost the original error")
			}
		})
	}
}

func TestNavigatorPlatform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Windows", "Win32"},
		{"macOS", "MacIntel"},
		{"Linux", "Linux x86_64"},
		{"Android", "Linux armv8l"},
		{"", "Win32"},
		{"BeOS", "Win32"},
	}

	for _, tt := range tests {
		if got := navigatorPlatform(tt.in); got != tt.want {
			t.Errorf("navigatorPlatform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtraStealthJS_EmbedsProfilePlatform(t *testing.T) {
	js := extraStealthJS(config.AgentProfile{Platform: "macOS"})
	if !strings.Contains(js, `"MacIntel"`) {
		t.Error("script should pin navigator.platform to the profile's OS")
	}
	if !strings.Contains(js, "hardwareConcurrency") {
		t.Error("script should pin hardware concurrency")
	}
	if strings.Contains(js, "%!") {
		t.Errorf("template substitution failed: %s", js[:120])
	}
}
