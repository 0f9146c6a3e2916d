package audit

import (
	"strings"
	"testing"
)

func TestWcagRefFromTag(t *testing.T) {
	tests := []struct {
		tag  string
		want string
	}{
		{"wcag111", "1.1.1"},
		{"wcag143", "1.4.3"},
		{"wcag146", "1.4.6"},
		{"wcag1410", "1.4.10"},
		{"wcag2a", ""},
		{"wcag2aa", ""},
		{"wcag2aaa", ""},
		{"best-practice", ""},
		{"wcag", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := wcagRefFromTag(tt.tag); got != tt.want {
			t.Errorf("wcagRefFromTag(%q) = %q, want %q", tt.tag, got, tt.want)
		}
	}
}

func TestWcagRefFromCode(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"WCAG2AA.Principle1.Guideline1_1.1_1_1.H37", "1.1.1"},
		{"WCAG2AA.Principle1.Guideline1_4.1_4_3.G18", "1.4.3"},
		{"WCAG2AAA.Principle1.Guideline1_4.1_4_6.G17", "1.4.6"},
		{"WCAG2AA.Principle2.Guideline2_4.2_4_2.H25", "2.4.2"},
		{"no criterion here", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := wcagRefFromCode(tt.code); got != tt.want {
			t.Errorf("wcagRefFromCode(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestWcagRefFromCode_IgnoresGuidelineSegment(t *testing.T) {
	// The Guideline1_1 segment has only two parts and must not match.
	got := wcagRefFromCode("WCAG2AA.Guideline1_1.1_2_3.H99")
	if got != "1.2.3" {
		t.Errorf("got %q, want 1.2.3", got)
	}
}

func TestTruncateSnippet(t *testing.T) {
	long := strings.Repeat("x", 100)

	if got := truncateSnippet(long, 10); len([]rune(got)) != 11 || !strings.HasSuffix(got, "…") {
		t.Errorf("truncated snippet = %q", got)
	}
	if got := truncateSnippet("short", 10); got != "short" {
		t.Errorf("short snippet should pass through, got %q", got)
	}
	if got := truncateSnippet(long, 0); got != long {
		t.Errorf("zero max should disable truncation")
	}
	if got := truncateSnippet("", 5); got != "" {
		t.Errorf("empty snippet should stay empty, got %q", got)
	}
}

func TestEngineRulesets(t *testing.T) {
	rules := NewRulesEngine(testAuditConfig())
	criteria := NewCriteriaEngine(testAuditConfig())

	tests := []struct {
		engine Engine
		level  string
		want   string
	}{
		{rules, "AA", "wcag21aa"},
		{rules, "AAA", "wcag21aaa"},
		{criteria, "AA", "WCAG2AA"},
		{criteria, "AAA", "WCAG2AAA"},
	}

	for _, tt := range tests {
		if got := tt.engine.Ruleset(levelFrom(tt.level)); got != tt.want {
			t.Errorf("%s.Ruleset(%s) = %q, want %q", tt.engine.Name(), tt.level, got, tt.want)
		}
	}
}
