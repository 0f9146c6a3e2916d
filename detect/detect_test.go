package detect

import (
	"strings"
	"testing"

	"github.com/use-agent/a11yscan/config"
)

func testConfig() config.DetectConfig {
	return config.DetectConfig{
		MinVisibleText:         40,
		MinMarkup:              2048,
		KeywordText:            160,
		MaxFingerprintDistance: 3,
	}
}

func newTestDetector(t *testing.T, pol *config.Policy) *Detector {
	t.Helper()
	d, err := NewDetector(testConfig(), pol)
	if err != nil {
		t.Fatalf("NewDetector: %v", err)
	}
	return d
}

// A plausible real content page: enough text, no challenge signals.
const cleanPage = `<html><head><title>Example Domain</title></head><body>
<div><h1>Example Domain</h1>
<p>This domain is for use in illustrative examples in documents. You may use this
domain in literature without prior coordination or asking for permission.</p>
<p><a href="https://www.iana.org/domains/example">More information...</a></p></div>
</body></html>`

const cleanText = "Example Domain This domain is for use in illustrative examples in documents. You may use this domain in literature without prior coordination or asking for permission. More information..."

func TestClassify_CleanPage(t *testing.T) {
	d := newTestDetector(t, nil)

	v := d.Classify(cleanPage, cleanText)
	if v.Blocked {
		t.Errorf("clean page classified as blocked: signal=%s detail=%s", v.Signal, v.Detail)
	}
}

func TestClassify_Pure(t *testing.T) {
	d := newTestDetector(t, nil)
	markup := `<html><head><title>Just a moment...</title></head><body><div id="challenge-running"></div></body></html>`
	text := "Checking your browser before accessing"

	v1 := d.Classify(markup, text)
	v2 := d.Classify(markup, text)
	if v1 != v2 {
		t.Errorf("identical input produced different verdicts: %+v vs %+v", v1, v2)
	}
}

func TestClassify_PhraseInText(t *testing.T) {
	d := newTestDetector(t, nil)

	v := d.Classify(`<html><body><p>x</p></body></html>`, "Checking your browser before accessing example.com")
	if !v.Blocked {
		t.Fatal("challenge phrase in visible text not detected")
	}
	if v.Signal != SignalPhrase {
		t.Errorf("signal = %s, want %s", v.Signal, SignalPhrase)
	}
}

func TestClassify_PhraseInTitle(t *testing.T) {
	d := newTestDetector(t, nil)

	markup := `<html><head><title>Attention Required! | Cloudflare</title></head><body>` +
		strings.Repeat(`<p>some unrelated body copy that is long enough</p>`, 20) +
		`</body></html>`
	text := strings.Repeat("some unrelated body copy that is long enough ", 20)

	v := d.Classify(markup, text)
	if !v.Blocked || v.Signal != SignalPhrase {
		t.Errorf("title phrase not detected: %+v", v)
	}
}

func TestClassify_MetaRefresh(t *testing.T) {
	d := newTestDetector(t, nil)

	markup := `<html><head><meta http-equiv="REFRESH" content="5"></head><body>` +
		strings.Repeat(`<p>waiting room copy without any known phrases at all</p>`, 20) +
		`</body></html>`
	text := strings.Repeat("waiting room copy without any known phrases at all ", 20)

	v := d.Classify(markup, text)
	if !v.Blocked || v.Signal != SignalMetaRefresh {
		t.Errorf("meta refresh not detected: %+v", v)
	}
}

func TestClassify_Markers(t *testing.T) {
	d := newTestDetector(t, nil)

	filler := strings.Repeat("perfectly ordinary descriptive body copy for this page ", 10)

	tests := []struct {
		name   string
		markup string
	}{
		{"challenge form", `<html><body><form id="challenge-form"></form><p>` + filler + `</p></body></html>`},
		{"turnstile wrapper", `<html><body><div id="turnstile-wrapper"></div><p>` + filler + `</p></body></html>`},
		{"cf verification class", `<html><body><div class="cf-browser-verification other"></div><p>` + filler + `</p></body></html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := d.Classify(tt.markup, filler)
			if !v.Blocked || v.Signal != SignalMarker {
				t.Errorf("marker not detected: %+v", v)
			}
		})
	}
}

func TestClassify_SparsePage(t *testing.T) {
	d := newTestDetector(t, nil)

	// Both text and markup under their thresholds.
	v := d.Classify(`<html><body><p>one sec</p></body></html>`, "one sec")
	if !v.Blocked || v.Signal != SignalSparse {
		t.Errorf("suspiciously empty page not detected: %+v", v)
	}
}

func TestClassify_SparseWithKeyword(t *testing.T) {
	d := newTestDetector(t, nil)

	// Text under the keyword limit but over the strict one; markup large.
	text := "This site is protected against DDoS attacks. Please wait to continue."
	markup := `<html><body><p>` + text + `</p><div>` +
		strings.Repeat(`<span class="pad"></span>`, 200) + `</div></body></html>`

	v := d.Classify(markup, text)
	if !v.Blocked || v.Signal != SignalSparse {
		t.Errorf("keyword-strengthened sparse page not detected: %+v", v)
	}
}

func TestClassify_SparseTextLargeMarkupStaysClear(t *testing.T) {
	d := newTestDetector(t, nil)

	// An SPA shell before hydration: little text, plenty of markup, no
	// challenge vocabulary. Must not be classified as blocked.
	markup := `<html><head><title>App</title></head><body><div id="root"></div>` +
		strings.Repeat(`<link rel="preload" href="/assets/chunk.js" as="script">`, 60) +
		`<p>Loading app</p></body></html>`

	v := d.Classify(markup, "Loading app")
	if v.Blocked {
		t.Errorf("hydrating SPA shell misclassified: signal=%s detail=%s", v.Signal, v.Detail)
	}
}

func TestClassify_DOMShape(t *testing.T) {
	d := newTestDetector(t, nil)

	// Same tag skeleton as the spinner interstitial, different copy and
	// attributes, padded past the sparse-markup threshold with comments
	// (which do not contribute tags).
	markup := `<html><head><title>Moment</title><style>.x{}</style><script>var a=1;</script></head>` +
		`<body><div id="spinner"><div class="loader"></div></div><noscript><p>Turn on scripts</p></noscript><script>run();</script>` +
		`<!--` + strings.Repeat("pad ", 600) + `--></body></html>`
	text := "Hold tight while we get things ready for you today friend."

	v := d.Classify(markup, text)
	if !v.Blocked || v.Signal != SignalDOMShape {
		t.Errorf("structural match not detected: %+v", v)
	}
}

func TestClassify_PolicyOverridesPhrases(t *testing.T) {
	pol := &config.Policy{}
	pol.Challenge.Phrases = []string{"custom vendor wall"}

	d := newTestDetector(t, pol)

	longText := strings.Repeat("regular content sentence goes here and keeps going ", 10)

	v := d.Classify(`<html><body><p>x</p></body></html>`, longText+" CUSTOM VENDOR WALL engaged")
	if !v.Blocked || v.Signal != SignalPhrase {
		t.Errorf("policy phrase not detected: %+v", v)
	}

	// Defaults are replaced, not merged.
	v = d.Classify(`<html><body><p>x</p></body></html>`, longText+" checking your browser before accessing")
	if v.Blocked && v.Signal == SignalPhrase {
		t.Error("default phrase still active after policy replacement")
	}
}

func TestNewDetector_BadMarkerSelector(t *testing.T) {
	pol := &config.Policy{}
	pol.Challenge.Markers = []string{"div[["}

	if _, err := NewDetector(testConfig(), pol); err == nil {
		t.Fatal("invalid marker selector accepted")
	}
}
