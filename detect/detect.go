// Package detect classifies whether a rendered page is a bot-challenge
// interstitial rather than real content. No single signal is trusted on
// its own; the verdict is a union of independent weak signals, which
// trades occasional false positives on sparse pages for never auditing a
// challenge wall as if it were the target site.
package detect

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/simhash"
)

// Signal names recorded on a blocked verdict.
const (
	SignalPhrase      = "phrase"
	SignalMetaRefresh = "meta-refresh"
	SignalMarker      = "marker"
	SignalSparse      = "sparse-page"
	SignalDOMShape    = "dom-shape"
)

// defaultPhrases are matched case-insensitively against visible text and
// the document title.
var defaultPhrases = []string{
	"checking your browser",
	"just a moment",
	"verifying you are human",
	"verify you are human",
	"enable javascript and cookies to continue",
	"attention required",
	"ddos protection by",
	"checking if the site connection is secure",
	"please complete the security check",
	"browser integrity check",
	"one more step",
}

// defaultKeywords strengthen the sparse-page heuristic; they are too
// common to block on alone.
var defaultKeywords = []string{
	"captcha",
	"cloudflare",
	"turnstile",
	"ddos",
	"challenge",
	"datadome",
	"incapsula",
	"perimeterx",
}

// defaultMarkers are selectors that only appear on challenge walls.
// Widget classes like .g-recaptcha are deliberately absent: embedded
// login captchas on otherwise auditable pages must not abort a scan.
var defaultMarkers = []string{
	"#challenge-form",
	"#challenge-running",
	"#challenge-stage",
	"#challenge-error-title",
	".cf-browser-verification",
	"#cf-challenge-running",
	"#cf-content",
	".cf-turnstile",
	"#turnstile-wrapper",
	"#px-captcha",
	"#main-iframe[src*=\"_Incapsula_\"]",
}

// Skeletal tag structures of interstitials seen in the wild. Copy and
// class names churn; the DOM shape is stable enough for simhash matching.
var challengeSkeletons = []string{
	// Legacy Cloudflare "I'm under attack" page.
	`<html><head><title>t</title><meta http-equiv="refresh" content="8"/><style></style></head><body><table width="100%" height="100%"><tr><td align="center"><div class="cf-browser-verification"><noscript><h1>js</h1></noscript><div id="cf-content"><div id="cf-bubbles"><div class="bubbles"></div><div class="bubbles"></div><div class="bubbles"></div></div><h1><span>x</span></h1><p></p></div></div><form id="challenge-form" method="POST"><input type="hidden"/><input type="hidden"/></form></td></tr></table></body></html>`,
	// Managed-challenge page with a widget stage.
	`<html><head><title>t</title><meta/><meta/><style></style></head><body><div class="main-wrapper"><div class="main-content"><h1></h1><div id="challenge-stage"><div id="turnstile-wrapper"></div></div><div id="challenge-body-text"></div><div id="challenge-error-title"></div></div></div><footer><div></div><div></div></footer></body></html>`,
	// Generic spinner-and-noscript interstitial.
	`<html><head><title>t</title><style></style><script></script></head><body><div id="spinner"><div class="loader"></div></div><noscript><p></p></noscript><script></script></body></html>`,
}

// Verdict is the detector's classification. Blocked has no partial state:
// a scan either proceeds or aborts on it.
type Verdict struct {
	Blocked bool
	Signal  string // which signal tripped; empty when clear
	Detail  string // human-readable specifics for logs and error messages
}

type marker struct {
	raw string
	sel cascadia.Sel
}

// Detector classifies rendered pages. Classify is a pure function of its
// inputs; all state here is immutable after construction.
type Detector struct {
	cfg      config.DetectConfig
	phrases  []string
	keywords []string
	markers  []marker
	prints   []uint64
}

// NewDetector compiles the signal sets. Policy lists, when non-empty,
// replace the built-in defaults wholesale.
func NewDetector(cfg config.DetectConfig, pol *config.Policy) (*Detector, error) {
	phrases := defaultPhrases
	keywords := defaultKeywords
	markerSrcs := defaultMarkers
	if pol != nil {
		if len(pol.Challenge.Phrases) > 0 {
			phrases = pol.Challenge.Phrases
		}
		if len(pol.Challenge.Keywords) > 0 {
			keywords = pol.Challenge.Keywords
		}
		if len(pol.Challenge.Markers) > 0 {
			markerSrcs = pol.Challenge.Markers
		}
	}

	d := &Detector{
		cfg:      cfg,
		phrases:  lowerAll(phrases),
		keywords: lowerAll(keywords),
	}

	for _, raw := range markerSrcs {
		sel, err := cascadia.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("challenge marker %q: %w", raw, err)
		}
		d.markers = append(d.markers, marker{raw: raw, sel: sel})
	}

	for _, skeleton := range challengeSkeletons {
		if fp := simhash.FingerprintDOM(skeleton); fp != 0 {
			d.prints = append(d.prints, fp)
		}
	}

	return d, nil
}

// Classify inspects the rendered markup and extracted visible text.
// Deterministic: identical inputs always produce the same verdict, and no
// state is read or written.
func (d *Detector) Classify(markup, visibleText string) Verdict {
	text := strings.ToLower(strings.TrimSpace(visibleText))

	if v, ok := d.phraseIn(text, "visible text"); ok {
		return v
	}

	// The tolerant parser produces a document for almost any input; on
	// the rare failure only the DOM-based signals are skipped.
	var doc *html.Node
	var title string
	if parsed, err := html.Parse(strings.NewReader(markup)); err == nil {
		doc = parsed
		title = strings.ToLower(strings.TrimSpace(nodeText(cascadia.Query(doc, titleSel))))
	}

	if title != "" {
		if v, ok := d.phraseIn(title, "title"); ok {
			return v
		}
	}

	if doc != nil {
		if v, ok := metaRefresh(doc); ok {
			return v
		}
		for _, m := range d.markers {
			if cascadia.Query(doc, m.sel) != nil {
				return Verdict{Blocked: true, Signal: SignalMarker,
					Detail: fmt.Sprintf("challenge container %q present", m.raw)}
			}
		}
	}

	if v, ok := d.sparsePage(text, title, len(markup)); ok {
		return v
	}

	if fp := simhash.FingerprintDOM(markup); fp != 0 {
		for _, known := range d.prints {
			if simhash.Similar(fp, known, d.cfg.MaxFingerprintDistance) {
				return Verdict{Blocked: true, Signal: SignalDOMShape,
					Detail: "page structure matches a known challenge interstitial"}
			}
		}
	}

	return Verdict{}
}

func (d *Detector) phraseIn(haystack, where string) (Verdict, bool) {
	for _, p := range d.phrases {
		if strings.Contains(haystack, p) {
			return Verdict{Blocked: true, Signal: SignalPhrase,
				Detail: fmt.Sprintf("challenge phrase %q in %s", p, where)}, true
		}
	}
	return Verdict{}, false
}

// sparsePage flags pages with almost no visible text and almost no markup.
// A challenge keyword loosens the text limit; without one, both limits
// must be undershot so legitimately terse pages stay clear.
func (d *Detector) sparsePage(text, title string, markupLen int) (Verdict, bool) {
	textLen := len(text)

	if textLen < d.cfg.MinVisibleText && markupLen < d.cfg.MinMarkup {
		return Verdict{Blocked: true, Signal: SignalSparse,
			Detail: fmt.Sprintf("page is suspiciously empty (%d chars of text, %d bytes of markup)", textLen, markupLen)}, true
	}

	if textLen < d.cfg.KeywordText {
		for _, kw := range d.keywords {
			if strings.Contains(text, kw) || strings.Contains(title, kw) {
				return Verdict{Blocked: true, Signal: SignalSparse,
					Detail: fmt.Sprintf("near-empty page mentions %q", kw)}, true
			}
		}
	}

	return Verdict{}, false
}

var (
	titleSel = cascadia.MustCompile("title")
	metaSel  = cascadia.MustCompile("meta[http-equiv]")
)

// metaRefresh reports a meta-refresh tag. Challenge walls lean on it to
// re-enter their verification loop; modern sites redirect server-side.
func metaRefresh(doc *html.Node) (Verdict, bool) {
	for _, n := range cascadia.QueryAll(doc, metaSel) {
		for _, attr := range n.Attr {
			if strings.EqualFold(attr.Key, "http-equiv") && strings.EqualFold(strings.TrimSpace(attr.Val), "refresh") {
				return Verdict{Blocked: true, Signal: SignalMetaRefresh,
					Detail: "page declares a meta-refresh redirect"}, true
			}
		}
	}
	return Verdict{}, false
}

// nodeText returns the concatenated text children of n.
func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if t := strings.ToLower(strings.TrimSpace(s)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
