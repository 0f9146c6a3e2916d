// Package evidence produces the cropped, highlighted screenshot attached
// to a finding. Capture degrades along a fixed ladder (element, one
// parent hop, full viewport, nothing) and never fails a scan: evidence
// is decoration on a finding, not part of its correctness.
package evidence

import (
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/a11yscan/config"
	"github.com/use-agent/a11yscan/models"
)

// Source values recorded on captured evidence, one per ladder rung.
const (
	SourceElement  = "element"
	SourceParent   = "parent"
	SourceViewport = "viewport"
)

// maxParentHops bounds the ascent when an element is too small to crop.
// One hop is deliberate: a second would start shipping screenshots of
// page scaffolding instead of the offending element.
const maxParentHops = 1

// animationSettle is the pause between scrolling an element into view
// and rasterizing it, long enough for scroll-linked transitions to land.
const animationSettle = 150 * time.Millisecond

// highlightJS draws the marker outline and remembers the inline values
// it replaces so removal can restore them exactly.
const highlightJS = `() => {
	this.__evPrevOutline = this.style.outline;
	this.__evPrevOffset = this.style.outlineOffset;
	this.style.outline = '3px solid #e60000';
	this.style.outlineOffset = '2px';
}`

const unhighlightJS = `() => {
	this.style.outline = this.__evPrevOutline || '';
	this.style.outlineOffset = this.__evPrevOffset || '';
	delete this.__evPrevOutline;
	delete this.__evPrevOffset;
}`

// Capturer takes finding screenshots on a live page.
type Capturer struct {
	cfg config.EvidenceConfig
}

// NewCapturer builds a Capturer, substituting defaults for unset options.
func NewCapturer(cfg config.EvidenceConfig) *Capturer {
	if cfg.MinSize <= 0 {
		cfg.MinSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Padding < 0 {
		cfg.Padding = 0
	}
	return &Capturer{cfg: cfg}
}

// Capture resolves selector on the page and returns a cropped screenshot
// with the offending element outlined. It returns nil in every situation
// where evidence cannot be produced; callers attach whatever comes back
// and move on.
//
// Outcomes, in order of preference:
//   - element crop (possibly after one hop to the parent when the element
//     itself is too small to show anything)
//   - full viewport shot, once, after transient DOM failures exhaust the
//     attempt budget
//   - nil
//
// Definitive misses (selector matches nothing, element has no box, no
// usable parent) return nil immediately: retrying them cannot change the
// answer, and a viewport shot of an element that does not exist would be
// misleading evidence.
func (c *Capturer) Capture(page *rod.Page, selector string) *models.Evidence {
	if page == nil || selector == "" {
		return nil
	}

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		ev, err := c.captureElement(page, selector)
		if err == nil {
			return ev
		}
		slog.Debug("evidence capture attempt failed",
			"selector", selector,
			"attempt", attempt,
			"error", err,
		)
	}

	return c.captureViewport(page)
}

// captureElement runs one full capture pass. A nil, nil return is a
// definitive no-evidence outcome; a non-nil error is a transient DOM
// failure the caller may retry.
func (c *Capturer) captureElement(page *rod.Page, selector string) (*models.Evidence, error) {
	has, el, err := page.Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}

	// Walk up while the element is too small to crop. The ascent counter
	// keeps this to a single parent hop.
	source := SourceElement
	hops := 0
	for {
		shape, err := el.Shape()
		if err != nil {
			return nil, err
		}
		box := shape.Box()
		if box == nil {
			return nil, nil
		}
		if box.Width >= c.cfg.MinSize && box.Height >= c.cfg.MinSize {
			break
		}
		if hops >= maxParentHops {
			return nil, nil
		}
		parent, err := el.Parent()
		if err != nil {
			return nil, nil
		}
		el = parent
		source = SourceParent
		hops++
	}

	if err := el.ScrollIntoView(); err != nil {
		return nil, err
	}
	time.Sleep(animationSettle)

	// The box moves when the viewport scrolls; measure after settling.
	shape, err := el.Shape()
	if err != nil {
		return nil, err
	}
	box := shape.Box()
	if box == nil {
		return nil, nil
	}

	clip := clipFor(box, c.cfg.Padding)
	if clip == nil {
		return nil, nil
	}

	if _, err := el.Eval(highlightJS); err != nil {
		return nil, err
	}
	// Removal is unconditional once the highlight went on, whether or not
	// the raster below succeeds.
	defer func() {
		_, _ = el.Eval(unhighlightJS)
	}()

	bin, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip:   clip,
	})
	if err != nil {
		return nil, err
	}

	region := models.Region{X: clip.X, Y: clip.Y, Width: clip.Width, Height: clip.Height}
	return models.NewEvidence(bin, region, source), nil
}

// captureViewport is the last rung before giving up: a plain viewport
// screenshot with no highlight.
func (c *Capturer) captureViewport(page *rod.Page) *models.Evidence {
	bin, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		slog.Debug("viewport fallback failed, finding ships without evidence",
			"error", err,
		)
		return nil
	}

	region := models.Region{}
	if res, err := page.Eval(`() => ({ w: window.innerWidth, h: window.innerHeight })`); err == nil {
		region.Width = res.Value.Get("w").Num()
		region.Height = res.Value.Get("h").Num()
	}
	return models.NewEvidence(bin, region, SourceViewport)
}

// clipFor expands a box by padding on all sides and clamps the origin at
// zero. Clamping shrinks the size by the clamped amount so the far edge
// stays put. Returns nil for boxes that degenerate to nothing.
func clipFor(box *proto.DOMRect, padding float64) *proto.PageViewport {
	x := box.X - padding
	y := box.Y - padding
	w := box.Width + 2*padding
	h := box.Height + 2*padding

	if x < 0 {
		w += x
		x = 0
	}
	if y < 0 {
		h += y
		y = 0
	}
	if w <= 0 || h <= 0 {
		return nil
	}

	return &proto.PageViewport{X: x, Y: y, Width: w, Height: h, Scale: 1}
}
