package evidence

import (
	"strings"
	"testing"

	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/a11yscan/config"
)

func TestClipFor_PadsAllSides(t *testing.T) {
	box := &proto.DOMRect{X: 100, Y: 200, Width: 50, Height: 30}
	clip := clipFor(box, 12)

	if clip == nil {
		t.Fatal("expected a clip for a normal box")
	}
	if clip.X != 88 || clip.Y != 188 {
		t.Errorf("origin = (%v, %v), want (88, 188)", clip.X, clip.Y)
	}
	if clip.Width != 74 || clip.Height != 54 {
		t.Errorf("size = (%v, %v), want (74, 54)", clip.Width, clip.Height)
	}
	if clip.Scale != 1 {
		t.Errorf("scale = %v, want 1", clip.Scale)
	}
}

func TestClipFor_ClampsOriginAndShrinks(t *testing.T) {
	// Element hugging the top-left corner: padding would push the origin
	// negative. The origin clamps to zero and the size shrinks so the far
	// edge does not drift right or down.
	box := &proto.DOMRect{X: 4, Y: 2, Width: 50, Height: 30}
	clip := clipFor(box, 12)

	if clip == nil {
		t.Fatal("expected a clip")
	}
	if clip.X != 0 || clip.Y != 0 {
		t.Errorf("origin = (%v, %v), want (0, 0)", clip.X, clip.Y)
	}
	// Far edges: x 4+50+12 = 66, y 2+30+12 = 44.
	if clip.Width != 66 || clip.Height != 44 {
		t.Errorf("size = (%v, %v), want (66, 44)", clip.Width, clip.Height)
	}
}

func TestClipFor_DegenerateBox(t *testing.T) {
	box := &proto.DOMRect{X: 0, Y: 0, Width: 0, Height: 0}
	if clip := clipFor(box, 0); clip != nil {
		t.Errorf("zero box with no padding should produce no clip, got %+v", clip)
	}
}

func TestClipFor_FullyOffscreenBox(t *testing.T) {
	box := &proto.DOMRect{X: -100, Y: 10, Width: 40, Height: 40}
	if clip := clipFor(box, 5); clip != nil {
		t.Errorf("box entirely left of the viewport should produce no clip, got %+v", clip)
	}
}

func TestNewCapturer_Defaults(t *testing.T) {
	c := NewCapturer(config.EvidenceConfig{})
	if c.cfg.MinSize != 10 {
		t.Errorf("MinSize default = %v, want 10", c.cfg.MinSize)
	}
	if c.cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts default = %v, want 3", c.cfg.MaxAttempts)
	}
	if c.cfg.Padding != 0 {
		t.Errorf("Padding default = %v, want 0", c.cfg.Padding)
	}

	c = NewCapturer(config.EvidenceConfig{MinSize: 24, MaxAttempts: 1, Padding: 6})
	if c.cfg.MinSize != 24 || c.cfg.MaxAttempts != 1 || c.cfg.Padding != 6 {
		t.Errorf("explicit options were overridden: %+v", c.cfg)
	}
}

func TestCapture_NilInputs(t *testing.T) {
	c := NewCapturer(config.EvidenceConfig{})
	if ev := c.Capture(nil, "#main"); ev != nil {
		t.Error("nil page should yield no evidence")
	}
}

func TestHighlightScripts_RestoreSymmetry(t *testing.T) {
	// The removal script must touch exactly the properties the highlight
	// script saved, or cleanup leaves paint artifacts on the page.
	for _, prop := range []string{"__evPrevOutline", "__evPrevOffset"} {
		if !strings.Contains(highlightJS, prop) {
			t.Errorf("highlight script does not save %s", prop)
		}
		if !strings.Contains(unhighlightJS, prop) {
			t.Errorf("removal script does not restore %s", prop)
		}
	}
}
