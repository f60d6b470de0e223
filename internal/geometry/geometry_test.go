package geometry

import (
	"testing"

	"github.com/margolab/margo/internal/models"
)

const eps = 1e-9

func TestNormalizeDragAllQuadrants(t *testing.T) {
	page := Size{W: 800, H: 1000}
	// The same logical rectangle dragged from each of its four corners.
	corners := []struct {
		name       string
		start, end Point
	}{
		{"top-left to bottom-right", Point{100, 200}, Point{300, 500}},
		{"bottom-right to top-left", Point{300, 500}, Point{100, 200}},
		{"top-right to bottom-left", Point{300, 200}, Point{100, 500}},
		{"bottom-left to top-right", Point{100, 500}, Point{300, 200}},
	}
	want := models.Rect{X: 0.125, Y: 0.2, W: 0.25, H: 0.3}
	for _, tt := range corners {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeDrag(tt.start, tt.end, page)
			if !ok {
				t.Fatal("selection rejected")
			}
			if !got.NearlyEqual(want, eps) {
				t.Errorf("got %+v, want %+v", got, want)
			}
			if got.X < 0 || got.Y < 0 || got.X+got.W > 1+eps || got.Y+got.H > 1+eps {
				t.Errorf("rect escapes unit square: %+v", got)
			}
		})
	}
}

func TestNormalizeDragScaleInvariant(t *testing.T) {
	// Same logical region captured at scale 1.0 and 2.0.
	at1, ok1 := NormalizeDrag(Point{50, 60}, Point{150, 260}, Size{W: 600, H: 800})
	at2, ok2 := NormalizeDrag(Point{100, 120}, Point{300, 520}, Size{W: 1200, H: 1600})
	if !ok1 || !ok2 {
		t.Fatal("selection rejected")
	}
	if !at1.NearlyEqual(at2, eps) {
		t.Errorf("scale 1.0 %+v != scale 2.0 %+v", at1, at2)
	}
}

func TestNormalizeDragThreshold(t *testing.T) {
	page := Size{W: 800, H: 1000}
	tests := []struct {
		name       string
		start, end Point
		wantOK     bool
	}{
		{"wide enough", Point{0, 0}, Point{10, 10}, true},
		{"too narrow", Point{0, 0}, Point{9.5, 100}, false},
		{"too short", Point{0, 0}, Point{100, 9.5}, false},
		{"single click", Point{42, 42}, Point{42, 42}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := NormalizeDrag(tt.start, tt.end, page); ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
		})
	}
}

func TestNormalizeClampsOverflow(t *testing.T) {
	page := Size{W: 100, H: 100}
	got := Normalize(PixelRect{X: 90, Y: -5, W: 20, H: 50}, page)
	if got.X < 0 || got.Y < 0 || got.X+got.W > 1 || got.Y+got.H > 1 {
		t.Errorf("rect not clamped: %+v", got)
	}
}

func TestNormalizeSelection(t *testing.T) {
	page := Size{W: 1000, H: 1000}
	lines := []PixelRect{
		{X: 300, Y: 100, W: 400, H: 20},
		{X: 100, Y: 120, W: 350, H: 20},
	}
	bounds := PixelRect{X: 100, Y: 100, W: 600, H: 40}
	primary, sub, ok := NormalizeSelection(lines, bounds, page)
	if !ok {
		t.Fatal("selection rejected")
	}
	if len(sub) != 2 {
		t.Fatalf("sub rects: got %d, want 2", len(sub))
	}
	// Primary equals the bounding union of the line rects.
	union := sub[0].Union(sub[1])
	if !primary.NearlyEqual(union, eps) {
		t.Errorf("primary %+v != union of lines %+v", primary, union)
	}
}

func TestNormalizeSelectionEmpty(t *testing.T) {
	page := Size{W: 1000, H: 1000}
	if _, _, ok := NormalizeSelection(nil, PixelRect{}, page); ok {
		t.Error("empty selection accepted")
	}
	if _, _, ok := NormalizeSelection([]PixelRect{{0, 0, 10, 10}}, PixelRect{W: 0, H: 0}, page); ok {
		t.Error("zero-area bounds accepted")
	}
}

func TestNormalizeDegeneratePage(t *testing.T) {
	got := Normalize(PixelRect{X: 10, Y: 10, W: 10, H: 10}, Size{})
	if got != (models.Rect{}) {
		t.Errorf("expected zero rect for degenerate page, got %+v", got)
	}
}
