// Package geometry converts pixel-space selections into fractional page
// coordinates that are independent of render resolution and zoom.
package geometry

import "github.com/margolab/margo/internal/models"

// MinSelectionPx is the minimum drag size, in raw pixels, below which a
// selection is discarded. The threshold is deliberately not scale-adjusted:
// it guards against accidental single-click selections, which happen in
// screen pixels regardless of zoom.
const MinSelectionPx = 10.0

// Point is a position in a page's local pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a page's rendered pixel dimensions at the time of capture.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// PixelRect is a rectangle in a page's local pixel space.
type PixelRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// DragRect builds the pixel rectangle spanned by a drag from start to end.
// The min/max swap makes all four drag directions yield a valid rectangle.
func DragRect(start, end Point) PixelRect {
	x0 := min(start.X, end.X)
	y0 := min(start.Y, end.Y)
	x1 := max(start.X, end.X)
	y1 := max(start.Y, end.Y)
	return PixelRect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// NormalizeDrag converts a drag selection into a fractional Rect against the
// page's rendered size. It reports ok=false when either dimension is under
// MinSelectionPx, in which case no draft should be created.
func NormalizeDrag(start, end Point, page Size) (models.Rect, bool) {
	r := DragRect(start, end)
	if r.W < MinSelectionPx || r.H < MinSelectionPx {
		return models.Rect{}, false
	}
	return Normalize(r, page), true
}

// Normalize divides a pixel rectangle by the page's rendered size and clamps
// the result into the unit square.
func Normalize(r PixelRect, page Size) models.Rect {
	if page.W <= 0 || page.H <= 0 {
		return models.Rect{}
	}
	out := models.Rect{
		X: r.X / page.W,
		Y: r.Y / page.H,
		W: r.W / page.W,
		H: r.H / page.H,
	}
	return clampUnit(out)
}

// NormalizeSelection converts a finished text selection into fractional
// coordinates: bounds becomes the primary Rect, and each per-line client
// rectangle becomes one entry of the sub-Rect sequence. It reports ok=false
// for an empty selection (zero-area bounds or no line rectangles).
func NormalizeSelection(lines []PixelRect, bounds PixelRect, page Size) (models.Rect, []models.Rect, bool) {
	if len(lines) == 0 || bounds.W <= 0 || bounds.H <= 0 {
		return models.Rect{}, nil, false
	}
	primary := Normalize(bounds, page)
	sub := make([]models.Rect, 0, len(lines))
	for _, l := range lines {
		sub = append(sub, Normalize(l, page))
	}
	return primary, sub, true
}

func clampUnit(r models.Rect) models.Rect {
	r.X = clamp01(r.X)
	r.Y = clamp01(r.Y)
	if r.W < 0 {
		r.W = 0
	}
	if r.H < 0 {
		r.H = 0
	}
	if r.X+r.W > 1 {
		r.W = 1 - r.X
	}
	if r.Y+r.H > 1 {
		r.H = 1 - r.Y
	}
	return r
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
