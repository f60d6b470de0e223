package models

// RectEpsilon is the tolerance applied when validating fractional rectangles,
// to absorb floating-point rounding from pixel-space division.
const RectEpsilon = 1e-6

// Rect is a rectangle in fractional page coordinates: all fields are in the
// range 0..1 relative to a page's rendered width and height, so the same
// logical region yields the same Rect at any zoom level.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Valid reports whether r lies within the unit square, with RectEpsilon
// tolerance on the far edges.
func (r Rect) Valid() bool {
	if r.X < 0 || r.Y < 0 || r.W < 0 || r.H < 0 {
		return false
	}
	return r.X+r.W <= 1+RectEpsilon && r.Y+r.H <= 1+RectEpsilon
}

// Union returns the smallest rectangle covering both r and o.
func (r Rect) Union(o Rect) Rect {
	x0 := min(r.X, o.X)
	y0 := min(r.Y, o.Y)
	x1 := max(r.X+r.W, o.X+o.W)
	y1 := max(r.Y+r.H, o.Y+o.H)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// Clamp constrains r to the unit square, keeping the portion that overlaps
// the page.
func (r Rect) Clamp() Rect {
	x0 := min(max(r.X, 0), 1)
	y0 := min(max(r.Y, 0), 1)
	x1 := min(max(r.X+r.W, x0), 1)
	y1 := min(max(r.Y+r.H, y0), 1)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// NearlyEqual reports whether r and o are equal within eps on every field.
func (r Rect) NearlyEqual(o Rect, eps float64) bool {
	return abs(r.X-o.X) <= eps && abs(r.Y-o.Y) <= eps &&
		abs(r.W-o.W) <= eps && abs(r.H-o.H) <= eps
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
