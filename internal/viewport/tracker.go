// Package viewport maps scroll position to the current page and computes
// programmatic scroll targets.
package viewport

import (
	"fmt"
	"sync"

	"github.com/margolab/margo/internal/models"
)

// scrollMargin keeps a scroll-to-annotation target from sitting flush
// against the viewport's top edge.
const scrollMargin = 24.0

// PageExtent is one page's vertical placement in the scroll container, in
// layout pixels.
type PageExtent struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// Tracker derives the current page from scroll position using the
// nearest-centre heuristic and resolves scroll-to-page and
// scroll-to-annotation targets.
type Tracker struct {
	mu        sync.Mutex
	extents   []PageExtent
	viewportH float64
	current   int
	onChange  func(page int)
}

// NewTracker creates a tracker with no layout. The current page is 1 once a
// layout is set.
func NewTracker(onChange func(page int)) *Tracker {
	return &Tracker{onChange: onChange}
}

// SetLayout replaces the page extents and viewport height, then recomputes
// the current page at scroll offset 0.
func (t *Tracker) SetLayout(extents []PageExtent, viewportHeight float64) {
	t.mu.Lock()
	t.extents = make([]PageExtent, len(extents))
	copy(t.extents, extents)
	t.viewportH = viewportHeight
	t.current = 0
	t.mu.Unlock()
	t.SetScroll(0)
}

// SetScroll recomputes the current page for the given scroll offset and
// returns it. The change callback fires only when the page actually changes.
func (t *Tracker) SetScroll(offset float64) int {
	t.mu.Lock()
	page := t.nearestLocked(offset)
	changed := page != 0 && page != t.current
	if changed {
		t.current = page
	}
	cb := t.onChange
	t.mu.Unlock()
	if changed && cb != nil {
		cb(page)
	}
	return page
}

// nearestLocked picks the page whose vertical midpoint is closest to the
// viewport midpoint; ties resolve to the first page in order.
func (t *Tracker) nearestLocked(offset float64) int {
	if len(t.extents) == 0 {
		return 0
	}
	viewMid := offset + t.viewportH/2
	best := 1
	bestDist := -1.0
	for i, e := range t.extents {
		pageMid := e.Top + e.Height/2
		dist := viewMid - pageMid
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best = i + 1
			bestDist = dist
		}
	}
	return best
}

// Current returns the current page (1-indexed), or 0 with no layout.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// ScrollToPage returns the scroll offset for the top of page n and updates
// the current page immediately, so the page indicator does not wait for the
// scroll-driven recomputation.
func (t *Tracker) ScrollToPage(n int) (float64, error) {
	t.mu.Lock()
	if n < 1 || n > len(t.extents) {
		t.mu.Unlock()
		return 0, fmt.Errorf("page %d out of range (1..%d)", n, len(t.extents))
	}
	top := t.extents[n-1].Top
	changed := n != t.current
	t.current = n
	cb := t.onChange
	t.mu.Unlock()
	if changed && cb != nil {
		cb(n)
	}
	return top, nil
}

// ScrollToAnnotation returns the scroll offset that brings the vertical
// position of the annotation's anchor near the top of the viewport, offset
// by a fixed margin.
func (t *Tracker) ScrollToAnnotation(a models.Annotation) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a.Page < 1 || a.Page > len(t.extents) {
		return 0, fmt.Errorf("annotation page %d out of range (1..%d)", a.Page, len(t.extents))
	}
	e := t.extents[a.Page-1]
	offset := e.Top + a.Rect.Y*e.Height - scrollMargin
	if offset < 0 {
		offset = 0
	}
	return offset, nil
}
