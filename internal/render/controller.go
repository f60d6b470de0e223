// Package render owns the per-page rendering lifecycle: cancellable render
// requests, generation-token ordering, and the render-target registry.
package render

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// State is a page's render lifecycle state.
type State int

const (
	// StateIdle means no render has been requested since the last reset.
	StateIdle State = iota
	// StateRendering means a request is in flight.
	StateRendering
	// StateRendered means the latest request completed and its result is
	// available.
	StateRendered
	// StateFailed means the latest request failed with a non-cancellation
	// error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRendering:
		return "rendering"
	case StateRendered:
		return "rendered"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Raster is the pixel output of one page render.
type Raster struct {
	Image  []byte // encoded PNG
	Width  int
	Height int
}

// TextItem is one positioned text fragment of a page's text layer, in pixels
// at the scale the layer was computed for.
type TextItem struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

// Result bundles the raster and the text layer of a completed render. Both
// are computed for the same scale; a text layer is never carried over from a
// render at a different scale.
type Result struct {
	Page      int
	Scale     float64
	Raster    *Raster
	TextItems []TextItem
}

// Rasterizer renders a single page. Implementations must honor ctx
// cancellation and return ctx.Err() (possibly wrapped) when cancelled.
type Rasterizer interface {
	RenderPage(ctx context.Context, page int, scale float64) (*Raster, error)
}

// TextSource produces the positioned text layer of a page at a given scale.
type TextSource interface {
	PageText(ctx context.Context, page int, scale float64) ([]TextItem, error)
}

// Target is an opaque render-target handle registered per mounted page.
type Target interface{}

type pageState struct {
	state  State
	gen    uint64
	cancel context.CancelFunc
	result *Result
	err    error
	target Target
}

// Controller issues at most one live render per page. A new request for a
// page cancels the previous one; completions are applied only when their
// generation token is still current, so a stale completion can never
// overwrite a newer request's state.
type Controller struct {
	mu       sync.Mutex
	raster   Rasterizer
	text     TextSource
	logger   *zap.Logger
	pages    map[int]*pageState
	observer func(page int, st State)
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver registers a callback invoked after every state transition,
// outside the controller lock.
func WithObserver(fn func(page int, st State)) Option {
	return func(c *Controller) { c.observer = fn }
}

// NewController creates a controller over the given collaborators.
func NewController(raster Rasterizer, text TextSource, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		raster: raster,
		text:   text,
		logger: logger,
		pages:  make(map[int]*pageState),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mount registers a render target for a page. A page does not need to be
// mounted to be rendered, but unmounting cancels its in-flight work.
func (c *Controller) Mount(page int, t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureLocked(page).target = t
}

// Unmount cancels any in-flight render for the page and drops its registry
// entry, so a late completion has nothing to mutate.
func (c *Controller) Unmount(page int) {
	c.mu.Lock()
	ps := c.pages[page]
	if ps != nil && ps.cancel != nil {
		ps.cancel()
	}
	delete(c.pages, page)
	c.mu.Unlock()
}

// TargetOf returns the registered render target for a page.
func (c *Controller) TargetOf(page int) (Target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.pages[page]
	if ps == nil || ps.target == nil {
		return nil, false
	}
	return ps.target, true
}

// Request starts a render of page at scale. Any previous in-flight render of
// the same page is cancelled first; the returned channel closes when this
// request has settled (applied, superseded, or cancelled).
func (c *Controller) Request(ctx context.Context, page int, scale float64) <-chan struct{} {
	c.mu.Lock()
	ps := c.ensureLocked(page)
	if ps.cancel != nil {
		ps.cancel()
	}
	ps.gen++
	gen := ps.gen
	renderCtx, cancel := context.WithCancel(ctx)
	ps.cancel = cancel
	ps.state = StateRendering
	ps.err = nil
	c.mu.Unlock()

	c.notify(page, StateRendering)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.render(renderCtx, page, scale, gen)
	}()
	return done
}

func (c *Controller) render(ctx context.Context, page int, scale float64, gen uint64) {
	raster, err := c.raster.RenderPage(ctx, page, scale)
	var items []TextItem
	if err == nil && c.text != nil {
		items, err = c.text.PageText(ctx, page, scale)
	}

	c.mu.Lock()
	ps := c.pages[page]
	if ps == nil || ps.gen != gen {
		// Superseded or torn down; discard unconditionally, even a success.
		c.mu.Unlock()
		return
	}
	ps.cancel = nil
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			// Cancellation is expected, not a failure. The page keeps
			// whatever state the superseding request gives it.
			c.mu.Unlock()
			return
		}
		ps.state = StateFailed
		ps.err = err
		ps.result = nil
		c.mu.Unlock()
		c.logger.Warn("page render failed", zap.Int("page", page), zap.Error(err))
		c.notify(page, StateFailed)
		return
	}
	ps.state = StateRendered
	ps.result = &Result{Page: page, Scale: scale, Raster: raster, TextItems: items}
	c.mu.Unlock()
	c.logger.Debug("page rendered", zap.Int("page", page), zap.Float64("scale", scale))
	c.notify(page, StateRendered)
}

// StateOf returns a page's current state and, for StateFailed, its error.
func (c *Controller) StateOf(page int) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.pages[page]
	if ps == nil {
		return StateIdle, nil
	}
	return ps.state, ps.err
}

// Result returns the latest applied render result for a page.
func (c *Controller) Result(page int) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps := c.pages[page]
	if ps == nil || ps.result == nil {
		return nil, false
	}
	return ps.result, true
}

// Invalidate cancels all in-flight renders and resets every page to Idle.
// Called when the zoom scale or the source document changes; generation
// counters survive so stragglers from before the reset are still discarded.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	for _, ps := range c.pages {
		if ps.cancel != nil {
			ps.cancel()
			ps.cancel = nil
		}
		ps.gen++
		ps.state = StateIdle
		ps.result = nil
		ps.err = nil
	}
	c.mu.Unlock()
}

// Close cancels all in-flight work and clears the registry.
func (c *Controller) Close() {
	c.mu.Lock()
	for _, ps := range c.pages {
		if ps.cancel != nil {
			ps.cancel()
		}
	}
	c.pages = make(map[int]*pageState)
	c.mu.Unlock()
}

func (c *Controller) ensureLocked(page int) *pageState {
	ps := c.pages[page]
	if ps == nil {
		ps = &pageState{state: StateIdle}
		c.pages[page] = ps
	}
	return ps
}

func (c *Controller) notify(page int, st State) {
	if c.observer != nil {
		c.observer(page, st)
	}
}
