// Package interact governs how pointer input is routed: whether a finished
// selection becomes a highlight draft, a crop draft, or nothing at all. It
// also owns the single pending-draft slot.
package interact

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/margolab/margo/internal/geometry"
	"github.com/margolab/margo/internal/models"
)

// Mode is the active interaction mode. Exactly one is active at a time, set
// explicitly by the user and never inferred.
type Mode string

const (
	// ModeRead suppresses all annotation-producing input.
	ModeRead Mode = "read"
	// ModeAsk turns finished text selections into highlight drafts.
	ModeAsk Mode = "ask"
	// ModeCrop turns pointer drags into region-crop drafts.
	ModeCrop Mode = "crop"
)

var (
	// ErrDraftOpen means a draft is already pending; it must be confirmed
	// or cancelled before another can be opened.
	ErrDraftOpen = errors.New("a draft is already open")
	// ErrNoDraft means the operation needs a pending draft and none exists.
	ErrNoDraft = errors.New("no draft is open")
	// ErrSubmitInFlight means the open draft already has an AI submission
	// running.
	ErrSubmitInFlight = errors.New("a submission is already in flight")
	// ErrDraftSuperseded means the submission's draft was cancelled, and
	// possibly replaced, while the call was in flight.
	ErrDraftSuperseded = errors.New("draft was cancelled during submission")
)

// SnippetFunc captures the raster snippet for a finalized crop selection,
// returning base64-encoded image data for exactly the given pixel region of
// the page's current raster.
type SnippetFunc func(page int, r geometry.PixelRect) (string, error)

// Machine routes pointer input according to the active mode and holds the
// single pending draft.
type Machine struct {
	mu         sync.Mutex
	mode       Mode
	draft      *models.Draft
	draftGen   uint64
	submitting bool

	dragging  bool
	dragPage  int
	dragStart geometry.Point
	dragLive  geometry.PixelRect

	logger *zap.Logger
}

// NewMachine creates a machine in read mode with no draft.
func NewMachine(logger *zap.Logger) *Machine {
	return &Machine{mode: ModeRead, logger: logger}
}

// Mode returns the active mode.
func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// SetMode switches the active mode. Transitions are user-initiated only;
// switching never resolves an open draft, and a drag in progress is left to
// abort on release.
func (m *Machine) SetMode(mode Mode) error {
	switch mode {
	case ModeRead, ModeAsk, ModeCrop:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
	m.logger.Debug("interaction mode set", zap.String("mode", string(mode)))
	return nil
}

// TextSelection handles a finished text selection in the page's pixel space.
// Outside ask mode, or for empty/whitespace-only content, the selection is
// silently ignored and no draft is created. With a draft already open it
// returns ErrDraftOpen.
func (m *Machine) TextSelection(page int, lines []geometry.PixelRect, bounds geometry.PixelRect, text string, pageSize geometry.Size) (*models.Draft, error) {
	trimmed := strings.TrimSpace(text)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeAsk || trimmed == "" {
		return nil, nil
	}
	if m.draft != nil {
		return nil, ErrDraftOpen
	}
	primary, sub, ok := geometry.NormalizeSelection(lines, bounds, pageSize)
	if !ok {
		return nil, nil
	}
	m.draftGen++
	m.draft = &models.Draft{
		Page:      page,
		Kind:      models.KindTextHighlight,
		Rect:      primary,
		LineRects: sub,
		Text:      trimmed,
	}
	return m.draftCopyLocked(), nil
}

// BeginDrag starts a crop drag at the given point. It reports whether a drag
// actually started; drags are ignored outside crop mode and while a draft is
// open.
func (m *Machine) BeginDrag(page int, p geometry.Point) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeCrop || m.draft != nil {
		return false
	}
	m.dragging = true
	m.dragPage = page
	m.dragStart = p
	m.dragLive = geometry.PixelRect{X: p.X, Y: p.Y}
	return true
}

// UpdateDrag advances the live selection rectangle. The rectangle is
// display-only; nothing is persisted until release.
func (m *Machine) UpdateDrag(p geometry.Point) (geometry.PixelRect, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dragging {
		return geometry.PixelRect{}, false
	}
	m.dragLive = geometry.DragRect(m.dragStart, p)
	return m.dragLive, true
}

// EndDrag finalizes a drag into a region-crop draft. The selection is
// dropped without error when no drag is active, when the mode changed away
// from crop mid-drag, or when the selection is under the minimum size.
// snippet is only invoked for an accepted selection.
func (m *Machine) EndDrag(p geometry.Point, pageSize geometry.Size, snippet SnippetFunc) (*models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dragging {
		return nil, nil
	}
	m.dragging = false
	page := m.dragPage
	if m.mode != ModeCrop {
		// Mode switched mid-drag; abort the draft on release.
		return nil, nil
	}
	rect, ok := geometry.NormalizeDrag(m.dragStart, p, pageSize)
	if !ok {
		return nil, nil
	}
	var image string
	if snippet != nil {
		var err error
		image, err = snippet(page, geometry.DragRect(m.dragStart, p))
		if err != nil {
			return nil, fmt.Errorf("capture snippet: %w", err)
		}
	}
	m.draftGen++
	m.draft = &models.Draft{
		Page:        page,
		Kind:        models.KindRegionCrop,
		Rect:        rect,
		ImageBase64: image,
	}
	return m.draftCopyLocked(), nil
}

// LiveDragRect returns the current display rectangle of an active drag.
func (m *Machine) LiveDragRect() (geometry.PixelRect, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dragging {
		return geometry.PixelRect{}, false
	}
	return m.dragLive, true
}

// OpenPageNote opens a page-note draft directly (no selection anchor).
func (m *Machine) OpenPageNote(page int) (*models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft != nil {
		return nil, ErrDraftOpen
	}
	m.draftGen++
	m.draft = &models.Draft{
		Page: page,
		Kind: models.KindPageNote,
		Rect: models.Rect{X: 0, Y: 0, W: 1, H: 1},
	}
	return m.draftCopyLocked(), nil
}

// Draft returns a copy of the pending draft.
func (m *Machine) Draft() (*models.Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return nil, false
	}
	return m.draftCopyLocked(), true
}

// SetQuestion records the user's question on the pending draft.
func (m *Machine) SetQuestion(q string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return ErrNoDraft
	}
	m.draft.Question = q
	return nil
}

// SetNote records the free-text note on the pending draft.
func (m *Machine) SetNote(note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return ErrNoDraft
	}
	m.draft.Note = note
	return nil
}

// Cancel discards the pending draft and any in-flight submission marker.
func (m *Machine) Cancel() {
	m.mu.Lock()
	m.draft = nil
	m.submitting = false
	m.mu.Unlock()
}

// Take removes and returns the pending draft for promotion into the durable
// collection. The confirmation step is resolved afterwards.
func (m *Machine) Take() (models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return models.Draft{}, ErrNoDraft
	}
	d := *m.draft
	d.LineRects = append([]models.Rect(nil), m.draft.LineRects...)
	m.draft = nil
	m.submitting = false
	return d, nil
}

// BeginSubmit marks the draft's AI submission as in flight, preventing
// duplicate submission while a slow call is outstanding. It returns the
// draft's generation; the completion must present it to TakeSubmitted or
// EndSubmit so a stale completion can never touch a later draft.
func (m *Machine) BeginSubmit() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil {
		return 0, ErrNoDraft
	}
	if m.submitting {
		return 0, ErrSubmitInFlight
	}
	m.submitting = true
	return m.draftGen, nil
}

// EndSubmit clears the in-flight marker after a failed submission; the draft
// is preserved so the user can retry or fall back to a manual note. The
// marker is left alone when the submission's draft is no longer the open one.
func (m *Machine) EndSubmit(gen uint64) {
	m.mu.Lock()
	if m.draft != nil && m.draftGen == gen {
		m.submitting = false
	}
	m.mu.Unlock()
}

// TakeSubmitted removes and returns the draft a submission was started for.
// It fails with ErrDraftSuperseded when that draft was cancelled while the
// submission was in flight, even if another draft has been opened since.
func (m *Machine) TakeSubmitted(gen uint64) (models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draft == nil || m.draftGen != gen || !m.submitting {
		return models.Draft{}, ErrDraftSuperseded
	}
	d := *m.draft
	d.LineRects = append([]models.Rect(nil), m.draft.LineRects...)
	m.draft = nil
	m.submitting = false
	return d, nil
}

func (m *Machine) draftCopyLocked() *models.Draft {
	d := *m.draft
	d.LineRects = append([]models.Rect(nil), m.draft.LineRects...)
	return &d
}
