// Package viewer wires the document engine, annotation store, interaction
// machine, render controller, and AI backends into one working session.
package viewer

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/margolab/margo/internal/ai"
	"github.com/margolab/margo/internal/annosearch"
	"github.com/margolab/margo/internal/geometry"
	"github.com/margolab/margo/internal/history"
	"github.com/margolab/margo/internal/interact"
	"github.com/margolab/margo/internal/lifecycle"
	"github.com/margolab/margo/internal/models"
	"github.com/margolab/margo/internal/render"
	"github.com/margolab/margo/internal/session"
	"github.com/margolab/margo/internal/store"
	"github.com/margolab/margo/internal/viewport"
	"github.com/margolab/margo/pkg/utils"
)

// defaultSystemPrompt frames AI answers around the selected passage.
const defaultSystemPrompt = "You are a reading assistant. Answer the question about the given document excerpt concisely."

// ErrNoDocument is returned by document-scoped operations before a load.
var ErrNoDocument = errors.New("no document loaded")

// ErrUnknownProvider is returned when the requested AI backend is not
// configured.
var ErrUnknownProvider = errors.New("unknown AI provider")

// ErrAnnotationNotFound is returned for lookups by unknown annotation id.
var ErrAnnotationNotFound = errors.New("annotation not found")

// Rasterizer is the render engine as the session sees it.
type Rasterizer interface {
	render.Rasterizer
	SetDocument(pdfBytes []byte) error
}

// TextEngine is the text-extraction engine as the session sees it.
type TextEngine interface {
	render.TextSource
	SetDocument(pdfBytes []byte) error
	PageCount() int
	PlainText(page int) (string, error)
}

// Snipper crops the raster snippet for a finalized region selection.
type Snipper func(raster *render.Raster, rect models.Rect) ([]byte, error)

// Backend pairs a provider with the model it is configured to use.
type Backend struct {
	Provider ai.Provider
	Model    string
}

// DocumentInfo describes the active document.
type DocumentInfo struct {
	DocID string `json:"docId"`
	Name  string `json:"name"`
	Pages int    `json:"pages"`
	Phase string `json:"phase"`
}

// Session is one open document with its annotations and interaction state.
// All orchestration goes through it; handlers never touch the components
// directly.
type Session struct {
	logger *zap.Logger

	raster Rasterizer
	text   TextEngine
	snip   Snipper

	life     *lifecycle.State
	store    *store.Store
	search   *annosearch.Index
	machine  *interact.Machine
	renderer *render.Controller
	tracker  *viewport.Tracker
	marker   session.Mutator
	history  *history.SQLiteHistory

	backends       map[string]Backend
	defaultBackend string
	systemPrompt   string
	sessionsDir    string

	mu    sync.Mutex
	docID string
	name  string
	pages int
	pdf   []byte
}

// Options configures a Session.
type Options struct {
	Logger         *zap.Logger
	Raster         Rasterizer
	Text           TextEngine
	Snip           Snipper
	Marker         session.Mutator
	History        *history.SQLiteHistory
	Backends       map[string]Backend
	DefaultBackend string
	SystemPrompt   string
	SessionsDir    string
	OnPageChange   func(page int)
}

// New assembles a session from its collaborators.
func New(opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Raster == nil || opts.Text == nil {
		return nil, errors.New("viewer: raster and text engines are required")
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = defaultSystemPrompt
	}
	search, err := annosearch.New()
	if err != nil {
		return nil, err
	}
	s := &Session{
		logger:         opts.Logger,
		raster:         opts.Raster,
		text:           opts.Text,
		snip:           opts.Snip,
		life:           lifecycle.New(),
		search:         search,
		machine:        interact.NewMachine(opts.Logger),
		tracker:        viewport.NewTracker(opts.OnPageChange),
		marker:         opts.Marker,
		history:        opts.History,
		backends:       opts.Backends,
		defaultBackend: opts.DefaultBackend,
		systemPrompt:   opts.SystemPrompt,
		sessionsDir:    opts.SessionsDir,
	}
	s.store = store.New(store.WithListener(search.Listener()))
	s.renderer = render.NewController(opts.Raster, opts.Text, opts.Logger)
	return s, nil
}

// docIDOf derives a stable document id from content, so the same file always
// maps to the same history entry regardless of its path.
func docIDOf(pdfBytes []byte) string {
	hash := sha256.Sum256(pdfBytes)
	return "doc:" + hex.EncodeToString(hash[:])
}

// LoadDocument replaces the active document. On failure the engine is marked
// failed and the previous document is no longer served; annotations are
// cleared only on success.
func (s *Session) LoadDocument(ctx context.Context, name string, pdfBytes []byte) (DocumentInfo, error) {
	return s.loadDocument(ctx, name, pdfBytes, nil)
}

func (s *Session) loadDocument(ctx context.Context, name string, pdfBytes []byte, anns []models.Annotation) (DocumentInfo, error) {
	if err := s.life.BeginLoad(); err != nil {
		return DocumentInfo{}, err
	}
	if err := s.text.SetDocument(pdfBytes); err != nil {
		s.life.Fail(err)
		return DocumentInfo{}, fmt.Errorf("load document: %w", err)
	}
	if err := s.raster.SetDocument(pdfBytes); err != nil {
		s.life.Fail(err)
		return DocumentInfo{}, fmt.Errorf("load document: %w", err)
	}
	pages := s.text.PageCount()
	if pages < 1 {
		err := fmt.Errorf("document has no pages")
		s.life.Fail(err)
		return DocumentInfo{}, err
	}

	docID := docIDOf(pdfBytes)
	s.mu.Lock()
	s.docID = docID
	s.name = name
	s.pages = pages
	s.pdf = append([]byte(nil), pdfBytes...)
	s.mu.Unlock()

	s.renderer.Invalidate()
	s.machine.Cancel()
	_ = s.machine.SetMode(interact.ModeRead)
	s.store.Replace(anns)
	if err := s.search.Rebuild(anns); err != nil {
		s.logger.Warn("annotation index rebuild failed", zap.Error(err))
	}
	s.life.Succeed()

	if s.history != nil {
		entry := history.Entry{DocID: docID, Name: name, Pages: pages, AnnotationCount: len(anns)}
		if err := s.history.Record(ctx, entry); err != nil {
			s.logger.Warn("record history entry failed", zap.Error(err))
		}
	}
	s.logger.Info("document loaded",
		zap.String("doc_id", docID), zap.String("name", name), zap.Int("pages", pages))
	return s.Info(), nil
}

// Info returns the active document's metadata and the engine phase.
func (s *Session) Info() DocumentInfo {
	phase, _ := s.life.Phase()
	s.mu.Lock()
	defer s.mu.Unlock()
	return DocumentInfo{DocID: s.docID, Name: s.name, Pages: s.pages, Phase: phase.String()}
}

// Guard reports whether document-scoped operations may proceed.
func (s *Session) Guard() error {
	return s.life.Guard()
}

// Mode returns the active interaction mode.
func (s *Session) Mode() interact.Mode {
	return s.machine.Mode()
}

// SetMode switches the interaction mode.
func (s *Session) SetMode(mode interact.Mode) error {
	if err := s.life.Guard(); err != nil {
		return err
	}
	return s.machine.SetMode(mode)
}

// TextSelection routes a finished text selection. A nil draft with nil error
// means the selection was ignored.
func (s *Session) TextSelection(page int, lines []geometry.PixelRect, bounds geometry.PixelRect, text string, pageSize geometry.Size) (*models.Draft, error) {
	if err := s.life.Guard(); err != nil {
		return nil, err
	}
	return s.machine.TextSelection(page, lines, bounds, text, pageSize)
}

// BeginDrag starts a crop drag.
func (s *Session) BeginDrag(page int, p geometry.Point) bool {
	if s.life.Guard() != nil {
		return false
	}
	return s.machine.BeginDrag(page, p)
}

// UpdateDrag advances the live crop rectangle.
func (s *Session) UpdateDrag(p geometry.Point) (geometry.PixelRect, bool) {
	return s.machine.UpdateDrag(p)
}

// EndDrag finalizes a crop drag, capturing the snippet from the page's
// current raster.
func (s *Session) EndDrag(p geometry.Point, pageSize geometry.Size) (*models.Draft, error) {
	if err := s.life.Guard(); err != nil {
		return nil, err
	}
	return s.machine.EndDrag(p, pageSize, s.snippet(pageSize))
}

// snippet crops the selected pixel region out of the page's latest raster.
// The client reports geometry in the same pixel space the raster was drawn
// at, so the fractions line up.
func (s *Session) snippet(pageSize geometry.Size) interact.SnippetFunc {
	if s.snip == nil {
		return nil
	}
	return func(page int, r geometry.PixelRect) (string, error) {
		result, ok := s.renderer.Result(page)
		if !ok || result.Raster == nil {
			return "", fmt.Errorf("page %d has no rendered raster", page)
		}
		if pageSize.W <= 0 || pageSize.H <= 0 {
			return "", fmt.Errorf("invalid page size")
		}
		frac := models.Rect{
			X: r.X / pageSize.W,
			Y: r.Y / pageSize.H,
			W: r.W / pageSize.W,
			H: r.H / pageSize.H,
		}
		data, err := s.snip(result.Raster, frac.Clamp())
		if err != nil {
			return "", err
		}
		return base64.StdEncoding.EncodeToString(data), nil
	}
}

// OpenPageNote opens a page-note draft for the given page.
func (s *Session) OpenPageNote(page int) (*models.Draft, error) {
	if err := s.life.Guard(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	pages := s.pages
	s.mu.Unlock()
	if page < 1 || page > pages {
		return nil, fmt.Errorf("page %d out of range (1..%d)", page, pages)
	}
	return s.machine.OpenPageNote(page)
}

// Draft returns the pending draft.
func (s *Session) Draft() (*models.Draft, bool) {
	return s.machine.Draft()
}

// SetQuestion records the question on the pending draft.
func (s *Session) SetQuestion(q string) error {
	return s.machine.SetQuestion(q)
}

// SetDraftNote records the note on the pending draft.
func (s *Session) SetDraftNote(note string) error {
	return s.machine.SetNote(note)
}

// CancelDraft discards the pending draft.
func (s *Session) CancelDraft() {
	s.machine.Cancel()
}

// ConfirmDraft promotes the pending draft to a durable annotation without an
// AI response.
func (s *Session) ConfirmDraft() (models.Annotation, error) {
	if err := s.life.Guard(); err != nil {
		return models.Annotation{}, err
	}
	draft, err := s.machine.Take()
	if err != nil {
		return models.Annotation{}, err
	}
	ann := s.promote(draft, "", "")
	s.store.Append(ann)
	s.syncAnnotationCount(context.Background())
	return ann, nil
}

// Ask submits the pending draft's question to an AI backend and, on success,
// promotes the draft with the response attached. On failure the draft is
// preserved so the user can retry or confirm manually.
func (s *Session) Ask(ctx context.Context, backendName string) (models.Annotation, error) {
	if err := s.life.Guard(); err != nil {
		return models.Annotation{}, err
	}
	if backendName == "" {
		backendName = s.defaultBackend
	}
	backend, ok := s.backends[backendName]
	if !ok {
		return models.Annotation{}, fmt.Errorf("%w: %q", ErrUnknownProvider, backendName)
	}
	draft, ok := s.machine.Draft()
	if !ok {
		return models.Annotation{}, interact.ErrNoDraft
	}
	if draft.Question == "" {
		return models.Annotation{}, errors.New("draft has no question")
	}
	gen, err := s.machine.BeginSubmit()
	if err != nil {
		return models.Annotation{}, err
	}

	req := ai.Request{
		Model:       backend.Model,
		System:      s.systemPrompt,
		Query:       draft.Question,
		ContextText: draft.Text,
	}
	if req.ContextText == "" {
		// Crop and page-note drafts carry no selected text; fall back to the
		// page's text so the model still sees the surrounding document.
		if pageText, textErr := s.text.PlainText(draft.Page); textErr == nil {
			req.ContextText = pageText
		}
	}
	if draft.ImageBase64 != "" {
		req.ImageBase64 = draft.ImageBase64
		req.ImageMediaType = "image/png"
	}
	resp, err := backend.Provider.Complete(ctx, req)
	if err != nil {
		s.machine.EndSubmit(gen)
		s.logger.Warn("ai submission failed",
			zap.String("backend", backendName), zap.Error(err))
		return models.Annotation{}, fmt.Errorf("ask %s: %w", backendName, err)
	}

	s.logger.Debug("ai answer received",
		zap.String("backend", backendName),
		zap.String("preview", utils.Truncate(resp.Text, 120)))
	taken, err := s.machine.TakeSubmitted(gen)
	if err != nil {
		// The draft this answer belongs to was cancelled while the call was
		// in flight; drop the answer, leaving any newer draft alone.
		return models.Annotation{}, err
	}
	ann := s.promote(taken, resp.Text, resp.Provider)
	s.store.Append(ann)
	s.syncAnnotationCount(ctx)
	return ann, nil
}

// promote turns a draft into a durable annotation record.
func (s *Session) promote(d models.Draft, response, provider string) models.Annotation {
	return models.Annotation{
		ID:          store.NewID(),
		Page:        d.Page,
		Kind:        d.Kind,
		Rect:        d.Rect,
		LineRects:   d.LineRects,
		Text:        d.Text,
		ImageBase64: d.ImageBase64,
		Question:    d.Question,
		Response:    response,
		Note:        d.Note,
		Provider:    provider,
		CreatedAt:   time.Now().UTC(),
	}
}

// Annotations returns all records in display order.
func (s *Session) Annotations() []models.Annotation {
	return s.store.All()
}

// AnnotationsByPage returns the records on one page.
func (s *Session) AnnotationsByPage(page int) []models.Annotation {
	return s.store.ByPage(page)
}

// Annotation returns one record by id.
func (s *Session) Annotation(id string) (models.Annotation, error) {
	ann, ok := s.store.Get(id)
	if !ok {
		return models.Annotation{}, fmt.Errorf("%w: %s", ErrAnnotationNotFound, id)
	}
	return ann, nil
}

// UpdateNote edits an annotation's note.
func (s *Session) UpdateNote(id, note string) error {
	if !s.store.UpdateNote(id, note) {
		return fmt.Errorf("%w: %s", ErrAnnotationNotFound, id)
	}
	return nil
}

// RemoveAnnotation deletes an annotation.
func (s *Session) RemoveAnnotation(id string) error {
	if !s.store.Remove(id) {
		return fmt.Errorf("%w: %s", ErrAnnotationNotFound, id)
	}
	s.syncAnnotationCount(context.Background())
	return nil
}

// SearchAnnotations runs a full-text query over the annotation collection
// and resolves hits back to records, best match first.
func (s *Session) SearchAnnotations(query string, limit int) ([]models.Annotation, error) {
	hits, err := s.search.Search(query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.Annotation, 0, len(hits))
	for _, hit := range hits {
		if ann, ok := s.store.Get(hit.ID); ok {
			out = append(out, ann)
		}
	}
	return out, nil
}

// syncAnnotationCount mirrors the live count into the history entry.
func (s *Session) syncAnnotationCount(ctx context.Context) {
	if s.history == nil {
		return
	}
	s.mu.Lock()
	docID := s.docID
	s.mu.Unlock()
	if docID == "" {
		return
	}
	if err := s.history.SetAnnotationCount(ctx, docID, s.store.Len()); err != nil {
		s.logger.Warn("sync annotation count failed", zap.Error(err))
	}
}

// ExportSession serializes the working state to a session artifact.
func (s *Session) ExportSession() ([]byte, error) {
	if err := s.life.Guard(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	name, pdf := s.name, s.pdf
	s.mu.Unlock()
	return session.Encode(session.Export(name, pdf, s.store.All()))
}

// SaveSession writes the session artifact into the sessions directory and
// returns the path. The catalog picks it up through the directory watch.
func (s *Session) SaveSession(fileName string) (string, error) {
	if s.sessionsDir == "" {
		return "", errors.New("no sessions directory configured")
	}
	data, err := s.ExportSession()
	if err != nil {
		return "", err
	}
	if fileName == "" {
		fileName = fmt.Sprintf("session-%s.json", time.Now().UTC().Format("20060102-150405"))
	}
	if err := os.MkdirAll(s.sessionsDir, 0755); err != nil {
		return "", fmt.Errorf("create sessions directory: %w", err)
	}
	path := filepath.Join(s.sessionsDir, filepath.Base(fileName))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write session artifact: %w", err)
	}
	return path, nil
}

// ImportSession restores a saved session. A rejected artifact leaves the
// live session usable: structural problems are caught before any state
// changes, and an embedded PDF the engines cannot load triggers a reload of
// the previous document.
func (s *Session) ImportSession(ctx context.Context, data []byte) (DocumentInfo, error) {
	artifact, pdfBytes, err := session.Decode(data)
	if err != nil {
		return DocumentInfo{}, err
	}

	phase, _ := s.life.Phase()
	var (
		priorName string
		priorPDF  []byte
		priorAnns []models.Annotation
	)
	restorable := phase == lifecycle.PhaseReady
	if restorable {
		s.mu.Lock()
		priorName = s.name
		priorPDF = append([]byte(nil), s.pdf...)
		s.mu.Unlock()
		priorAnns = s.store.All()
	}

	info, err := s.loadDocument(ctx, artifact.PDF.Name, pdfBytes, artifact.Annotations)
	if err != nil {
		if restorable {
			if _, rerr := s.loadDocument(ctx, priorName, priorPDF, priorAnns); rerr != nil {
				s.logger.Error("restore after rejected import failed", zap.Error(rerr))
			}
		}
		return DocumentInfo{}, fmt.Errorf("import session: %w", err)
	}
	// Page bounds could not be checked before the document was parsed.
	for i := range artifact.Annotations {
		if err := artifact.Annotations[i].Validate(info.Pages); err != nil {
			s.logger.Warn("imported annotation exceeds page range", zap.Error(err))
		}
	}
	return info, nil
}

// ExportAnnotated renders an annotated copy of the source document.
func (s *Session) ExportAnnotated() ([]byte, error) {
	if err := s.life.Guard(); err != nil {
		return nil, err
	}
	if s.marker == nil {
		return nil, errors.New("no document mutation engine configured")
	}
	s.mu.Lock()
	pdf := s.pdf
	s.mu.Unlock()
	return session.ExportAnnotated(s.marker, pdf, s.store.All())
}

// ExportXLSX renders the annotation collection as a spreadsheet.
func (s *Session) ExportXLSX() ([]byte, error) {
	if err := s.life.Guard(); err != nil {
		return nil, err
	}
	return session.ExportXLSX(s.store.All())
}

// Render returns the render controller for page lifecycle operations.
func (s *Session) Render() *render.Controller {
	return s.renderer
}

// Viewport returns the scroll tracker.
func (s *Session) Viewport() *viewport.Tracker {
	return s.tracker
}

// ScrollToAnnotation resolves the scroll offset for an annotation by id.
func (s *Session) ScrollToAnnotation(id string) (float64, error) {
	ann, ok := s.store.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAnnotationNotFound, id)
	}
	return s.tracker.ScrollToAnnotation(ann)
}

// Close releases session resources.
func (s *Session) Close() {
	s.renderer.Close()
	_ = s.search.Close()
}
