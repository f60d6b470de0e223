package docengine

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/ledongthuc/pdf"

	"github.com/margolab/margo/internal/render"
)

// PDF points per inch.
const pointsPerInch = 72.0

// TextSource extracts the positioned text layer of the active document. It
// implements render.TextSource.
type TextSource struct {
	mu     sync.Mutex
	reader *pdf.Reader
	pages  int
}

// NewTextSource creates an empty text source; load a document with
// SetDocument before requesting pages.
func NewTextSource() *TextSource {
	return &TextSource{}
}

// SetDocument parses the given PDF and replaces the active document.
func (s *TextSource) SetDocument(pdfBytes []byte) error {
	r, err := pdf.NewReader(bytes.NewReader(pdfBytes), int64(len(pdfBytes)))
	if err != nil {
		return fmt.Errorf("open PDF: %w", err)
	}
	s.mu.Lock()
	s.reader = r
	s.pages = r.NumPage()
	s.mu.Unlock()
	return nil
}

// PageCount returns the number of pages in the active document.
func (s *TextSource) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages
}

// PageText implements render.TextSource. Coordinates are emitted in pixels at
// the given scale, with the origin at the top-left corner to match the
// raster layer.
func (s *TextSource) PageText(ctx context.Context, page int, scale float64) ([]render.TextItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	reader := s.reader
	pages := s.pages
	s.mu.Unlock()
	if reader == nil {
		return nil, fmt.Errorf("no document loaded")
	}
	if page < 1 || page > pages {
		return nil, fmt.Errorf("page %d out of range 1..%d", page, pages)
	}

	p := reader.Page(page)
	if p.V.IsNull() {
		return nil, nil
	}
	_, pageHeight := pageSizePoints(p)
	if scale <= 0 {
		scale = 1.0
	}
	k := scale * baseDPI / pointsPerInch

	content := p.Content()
	items := make([]render.TextItem, 0, len(content.Text))
	for _, t := range content.Text {
		if t.S == "" {
			continue
		}
		items = append(items, render.TextItem{
			X:    t.X * k,
			Y:    (pageHeight - t.Y) * k,
			Text: t.S,
		})
	}
	return items, nil
}

// PlainText returns the whole page's text, used as fallback question context
// when no selection rectangles survive normalization.
func (s *TextSource) PlainText(page int) (string, error) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()
	if reader == nil {
		return "", fmt.Errorf("no document loaded")
	}
	p := reader.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("extract page %d: %w", page, err)
	}
	return text, nil
}

// pageSizePoints reads the page MediaBox, falling back to US Letter when the
// entry is missing or inherited.
func pageSizePoints(p pdf.Page) (w, h float64) {
	w, h = 612, 792
	box := p.V.Key("MediaBox")
	if box.IsNull() || box.Len() != 4 {
		return w, h
	}
	llx, lly := box.Index(0).Float64(), box.Index(1).Float64()
	urx, ury := box.Index(2).Float64(), box.Index(3).Float64()
	if urx > llx && ury > lly {
		w, h = urx-llx, ury-lly
	}
	return w, h
}
