// Package pdfmark is the document-mutation engine: it draws annotation
// anchors and textual markers into a PDF and serializes the result, leaving
// the source bytes untouched.
package pdfmark

import (
	"bytes"
	"fmt"

	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/pagetree"

	"github.com/margolab/margo/internal/models"
)

// markerWidth and markerHeight size the free-text marker box placed beside
// each anchor, in PDF points.
const (
	markerWidth  = 160.0
	markerHeight = 14.0
)

// Engine implements annotated-document export on an in-memory PDF copy.
type Engine struct{}

// New creates the mutation engine.
func New() *Engine {
	return &Engine{}
}

// Apply draws every annotation's anchor shape(s) and a text marker into a
// copy of src and returns the new document bytes. Fractional rectangles are
// converted against each output page's actual dimensions, which may differ
// from the capture-time render scale; the fractions are resolution
// independent so the anchors land on the same logical regions.
func (e *Engine) Apply(src []byte, anns []models.Annotation) ([]byte, error) {
	data, err := pdf.Read(bytes.NewReader(src), nil)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	refs, err := pagetree.FindPages(data)
	if err != nil {
		return nil, fmt.Errorf("find pages: %w", err)
	}

	byPage := make(map[int][]int)
	for i, a := range anns {
		if a.Page < 1 || a.Page > len(refs) {
			return nil, fmt.Errorf("annotation %s: page %d out of range (document has %d)", a.ID, a.Page, len(refs))
		}
		byPage[a.Page] = append(byPage[a.Page], i)
	}

	for page, indices := range byPage {
		pageRef := refs[page-1]
		pageDict, err := pdf.GetDict(data, pageRef)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		box, err := mediaBox(data, page-1, pageDict)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		annots, err := pdf.GetArray(data, pageDict["Annots"])
		if err != nil {
			return nil, fmt.Errorf("page %d annots: %w", page, err)
		}
		for _, i := range indices {
			a := anns[i]
			label := markerLabel(i+1, a)
			for _, r := range anchorRects(a) {
				ref := data.Alloc()
				if err := data.Put(ref, squareDict(toPageRect(r, box), a)); err != nil {
					return nil, fmt.Errorf("page %d: %w", page, err)
				}
				annots = append(annots, ref)
			}
			ref := data.Alloc()
			if err := data.Put(ref, markerDict(toPageRect(a.Rect, box), label)); err != nil {
				return nil, fmt.Errorf("page %d: %w", page, err)
			}
			annots = append(annots, ref)
		}
		pageDict["Annots"] = annots
		if err := data.Put(pageRef, pageDict); err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
	}

	var buf bytes.Buffer
	if err := data.Write(&buf); err != nil {
		return nil, fmt.Errorf("write document: %w", err)
	}
	return buf.Bytes(), nil
}

// anchorRects returns the rectangles to outline: the per-line sub-rects of a
// multi-line highlight, or the primary rect otherwise.
func anchorRects(a models.Annotation) []models.Rect {
	if len(a.LineRects) > 0 {
		return a.LineRects
	}
	return []models.Rect{a.Rect}
}

// mediaBox resolves the page's media box, falling back to the inherited
// value from the page tree and finally to US Letter.
func mediaBox(data *pdf.Data, pageNo int, pageDict pdf.Dict) (*pdf.Rectangle, error) {
	box, err := pdf.GetRectangle(data, pageDict["MediaBox"])
	if err != nil {
		return nil, err
	}
	if box == nil {
		inherited, err := pagetree.GetPage(data, pageNo)
		if err != nil {
			return nil, err
		}
		box, err = pdf.GetRectangle(data, inherited["MediaBox"])
		if err != nil {
			return nil, err
		}
	}
	if box == nil {
		box = &pdf.Rectangle{LLx: 0, LLy: 0, URx: 612, URy: 792}
	}
	return box, nil
}

// toPageRect converts a fractional rect to PDF page coordinates. Fractional
// y runs downward from the page top while PDF y runs upward, so the vertical
// axis flips.
func toPageRect(r models.Rect, box *pdf.Rectangle) *pdf.Rectangle {
	w := box.URx - box.LLx
	h := box.URy - box.LLy
	llx := box.LLx + r.X*w
	ury := box.URy - r.Y*h
	return &pdf.Rectangle{
		LLx: llx,
		LLy: ury - r.H*h,
		URx: llx + r.W*w,
		URy: ury,
	}
}

func squareDict(rect *pdf.Rectangle, a models.Annotation) pdf.Dict {
	return pdf.Dict{
		"Type":    pdf.Name("Annot"),
		"Subtype": pdf.Name("Square"),
		"Rect":    rect,
		"C":       pdf.Array{pdf.Real(0.85), pdf.Real(0.35), pdf.Real(0.0)},
		"CA":      pdf.Real(0.8),
		"F":       pdf.Integer(4), // print
		"Contents": pdf.TextString(a.Note),
	}
}

func markerDict(anchor *pdf.Rectangle, label string) pdf.Dict {
	// Place the marker box just above the anchor's top-left corner.
	rect := &pdf.Rectangle{
		LLx: anchor.LLx,
		LLy: anchor.URy,
		URx: anchor.LLx + markerWidth,
		URy: anchor.URy + markerHeight,
	}
	return pdf.Dict{
		"Type":     pdf.Name("Annot"),
		"Subtype":  pdf.Name("FreeText"),
		"Rect":     rect,
		"Contents": pdf.TextString(label),
		"DA":       pdf.String("/Helv 9 Tf 0.85 0.35 0 rg"),
		"F":        pdf.Integer(4),
	}
}

// markerLabel is the index number plus the note when one exists.
func markerLabel(n int, a models.Annotation) string {
	if a.Note != "" {
		return fmt.Sprintf("[%d] %s", n, truncate(a.Note, 80))
	}
	return fmt.Sprintf("[%d]", n)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
