// Package models defines core data structures for annotations, drafts, and
// session artifacts.
package models

import (
	"fmt"
	"time"
)

// Kind distinguishes the three annotation variants.
type Kind string

const (
	// KindTextHighlight anchors to a text selection, possibly spanning
	// several visual lines.
	KindTextHighlight Kind = "text_highlight"
	// KindRegionCrop anchors to a dragged rectangle and carries a raster
	// snippet of the selected region.
	KindRegionCrop Kind = "region_crop"
	// KindPageNote anchors to a whole page.
	KindPageNote Kind = "page_note"
)

// Annotation is one durable annotation record. Records are created only by
// confirming a draft, mutated only through note edits, and removed only by
// explicit user action.
type Annotation struct {
	ID        string `json:"id"`
	Page      int    `json:"page"` // 1-indexed
	Kind      Kind   `json:"kind"`
	Rect      Rect   `json:"rect"`
	// LineRects holds one rectangle per visual line for multi-line text
	// selections; Rect is their bounding union.
	LineRects []Rect `json:"line_rects,omitempty"`
	// Text is the captured text of a highlight selection.
	Text string `json:"text,omitempty"`
	// ImageBase64 is the captured raster snippet of a region crop.
	ImageBase64 string `json:"image_base64,omitempty"`
	Question    string `json:"question,omitempty"`
	// Response is the AI-generated answer; empty for manual annotations.
	Response string `json:"response,omitempty"`
	// Note is free text, independently editable after creation.
	Note string `json:"note"`
	// Provider records which AI backend produced Response. Absent means
	// the annotation is manual-only.
	Provider  string    `json:"provider,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks structural invariants. totalPages of 0 skips the page
// upper-bound check (used when the page count is not known yet).
func (a *Annotation) Validate(totalPages int) error {
	if a.ID == "" {
		return fmt.Errorf("annotation has no id")
	}
	if a.Page < 1 {
		return fmt.Errorf("annotation %s: page %d out of range", a.ID, a.Page)
	}
	if totalPages > 0 && a.Page > totalPages {
		return fmt.Errorf("annotation %s: page %d out of range (document has %d)", a.ID, a.Page, totalPages)
	}
	switch a.Kind {
	case KindTextHighlight, KindRegionCrop, KindPageNote:
	default:
		return fmt.Errorf("annotation %s: unknown kind %q", a.ID, a.Kind)
	}
	if !a.Rect.Valid() {
		return fmt.Errorf("annotation %s: rect out of unit square", a.ID)
	}
	for i, r := range a.LineRects {
		if !r.Valid() {
			return fmt.Errorf("annotation %s: line rect %d out of unit square", a.ID, i)
		}
	}
	// A response always carries its provider tag, and a manual annotation
	// carries neither.
	if (a.Response != "") != (a.Provider != "") {
		return fmt.Errorf("annotation %s: response and provider must be set together", a.ID)
	}
	return nil
}

// Draft is the single transient annotation-in-progress. It has the shape of
// an Annotation minus identity, timestamp, and provider fields; it is promoted
// to an Annotation on confirm and discarded on cancel.
type Draft struct {
	Page        int    `json:"page"`
	Kind        Kind   `json:"kind"`
	Rect        Rect   `json:"rect"`
	LineRects   []Rect `json:"line_rects,omitempty"`
	Text        string `json:"text,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
	Question    string `json:"question,omitempty"`
	Note        string `json:"note,omitempty"`
}
