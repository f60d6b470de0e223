package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteHistory_RecordAndList(t *testing.T) {
	dir := t.TempDir()
	h, err := NewSQLiteHistory(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := h.Record(ctx, Entry{DocID: "d1", Name: "paper.pdf", Pages: 12, OpenedAt: base}); err != nil {
		t.Fatal(err)
	}
	if err := h.Record(ctx, Entry{DocID: "d2", Name: "slides.pdf", Pages: 40, OpenedAt: base.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}

	list, err := h.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	if list[0].DocID != "d2" || list[1].DocID != "d1" {
		t.Errorf("order = %s, %s; want d2, d1", list[0].DocID, list[1].DocID)
	}

	// Reopening d1 moves it to the top.
	if err := h.Record(ctx, Entry{DocID: "d1", Name: "paper.pdf", Pages: 12, OpenedAt: base.Add(2 * time.Hour)}); err != nil {
		t.Fatal(err)
	}
	list, err = h.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].DocID != "d1" {
		t.Errorf("after reopen, list = %+v", list)
	}
}

func TestSQLiteHistory_AnnotationCount(t *testing.T) {
	dir := t.TempDir()
	h, err := NewSQLiteHistory(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	ctx := context.Background()

	if err := h.Record(ctx, Entry{DocID: "d1", Name: "paper.pdf", Pages: 3}); err != nil {
		t.Fatal(err)
	}
	if err := h.SetAnnotationCount(ctx, "d1", 7); err != nil {
		t.Fatal(err)
	}

	got, err := h.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AnnotationCount != 7 {
		t.Errorf("annotation count = %d, want 7", got.AnnotationCount)
	}

	// Re-recording keeps the stored count.
	if err := h.Record(ctx, Entry{DocID: "d1", Name: "paper.pdf", Pages: 3}); err != nil {
		t.Fatal(err)
	}
	got, err = h.Get(ctx, "d1")
	if err != nil {
		t.Fatal(err)
	}
	if got.AnnotationCount != 7 {
		t.Errorf("annotation count after re-record = %d, want 7", got.AnnotationCount)
	}

	if _, err := h.Get(ctx, "missing"); err == nil {
		t.Error("expected error for unknown doc id")
	}
}

func TestSQLiteHistory_ListLimit(t *testing.T) {
	dir := t.TempDir()
	h, err := NewSQLiteHistory(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := Entry{
			DocID:    string(rune('a' + i)),
			Name:     "doc.pdf",
			Pages:    1,
			OpenedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := h.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	list, err := h.List(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 entries, got %d", len(list))
	}
	if list[0].DocID != "e" {
		t.Errorf("newest = %s, want e", list[0].DocID)
	}
}
