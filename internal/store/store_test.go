package store

import (
	"testing"
	"time"

	"github.com/margolab/margo/internal/models"
)

func mkAnn(id string, page int) models.Annotation {
	return models.Annotation{
		ID:        id,
		Page:      page,
		Kind:      models.KindPageNote,
		Rect:      models.Rect{X: 0.1, Y: 0.1, W: 0.2, H: 0.2},
		CreatedAt: time.Now(),
	}
}

func TestAppendByPageOrder(t *testing.T) {
	s := New()
	s.Append(mkAnn("a", 2))
	s.Append(mkAnn("b", 1))
	s.Append(mkAnn("c", 2))
	s.Append(mkAnn("d", 3))

	got := s.ByPage(2)
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("ByPage(2) = %v", ids(got))
	}
	if all := s.All(); len(all) != 4 || all[0].ID != "a" || all[3].ID != "d" {
		t.Errorf("All() = %v", ids(all))
	}
	if s.Len() != 4 {
		t.Errorf("Len() = %d", s.Len())
	}
}

func TestRemove(t *testing.T) {
	s := New()
	s.Append(mkAnn("a", 1))
	s.Append(mkAnn("b", 1))

	if !s.Remove("a") {
		t.Fatal("Remove(a) = false")
	}
	for _, page := range []int{1, 2, 3} {
		for _, a := range s.ByPage(page) {
			if a.ID == "a" {
				t.Errorf("removed record still on page %d", page)
			}
		}
	}
	if s.Remove("a") {
		t.Error("second Remove(a) = true")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestUpdateNote(t *testing.T) {
	s := New()
	s.Append(mkAnn("a", 1))

	if !s.UpdateNote("a", "revised") {
		t.Fatal("UpdateNote(a) = false")
	}
	a, ok := s.Get("a")
	if !ok || a.Note != "revised" {
		t.Errorf("Get(a) = %+v, %v", a, ok)
	}
	if s.UpdateNote("missing", "x") {
		t.Error("UpdateNote on absent id reported true")
	}
}

func TestReplaceAndClear(t *testing.T) {
	s := New()
	s.Append(mkAnn("a", 1))
	s.Replace([]models.Annotation{mkAnn("x", 4), mkAnn("y", 4)})
	if got := ids(s.All()); len(got) != 2 || got[0] != "x" {
		t.Errorf("after Replace: %v", got)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("after Clear: Len() = %d", s.Len())
	}
}

func TestListenerEvents(t *testing.T) {
	var events []EventType
	s := New(WithListener(func(ev Event) { events = append(events, ev.Type) }))

	s.Append(mkAnn("a", 1))
	s.UpdateNote("a", "n")
	s.UpdateNote("missing", "n") // no event
	s.Remove("a")
	s.Remove("a") // no event
	s.Clear()

	want := []EventType{EventAdded, EventNoteUpdated, EventRemoved, EventReplaced}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, events[i], want[i])
		}
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func ids(anns []models.Annotation) []string {
	out := make([]string, len(anns))
	for i, a := range anns {
		out[i] = a.ID
	}
	return out
}
