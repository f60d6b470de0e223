// Package store holds the ordered in-memory annotation collection.
package store

import (
	"sync"

	"github.com/google/uuid"

	"github.com/margolab/margo/internal/models"
)

// EventType identifies a store mutation for change listeners.
type EventType int

const (
	// EventAdded fires after Append.
	EventAdded EventType = iota
	// EventNoteUpdated fires after a successful UpdateNote.
	EventNoteUpdated
	// EventRemoved fires after a successful Remove.
	EventRemoved
	// EventReplaced fires after Replace or Clear; Annotation is unset.
	EventReplaced
)

// Event describes a single store mutation.
type Event struct {
	Type       EventType
	Annotation models.Annotation // set for Added and NoteUpdated
	ID         string
}

// Store is the ordered annotation collection. Append order is display order,
// independent of page numbers. The interaction layer is the single logical
// writer; the mutex only guards against concurrent readers (HTTP handlers).
type Store struct {
	mu       sync.RWMutex
	anns     []models.Annotation
	onChange func(Event)
}

// Option configures a Store.
type Option func(*Store)

// WithListener registers a change listener, invoked synchronously from the
// mutating call after the mutation is applied.
func WithListener(fn func(Event)) Option {
	return func(s *Store) { s.onChange = fn }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewID returns a fresh annotation identifier. UUIDs guarantee uniqueness
// independent of clock resolution, unlike timestamp-derived ids.
func NewID() string {
	return uuid.New().String()
}

// Append adds a record to the end of the collection.
func (s *Store) Append(a models.Annotation) {
	s.mu.Lock()
	s.anns = append(s.anns, a)
	s.mu.Unlock()
	s.notify(Event{Type: EventAdded, Annotation: a, ID: a.ID})
}

// UpdateNote replaces the free-text note of the matching record. It reports
// whether a record was updated; a missing id is a no-op.
func (s *Store) UpdateNote(id, note string) bool {
	s.mu.Lock()
	var updated *models.Annotation
	for i := range s.anns {
		if s.anns[i].ID == id {
			s.anns[i].Note = note
			a := s.anns[i]
			updated = &a
			break
		}
	}
	s.mu.Unlock()
	if updated == nil {
		return false
	}
	s.notify(Event{Type: EventNoteUpdated, Annotation: *updated, ID: id})
	return true
}

// Remove deletes the matching record, reporting whether one was found.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	found := false
	for i := range s.anns {
		if s.anns[i].ID == id {
			s.anns = append(s.anns[:i], s.anns[i+1:]...)
			found = true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return false
	}
	s.notify(Event{Type: EventRemoved, ID: id})
	return true
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (models.Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.anns {
		if a.ID == id {
			return a, true
		}
	}
	return models.Annotation{}, false
}

// ByPage returns the records on the given page, preserving append order.
func (s *Store) ByPage(page int) []models.Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Annotation
	for _, a := range s.anns {
		if a.Page == page {
			out = append(out, a)
		}
	}
	return out
}

// All returns a snapshot copy of the whole collection in append order.
func (s *Store) All() []models.Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Annotation, len(s.anns))
	copy(out, s.anns)
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.anns)
}

// Replace swaps the whole collection atomically. Used by session import and
// document reload, which never merge into existing records.
func (s *Store) Replace(anns []models.Annotation) {
	cp := make([]models.Annotation, len(anns))
	copy(cp, anns)
	s.mu.Lock()
	s.anns = cp
	s.mu.Unlock()
	s.notify(Event{Type: EventReplaced})
}

// Clear removes all records.
func (s *Store) Clear() {
	s.Replace(nil)
}

func (s *Store) notify(ev Event) {
	if s.onChange != nil {
		s.onChange(ev)
	}
}
