// Package lifecycle tracks the document engine's readiness so handlers can
// refuse work until a document has finished loading.
package lifecycle

import (
	"errors"
	"sync"
)

// Phase is the engine readiness phase.
type Phase int

const (
	// PhaseUninitialized means no document load has been attempted yet.
	PhaseUninitialized Phase = iota
	// PhaseLoading means a document load is in progress.
	PhaseLoading
	// PhaseReady means the active document loaded and can serve requests.
	PhaseReady
	// PhaseFailed means the last load failed; the error is retained.
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrNotReady is returned by Guard when the engine cannot serve requests.
var ErrNotReady = errors.New("document engine not ready")

// ErrLoadInProgress is returned by BeginLoad when a load is already running.
var ErrLoadInProgress = errors.New("document load already in progress")

// State is a concurrency-safe readiness tracker.
type State struct {
	mu    sync.Mutex
	phase Phase
	err   error
}

// New creates a tracker in PhaseUninitialized.
func New() *State {
	return &State{}
}

// BeginLoad moves to PhaseLoading. Only one load may run at a time; starting
// a new load clears a previous failure.
func (s *State) BeginLoad() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseLoading {
		return ErrLoadInProgress
	}
	s.phase = PhaseLoading
	s.err = nil
	return nil
}

// Succeed moves from PhaseLoading to PhaseReady.
func (s *State) Succeed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseLoading {
		s.phase = PhaseReady
	}
}

// Fail moves from PhaseLoading to PhaseFailed and records the cause.
func (s *State) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseLoading {
		s.phase = PhaseFailed
		s.err = err
	}
}

// Phase returns the current phase and, for PhaseFailed, the load error.
func (s *State) Phase() (Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.err
}

// Guard returns nil only when the engine is ready. A failed engine reports
// the load error wrapped under ErrNotReady.
func (s *State) Guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.phase {
	case PhaseReady:
		return nil
	case PhaseFailed:
		if s.err != nil {
			return errors.Join(ErrNotReady, s.err)
		}
		return ErrNotReady
	default:
		return ErrNotReady
	}
}
