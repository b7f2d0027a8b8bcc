// Package evalstore holds the held-out frames candidate models are
// scored against. Trajectories accumulate in a buffer; each flush
// freezes the buffer as a new version, so older versions stay exact
// prefixes of newer ones.
package evalstore

import (
	"sync"

	"github.com/understudy-ai/understudy-backend/internal/platform/svcerr"
	"github.com/understudy-ai/understudy-backend/internal/trainer"
)

// Store is an append-only versioned trajectory set. Version ids are
// dense and start at 1. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	buffer   []trainer.Frame
	versions [][]trainer.Frame
}

func New() *Store {
	return &Store{}
}

// AddTrajectory appends a batched trajectory to the current buffer.
func (s *Store) AddTrajectory(frames []trainer.Frame) error {
	if len(frames) == 0 {
		return svcerr.InvalidArgument("trajectory has no frames; the batch dimension is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, frames...)
	return nil
}

// CreateVersion freezes the buffer into a new version and returns its
// id. With an empty buffer it returns the latest existing id; with an
// entirely empty store it returns ok false.
func (s *Store) CreateVersion() (version int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) == 0 {
		if len(s.versions) == 0 {
			return 0, false
		}
		return len(s.versions), true
	}
	s.versions = append(s.versions, s.buffer)
	s.buffer = nil
	return len(s.versions), true
}

// LatestVersion returns the newest version id, or ok false when no
// version exists yet.
func (s *Store) LatestVersion() (version int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.versions) == 0 {
		return 0, false
	}
	return len(s.versions), true
}

// GetVersion returns the concatenation of every delta up to and
// including v.
func (s *Store) GetVersion(v int) ([]trainer.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v < 1 || v > len(s.versions) {
		return nil, svcerr.NotFound("eval version %d (have %d)", v, len(s.versions))
	}
	var out []trainer.Frame
	for _, delta := range s.versions[:v] {
		out = append(out, delta...)
	}
	return out, nil
}

// Delta is one version's own frames, excluding its predecessors.
type Delta struct {
	Version int
	Size    int
	Frames  []trainer.Frame
}

// GetVersionDeltas enumerates the deltas in version order.
func (s *Store) GetVersionDeltas() []Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delta, len(s.versions))
	for i, delta := range s.versions {
		out[i] = Delta{Version: i + 1, Size: len(delta), Frames: delta}
	}
	return out
}

// Clear drops every version and the buffer.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = nil
	s.versions = nil
}
