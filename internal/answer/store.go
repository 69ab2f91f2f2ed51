// Package answer holds a student's in-progress selections and review flags.
package answer

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Store holds the current answer map and flag set. It performs no validation.
type Store struct {
	mu      sync.RWMutex
	answers map[uuid.UUID]string
	flags   map[int]struct{}
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		answers: make(map[uuid.UUID]string),
		flags:   make(map[int]struct{}),
	}
}

// SelectOption records label as the answer for questionID, replacing any
// earlier selection.
func (s *Store) SelectOption(questionID uuid.UUID, label string) {
	s.mu.Lock()
	s.answers[questionID] = label
	s.mu.Unlock()
}

// ToggleFlag flips the review flag of the question at index and returns the
// new membership.
func (s *Store) ToggleFlag(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.flags[index]; ok {
		delete(s.flags, index)
		return false
	}
	s.flags[index] = struct{}{}
	return true
}

// Flagged reports whether the question at index is marked for review.
func (s *Store) Flagged(index int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.flags[index]
	return ok
}

// Flags returns the flagged indices in ascending order.
func (s *Store) Flags() []int {
	s.mu.RLock()
	out := make([]int, 0, len(s.flags))
	for i := range s.flags {
		out = append(out, i)
	}
	s.mu.RUnlock()
	sort.Ints(out)
	return out
}

// Answer returns the current selection for questionID.
func (s *Store) Answer(questionID uuid.UUID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	label, ok := s.answers[questionID]
	return label, ok
}

// Len returns the number of answered questions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.answers)
}

// Snapshot returns a copy of the answers that later selections do not touch.
func (s *Store) Snapshot() model.Answers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(model.Answers, len(s.answers))
	for k, v := range s.answers {
		out[k] = v
	}
	return out
}
