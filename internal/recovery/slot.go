package recovery

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClaimHeld is returned when a second claim is taken while one is outstanding.
var ErrClaimHeld = errors.New("a claim is already held by this process")

// Slot owns the identifier currently claimed by this process. The worker loop
// and the termination handler both resolve claims through Take, so whichever
// runs first wins and the other sees an empty slot.
type Slot struct {
	mu   sync.Mutex
	id   string
	held bool
}

// Hold records id as the outstanding claim.
func (s *Slot) Hold(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		return fmt.Errorf("hold %q: %w (current %q)", id, ErrClaimHeld, s.id)
	}
	s.id, s.held = id, true
	return nil
}

// Take empties the slot and returns what it held.
func (s *Slot) Take() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, held := s.id, s.held
	s.id, s.held = "", false
	return id, held
}

// Current peeks at the held identifier without clearing it.
func (s *Slot) Current() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.held
}
