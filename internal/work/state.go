package work

import (
	"sync"
)

// ChangeEvent is emitted when State replaces its item.
type ChangeEvent struct {
	Previous    Item
	HadPrevious bool
	Current     Item
}

// ChangeFunc receives job change events. It runs on the goroutine that
// called Refresh, after the lock is released.
type ChangeFunc func(ChangeEvent)

// State holds the current job. Reads return copies; the held item is only
// ever replaced whole.
type State struct {
	mu        sync.RWMutex
	item      Item
	set       bool
	changes   uint64
	listeners []ChangeFunc
}

// NewState creates an empty State. Current reports false until the first
// successful Refresh.
func NewState() *State {
	return &State{}
}

// Current returns a copy of the current item.
func (s *State) Current() (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.item, s.set
}

// Read returns a copy of the current item, or the zero Item when none has
// been set.
func (s *State) Read() Item {
	item, _ := s.Current()
	return item
}

// Changes returns how many times the item has been replaced.
func (s *State) Changes() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changes
}

// OnChange registers fn to be called on every change.
func (s *State) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Refresh installs candidate if its challenge differs from the current one.
// Candidates that cannot be searched are rejected and the current item is
// kept. changed reports whether a replacement happened.
func (s *State) Refresh(candidate Item) (changed bool, err error) {
	if err := candidate.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.set && s.item.Challenge == candidate.Challenge {
		s.mu.Unlock()
		return false, nil
	}

	event := ChangeEvent{
		Previous:    s.item,
		HadPrevious: s.set,
		Current:     candidate,
	}
	s.item = candidate
	s.set = true
	s.changes++
	listeners := make([]ChangeFunc, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
	return true, nil
}
