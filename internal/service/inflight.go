package service

import "sync"

// InflightSet tracks instructions that are currently executing. At most one
// execution per instruction may hold the flag.
type InflightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewInflightSet creates an empty set.
func NewInflightSet() *InflightSet {
	return &InflightSet{ids: make(map[string]struct{})}
}

// TryAcquire marks id as in flight and reports whether the caller won it.
func (s *InflightSet) TryAcquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.ids[id]; busy {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Release clears the in-flight mark of id.
func (s *InflightSet) Release(id string) {
	s.mu.Lock()
	delete(s.ids, id)
	s.mu.Unlock()
}

// Contains reports whether id is in flight.
func (s *InflightSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of executions in flight.
func (s *InflightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}
