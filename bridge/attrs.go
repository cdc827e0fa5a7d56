package bridge

import (
	"sort"
	"sync"
)

// AttrStore holds host-only attributes for one Instance: state the
// native object cannot carry. It is created on the first attribute
// write and never recreated.
type AttrStore struct {
	m  map[string]any
	mu sync.RWMutex
}

func newAttrStore() *AttrStore {
	return &AttrStore{m: make(map[string]any)}
}

// Get returns the value stored under name.
func (s *AttrStore) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[name]
	return v, ok
}

// Set stores value under name, replacing any previous value.
func (s *AttrStore) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[name] = value
}

// Delete removes name and reports whether it was present.
func (s *AttrStore) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.m[name]
	delete(s.m, name)
	return ok
}

// Len returns the number of stored attributes.
func (s *AttrStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Names returns the stored attribute names in sorted order.
func (s *AttrStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.m))
	for name := range s.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
