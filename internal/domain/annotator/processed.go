package annotator

import (
	"runtime"
	"sync"
	"weak"

	"golang.org/x/net/html"
)

// ProcessedSet records rewritten text nodes by identity without keeping
// them alive. Entries disappear on their own once a node is collected.
//
// A node keeps its slot after Clear so that re-adding it does not register
// a second cleanup; only the membership flag is reset.
type ProcessedSet struct {
	mu       sync.Mutex
	nodes    map[weak.Pointer[html.Node]]bool
	members  int
	cleanups int
}

// NewProcessedSet creates an empty set.
func NewProcessedSet() *ProcessedSet {
	return &ProcessedSet{nodes: make(map[weak.Pointer[html.Node]]bool)}
}

// Add registers n. Adding a node twice is a no-op.
func (s *ProcessedSet) Add(n *html.Node) {
	if n == nil {
		return
	}
	wp := weak.Make(n)

	s.mu.Lock()
	member, tracked := s.nodes[wp]
	if member {
		s.mu.Unlock()
		return
	}
	s.nodes[wp] = true
	s.members++
	if tracked {
		s.mu.Unlock()
		return
	}
	s.cleanups++
	s.mu.Unlock()

	runtime.AddCleanup(n, s.remove, wp)
}

// Has reports whether n was registered and not cleared since.
func (s *ProcessedSet) Has(n *html.Node) bool {
	if n == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[weak.Make(n)]
}

// Len returns the number of live entries.
func (s *ProcessedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members
}

// Clear forgets every entry.
func (s *ProcessedSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for wp := range s.nodes {
		s.nodes[wp] = false
	}
	s.members = 0
}

func (s *ProcessedSet) remove(wp weak.Pointer[html.Node]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nodes[wp] {
		s.members--
	}
	delete(s.nodes, wp)
	s.cleanups--
}
