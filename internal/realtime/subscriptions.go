// ABOUTME: Reference-counted conversation subscriptions
// ABOUTME: Join goes out on the first reference, leave only when the last is released

package realtime

import (
	"slices"
	"sync"
)

// Subscriptions counts how many views reference each conversation. The
// server sees at most one join per conversation per agent.
type Subscriptions struct {
	mu     sync.Mutex
	counts map[string]int
}

// NewSubscriptions creates an empty set.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{counts: make(map[string]int)}
}

// Acquire adds a reference and reports whether it was the first.
func (s *Subscriptions) Acquire(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counts[conversationID]++
	return s.counts[conversationID] == 1
}

// Release drops a reference and reports whether it was the last. Releasing
// a conversation with no references is a no-op returning false.
func (s *Subscriptions) Release(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.counts[conversationID]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(s.counts, conversationID)
		return true
	}
	s.counts[conversationID] = n - 1
	return false
}

// Count returns the number of references held for a conversation.
func (s *Subscriptions) Count(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[conversationID]
}

// Active returns every conversation with at least one reference, sorted.
func (s *Subscriptions) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.counts))
	for id := range s.counts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Reset drops every reference.
func (s *Subscriptions) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.counts)
}
