package engine

import (
	"sort"
	"sync"
)

// Session tracks the hosts that failed in earlier runs so later runs can be
// scoped to them, or away from them. Engines derived with Filter share their
// parent's session.
type Session struct {
	mu     sync.RWMutex
	failed map[string]struct{}
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{failed: make(map[string]struct{})}
}

// FailedHosts returns the failed host names, sorted.
func (s *Session) FailedHosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.failed))
	for name := range s.failed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsFailed reports whether host is in the failed set.
func (s *Session) IsFailed(host string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.failed[host]
	return ok
}

// MarkFailed adds hosts to the failed set.
func (s *Session) MarkFailed(hosts ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range hosts {
		s.failed[h] = struct{}{}
	}
}

// RecoverHost removes host from the failed set.
func (s *Session) RecoverHost(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failed, host)
}

// Reset empties the failed set.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = make(map[string]struct{})
}

// Len returns the number of failed hosts.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.failed)
}
