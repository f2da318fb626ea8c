package audit

import (
	"context"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore keeps entries in memory; used in tests.
type MemStore struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemStore() *MemStore {
	return &MemStore{}
}

func (s *MemStore) Append(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns a copy of everything appended so far.
func (s *MemStore) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
