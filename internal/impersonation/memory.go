package impersonation

import (
	"context"
	"sync"
	"time"
)

// MemStore is the in-memory Store used by tests and local development.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*Session)}
}

func (m *MemStore) Replace(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.SuperAdminID == sess.SuperAdminID && existing.EndedAt == nil {
			at := sess.CreatedAt
			existing.EndedAt = &at
			existing.EndReason = EndReasonNewSession
		}
	}
	cp := *sess
	m.sessions[cp.ID] = &cp
	return nil
}

func (m *MemStore) Find(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *MemStore) End(_ context.Context, id string, at time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.EndedAt != nil {
		return ErrNotFound
	}
	sess.EndedAt = &at
	sess.EndReason = reason
	return nil
}

func (m *MemStore) ExpireOverdue(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sess := range m.sessions {
		if sess.EndedAt == nil && !sess.ExpiresAt.After(now) {
			at := now
			sess.EndedAt = &at
			sess.EndReason = EndReasonExpired
			n++
		}
	}
	return n, nil
}
