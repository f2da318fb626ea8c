package superadmin

import (
	"context"
	"sync"
	"time"
)

// MemStore is the in-memory Store used by tests and local development.
type MemStore struct {
	mu        sync.Mutex
	admins    map[string]*User    // by user id
	sessions  map[string]*Session // by session id
	windows   map[string]*window  // by user id + "/" + bucket
	allowlist map[string]string   // ip -> note
}

type window struct {
	start time.Time
	count int
}

func NewMemStore() *MemStore {
	return &MemStore{
		admins:    make(map[string]*User),
		sessions:  make(map[string]*Session),
		windows:   make(map[string]*window),
		allowlist: make(map[string]string),
	}
}

func (m *MemStore) CreateAdmin(_ context.Context, admin *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *admin
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	m.admins[cp.UserID] = &cp
	return nil
}

func (m *MemStore) FindAdmin(_ context.Context, userID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	admin, ok := m.admins[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *admin
	return &cp, nil
}

func (m *MemStore) SetAdminActive(_ context.Context, userID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	admin, ok := m.admins[userID]
	if !ok {
		return ErrNotFound
	}
	admin.IsActive = active
	admin.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemStore) CountActiveAdmins(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, admin := range m.admins {
		if admin.IsActive {
			n++
		}
	}
	return n, nil
}

func (m *MemStore) RecordAccess(_ context.Context, userID, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	admin, ok := m.admins[userID]
	if !ok {
		return ErrNotFound
	}
	admin.LastAccessIP = ip
	admin.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemStore) ReplaceSessions(_ context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := sess.CreatedAt
	for _, existing := range m.sessions {
		if existing.UserID == sess.UserID && existing.RevokedAt == nil {
			at := now
			existing.RevokedAt = &at
			existing.RevokedReason = ReasonNewSession
		}
	}
	cp := *sess
	m.sessions[cp.ID] = &cp
	return nil
}

func (m *MemStore) FindSession(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (m *MemStore) FindSessionByTokenHash(_ context.Context, tokenHash string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		if sess.TokenHash == tokenHash {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) RevokeSession(_ context.Context, id string, at time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || sess.RevokedAt != nil {
		return nil
	}
	sess.RevokedAt = &at
	sess.RevokedReason = reason
	return nil
}

func (m *MemStore) RevokeAllSessions(_ context.Context, userID string, at time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range m.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			t := at
			sess.RevokedAt = &t
			sess.RevokedReason = reason
		}
	}
	return nil
}

func (m *MemStore) TouchSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastActivityAt = at
	return nil
}

func (m *MemStore) SetMFAChallenge(_ context.Context, sessionID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.MFAChallengeExpiresAt = &expiresAt
	sess.MFAVerified = false
	return nil
}

func (m *MemStore) MarkMFAVerified(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	sess.MFAVerified = true
	sess.MFAChallengeExpiresAt = nil
	return nil
}

func (m *MemStore) IncrementWindow(_ context.Context, userID, bucket string, now, resetBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + "/" + bucket
	w, ok := m.windows[key]
	if !ok || !w.start.After(resetBefore) {
		m.windows[key] = &window{start: now, count: 1}
		return 1, nil
	}
	w.count++
	return w.count, nil
}

func (m *MemStore) AllowlistStatus(_ context.Context, ip string) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, listed := m.allowlist[ip]
	return len(m.allowlist), listed, nil
}

func (m *MemStore) AddAllowlistEntry(_ context.Context, ip, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowlist[ip] = note
	return nil
}
