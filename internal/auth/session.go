package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"gatehouse/internal/crypto"
	"gatehouse/internal/obs"
)

// SessionManager owns the ordinary session lifecycle. It has no side effects
// beyond the session rows; clearing client-held credentials is the caller's
// job.
type SessionManager struct {
	store Store
	now   func() time.Time
}

func NewSessionManager(store Store) *SessionManager {
	return &SessionManager{store: store, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (m *SessionManager) WithClock(fn func() time.Time) *SessionManager {
	if fn != nil {
		m.now = fn
	}
	return m
}

// CreateSession issues a new session for the user. The raw token is returned
// once and never stored; the row keeps only its digest.
func (m *SessionManager) CreateSession(ctx context.Context, userID, orgID string, meta RequestMeta) (*Session, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, "", errors.New("auth: user id is required")
	}
	raw, err := crypto.NewToken()
	if err != nil {
		return nil, "", err
	}
	now := m.now().UTC()
	sess := &Session{
		UserID:         userID,
		OrganizationID: strings.TrimSpace(orgID),
		TokenHash:      crypto.HashToken(raw),
		ExpiresAt:      now.Add(SessionTTL),
		IP:             meta.IP,
		UserAgent:      meta.UserAgent,
		CreatedAt:      now,
	}
	if err := m.store.Sessions().Create(ctx, sess); err != nil {
		return nil, "", err
	}
	return sess, raw, nil
}

// ValidateSession looks a session up by its raw token. Absence (unknown
// token, revoked or expired session) is a normal outcome and returns
// (nil, nil); only store faults surface as errors.
func (m *SessionManager) ValidateSession(ctx context.Context, rawToken string) (*Session, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, nil
	}
	sess, err := m.store.Sessions().FindByTokenHash(ctx, crypto.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !sess.Valid(m.now()) {
		return nil, nil
	}
	return sess, nil
}

// ValidateSessionByID gives the same guarantee keyed by session id. Used
// after token-signature verification to avoid re-hashing.
func (m *SessionManager) ValidateSessionByID(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	sess, err := m.store.Sessions().Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !sess.Valid(m.now()) {
		return nil, nil
	}
	return sess, nil
}

// RevokeSession marks one session revoked. Idempotent.
func (m *SessionManager) RevokeSession(ctx context.Context, id string) error {
	if err := m.store.Sessions().Revoke(ctx, id, m.now().UTC()); err != nil {
		return err
	}
	obs.SessionsRevoked.WithLabelValues("user").Inc()
	return nil
}

// RevokeAllSessions revokes every session the user holds. Idempotent.
func (m *SessionManager) RevokeAllSessions(ctx context.Context, userID string) error {
	if err := m.store.Sessions().RevokeAllForUser(ctx, userID, m.now().UTC()); err != nil {
		return err
	}
	obs.SessionsRevoked.WithLabelValues("user_all").Inc()
	return nil
}

// DisableUser sets the user's status to disabled and revokes all their
// sessions. Users are never hard-deleted.
func (m *SessionManager) DisableUser(ctx context.Context, userID string) error {
	if err := m.store.Users().SetStatus(ctx, userID, UserStatusDisabled); err != nil {
		return err
	}
	return m.RevokeAllSessions(ctx, userID)
}

// CleanupExpiredSessions removes long-expired session rows. Intended for an
// externally scheduled sweep; safe to run concurrently with live traffic.
func (m *SessionManager) CleanupExpiredSessions(ctx context.Context) (int, error) {
	return m.store.Sessions().PurgeExpired(ctx, m.now().UTC())
}
