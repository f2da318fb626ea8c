package superadmin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse/internal/audit"
	"gatehouse/internal/auth"
	"gatehouse/internal/crypto"
	"gatehouse/internal/ids"
	"gatehouse/internal/obs"
)

// Service drives the elevated access lifecycle. Every state change it makes
// is written to the audit log.
type Service struct {
	store    Store
	users    auth.Store
	sessions *auth.SessionManager
	log      *audit.Log

	now             func() time.Time
	mfaChallengeTTL time.Duration
}

func NewService(store Store, users auth.Store, sessions *auth.SessionManager, log *audit.Log) *Service {
	return &Service{
		store:           store,
		users:           users,
		sessions:        sessions,
		log:             log,
		now:             time.Now,
		mfaChallengeTTL: DefaultMFAChallengeTTL,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Admin returns the elevated record for a user, ErrNotSuperAdmin when the
// record is missing or inactive.
func (s *Service) Admin(ctx context.Context, userID string) (*User, error) {
	admin, err := s.store.FindAdmin(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotSuperAdmin
		}
		return nil, err
	}
	if !admin.IsActive {
		return nil, ErrNotSuperAdmin
	}
	return admin, nil
}

// CreateSession issues a fresh elevated session. All prior sessions for the
// user are revoked in the same store transaction, so there is no window
// where two are valid.
func (s *Service) CreateSession(ctx context.Context, userID string, meta auth.RequestMeta) (*Session, string, error) {
	admin, err := s.Admin(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	raw, err := crypto.NewToken()
	if err != nil {
		return nil, "", err
	}
	now := s.now().UTC()
	sess := &Session{
		ID:                       ids.New(),
		UserID:                   admin.UserID,
		TokenHash:                crypto.HashToken(raw),
		ExpiresAt:                now.Add(SessionTTL),
		InactivityTimeoutMinutes: int(DefaultInactivityTimeout / time.Minute),
		LastActivityAt:           now,
		IP:                       meta.IP,
		UserAgent:                meta.UserAgent,
		CreatedAt:                now,
	}
	if err := s.store.ReplaceSessions(ctx, sess); err != nil {
		return nil, "", err
	}
	if meta.IP != "" {
		if err := s.store.RecordAccess(ctx, admin.UserID, meta.IP); err != nil {
			return nil, "", err
		}
	}
	if err := s.log.Record(ctx, audit.Entry{
		ActorID:      admin.UserID,
		Action:       "superadmin.session.created",
		ResourceType: "super_admin_session",
		ResourceID:   sess.ID,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	}); err != nil {
		return nil, "", err
	}
	return sess, raw, nil
}

// ValidateSession checks digest, expiry, revocation and the sliding
// inactivity window. A lapsed window auto-revokes with reason
// inactivity_timeout and reports absence; a passing check bumps the window.
func (s *Service) ValidateSession(ctx context.Context, rawToken string) (*Session, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, nil
	}
	sess, err := s.store.FindSessionByTokenHash(ctx, crypto.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	now := s.now().UTC()
	if !sess.live(now) {
		return nil, nil
	}
	if sess.inactive(now) {
		if err := s.store.RevokeSession(ctx, sess.ID, now, ReasonInactivityTimeout); err != nil {
			return nil, err
		}
		obs.SessionsRevoked.WithLabelValues("superadmin_inactivity").Inc()
		return nil, nil
	}
	if err := s.store.TouchSession(ctx, sess.ID, now); err != nil {
		return nil, err
	}
	sess.LastActivityAt = now
	return sess, nil
}

// RevokeSession ends one elevated session (logout). Idempotent.
func (s *Service) RevokeSession(ctx context.Context, actorID, sessionID string) error {
	if err := s.store.RevokeSession(ctx, sessionID, s.now().UTC(), ReasonLogout); err != nil {
		return err
	}
	obs.SessionsRevoked.WithLabelValues("superadmin").Inc()
	return s.log.Record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       "superadmin.session.revoked",
		ResourceType: "super_admin_session",
		ResourceID:   sessionID,
	})
}

// StartMFAChallenge opens the answer window on a session.
func (s *Service) StartMFAChallenge(ctx context.Context, sessionID string) (time.Time, error) {
	expiresAt := s.now().UTC().Add(s.mfaChallengeTTL)
	if err := s.store.SetMFAChallenge(ctx, sessionID, expiresAt); err != nil {
		return time.Time{}, err
	}
	return expiresAt, nil
}

// MarkMFAVerified marks the session fully trusted. The challenge must still
// be open. Callers gate sensitive operations on the resulting flag.
func (s *Service) MarkMFAVerified(ctx context.Context, sessionID string) error {
	sess, err := s.store.FindSession(ctx, sessionID)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if !sess.live(now) {
		return ErrNotFound
	}
	if sess.MFAChallengeExpiresAt == nil || !sess.MFAChallengeExpiresAt.After(now) {
		return ErrMFARequired
	}
	if err := s.store.MarkMFAVerified(ctx, sessionID); err != nil {
		return err
	}
	return s.log.Record(ctx, audit.Entry{
		ActorID:      sess.UserID,
		Action:       "superadmin.mfa.verified",
		ResourceType: "super_admin_session",
		ResourceID:   sessionID,
	})
}

// CheckRateLimit applies a fixed-window counter keyed by (user, bucket). The
// window starts on first use and resets when it lapses. Boundary bursts are
// an accepted property of fixed windows; the increment itself is atomic in
// the store, so the limit is never exceeded within one window.
func (s *Service) CheckRateLimit(ctx context.Context, userID, bucket string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, fmt.Errorf("superadmin: limit and window must be positive")
	}
	now := s.now().UTC()
	count, err := s.store.IncrementWindow(ctx, userID, bucket, now, now.Add(-window))
	if err != nil {
		return false, err
	}
	if count > limit {
		obs.RateLimitRejections.WithLabelValues(bucket).Inc()
		return false, nil
	}
	return true, nil
}

// CheckIPAllowlist is fail-open: with no entries configured every IP passes;
// once any entry exists only listed IPs pass. An empty table means no IP
// restriction at all.
func (s *Service) CheckIPAllowlist(ctx context.Context, ip string) (bool, error) {
	total, listed, err := s.store.AllowlistStatus(ctx, strings.TrimSpace(ip))
	if err != nil {
		return false, err
	}
	if total == 0 {
		return true, nil
	}
	return listed, nil
}

// Grant makes target a super admin with the given capabilities. The actor
// must be allowed to manage super admins.
func (s *Service) Grant(ctx context.Context, actorID, targetUserID string, canAccessAllTenants, canImpersonate, canManage bool) (*User, error) {
	actor, err := s.Admin(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageSuperAdmins {
		return nil, ErrNotSuperAdmin
	}
	target, err := s.users.Users().Find(ctx, targetUserID)
	if err != nil {
		return nil, err
	}
	admin := &User{
		UserID:               target.ID,
		GrantedBy:            actor.UserID,
		CanAccessAllTenants:  canAccessAllTenants,
		CanImpersonate:       canImpersonate,
		CanManageSuperAdmins: canManage,
		IsActive:             true,
	}
	if err := s.store.CreateAdmin(ctx, admin); err != nil {
		return nil, err
	}
	if err := s.log.Record(ctx, audit.Entry{
		ActorID:      actor.UserID,
		Action:       "superadmin.granted",
		ResourceType: "super_admin_user",
		ResourceID:   target.ID,
		After: map[string]any{
			"can_access_all_tenants":  canAccessAllTenants,
			"can_impersonate":         canImpersonate,
			"can_manage_super_admins": canManage,
		},
	}); err != nil {
		return nil, err
	}
	return admin, nil
}

// Revoke deactivates target's super admin status and revokes their elevated
// sessions. Self-revocation is always refused, and the operation fails when
// it would leave the platform with no active super admin. On failure the
// registry is untouched.
func (s *Service) Revoke(ctx context.Context, actorID, targetUserID string) error {
	actor, err := s.Admin(ctx, actorID)
	if err != nil {
		return err
	}
	if !actor.CanManageSuperAdmins {
		return ErrNotSuperAdmin
	}
	if actorID == targetUserID {
		return ErrSelfRevocation
	}
	target, err := s.store.FindAdmin(ctx, targetUserID)
	if err != nil {
		return err
	}
	if target.IsActive {
		active, err := s.store.CountActiveAdmins(ctx)
		if err != nil {
			return err
		}
		if active <= 1 {
			return ErrLastSuperAdmin
		}
	}
	if err := s.store.SetAdminActive(ctx, targetUserID, false); err != nil {
		return err
	}
	if err := s.store.RevokeAllSessions(ctx, targetUserID, s.now().UTC(), ReasonAdminRevoked); err != nil {
		return err
	}
	return s.log.Record(ctx, audit.Entry{
		ActorID:      actor.UserID,
		Action:       "superadmin.revoked",
		ResourceType: "super_admin_user",
		ResourceID:   targetUserID,
		Before:       map[string]any{"is_active": true},
		After:        map[string]any{"is_active": false},
	})
}

// DisableUser disables a platform user and revokes all their ordinary
// sessions. When the target is an active super admin the same last-admin
// protection applies as for Revoke.
func (s *Service) DisableUser(ctx context.Context, actorID, targetUserID string) error {
	actor, err := s.Admin(ctx, actorID)
	if err != nil {
		return err
	}
	if target, err := s.store.FindAdmin(ctx, targetUserID); err == nil && target.IsActive {
		if actorID == targetUserID {
			return ErrSelfRevocation
		}
		active, err := s.store.CountActiveAdmins(ctx)
		if err != nil {
			return err
		}
		if active <= 1 {
			return ErrLastSuperAdmin
		}
		if err := s.store.SetAdminActive(ctx, targetUserID, false); err != nil {
			return err
		}
		if err := s.store.RevokeAllSessions(ctx, targetUserID, s.now().UTC(), ReasonAdminRevoked); err != nil {
			return err
		}
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := s.sessions.DisableUser(ctx, targetUserID); err != nil {
		return err
	}
	return s.log.Record(ctx, audit.Entry{
		ActorID:      actor.UserID,
		Action:       "user.disabled",
		ResourceType: "user",
		ResourceID:   targetUserID,
	})
}
