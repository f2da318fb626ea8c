package impersonation

import (
	"context"
	"errors"
	"strings"
	"time"

	"gatehouse/internal/audit"
	"gatehouse/internal/auth"
	"gatehouse/internal/ids"
	"gatehouse/internal/obs"
	"gatehouse/internal/superadmin"
)

// Manager drives the impersonation lifecycle end to end: eligibility checks,
// the atomic replace of any prior window, token minting and the audit trail.
type Manager struct {
	store  Store
	admins *superadmin.Service
	users  auth.Store
	tokens *auth.TokenIssuer
	log    *audit.Log

	now func() time.Time
}

func NewManager(store Store, admins *superadmin.Service, users auth.Store, tokens *auth.TokenIssuer, log *audit.Log) *Manager {
	return &Manager{
		store:  store,
		admins: admins,
		users:  users,
		tokens: tokens,
		log:    log,
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(fn func() time.Time) *Manager {
	if fn != nil {
		m.now = fn
	}
	return m
}

// Start opens an impersonation window and returns the session plus a signed
// token carrying the target's identity with an impersonator block. Checks run
// in a fixed order so callers get stable error codes; any prior active window
// the operator holds is ended (new_session_started) in the same store
// transaction that creates this one.
func (m *Manager) Start(ctx context.Context, superAdminID, superAdminSessionID, targetUserID, targetTenantID, reason string, meta auth.RequestMeta) (*Session, string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, "", errCode(CodeReasonRequired, "a reason is required to impersonate")
	}

	admin, err := m.admins.Admin(ctx, superAdminID)
	if err != nil {
		if errors.Is(err, superadmin.ErrNotSuperAdmin) {
			return nil, "", errCode(CodeNotSuperAdmin, "impersonation requires super admin access")
		}
		return nil, "", err
	}
	if !admin.CanImpersonate {
		return nil, "", errCode(CodeNotSuperAdmin, "impersonation capability not granted")
	}

	target, err := m.users.Users().Find(ctx, targetUserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, "", errCode(CodeTargetNotFound, "target user not found")
		}
		return nil, "", err
	}
	if target.Status != auth.UserStatusActive {
		return nil, "", errCode(CodeTargetNotFound, "target user is not active")
	}

	if _, err := m.admins.Admin(ctx, targetUserID); err == nil {
		return nil, "", errCode(CodeCannotImpersonateAdmin, "cannot impersonate another super admin")
	} else if !errors.Is(err, superadmin.ErrNotSuperAdmin) {
		return nil, "", err
	}

	membership, err := m.users.Memberships().Find(ctx, targetUserID, targetTenantID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, "", errCode(CodeNoTenantAccess, "target has no access to that tenant")
		}
		return nil, "", err
	}
	org, err := m.users.Organizations().Find(ctx, targetTenantID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return nil, "", errCode(CodeNoTenantAccess, "tenant not found")
		}
		return nil, "", err
	}
	if org.Status != auth.OrgStatusActive {
		return nil, "", errCode(CodeNoTenantAccess, "tenant is not active")
	}

	now := m.now().UTC()
	sess := &Session{
		ID:             ids.New(),
		SuperAdminID:   superAdminID,
		TargetUserID:   target.ID,
		TargetTenantID: org.ID,
		Reason:         reason,
		ExpiresAt:      now.Add(SessionTTL),
		IP:             meta.IP,
		UserAgent:      meta.UserAgent,
		CreatedAt:      now,
	}
	if err := m.store.Replace(ctx, sess); err != nil {
		return nil, "", err
	}

	adminEmail := ""
	if actor, err := m.users.Users().Find(ctx, superAdminID); err == nil {
		adminEmail = actor.Email
	}
	token, err := m.tokens.Issue(target.ID, auth.Claims{
		SessionID: sess.ID,
		Email:     target.Email,
		OrgID:     org.ID,
		OrgSlug:   org.Slug,
		Role:      membership.Role,
		Orgs:      []auth.OrgClaim{{ID: org.ID, Slug: org.Slug, Role: membership.Role}},
		Impersonator: &auth.ImpersonatorClaim{
			UserID:    superAdminID,
			Email:     adminEmail,
			SessionID: superAdminSessionID,
		},
	}, SessionTTL)
	if err != nil {
		return nil, "", err
	}

	if err := m.log.Record(ctx, audit.Entry{
		ActorID:      superAdminID,
		Action:       "impersonation.started",
		ResourceType: "impersonation_session",
		ResourceID:   sess.ID,
		TenantID:     org.ID,
		After: map[string]any{
			"reason":       reason,
			"target_email": target.Email,
			"expires_at":   sess.ExpiresAt,
		},
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	}); err != nil {
		return nil, "", err
	}
	obs.ImpersonationStarts.Inc()
	return sess, token, nil
}

// End closes an impersonation window. Idempotent: ending a session that is
// already over succeeds silently. The audit entry is written only when an
// actor is attributed.
func (m *Manager) End(ctx context.Context, sessionID, reason, actorID string) error {
	if reason == "" {
		reason = EndReasonManual
	}
	err := m.store.End(ctx, sessionID, m.now().UTC(), reason)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if actorID == "" {
		return nil
	}
	return m.log.Record(ctx, audit.Entry{
		ActorID:      actorID,
		Action:       "impersonation.ended",
		ResourceType: "impersonation_session",
		ResourceID:   sessionID,
		After:        map[string]any{"end_reason": reason},
	})
}

// Validate loads an impersonation session and checks it is still open.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*Session, error) {
	sess, err := m.store.Find(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errCode(CodeSessionNotFound, "impersonation session not found")
		}
		return nil, err
	}
	if sess.EndedAt != nil {
		return nil, errCode(CodeSessionNotFound, "impersonation session has ended")
	}
	if !sess.ExpiresAt.After(m.now()) {
		return nil, errCode(CodeSessionExpired, "impersonation session has expired")
	}
	return sess, nil
}

// SessionActive is the yes/no form of Validate, used by the request resolver
// to pair impersonation-token verification with a live session check.
func (m *Manager) SessionActive(ctx context.Context, sessionID string) (bool, error) {
	_, err := m.Validate(ctx, sessionID)
	if err != nil {
		var ie *Error
		if errors.As(err, &ie) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CleanupExpired closes overdue sessions in bulk. Run from the sweeper.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	return m.store.ExpireOverdue(ctx, m.now().UTC())
}
