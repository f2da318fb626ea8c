// Package superadmin implements the elevated access layer: platform
// operators get a separate session type with a hard 4-hour cap, a sliding
// inactivity window, MFA gating, rate limiting, IP allow-listing and a full
// audit trail. It is deliberately independent of the ordinary session
// lifecycle in internal/auth.
package superadmin

import (
	"errors"
	"time"
)

const (
	// SessionTTL is the absolute cap; nothing extends a session past it.
	SessionTTL = 4 * time.Hour
	// DefaultInactivityTimeout is the sliding window bumped on each use.
	DefaultInactivityTimeout = 30 * time.Minute
	// DefaultMFAChallengeTTL bounds how long an MFA challenge stays answerable.
	DefaultMFAChallengeTTL = 5 * time.Minute
)

// Revocation reasons recorded on sessions.
const (
	ReasonNewSession        = "new_session_started"
	ReasonInactivityTimeout = "inactivity_timeout"
	ReasonAdminRevoked      = "admin_revoked"
	ReasonLogout            = "logout"
)

// Session states, in lifecycle order.
const (
	StateCreated     = "created"
	StateMFAPending  = "mfa_pending"
	StateMFAVerified = "mfa_verified"
	StateRevoked     = "revoked"
	StateExpired     = "expired"
)

var (
	ErrNotSuperAdmin  = errors.New("superadmin: user is not an active super admin")
	ErrLastSuperAdmin = errors.New("superadmin: cannot remove the last active super admin")
	ErrSelfRevocation = errors.New("superadmin: cannot revoke your own super admin status")
	ErrMFARequired    = errors.New("superadmin: mfa verification required")
	ErrNotFound       = errors.New("superadmin: not found")
)

// User is the 1:1 elevated record attached to a platform user.
type User struct {
	UserID               string    `json:"user_id"`
	GrantedBy            string    `json:"granted_by"`
	CanAccessAllTenants  bool      `json:"can_access_all_tenants"`
	CanImpersonate       bool      `json:"can_impersonate"`
	CanManageSuperAdmins bool      `json:"can_manage_super_admins"`
	MFAEnabled           bool      `json:"mfa_enabled"`
	IsActive             bool      `json:"is_active"`
	LastAccessIP         string    `json:"last_access_ip,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Session is an elevated session. Separate from ordinary sessions on
// purpose: stricter lifecycle, and only one may be live per super admin.
type Session struct {
	ID                       string     `json:"id"`
	UserID                   string     `json:"user_id"`
	TokenHash                string     `json:"-"`
	ExpiresAt                time.Time  `json:"expires_at"`
	InactivityTimeoutMinutes int        `json:"inactivity_timeout_minutes"`
	LastActivityAt           time.Time  `json:"last_activity_at"`
	MFAVerified              bool       `json:"mfa_verified"`
	MFAChallengeExpiresAt    *time.Time `json:"mfa_challenge_expires_at,omitempty"`
	RevokedAt                *time.Time `json:"revoked_at,omitempty"`
	RevokedReason            string     `json:"revoked_reason,omitempty"`
	IP                       string     `json:"ip,omitempty"`
	UserAgent                string     `json:"user_agent,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
}

// State reports where the session sits in its lifecycle at now.
func (s *Session) State(now time.Time) string {
	switch {
	case s.RevokedAt != nil:
		return StateRevoked
	case !s.ExpiresAt.After(now):
		return StateExpired
	case s.MFAVerified:
		return StateMFAVerified
	case s.MFAChallengeExpiresAt != nil:
		return StateMFAPending
	default:
		return StateCreated
	}
}

// inactive reports whether the sliding window has lapsed.
func (s *Session) inactive(now time.Time) bool {
	timeout := time.Duration(s.InactivityTimeoutMinutes) * time.Minute
	return now.Sub(s.LastActivityAt) > timeout
}

// live reports base validity: not revoked, not past the absolute cap.
func (s *Session) live(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}
