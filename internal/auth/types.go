package auth

import "time"

// Lifetimes for the credentials this package issues.
const (
	SessionTTL    = 30 * 24 * time.Hour
	TokenTTL      = 7 * 24 * time.Hour
	MagicLinkTTL  = 24 * time.Hour
	InvitationTTL = 7 * 24 * time.Hour
)

// User statuses.
const (
	UserStatusActive   = "active"
	UserStatusInvited  = "invited"
	UserStatusDisabled = "disabled"
)

// Organization statuses.
const (
	OrgStatusActive    = "active"
	OrgStatusSuspended = "suspended"
)

// User is a platform account. PasswordHash is empty for users who only sign
// in via magic links. Users are never hard-deleted; disabling sets status and
// revokes every session.
type User struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Role          string     `json:"role"`
	Status        string     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	PasswordHash  string     `json:"-"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Organization is a tenant. Owned elsewhere; this core reads it for
// membership and context checks only.
type Organization struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership grants a user a role within one organization. At most one
// membership per user carries IsDefault.
type Membership struct {
	UserID         string     `json:"user_id"`
	OrganizationID string     `json:"organization_id"`
	Role           string     `json:"role"`
	IsDefault      bool       `json:"is_default"`
	LastActiveAt   *time.Time `json:"last_active_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Session is an ordinary user session. Only the token digest is stored.
// OrganizationID is empty only for super-admin-only identities.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	OrganizationID string     `json:"organization_id,omitempty"`
	TokenHash      string     `json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	IP             string     `json:"ip,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Valid reports whether the session is usable at now: not revoked and not
// past its expiry.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// MagicLink is a single-use emailed sign-in token, stored as a digest.
type MagicLink struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	TokenHash  string     `json:"-"`
	Purpose    string     `json:"purpose"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Invitation binds an email to a role within a tenant. Resending rotates the
// token and expiry.
type Invitation struct {
	ID             string     `json:"id"`
	Email          string     `json:"email"`
	OrganizationID string     `json:"organization_id"`
	Role           string     `json:"role"`
	TokenHash      string     `json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RequestMeta carries client attribution captured from the inbound request.
type RequestMeta struct {
	IP        string
	UserAgent string
}
