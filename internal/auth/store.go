package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations the auth core needs. The
// relational engine behind it is not this package's concern; implementations
// must provide row-level transactional writes.
type Store interface {
	Users() UserStore
	Organizations() OrganizationStore
	Memberships() MembershipStore
	Sessions() SessionStore
	MagicLinks() MagicLinkStore
	Invitations() InvitationStore
}

// UserStore manages user accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindByEmail matches case-insensitively.
	FindByEmail(ctx context.Context, email string) (*User, error)
	SetStatus(ctx context.Context, id, status string) error
	SetPassword(ctx context.Context, id, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
}

// OrganizationStore reads tenants.
type OrganizationStore interface {
	Create(ctx context.Context, org *Organization) error
	Find(ctx context.Context, id string) (*Organization, error)
	FindBySlug(ctx context.Context, slug string) (*Organization, error)
}

// MembershipStore manages user↔tenant associations.
type MembershipStore interface {
	Create(ctx context.Context, m *Membership) error
	Find(ctx context.Context, userID, orgID string) (*Membership, error)
	ListByUser(ctx context.Context, userID string) ([]*Membership, error)
	Delete(ctx context.Context, userID, orgID string) error
	// SetDefault clears any prior default for the user and sets the new one
	// in a single transaction, preserving the at-most-one-default invariant.
	SetDefault(ctx context.Context, userID, orgID string) error
	TouchLastActive(ctx context.Context, userID, orgID string, at time.Time) error
}

// SessionStore manages ordinary sessions.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) error
	UpdateOrganization(ctx context.Context, id, orgID string) error
	// PurgeExpired removes sessions that expired before the cutoff and
	// returns how many were removed.
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
}

// MagicLinkStore manages single-use sign-in tokens.
type MagicLinkStore interface {
	Create(ctx context.Context, l *MagicLink) error
	Find(ctx context.Context, email, tokenHash string) (*MagicLink, error)
	// Consume marks the link used; it fails with ErrNotFound when the link
	// was already consumed, which is what makes the token single-use.
	Consume(ctx context.Context, id string, at time.Time) error
}

// InvitationStore manages tenant invitations.
type InvitationStore interface {
	Create(ctx context.Context, inv *Invitation) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error)
	FindPending(ctx context.Context, email, orgID string) (*Invitation, error)
	// Rotate replaces the token digest and expiry of a pending invitation.
	Rotate(ctx context.Context, id, tokenHash string, expiresAt time.Time) error
	MarkAccepted(ctx context.Context, id string, at time.Time) error
}
