package superadmin

import (
	"context"
	"time"
)

// Store persists super admin records, elevated sessions, rate-limit windows
// and the IP allowlist.
type Store interface {
	// Admins.
	CreateAdmin(ctx context.Context, admin *User) error
	FindAdmin(ctx context.Context, userID string) (*User, error)
	SetAdminActive(ctx context.Context, userID string, active bool) error
	CountActiveAdmins(ctx context.Context) (int, error)
	RecordAccess(ctx context.Context, userID, ip string) error

	// Sessions. ReplaceSessions revokes every live session the user holds
	// (reason new_session_started) and inserts the new one inside a single
	// transaction: at no point are two sessions simultaneously valid.
	ReplaceSessions(ctx context.Context, sess *Session) error
	FindSession(ctx context.Context, id string) (*Session, error)
	FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	RevokeSession(ctx context.Context, id string, at time.Time, reason string) error
	RevokeAllSessions(ctx context.Context, userID string, at time.Time, reason string) error
	TouchSession(ctx context.Context, id string, at time.Time) error
	SetMFAChallenge(ctx context.Context, sessionID string, expiresAt time.Time) error
	MarkMFAVerified(ctx context.Context, sessionID string) error

	// IncrementWindow bumps the fixed-window counter for (user, bucket),
	// starting a fresh window when the stored one began at or before
	// resetBefore, and returns the count inside the current window. The
	// read-modify-write must be atomic.
	IncrementWindow(ctx context.Context, userID, bucket string, now, resetBefore time.Time) (int, error)

	// AllowlistStatus returns how many entries exist and whether ip is one
	// of them.
	AllowlistStatus(ctx context.Context, ip string) (total int, listed bool, err error)
	AddAllowlistEntry(ctx context.Context, ip, note string) error
}
