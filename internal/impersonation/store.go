package impersonation

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is the store-level absence sentinel; the manager translates it
// into a coded Error at the API boundary.
var ErrNotFound = errors.New("impersonation: not found")

// Store persists impersonation sessions.
type Store interface {
	// Replace ends every active session the super admin holds (reason
	// new_session_started) and inserts the new one inside a single
	// transaction.
	Replace(ctx context.Context, sess *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	// End marks the session ended. Already-ended sessions are left untouched
	// and report ErrNotFound so callers can distinguish the no-op.
	End(ctx context.Context, id string, at time.Time, reason string) error
	// ExpireOverdue ends every active session past its expiry, reason
	// expired, and returns how many it closed.
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}
