// Package impersonation lets authorized platform operators act as a tenant
// user for a strictly bounded window. Sessions live at most one hour, cannot
// be extended, and every transition is audited with the operator's stated
// reason.
package impersonation

import (
	"fmt"
	"time"
)

// SessionTTL is the hard cap on an impersonation session. There is no
// extension path; operators start a new session if they need more time.
const SessionTTL = time.Hour

// End reasons recorded on sessions.
const (
	EndReasonNewSession = "new_session_started"
	EndReasonManual     = "manual"
	EndReasonExpired    = "expired"
)

// Error codes, stable across the API surface.
const (
	CodeReasonRequired         = "REASON_REQUIRED"
	CodeNotSuperAdmin          = "NOT_SUPER_ADMIN"
	CodeTargetNotFound         = "TARGET_NOT_FOUND"
	CodeCannotImpersonateAdmin = "CANNOT_IMPERSONATE_SUPER_ADMIN"
	CodeNoTenantAccess         = "NO_TENANT_ACCESS"
	CodeSessionNotFound        = "SESSION_NOT_FOUND"
	CodeSessionExpired         = "SESSION_EXPIRED"
)

// Error carries a discrete code so callers can map failures without string
// matching.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("impersonation: %s: %s", e.Code, e.Message)
}

func errCode(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Session records one impersonation window.
type Session struct {
	ID             string     `json:"id"`
	SuperAdminID   string     `json:"super_admin_id"`
	TargetUserID   string     `json:"target_user_id"`
	TargetTenantID string     `json:"target_tenant_id"`
	Reason         string     `json:"reason"`
	ExpiresAt      time.Time  `json:"expires_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EndReason      string     `json:"end_reason,omitempty"`
	IP             string     `json:"ip,omitempty"`
	UserAgent      string     `json:"user_agent,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Active reports whether the session is still usable at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && s.EndedAt == nil && s.ExpiresAt.After(now)
}
