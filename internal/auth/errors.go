package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrInvalidInput  = errors.New("auth: invalid input")

	// ErrInvalidToken indicates a bearer token failed verification. Callers
	// get no more detail than this.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// AuthenticationError means no valid credential was presented: the caller
// must re-authenticate.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	if e.Reason == "" {
		return "auth: authentication required"
	}
	return fmt.Sprintf("auth: authentication required: %s", e.Reason)
}

// TenantAccessError means the identified user may not act in the requested
// tenant (no membership, or the tenant is suspended).
type TenantAccessError struct {
	UserID   string
	TenantID string
	Reason   string
}

func (e *TenantAccessError) Error() string {
	return fmt.Sprintf("auth: tenant access denied: %s", e.Reason)
}

// PermissionDeniedError is the RBAC gate: identity is established but the
// required permission is not held.
type PermissionDeniedError struct {
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("auth: permission denied: %s", e.Permission)
}

// FeatureNotEnabledError is a policy gate, not an identity failure.
type FeatureNotEnabledError struct {
	Feature string
}

func (e *FeatureNotEnabledError) Error() string {
	return fmt.Sprintf("auth: feature not enabled: %s", e.Feature)
}
