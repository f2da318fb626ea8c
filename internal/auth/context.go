package auth

import "context"

// AuthContext is the fully resolved identity for one request.
type AuthContext struct {
	UserID       string             `json:"user_id"`
	Email        string             `json:"email"`
	SessionID    string             `json:"session_id"`
	TenantID     string             `json:"tenant_id,omitempty"`
	TenantSlug   string             `json:"tenant_slug,omitempty"`
	Role         string             `json:"role,omitempty"`
	Orgs         []OrgClaim         `json:"orgs,omitempty"`
	Impersonator *ImpersonatorClaim `json:"impersonator,omitempty"`
}

// Impersonated reports whether this identity is being worn by a super admin.
func (a AuthContext) Impersonated() bool {
	return a.Impersonator != nil && a.Impersonator.UserID != ""
}

type authContextKey struct{}
type tokenContextKey struct{}

// ContextWithAuth attaches the resolved identity to the context.
func ContextWithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, &ac)
}

// AuthFromContext extracts the resolved identity from the context.
func AuthFromContext(ctx context.Context) (AuthContext, bool) {
	if ctx == nil {
		return AuthContext{}, false
	}
	v, ok := ctx.Value(authContextKey{}).(*AuthContext)
	if !ok || v == nil {
		return AuthContext{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
