package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Trusted context headers set by an upstream gateway. Deployments must
// guarantee only that boundary can set them, or header resolution becomes an
// authentication bypass.
const (
	HeaderTenantID   = "x-tenant-id"
	HeaderTenantSlug = "x-tenant-slug"
	HeaderUserID     = "x-user-id"
	HeaderUserRole   = "x-user-role"
	HeaderSessionID  = "x-session-id"
)

// CookieName carries the signed bearer token in an http-only cookie.
const CookieName = "gatehouse_token"

// Resolution sources, in priority order.
const (
	SourceHeaders   = "headers"
	SourceToken     = "token"
	SourceSubdomain = "subdomain"
)

// RequestContext is what can be derived from an inbound request before any
// store round-trips. It may be empty; emptiness is not an error.
type RequestContext struct {
	TenantID   string
	TenantSlug string
	UserID     string
	UserRole   string
	SessionID  string
	Claims     *Claims
	Source     string
}

// ImpersonationChecker reports whether an impersonation session is still
// open. Implemented by the impersonation manager; declared here so the
// dependency points the right way.
type ImpersonationChecker interface {
	SessionActive(ctx context.Context, sessionID string) (bool, error)
}

// Resolver derives request identity from headers, bearer token or subdomain,
// in that order, first match wins.
type Resolver struct {
	tokens        *TokenIssuer
	sessions      *SessionManager
	store         Store
	impersonation ImpersonationChecker

	// trustHeaders enables the gateway-header shortcut.
	trustHeaders bool
	// apexDomain is the serving domain; subdomains of it are tenant hints.
	apexDomain string
}

func NewResolver(tokens *TokenIssuer, sessions *SessionManager, store Store, apexDomain string, trustHeaders bool) *Resolver {
	return &Resolver{
		tokens:       tokens,
		sessions:     sessions,
		store:        store,
		trustHeaders: trustHeaders,
		apexDomain:   strings.TrimSpace(strings.ToLower(apexDomain)),
	}
}

// WithImpersonation enables resolution of impersonation tokens; without it
// they are rejected outright.
func (r *Resolver) WithImpersonation(checker ImpersonationChecker) *Resolver {
	r.impersonation = checker
	return r
}

// Resolve never fails; an unauthenticated request yields an empty context.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) RequestContext {
	if rc, ok := r.fromHeaders(req); ok {
		return rc
	}
	if rc, ok := r.fromToken(ctx, req); ok {
		return rc
	}
	if rc, ok := r.fromSubdomain(req); ok {
		return rc
	}
	return RequestContext{}
}

func (r *Resolver) fromHeaders(req *http.Request) (RequestContext, bool) {
	if !r.trustHeaders {
		return RequestContext{}, false
	}
	rc := RequestContext{
		TenantID:   strings.TrimSpace(req.Header.Get(HeaderTenantID)),
		TenantSlug: strings.TrimSpace(req.Header.Get(HeaderTenantSlug)),
		UserID:     strings.TrimSpace(req.Header.Get(HeaderUserID)),
		UserRole:   strings.TrimSpace(req.Header.Get(HeaderUserRole)),
		SessionID:  strings.TrimSpace(req.Header.Get(HeaderSessionID)),
		Source:     SourceHeaders,
	}
	if rc.TenantID == "" && rc.UserID == "" {
		return RequestContext{}, false
	}
	return rc, true
}

// fromToken verifies the bearer token and pairs it with a live session check:
// possession of a valid token is not enough once the session is revoked.
func (r *Resolver) fromToken(ctx context.Context, req *http.Request) (RequestContext, bool) {
	raw := bearerFromRequest(req)
	if raw == "" {
		return RequestContext{}, false
	}
	claims, err := r.tokens.Verify(raw)
	if err != nil {
		return RequestContext{}, false
	}
	if IsImpersonationToken(claims) {
		if r.impersonation == nil {
			return RequestContext{}, false
		}
		ok, err := r.impersonation.SessionActive(ctx, claims.SessionID)
		if err != nil || !ok {
			return RequestContext{}, false
		}
	} else {
		sess, err := r.sessions.ValidateSessionByID(ctx, claims.SessionID)
		if err != nil || sess == nil {
			return RequestContext{}, false
		}
	}
	return RequestContext{
		TenantID:   claims.OrgID,
		TenantSlug: claims.OrgSlug,
		UserID:     claims.Subject,
		UserRole:   claims.Role,
		SessionID:  claims.SessionID,
		Claims:     claims,
		Source:     SourceToken,
	}, true
}

// fromSubdomain yields an identity-less tenant hint from {tenant}.domain.tld.
func (r *Resolver) fromSubdomain(req *http.Request) (RequestContext, bool) {
	if r.apexDomain == "" {
		return RequestContext{}, false
	}
	host := strings.ToLower(req.Host)
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	suffix := "." + r.apexDomain
	if !strings.HasSuffix(host, suffix) {
		return RequestContext{}, false
	}
	sub := strings.TrimSuffix(host, suffix)
	if sub == "" || sub == "www" || strings.Contains(sub, ".") {
		return RequestContext{}, false
	}
	return RequestContext{TenantSlug: sub, Source: SourceSubdomain}, true
}

// RequireAuth escalates a request to a full AuthContext by re-querying the
// user and membership store. It fails with AuthenticationError when no path
// establishes a valid identity.
func (r *Resolver) RequireAuth(ctx context.Context, req *http.Request) (AuthContext, error) {
	rc := r.Resolve(ctx, req)
	if rc.UserID == "" {
		return AuthContext{}, &AuthenticationError{Reason: "no credential presented"}
	}
	user, err := r.store.Users().Find(ctx, rc.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthContext{}, &AuthenticationError{Reason: "unknown user"}
		}
		return AuthContext{}, err
	}
	if user.Status != UserStatusActive {
		return AuthContext{}, &AuthenticationError{Reason: "user is not active"}
	}

	memberships, err := r.store.Memberships().ListByUser(ctx, user.ID)
	if err != nil {
		return AuthContext{}, err
	}
	orgs := make([]OrgClaim, 0, len(memberships))
	for _, m := range memberships {
		org, err := r.store.Organizations().Find(ctx, m.OrganizationID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return AuthContext{}, err
		}
		if org.Status != OrgStatusActive {
			continue
		}
		orgs = append(orgs, OrgClaim{ID: org.ID, Slug: org.Slug, Role: m.Role})
	}

	ac := AuthContext{
		UserID:    user.ID,
		Email:     user.Email,
		SessionID: rc.SessionID,
		Orgs:      orgs,
	}
	if rc.Claims != nil {
		ac.Impersonator = rc.Claims.Impersonator
	}

	// Pin the tenant context: explicit id or slug from resolution, falling
	// back to the default membership, then the only accessible org.
	for _, o := range orgs {
		if (rc.TenantID != "" && o.ID == rc.TenantID) || (rc.TenantID == "" && rc.TenantSlug != "" && o.Slug == rc.TenantSlug) {
			ac.TenantID, ac.TenantSlug, ac.Role = o.ID, o.Slug, o.Role
			break
		}
	}
	if ac.TenantID == "" && rc.TenantID == "" && rc.TenantSlug == "" {
		for _, m := range memberships {
			if !m.IsDefault {
				continue
			}
			for _, o := range orgs {
				if o.ID == m.OrganizationID {
					ac.TenantID, ac.TenantSlug, ac.Role = o.ID, o.Slug, o.Role
				}
			}
		}
		if ac.TenantID == "" && len(orgs) == 1 {
			ac.TenantID, ac.TenantSlug, ac.Role = orgs[0].ID, orgs[0].Slug, orgs[0].Role
		}
	}
	if ac.Role == "" {
		ac.Role = user.Role
	}
	return ac, nil
}

func bearerFromRequest(req *http.Request) string {
	if c, err := req.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(req.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
