package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type resolverFixture struct {
	resolver *Resolver
	store    *MemStore
	tokens   *TokenIssuer
	sessions *SessionManager
}

func newResolverFixture(t *testing.T, trustHeaders bool) *resolverFixture {
	t.Helper()
	now := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemStore()
	tokens, err := NewTokenIssuer(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	tokens.WithClock(clock)
	sessions := NewSessionManager(store).WithClock(clock)
	return &resolverFixture{
		resolver: NewResolver(tokens, sessions, store, "example.com", trustHeaders),
		store:    store,
		tokens:   tokens,
		sessions: sessions,
	}
}

func (f *resolverFixture) seedUser(t *testing.T) (sessionID, token string) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.Users().Create(ctx, &User{ID: "user-1", Email: "a@example.com", Role: "member", Status: UserStatusActive}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Organizations().Create(ctx, &Organization{ID: "org-1", Slug: "acme", Status: OrgStatusActive}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Memberships().Create(ctx, &Membership{UserID: "user-1", OrganizationID: "org-1", Role: "admin"}); err != nil {
		t.Fatal(err)
	}
	sess, _, err := f.sessions.CreateSession(ctx, "user-1", "org-1", RequestMeta{})
	if err != nil {
		t.Fatal(err)
	}
	signed, err := f.tokens.Issue("user-1", Claims{
		SessionID: sess.ID,
		Email:     "a@example.com",
		OrgID:     "org-1",
		OrgSlug:   "acme",
		Role:      "admin",
	}, TokenTTL)
	if err != nil {
		t.Fatal(err)
	}
	return sess.ID, signed
}

func TestResolvePriorityOrder(t *testing.T) {
	f := newResolverFixture(t, true)
	_, token := f.seedUser(t)
	ctx := context.Background()

	// Headers beat a valid token beat the subdomain.
	req := httptest.NewRequest(http.MethodGet, "https://tenant.example.com/v1/me", nil)
	req.Header.Set(HeaderUserID, "gateway-user")
	req.Header.Set(HeaderTenantID, "gateway-org")
	req.Header.Set("Authorization", "Bearer "+token)

	rc := f.resolver.Resolve(ctx, req)
	if rc.Source != SourceHeaders || rc.UserID != "gateway-user" || rc.TenantID != "gateway-org" {
		t.Fatalf("headers should win: %+v", rc)
	}

	req.Header.Del(HeaderUserID)
	req.Header.Del(HeaderTenantID)
	rc = f.resolver.Resolve(ctx, req)
	if rc.Source != SourceToken || rc.UserID != "user-1" {
		t.Fatalf("token should win next: %+v", rc)
	}

	req.Header.Del("Authorization")
	rc = f.resolver.Resolve(ctx, req)
	if rc.Source != SourceSubdomain || rc.TenantSlug != "tenant" || rc.UserID != "" {
		t.Fatalf("subdomain is the last resort: %+v", rc)
	}
}

func TestResolveHeadersIgnoredWhenUntrusted(t *testing.T) {
	f := newResolverFixture(t, false)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "https://app.example.com/v1/me", nil)
	req.Header.Set(HeaderUserID, "gateway-user")
	if rc := f.resolver.Resolve(ctx, req); rc.Source == SourceHeaders {
		t.Fatalf("untrusted headers must not resolve: %+v", rc)
	}
}

func TestResolveTokenRequiresLiveSession(t *testing.T) {
	f := newResolverFixture(t, false)
	sessionID, token := f.seedUser(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	if rc := f.resolver.Resolve(ctx, req); rc.Source != SourceToken {
		t.Fatalf("cookie token should resolve: %+v", rc)
	}

	// Revocation wins over an unexpired signature.
	if err := f.sessions.RevokeSession(ctx, sessionID); err != nil {
		t.Fatal(err)
	}
	if rc := f.resolver.Resolve(ctx, req); rc.Source == SourceToken {
		t.Fatalf("revoked session must not resolve: %+v", rc)
	}
}

func TestResolveSubdomainEdges(t *testing.T) {
	f := newResolverFixture(t, false)
	ctx := context.Background()

	cases := []struct {
		host string
		want string
	}{
		{"acme.example.com", "acme"},
		{"acme.example.com:8443", "acme"},
		{"www.example.com", ""},
		{"example.com", ""},
		{"a.b.example.com", ""},
		{"other.net", ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "https://"+tc.host+"/", nil)
		req.Host = tc.host
		rc := f.resolver.Resolve(ctx, req)
		if rc.TenantSlug != tc.want {
			t.Fatalf("host %s: want slug %q, got %+v", tc.host, tc.want, rc)
		}
	}
}

func TestRequireAuth(t *testing.T) {
	f := newResolverFixture(t, false)
	_, token := f.seedUser(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	ac, err := f.resolver.RequireAuth(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if ac.UserID != "user-1" || ac.TenantID != "org-1" || ac.Role != "admin" {
		t.Fatalf("auth context mismatch: %+v", ac)
	}
	if len(ac.Orgs) != 1 || ac.Orgs[0].Slug != "acme" {
		t.Fatalf("org claims mismatch: %+v", ac.Orgs)
	}
	if ac.Impersonated() {
		t.Fatal("ordinary request flagged as impersonated")
	}

	// No credential at all.
	bare := httptest.NewRequest(http.MethodGet, "https://api.example.com/v1/me", nil)
	if _, err := f.resolver.RequireAuth(ctx, bare); err == nil {
		t.Fatal("want authentication error")
	}
}

func TestRequireAuthRejectsInactiveUser(t *testing.T) {
	f := newResolverFixture(t, false)
	_, token := f.seedUser(t)
	ctx := context.Background()
	if err := f.store.Users().SetStatus(ctx, "user-1", UserStatusDisabled); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if _, err := f.resolver.RequireAuth(ctx, req); err == nil {
		t.Fatal("disabled user must not authenticate")
	}
}

func TestRequireAuthDefaultTenantFallback(t *testing.T) {
	f := newResolverFixture(t, true)
	ctx := context.Background()
	if err := f.store.Users().Create(ctx, &User{ID: "user-1", Email: "a@example.com", Status: UserStatusActive}); err != nil {
		t.Fatal(err)
	}
	for _, org := range []*Organization{
		{ID: "org-1", Slug: "one", Status: OrgStatusActive},
		{ID: "org-2", Slug: "two", Status: OrgStatusActive},
	} {
		if err := f.store.Organizations().Create(ctx, org); err != nil {
			t.Fatal(err)
		}
	}
	for _, m := range []*Membership{
		{UserID: "user-1", OrganizationID: "org-1", Role: "member"},
		{UserID: "user-1", OrganizationID: "org-2", Role: "owner"},
	} {
		if err := f.store.Memberships().Create(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.store.Memberships().SetDefault(ctx, "user-1", "org-2"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/v1/me", nil)
	req.Header.Set(HeaderUserID, "user-1")
	ac, err := f.resolver.RequireAuth(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if ac.TenantID != "org-2" || ac.Role != "owner" {
		t.Fatalf("default membership should pin the tenant: %+v", ac)
	}
}

type stubImpersonation struct{ active bool }

func (s stubImpersonation) SessionActive(context.Context, string) (bool, error) {
	return s.active, nil
}

func TestResolveImpersonationToken(t *testing.T) {
	f := newResolverFixture(t, false)
	f.seedUser(t)
	ctx := context.Background()

	token, err := f.tokens.Issue("user-1", Claims{
		SessionID:    "imp-1",
		OrgID:        "org-1",
		OrgSlug:      "acme",
		Role:         "admin",
		Impersonator: &ImpersonatorClaim{UserID: "op-1", SessionID: "sa-1"},
	}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "https://api.example.com/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	// Without a checker wired, impersonation tokens never resolve.
	if rc := f.resolver.Resolve(ctx, req); rc.Source == SourceToken {
		t.Fatalf("unchecked impersonation token resolved: %+v", rc)
	}

	f.resolver.WithImpersonation(stubImpersonation{active: false})
	if rc := f.resolver.Resolve(ctx, req); rc.Source == SourceToken {
		t.Fatalf("ended impersonation session resolved: %+v", rc)
	}

	f.resolver.WithImpersonation(stubImpersonation{active: true})
	ac, err := f.resolver.RequireAuth(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if !ac.Impersonated() || ac.Impersonator.UserID != "op-1" {
		t.Fatalf("impersonator attribution lost: %+v", ac)
	}
	if ac.UserID != "user-1" || ac.TenantID != "org-1" {
		t.Fatalf("effective identity should be the target: %+v", ac)
	}
}
