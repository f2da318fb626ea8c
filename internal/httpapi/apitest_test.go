package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatehouse/internal/audit"
	"gatehouse/internal/auth"
	"gatehouse/internal/crypto"
	"gatehouse/internal/impersonation"
	"gatehouse/internal/rbac"
	"gatehouse/internal/superadmin"
)

const testPassword = "correct horse battery staple"

type testEnv struct {
	api     *API
	handler http.Handler
	store   *auth.MemStore
	admins  *superadmin.MemStore
	roles   *rbac.MemRoleStore
	now     time.Time
}

// newTestEnv wires the full API over memory stores with a fixed clock.
// Seeded state: org "acme" (org-1) and "globex" (org-2); alice is an
// org-1 admin, bob an org-1 member, carol has no memberships; root is an
// active super admin with every capability and no MFA.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	ctx := context.Background()

	store := auth.NewMemStore()
	adminStore := superadmin.NewMemStore()
	roleStore := rbac.NewMemRoleStore()
	auditLog := audit.NewLog(audit.NewMemStore())

	tokens, err := auth.NewTokenIssuer("httpapi-test-secret-httpapi-test-secret")
	if err != nil {
		t.Fatal(err)
	}
	tokens.WithClock(clock)
	sessions := auth.NewSessionManager(store).WithClock(clock)
	creds := auth.NewCredentials(store, nil, "https://app.example.com").WithClock(clock)
	tenants := auth.NewTenantSwitcher(store, tokens, auditLog).WithClock(clock)
	adminSvc := superadmin.NewService(adminStore, store, sessions, auditLog).WithClock(clock)
	impMgr := impersonation.NewManager(impersonation.NewMemStore(), adminSvc, store, tokens, auditLog).WithClock(clock)
	resolver := auth.NewResolver(tokens, sessions, store, "example.com", false).WithImpersonation(impMgr)
	roleSvc, err := rbac.NewService(roleStore)
	if err != nil {
		t.Fatal(err)
	}

	hash, err := crypto.HashPassword(testPassword)
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range []*auth.User{
		{ID: "alice", Email: "alice@example.com", Status: auth.UserStatusActive, PasswordHash: hash},
		{ID: "bob", Email: "bob@example.com", Status: auth.UserStatusActive, PasswordHash: hash},
		{ID: "carol", Email: "carol@example.com", Status: auth.UserStatusActive, PasswordHash: hash},
		{ID: "root", Email: "root@example.com", Status: auth.UserStatusActive, PasswordHash: hash},
	} {
		if err := store.Users().Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	for _, org := range []*auth.Organization{
		{ID: "org-1", Slug: "acme", Name: "Acme", Status: auth.OrgStatusActive},
		{ID: "org-2", Slug: "globex", Name: "Globex", Status: auth.OrgStatusActive},
	} {
		if err := store.Organizations().Create(ctx, org); err != nil {
			t.Fatal(err)
		}
	}
	for _, m := range []*auth.Membership{
		{UserID: "alice", OrganizationID: "org-1", Role: "admin"},
		{UserID: "bob", OrganizationID: "org-1", Role: "member"},
	} {
		if err := store.Memberships().Create(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if err := adminStore.CreateAdmin(ctx, &superadmin.User{
		UserID:               "root",
		GrantedBy:            "system",
		CanAccessAllTenants:  true,
		CanImpersonate:       true,
		CanManageSuperAdmins: true,
		IsActive:             true,
	}); err != nil {
		t.Fatal(err)
	}

	api := New(Deps{
		Version:       "test",
		Store:         store,
		Tokens:        tokens,
		Sessions:      sessions,
		Credentials:   creds,
		Tenants:       tenants,
		Resolver:      resolver,
		Roles:         roleSvc,
		Admins:        adminSvc,
		Impersonation: impMgr,
		MFA:           StaticMFA{Code: "424242"},
	})
	return &testEnv{
		api:     api,
		handler: RequestID(api.withAuth(api.mux)),
		store:   store,
		admins:  adminStore,
		roles:   roleStore,
		now:     now,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, mod ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, fn := range mod {
		fn(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func membershipFor(userID, orgID, role string) *auth.Membership {
	return &auth.Membership{UserID: userID, OrganizationID: orgID, Role: role}
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

// login authenticates a seeded user and returns the bearer token.
func (e *testEnv) login(t *testing.T, email string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/auth/login", loginRequest{Email: email, Password: testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, rec.Code, rec.Body.String())
	}
	var resp sessionResponse
	decodeBody(t, rec, &resp)
	return resp.Token
}

// adminLogin runs the elevated login and returns the opaque session token.
func (e *testEnv) adminLogin(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/admin/login", loginRequest{Email: "root@example.com", Password: testPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login: %d %s", rec.Code, rec.Body.String())
	}
	var resp adminSessionResponse
	decodeBody(t, rec, &resp)
	return resp.Token
}
