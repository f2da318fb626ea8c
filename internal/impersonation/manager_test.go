package impersonation

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatehouse/internal/audit"
	"gatehouse/internal/auth"
	"gatehouse/internal/superadmin"
)

type fixture struct {
	manager  *Manager
	store    *MemStore
	users    *auth.MemStore
	admins   *superadmin.MemStore
	adminSvc *superadmin.Service
	tokens   *auth.TokenIssuer
	audits   *audit.MemStore
	now      *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	users := auth.NewMemStore()
	adminStore := superadmin.NewMemStore()
	audits := audit.NewMemStore()
	log := audit.NewLog(audit.NewMemStore())
	sessions := auth.NewSessionManager(users).WithClock(clock)
	adminSvc := superadmin.NewService(adminStore, users, sessions, log).WithClock(clock)
	tokens, err := auth.NewTokenIssuer("test-secret-test-secret-test-secret")
	if err != nil {
		t.Fatal(err)
	}
	tokens.WithClock(clock)

	store := NewMemStore()
	f := &fixture{
		manager:  NewManager(store, adminSvc, users, tokens, audit.NewLog(audits)).WithClock(clock),
		store:    store,
		users:    users,
		admins:   adminStore,
		adminSvc: adminSvc,
		tokens:   tokens,
		audits:   audits,
		now:      &now,
	}
	f.manager.WithClock(func() time.Time { return *f.now })
	tokens.WithClock(func() time.Time { return *f.now })
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, u := range []*auth.User{
		{ID: "op-1", Email: "op@example.com", Status: auth.UserStatusActive},
		{ID: "user-1", Email: "user1@example.com", Status: auth.UserStatusActive},
		{ID: "user-2", Email: "user2@example.com", Status: auth.UserStatusActive},
	} {
		if err := f.users.Users().Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.users.Organizations().Create(ctx, &auth.Organization{ID: "org-1", Slug: "acme", Name: "Acme", Status: auth.OrgStatusActive}); err != nil {
		t.Fatal(err)
	}
	if err := f.users.Memberships().Create(ctx, &auth.Membership{UserID: "user-1", OrganizationID: "org-1", Role: "member"}); err != nil {
		t.Fatal(err)
	}
	if err := f.admins.CreateAdmin(ctx, &superadmin.User{UserID: "op-1", GrantedBy: "system", CanImpersonate: true, CanManageSuperAdmins: true, IsActive: true}); err != nil {
		t.Fatal(err)
	}
}

func code(t *testing.T, err error) string {
	t.Helper()
	var ie *Error
	if !errors.As(err, &ie) {
		t.Fatalf("want *Error, got %v", err)
	}
	return ie.Code
}

func TestStartOrderedChecks(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	cases := []struct {
		name                         string
		actor, target, tenant, reason string
		want                         string
	}{
		{"blank reason", "op-1", "user-1", "org-1", "   ", CodeReasonRequired},
		{"not an admin", "user-2", "user-1", "org-1", "debug", CodeNotSuperAdmin},
		{"unknown target", "op-1", "ghost", "org-1", "debug", CodeTargetNotFound},
		{"no membership", "op-1", "user-2", "org-1", "debug", CodeNoTenantAccess},
		{"unknown tenant", "op-1", "user-1", "org-404", "debug", CodeNoTenantAccess},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.manager.Start(ctx, tc.actor, "sa-sess", tc.target, tc.tenant, tc.reason, auth.RequestMeta{})
			if got := code(t, err); got != tc.want {
				t.Fatalf("want %s, got %s", tc.want, got)
			}
		})
	}
}

func TestStartRefusesSuperAdminTarget(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()
	if err := f.admins.CreateAdmin(ctx, &superadmin.User{UserID: "user-1", GrantedBy: "op-1", IsActive: true}); err != nil {
		t.Fatal(err)
	}

	_, _, err := f.manager.Start(ctx, "op-1", "sa-sess", "user-1", "org-1", "debug", auth.RequestMeta{})
	if got := code(t, err); got != CodeCannotImpersonateAdmin {
		t.Fatalf("want %s, got %s", CodeCannotImpersonateAdmin, got)
	}

	// A deactivated super admin record no longer shields the target.
	if err := f.admins.SetAdminActive(ctx, "user-1", false); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.manager.Start(ctx, "op-1", "sa-sess", "user-1", "org-1", "debug", auth.RequestMeta{}); err != nil {
		t.Fatalf("inactive admin target should be impersonatable: %v", err)
	}
}

func TestStartIssuesImpersonationToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	sess, token, err := f.manager.Start(ctx, "op-1", "sa-sess-9", "user-1", "org-1", "billing dispute #4821", auth.RequestMeta{IP: "10.1.2.3"})
	if err != nil {
		t.Fatal(err)
	}
	if want := f.now.Add(time.Hour); !sess.ExpiresAt.Equal(want) {
		t.Fatalf("want expiry %v, got %v", want, sess.ExpiresAt)
	}

	claims, err := f.tokens.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "user-1" || claims.OrgID != "org-1" || claims.Role != "member" {
		t.Fatalf("token should carry target identity: %+v", claims)
	}
	if !auth.IsImpersonationToken(claims) {
		t.Fatal("token should be flagged as impersonation")
	}
	if claims.Impersonator.UserID != "op-1" || claims.Impersonator.Email != "op@example.com" || claims.Impersonator.SessionID != "sa-sess-9" {
		t.Fatalf("impersonator block wrong: %+v", claims.Impersonator)
	}

	entries := f.audits.Entries()
	if len(entries) != 1 || entries[0].Action != "impersonation.started" {
		t.Fatalf("want one impersonation.started entry, got %+v", entries)
	}
	if entries[0].After["reason"] != "billing dispute #4821" || entries[0].After["target_email"] != "user1@example.com" {
		t.Fatalf("audit entry missing detail: %+v", entries[0].After)
	}
}

type brokenAuditStore struct{}

func (brokenAuditStore) Append(context.Context, *audit.Entry) error {
	return errors.New("audit store unavailable")
}

func TestStartFailsWhenAuditUnavailable(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	m := NewManager(f.store, f.adminSvc, f.users, f.tokens, audit.NewLog(brokenAuditStore{})).
		WithClock(func() time.Time { return *f.now })
	sess, token, err := m.Start(ctx, "op-1", "sa-sess", "user-1", "org-1", "debug", auth.RequestMeta{})
	if err == nil {
		t.Fatal("start without an audit entry must fail")
	}
	if sess != nil || token != "" {
		t.Fatalf("no session or token may escape: sess=%v token=%q", sess, token)
	}
}

func TestStartEndsPriorSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	first, _, err := f.manager.Start(ctx, "op-1", "sa-sess", "user-1", "org-1", "first", auth.RequestMeta{})
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := f.manager.Start(ctx, "op-1", "sa-sess", "user-1", "org-1", "second", auth.RequestMeta{})
	if err != nil {
		t.Fatal(err)
	}

	old, err := f.store.Find(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if old.EndedAt == nil || old.EndReason != EndReasonNewSession {
		t.Fatalf("first session should be ended with %s: %+v", EndReasonNewSession, old)
	}
	if _, err := f.manager.Validate(ctx, second.ID); err != nil {
		t.Fatalf("second session should validate: %v", err)
	}
}

func TestHardCapAndNoExtension(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	sess, _, err := f.manager.Start(ctx, "op-1", "sa-sess", "user-1", "org-1", "debug", auth.RequestMeta{})
	if err != nil {
		t.Fatal(err)
	}

	*f.now = f.now.Add(59 * time.Minute)
	if _, err := f.manager.Validate(ctx, sess.ID); err != nil {
		t.Fatalf("should be valid at 59m: %v", err)
	}

	*f.now = f.now.Add(2 * time.Minute)
	_, err = f.manager.Validate(ctx, sess.ID)
	if got := code(t, err); got != CodeSessionExpired {
		t.Fatalf("want %s past the cap, got %s", CodeSessionExpired, got)
	}
}

func TestEndIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	sess, _, err := f.manager.Start(ctx, "op-1", "sa-sess", "user-1", "org-1", "debug", auth.RequestMeta{})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.manager.End(ctx, sess.ID, "", "op-1"); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.End(ctx, sess.ID, "", "op-1"); err != nil {
		t.Fatalf("second end should be a no-op: %v", err)
	}
	if err := f.manager.End(ctx, "never-existed", "", "op-1"); err != nil {
		t.Fatalf("ending an unknown session should be a no-op: %v", err)
	}

	_, err = f.manager.Validate(ctx, sess.ID)
	if got := code(t, err); got != CodeSessionNotFound {
		t.Fatalf("ended session: want %s, got %s", CodeSessionNotFound, got)
	}
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	sess, _, err := f.manager.Start(ctx, "op-1", "sa-sess", "user-1", "org-1", "debug", auth.RequestMeta{})
	if err != nil {
		t.Fatal(err)
	}

	*f.now = f.now.Add(2 * time.Hour)
	n, err := f.manager.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("want one expired session closed, got n=%d err=%v", n, err)
	}
	stored, err := f.store.Find(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.EndedAt == nil || stored.EndReason != EndReasonExpired {
		t.Fatalf("want end reason %s, got %+v", EndReasonExpired, stored)
	}
}
