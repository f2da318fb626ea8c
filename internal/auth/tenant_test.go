package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"gatehouse/internal/audit"
)

func newSwitcherFixture(t *testing.T) (*TenantSwitcher, *MemStore, *audit.MemStore, *TokenIssuer) {
	t.Helper()
	now := time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemStore()
	tokens, err := NewTokenIssuer(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	tokens.WithClock(clock)
	audits := audit.NewMemStore()
	sw := NewTenantSwitcher(store, tokens, audit.NewLog(audits)).WithClock(clock)
	return sw, store, audits, tokens
}

func seedTwoOrgUser(t *testing.T, store *MemStore) {
	t.Helper()
	ctx := context.Background()
	if err := store.Users().Create(ctx, &User{ID: "user-1", Email: "a@example.com", Status: UserStatusActive}); err != nil {
		t.Fatal(err)
	}
	for _, org := range []*Organization{
		{ID: "org-1", Slug: "alpha", Name: "Alpha", Status: OrgStatusActive},
		{ID: "org-2", Slug: "beta", Name: "Beta", Status: OrgStatusActive},
		{ID: "org-3", Slug: "gone", Name: "Gone", Status: OrgStatusSuspended},
	} {
		if err := store.Organizations().Create(ctx, org); err != nil {
			t.Fatal(err)
		}
	}
	for _, m := range []*Membership{
		{UserID: "user-1", OrganizationID: "org-1", Role: "owner"},
		{UserID: "user-1", OrganizationID: "org-2", Role: "member"},
		{UserID: "user-1", OrganizationID: "org-3", Role: "member"},
	} {
		if err := store.Memberships().Create(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSwitchTenantContext(t *testing.T) {
	sw, store, audits, tokens := newSwitcherFixture(t)
	seedTwoOrgUser(t, store)
	ctx := context.Background()

	sess := &Session{ID: "sess-1", UserID: "user-1", OrganizationID: "org-1", TokenHash: "h", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.Sessions().Create(ctx, sess); err != nil {
		t.Fatal(err)
	}

	token, org, err := sw.SwitchTenantContext(ctx, "user-1", "BETA", "sess-1", "10.0.0.9")
	if err != nil {
		t.Fatal(err)
	}
	if org.ID != "org-2" {
		t.Fatalf("want org-2, got %+v", org)
	}

	claims, err := tokens.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.OrgID != "org-2" || claims.OrgSlug != "beta" || claims.Role != "member" {
		t.Fatalf("token not scoped to the target tenant: %+v", claims)
	}
	// Suspended orgs are excluded from the recomputed accessible list.
	if len(claims.Orgs) != 2 {
		t.Fatalf("want two accessible orgs, got %+v", claims.Orgs)
	}

	updated, err := store.Sessions().Find(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if updated.OrganizationID != "org-2" {
		t.Fatalf("session should point at the new org, got %s", updated.OrganizationID)
	}

	m, err := store.Memberships().Find(ctx, "user-1", "org-2")
	if err != nil {
		t.Fatal(err)
	}
	if m.LastActiveAt == nil {
		t.Fatal("membership last-active not touched")
	}

	entries := audits.Entries()
	if len(entries) != 1 || entries[0].Action != "tenant.switched" || entries[0].TenantID != "org-2" {
		t.Fatalf("audit trail wrong: %+v", entries)
	}
}

func TestSwitchTenantContextFailuresIssueNoToken(t *testing.T) {
	sw, store, audits, _ := newSwitcherFixture(t)
	seedTwoOrgUser(t, store)
	ctx := context.Background()

	cases := []struct {
		name, slug string
	}{
		{"unknown tenant", "nope"},
		{"suspended tenant", "gone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token, _, err := sw.SwitchTenantContext(ctx, "user-1", tc.slug, "sess-1", "")
			var tae *TenantAccessError
			if !errors.As(err, &tae) {
				t.Fatalf("want TenantAccessError, got %v", err)
			}
			if token != "" {
				t.Fatal("failed switch must not issue a token")
			}
		})
	}

	// No membership.
	if err := store.Users().Create(ctx, &User{ID: "user-2", Email: "b@example.com", Status: UserStatusActive}); err != nil {
		t.Fatal(err)
	}
	token, _, err := sw.SwitchTenantContext(ctx, "user-2", "alpha", "", "")
	var tae *TenantAccessError
	if !errors.As(err, &tae) || token != "" {
		t.Fatalf("want TenantAccessError and no token, got token=%q err=%v", token, err)
	}
	if len(audits.Entries()) != 0 {
		t.Fatal("failed switches must not audit a success")
	}
}

type brokenAuditStore struct{}

func (brokenAuditStore) Append(context.Context, *audit.Entry) error {
	return errors.New("audit store unavailable")
}

func TestSwitchTenantContextFailsWhenAuditUnavailable(t *testing.T) {
	now := time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := NewMemStore()
	tokens, err := NewTokenIssuer(testSecret)
	if err != nil {
		t.Fatal(err)
	}
	tokens.WithClock(clock)
	sw := NewTenantSwitcher(store, tokens, audit.NewLog(brokenAuditStore{})).WithClock(clock)
	seedTwoOrgUser(t, store)
	ctx := context.Background()

	token, org, err := sw.SwitchTenantContext(ctx, "user-1", "beta", "", "")
	if err == nil {
		t.Fatal("switch without an audit entry must fail")
	}
	if token != "" || org != nil {
		t.Fatalf("no token or org may escape: token=%q org=%v", token, org)
	}
}

func TestDefaultTenant(t *testing.T) {
	sw, store, _, _ := newSwitcherFixture(t)
	seedTwoOrgUser(t, store)
	ctx := context.Background()

	org, err := sw.GetDefaultTenant(ctx, "user-1")
	if err != nil || org != nil {
		t.Fatalf("no default yet: got=%v err=%v", org, err)
	}

	if err := sw.SetDefaultTenant(ctx, "user-1", "org-1"); err != nil {
		t.Fatal(err)
	}
	org, err = sw.GetDefaultTenant(ctx, "user-1")
	if err != nil || org == nil || org.ID != "org-1" {
		t.Fatalf("want org-1 default: got=%v err=%v", org, err)
	}

	// Re-pointing clears the old flag; at most one default survives.
	if err := sw.SetDefaultTenant(ctx, "user-1", "org-2"); err != nil {
		t.Fatal(err)
	}
	memberships, err := store.Memberships().ListByUser(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	defaults := 0
	for _, m := range memberships {
		if m.IsDefault {
			defaults++
			if m.OrganizationID != "org-2" {
				t.Fatalf("wrong default: %+v", m)
			}
		}
	}
	if defaults != 1 {
		t.Fatalf("want exactly one default, got %d", defaults)
	}

	// Membership is required.
	if err := sw.SetDefaultTenant(ctx, "user-1", "org-404"); err == nil {
		t.Fatal("default without membership should fail")
	}
}

func TestShouldShowWelcomeModal(t *testing.T) {
	sw, store, _, _ := newSwitcherFixture(t)
	seedTwoOrgUser(t, store)
	ctx := context.Background()

	// Two active orgs, no default.
	show, err := sw.ShouldShowWelcomeModal(ctx, "user-1")
	if err != nil || !show {
		t.Fatalf("want modal: show=%v err=%v", show, err)
	}

	if err := sw.SetDefaultTenant(ctx, "user-1", "org-1"); err != nil {
		t.Fatal(err)
	}
	show, err = sw.ShouldShowWelcomeModal(ctx, "user-1")
	if err != nil || show {
		t.Fatalf("default set, no modal: show=%v err=%v", show, err)
	}

	// Single-org users never see it.
	if err := store.Users().Create(ctx, &User{ID: "user-2", Email: "b@example.com", Status: UserStatusActive}); err != nil {
		t.Fatal(err)
	}
	if err := store.Memberships().Create(ctx, &Membership{UserID: "user-2", OrganizationID: "org-1", Role: "member"}); err != nil {
		t.Fatal(err)
	}
	show, err = sw.ShouldShowWelcomeModal(ctx, "user-2")
	if err != nil || show {
		t.Fatalf("single org, no modal: show=%v err=%v", show, err)
	}
}
