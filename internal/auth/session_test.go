package auth

import (
	"context"
	"testing"
	"time"
)

func TestSessionLifecycle(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	store := NewMemStore()
	mgr := NewSessionManager(store).WithClock(func() time.Time { return now })
	ctx := context.Background()

	sess, raw, err := mgr.CreateSession(ctx, "user-1", "org-1", RequestMeta{IP: "10.0.0.1", UserAgent: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if raw == "" || sess.TokenHash == raw {
		t.Fatal("raw token must be returned and never stored verbatim")
	}
	if !sess.ExpiresAt.Equal(now.Add(SessionTTL)) {
		t.Fatalf("want 30d expiry, got %v", sess.ExpiresAt)
	}

	got, err := mgr.ValidateSession(ctx, raw)
	if err != nil || got == nil || got.ID != sess.ID {
		t.Fatalf("validate: got=%v err=%v", got, err)
	}
	byID, err := mgr.ValidateSessionByID(ctx, sess.ID)
	if err != nil || byID == nil {
		t.Fatalf("validate by id: got=%v err=%v", byID, err)
	}

	if err := mgr.RevokeSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if got, err := mgr.ValidateSession(ctx, raw); err != nil || got != nil {
		t.Fatalf("revoked session must be absent: got=%v err=%v", got, err)
	}
	// Idempotent.
	if err := mgr.RevokeSession(ctx, sess.ID); err != nil {
		t.Fatalf("second revoke: %v", err)
	}
}

func TestValidateSessionAbsenceIsNotAnError(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	mgr := NewSessionManager(NewMemStore()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	for _, raw := range []string{"", "   ", "unknown-token"} {
		if got, err := mgr.ValidateSession(ctx, raw); err != nil || got != nil {
			t.Fatalf("token %q: got=%v err=%v", raw, got, err)
		}
	}
	if got, err := mgr.ValidateSessionByID(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("unknown id: got=%v err=%v", got, err)
	}
}

func TestValidateSessionExpiry(t *testing.T) {
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	now := start
	store := NewMemStore()
	mgr := NewSessionManager(store).WithClock(func() time.Time { return now })
	ctx := context.Background()

	_, raw, err := mgr.CreateSession(ctx, "user-1", "", RequestMeta{})
	if err != nil {
		t.Fatal(err)
	}

	now = start.Add(SessionTTL - time.Minute)
	if got, err := mgr.ValidateSession(ctx, raw); err != nil || got == nil {
		t.Fatalf("just before expiry: got=%v err=%v", got, err)
	}
	now = start.Add(SessionTTL)
	if got, err := mgr.ValidateSession(ctx, raw); err != nil || got != nil {
		t.Fatalf("at expiry: got=%v err=%v", got, err)
	}
}

func TestRevokeAllSessions(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	store := NewMemStore()
	mgr := NewSessionManager(store).WithClock(func() time.Time { return now })
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		_, raw, err := mgr.CreateSession(ctx, "user-1", "org-1", RequestMeta{})
		if err != nil {
			t.Fatal(err)
		}
		tokens = append(tokens, raw)
	}
	_, other, err := mgr.CreateSession(ctx, "user-2", "org-1", RequestMeta{})
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.RevokeAllSessions(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	for _, raw := range tokens {
		if got, _ := mgr.ValidateSession(ctx, raw); got != nil {
			t.Fatal("user-1 session survived bulk revoke")
		}
	}
	if got, _ := mgr.ValidateSession(ctx, other); got == nil {
		t.Fatal("user-2 session should be untouched")
	}
}

func TestDisableUser(t *testing.T) {
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	store := NewMemStore()
	mgr := NewSessionManager(store).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Users().Create(ctx, &User{ID: "user-1", Email: "a@example.com", Status: UserStatusActive}); err != nil {
		t.Fatal(err)
	}
	_, raw, err := mgr.CreateSession(ctx, "user-1", "", RequestMeta{})
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.DisableUser(ctx, "user-1"); err != nil {
		t.Fatal(err)
	}
	u, err := store.Users().Find(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Status != UserStatusDisabled {
		t.Fatalf("want disabled, got %s", u.Status)
	}
	if got, _ := mgr.ValidateSession(ctx, raw); got != nil {
		t.Fatal("disabled user's session should be revoked")
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	now := start
	store := NewMemStore()
	mgr := NewSessionManager(store).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if _, _, err := mgr.CreateSession(ctx, "user-1", "", RequestMeta{}); err != nil {
		t.Fatal(err)
	}
	now = start.Add(SessionTTL / 2)
	if _, _, err := mgr.CreateSession(ctx, "user-1", "", RequestMeta{}); err != nil {
		t.Fatal(err)
	}

	now = start.Add(SessionTTL + time.Hour)
	n, err := mgr.CleanupExpiredSessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("want one purged session, got %d", n)
	}
}
