package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatehouse/internal/audit"
)

// TenantSwitcher moves a multi-org user between accessible organizations,
// re-issuing their token for the new context.
type TenantSwitcher struct {
	store  Store
	tokens *TokenIssuer
	log    *audit.Log
	now    func() time.Time
}

func NewTenantSwitcher(store Store, tokens *TokenIssuer, log *audit.Log) *TenantSwitcher {
	return &TenantSwitcher{store: store, tokens: tokens, log: log, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (t *TenantSwitcher) WithClock(fn func() time.Time) *TenantSwitcher {
	if fn != nil {
		t.now = fn
	}
	return t
}

// SwitchTenantContext validates that the user can act in the target tenant,
// re-issues a token scoped to it with the accessible-org list recomputed,
// points the session at the new org and touches the membership. No token is
// issued when any check fails.
func (t *TenantSwitcher) SwitchTenantContext(ctx context.Context, userID, targetSlug, sessionID, ip string) (string, *Organization, error) {
	userID = strings.TrimSpace(userID)
	targetSlug = strings.TrimSpace(strings.ToLower(targetSlug))
	if userID == "" || targetSlug == "" {
		return "", nil, fmt.Errorf("%w: user id and tenant slug are required", ErrInvalidInput)
	}
	org, err := t.store.Organizations().FindBySlug(ctx, targetSlug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, &TenantAccessError{UserID: userID, Reason: "unknown tenant " + targetSlug}
		}
		return "", nil, err
	}
	if org.Status != OrgStatusActive {
		return "", nil, &TenantAccessError{UserID: userID, TenantID: org.ID, Reason: "tenant is suspended"}
	}
	membership, err := t.store.Memberships().Find(ctx, userID, org.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, &TenantAccessError{UserID: userID, TenantID: org.ID, Reason: "no membership in tenant"}
		}
		return "", nil, err
	}

	user, err := t.store.Users().Find(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	orgs, err := t.AccessibleOrgs(ctx, userID)
	if err != nil {
		return "", nil, err
	}

	token, err := t.tokens.Issue(userID, Claims{
		SessionID: sessionID,
		Email:     user.Email,
		OrgSlug:   org.Slug,
		OrgID:     org.ID,
		Role:      membership.Role,
		Orgs:      orgs,
	}, TokenTTL)
	if err != nil {
		return "", nil, err
	}

	now := t.now().UTC()
	if sessionID != "" {
		if err := t.store.Sessions().UpdateOrganization(ctx, sessionID, org.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return "", nil, err
		}
	}
	if err := t.store.Memberships().TouchLastActive(ctx, userID, org.ID, now); err != nil {
		return "", nil, err
	}
	if t.log != nil {
		if err := t.log.Record(ctx, audit.Entry{
			ActorID:      userID,
			Action:       "tenant.switched",
			ResourceType: "organization",
			ResourceID:   org.ID,
			TenantID:     org.ID,
			After:        map[string]any{"slug": org.Slug},
			IP:           ip,
		}); err != nil {
			return "", nil, err
		}
	}
	return token, org, nil
}

// AccessibleOrgs lists every active organization the user holds a membership
// in, as token org claims.
func (t *TenantSwitcher) AccessibleOrgs(ctx context.Context, userID string) ([]OrgClaim, error) {
	memberships, err := t.store.Memberships().ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	orgs := make([]OrgClaim, 0, len(memberships))
	for _, m := range memberships {
		org, err := t.store.Organizations().Find(ctx, m.OrganizationID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if org.Status != OrgStatusActive {
			continue
		}
		orgs = append(orgs, OrgClaim{ID: org.ID, Slug: org.Slug, Role: m.Role})
	}
	return orgs, nil
}

// GetUserTenants returns the user's active organizations.
func (t *TenantSwitcher) GetUserTenants(ctx context.Context, userID string) ([]OrgClaim, error) {
	return t.AccessibleOrgs(ctx, userID)
}

// GetDefaultTenant returns the organization flagged as the user's default,
// or nil when none is set.
func (t *TenantSwitcher) GetDefaultTenant(ctx context.Context, userID string) (*Organization, error) {
	memberships, err := t.store.Memberships().ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		if m.IsDefault {
			return t.store.Organizations().Find(ctx, m.OrganizationID)
		}
	}
	return nil, nil
}

// SetDefaultTenant makes orgID the user's default, clearing any prior one so
// at most one membership carries the flag.
func (t *TenantSwitcher) SetDefaultTenant(ctx context.Context, userID, orgID string) error {
	if _, err := t.store.Memberships().Find(ctx, userID, orgID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &TenantAccessError{UserID: userID, TenantID: orgID, Reason: "no membership in tenant"}
		}
		return err
	}
	return t.store.Memberships().SetDefault(ctx, userID, orgID)
}

// ShouldShowWelcomeModal is true iff the user belongs to more than one active
// organization and has not picked a default yet.
func (t *TenantSwitcher) ShouldShowWelcomeModal(ctx context.Context, userID string) (bool, error) {
	memberships, err := t.store.Memberships().ListByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	active := 0
	for _, m := range memberships {
		if m.IsDefault {
			return false, nil
		}
		org, err := t.store.Organizations().Find(ctx, m.OrganizationID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return false, err
		}
		if org.Status == OrgStatusActive {
			active++
		}
	}
	return active > 1, nil
}
