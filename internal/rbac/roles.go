package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput  = errors.New("rbac: invalid input")
	ErrNotFound      = errors.New("rbac: role not found")
	ErrImmutableRole = errors.New("rbac: predefined roles are immutable")
)

// Predefined role names. These carry fixed permission sets and exist in every
// tenant without a backing row.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

var predefinedRoles = map[string][]string{
	RoleOwner: {"*"},
	RoleAdmin: {
		"orders.*",
		"creators.*",
		"payouts.*",
		"members.*",
		"settings.*",
		"analytics.*",
	},
	RoleMember: {
		"orders.view",
		"creators.view",
		"analytics.view",
	},
}

// PredefinedRoleNames lists the built-in roles in privilege order.
func PredefinedRoleNames() []string {
	return []string{RoleOwner, RoleAdmin, RoleMember}
}

// IsPredefined reports whether name is a built-in role.
func IsPredefined(name string) bool {
	_, ok := predefinedRoles[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// PredefinedPermissions returns a copy of a built-in role's permission set.
func PredefinedPermissions(name string) ([]string, bool) {
	perms, ok := predefinedRoles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out, true
}

// Role is a tenant-scoped custom role. ParentRoleID, when set, points at
// another role in the same tenant whose permissions are inherited.
type Role struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Permissions    []string  `json:"permissions"`
	ParentRoleID   string    `json:"parent_role_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RoleUpdate mutates a custom role. Nil fields are left untouched.
type RoleUpdate struct {
	Name         *string
	Description  *string
	Permissions  []string
	ParentRoleID *string
}

// RoleStore persists custom roles.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	ListByOrg(ctx context.Context, orgID string) ([]*Role, error)
	Update(ctx context.Context, id string, upd RoleUpdate) (*Role, error)
	Delete(ctx context.Context, id string) error
}

// Service exposes role management with predefined-role protection and
// inheritance resolution.
type Service struct {
	store RoleStore
}

func NewService(store RoleStore) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac: role store is required")
	}
	return &Service{store: store}, nil
}

// CreateRole creates a tenant-scoped custom role. Names colliding with a
// predefined role are rejected so lookups stay unambiguous.
func (s *Service) CreateRole(ctx context.Context, orgID, name, description string, perms []string, parentRoleID string) (*Role, error) {
	orgID = strings.TrimSpace(orgID)
	name = strings.TrimSpace(name)
	if orgID == "" || name == "" {
		return nil, fmt.Errorf("%w: organization id and role name are required", ErrInvalidInput)
	}
	if IsPredefined(name) {
		return nil, fmt.Errorf("%w: %q", ErrImmutableRole, name)
	}
	parentRoleID = strings.TrimSpace(parentRoleID)
	if parentRoleID != "" {
		parent, err := s.store.Find(ctx, parentRoleID)
		if err != nil {
			return nil, err
		}
		if parent.OrganizationID != orgID {
			return nil, fmt.Errorf("%w: parent role belongs to another tenant", ErrInvalidInput)
		}
	}
	role := &Role{
		OrganizationID: orgID,
		Name:           name,
		Description:    strings.TrimSpace(description),
		Permissions:    ResolvePermissions(perms, nil),
		ParentRoleID:   parentRoleID,
	}
	if err := s.store.Create(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// UpdateRole mutates a custom role.
func (s *Service) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (*Role, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		if IsPredefined(name) {
			return nil, fmt.Errorf("%w: %q", ErrImmutableRole, name)
		}
		upd.Name = &name
	}
	if upd.Permissions != nil {
		upd.Permissions = ResolvePermissions(upd.Permissions, nil)
	}
	return s.store.Update(ctx, id, upd)
}

// GetRole fetches a custom role scoped to a tenant. A role existing in a
// different tenant reads as absent.
func (s *Service) GetRole(ctx context.Context, orgID, id string) (*Role, error) {
	role, err := s.store.Find(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if role.OrganizationID != strings.TrimSpace(orgID) {
		return nil, ErrNotFound
	}
	return role, nil
}

// DeleteRole removes a custom role.
func (s *Service) DeleteRole(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: role id is required", ErrInvalidInput)
	}
	return s.store.Delete(ctx, id)
}

// ListRoles returns the tenant's custom roles.
func (s *Service) ListRoles(ctx context.Context, orgID string) ([]*Role, error) {
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return nil, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	return s.store.ListByOrg(ctx, orgID)
}

// RolePermissions resolves the effective permission set for a role name or
// custom role id within a tenant, following parent inheritance. The chain is
// bounded to guard against a cyclic parent reference in stored data.
func (s *Service) RolePermissions(ctx context.Context, orgID, role string) ([]string, error) {
	if perms, ok := PredefinedPermissions(role); ok {
		return perms, nil
	}
	const maxDepth = 8
	var (
		resolved []string
		id       = strings.TrimSpace(role)
	)
	for depth := 0; id != "" && depth < maxDepth; depth++ {
		r, err := s.store.Find(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.OrganizationID != orgID {
			return nil, fmt.Errorf("%w: role belongs to another tenant", ErrInvalidInput)
		}
		resolved = ResolvePermissions(resolved, r.Permissions)
		id = r.ParentRoleID
	}
	return resolved, nil
}
