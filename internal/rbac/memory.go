package rbac

import (
	"context"
	"sync"
	"time"

	"gatehouse/internal/ids"
)

var _ RoleStore = (*MemRoleStore)(nil)

// MemRoleStore is an in-memory RoleStore used in tests and local development.
type MemRoleStore struct {
	mu    sync.Mutex
	roles map[string]*Role
}

func NewMemRoleStore() *MemRoleStore {
	return &MemRoleStore{roles: make(map[string]*Role)}
}

func (s *MemRoleStore) Create(_ context.Context, role *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if role.ID == "" {
		role.ID = ids.New()
	}
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	cp := *role
	s.roles[role.ID] = &cp
	return nil
}

func (s *MemRoleStore) Find(_ context.Context, id string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	return &cp, nil
}

func (s *MemRoleStore) ListByOrg(_ context.Context, orgID string) ([]*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Role
	for _, role := range s.roles {
		if role.OrganizationID == orgID {
			cp := *role
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemRoleStore) Update(_ context.Context, id string, upd RoleUpdate) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	role, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		role.Name = *upd.Name
	}
	if upd.Description != nil {
		role.Description = *upd.Description
	}
	if upd.Permissions != nil {
		role.Permissions = upd.Permissions
	}
	if upd.ParentRoleID != nil {
		role.ParentRoleID = *upd.ParentRoleID
	}
	role.UpdatedAt = time.Now().UTC()
	cp := *role
	return &cp, nil
}

func (s *MemRoleStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return ErrNotFound
	}
	delete(s.roles, id)
	return nil
}
