package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"gatehouse/internal/ids"
)

var _ RoleStore = (*PGRoleStore)(nil)

// PGRoleStore implements RoleStore on PostgreSQL. Permission sets are stored
// as JSONB arrays.
type PGRoleStore struct {
	db *sql.DB
}

func NewPGRoleStore(db *sql.DB) *PGRoleStore {
	return &PGRoleStore{db: db}
}

const roleColumns = `id, organization_id, name, description, permissions, parent_role_id, created_at, updated_at`

func (s *PGRoleStore) Create(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	perms, _ := json.Marshal(role.Permissions)
	_, err := s.db.ExecContext(ctx,
		`insert into roles(id, organization_id, name, description, permissions, parent_role_id)
		 values($1,$2,$3,$4,$5,nullif($6,''))`,
		role.ID, role.OrganizationID, role.Name, role.Description, perms, role.ParentRoleID,
	)
	return err
}

func (s *PGRoleStore) Find(ctx context.Context, id string) (*Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from roles where id=$1`, id)
	return scanRole(row)
}

func (s *PGRoleStore) ListByOrg(ctx context.Context, orgID string) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+roleColumns+` from roles where organization_id=$1 order by created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *PGRoleStore) Update(ctx context.Context, id string, upd RoleUpdate) (*Role, error) {
	role, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
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
	perms, _ := json.Marshal(role.Permissions)
	_, err = s.db.ExecContext(ctx,
		`update roles set name=$2, description=$3, permissions=$4, parent_role_id=nullif($5,''), updated_at=now()
		 where id=$1`,
		id, role.Name, role.Description, perms, role.ParentRoleID,
	)
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (s *PGRoleStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRole(row rowScanner) (*Role, error) {
	var (
		role   Role
		perms  []byte
		parent sql.NullString
	)
	if err := row.Scan(&role.ID, &role.OrganizationID, &role.Name, &role.Description,
		&perms, &parent, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(perms, &role.Permissions)
	role.ParentRoleID = parent.String
	return &role, nil
}
