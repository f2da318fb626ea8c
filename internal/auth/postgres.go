package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gatehouse/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users() UserStore                 { return &pgUsers{db: s.db} }
func (s *PGStore) Organizations() OrganizationStore { return &pgOrgs{db: s.db} }
func (s *PGStore) Memberships() MembershipStore     { return &pgMemberships{db: s.db} }
func (s *PGStore) Sessions() SessionStore           { return &pgSessions{db: s.db} }
func (s *PGStore) MagicLinks() MagicLinkStore       { return &pgMagicLinks{db: s.db} }
func (s *PGStore) Invitations() InvitationStore     { return &pgInvitations{db: s.db} }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// User store ----------------------------------------------------------------

type pgUsers struct{ db *sql.DB }

const userColumns = `id, email, name, role, status, email_verified, coalesce(password_hash,''), last_login_at, created_at, updated_at`

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, name, role, status, email_verified, password_hash)
		 values($1, lower($2), $3, $4, $5, $6, nullif($7,''))`,
		u.ID, u.Email, u.Name, u.Role, u.Status, u.EmailVerified, u.PasswordHash,
	)
	return err
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email=lower($1)`, email)
	return scanUser(row)
}

func (s *pgUsers) SetStatus(ctx context.Context, id, status string) error {
	return s.exec(ctx, `update users set status=$2, updated_at=now() where id=$1`, id, status)
}

func (s *pgUsers) SetPassword(ctx context.Context, id, passwordHash string) error {
	return s.exec(ctx, `update users set password_hash=nullif($2,''), updated_at=now() where id=$1`, id, passwordHash)
}

func (s *pgUsers) MarkEmailVerified(ctx context.Context, id string) error {
	return s.exec(ctx, `update users set email_verified=true, updated_at=now() where id=$1`, id)
}

func (s *pgUsers) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, `update users set last_login_at=$2 where id=$1`, id, at)
}

func (s *pgUsers) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row *sql.Row) (*User, error) {
	var (
		u    User
		last sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.Status, &u.EmailVerified,
		&u.PasswordHash, &last, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	if last.Valid {
		u.LastLoginAt = &last.Time
	}
	return &u, nil
}

// Organization store --------------------------------------------------------

type pgOrgs struct{ db *sql.DB }

const orgColumns = `id, slug, name, status, created_at, updated_at`

func (s *pgOrgs) Create(ctx context.Context, org *Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into organizations(id, slug, name, status) values($1, lower($2), $3, $4)`,
		org.ID, org.Slug, org.Name, org.Status,
	)
	return err
}

func (s *pgOrgs) Find(ctx context.Context, id string) (*Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where id=$1`, id))
}

func (s *pgOrgs) FindBySlug(ctx context.Context, slug string) (*Organization, error) {
	return scanOrg(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where slug=lower($1)`, slug))
}

func scanOrg(row *sql.Row) (*Organization, error) {
	var org Organization
	if err := row.Scan(&org.ID, &org.Slug, &org.Name, &org.Status, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &org, nil
}

// Membership store ----------------------------------------------------------

type pgMemberships struct{ db *sql.DB }

const membershipColumns = `user_id, organization_id, role, is_default, last_active_at, created_at`

func (s *pgMemberships) Create(ctx context.Context, m *Membership) error {
	_, err := s.db.ExecContext(ctx,
		`insert into memberships(user_id, organization_id, role, is_default)
		 values($1,$2,$3,$4)`,
		m.UserID, m.OrganizationID, m.Role, m.IsDefault,
	)
	return err
}

func (s *pgMemberships) Find(ctx context.Context, userID, orgID string) (*Membership, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+membershipColumns+` from memberships where user_id=$1 and organization_id=$2`,
		userID, orgID)
	var (
		m    Membership
		last sql.NullTime
	)
	if err := row.Scan(&m.UserID, &m.OrganizationID, &m.Role, &m.IsDefault, &last, &m.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	if last.Valid {
		m.LastActiveAt = &last.Time
	}
	return &m, nil
}

func (s *pgMemberships) ListByUser(ctx context.Context, userID string) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+membershipColumns+` from memberships where user_id=$1 order by created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		var (
			m    Membership
			last sql.NullTime
		)
		if err := rows.Scan(&m.UserID, &m.OrganizationID, &m.Role, &m.IsDefault, &last, &m.CreatedAt); err != nil {
			return nil, err
		}
		if last.Valid {
			m.LastActiveAt = &last.Time
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (s *pgMemberships) Delete(ctx context.Context, userID, orgID string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from memberships where user_id=$1 and organization_id=$2`, userID, orgID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDefault clears the previous default and flags the new one in a single
// transaction so the at-most-one invariant holds under concurrency.
func (s *pgMemberships) SetDefault(ctx context.Context, userID, orgID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`update memberships set is_default=false where user_id=$1 and is_default`, userID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`update memberships set is_default=true where user_id=$1 and organization_id=$2`, userID, orgID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *pgMemberships) TouchLastActive(ctx context.Context, userID, orgID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update memberships set last_active_at=$3 where user_id=$1 and organization_id=$2`,
		userID, orgID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Session store -------------------------------------------------------------

type pgSessions struct{ db *sql.DB }

const sessionColumns = `id, user_id, coalesce(organization_id,''), token_hash, expires_at, coalesce(ip,''), coalesce(user_agent,''), revoked_at, created_at`

func (s *pgSessions) Create(ctx context.Context, sess *Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, user_id, organization_id, token_hash, expires_at, ip, user_agent)
		 values($1,$2,nullif($3,''),$4,$5,nullif($6,''),nullif($7,''))`,
		sess.ID, sess.UserID, sess.OrganizationID, sess.TokenHash, sess.ExpiresAt, sess.IP, sess.UserAgent,
	)
	return err
}

func (s *pgSessions) Find(ctx context.Context, id string) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where id=$1`, id))
}

func (s *pgSessions) FindByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where token_hash=$1`, tokenHash))
}

func scanSession(row *sql.Row) (*Session, error) {
	var (
		sess    Session
		revoked sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.OrganizationID, &sess.TokenHash,
		&sess.ExpiresAt, &sess.IP, &sess.UserAgent, &revoked, &sess.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	if revoked.Valid {
		sess.RevokedAt = &revoked.Time
	}
	return &sess, nil
}

func (s *pgSessions) Revoke(ctx context.Context, id string, at time.Time) error {
	// Idempotent: already-revoked and unknown sessions are both fine.
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at=$2 where id=$1 and revoked_at is null`, id, at)
	return err
}

func (s *pgSessions) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set revoked_at=$2 where user_id=$1 and revoked_at is null`, userID, at)
	return err
}

func (s *pgSessions) UpdateOrganization(ctx context.Context, id, orgID string) error {
	res, err := s.db.ExecContext(ctx,
		`update sessions set organization_id=nullif($2,'') where id=$1`, id, orgID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgSessions) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Magic link store ----------------------------------------------------------

type pgMagicLinks struct{ db *sql.DB }

func (s *pgMagicLinks) Create(ctx context.Context, l *MagicLink) error {
	if l.ID == "" {
		l.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into magic_links(id, email, token_hash, purpose, expires_at)
		 values($1, lower($2), $3, $4, $5)`,
		l.ID, l.Email, l.TokenHash, l.Purpose, l.ExpiresAt,
	)
	return err
}

func (s *pgMagicLinks) Find(ctx context.Context, email, tokenHash string) (*MagicLink, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, email, token_hash, purpose, expires_at, consumed_at, created_at
		 from magic_links where email=lower($1) and token_hash=$2`,
		email, tokenHash)
	var (
		l        MagicLink
		consumed sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.Email, &l.TokenHash, &l.Purpose, &l.ExpiresAt, &consumed, &l.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	if consumed.Valid {
		l.ConsumedAt = &consumed.Time
	}
	return &l, nil
}

// Consume sets consumed_at conditionally; the where-clause guard is what
// makes the token single-use even under a verification race.
func (s *pgMagicLinks) Consume(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update magic_links set consumed_at=$2 where id=$1 and consumed_at is null`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Invitation store ----------------------------------------------------------

type pgInvitations struct{ db *sql.DB }

const invitationColumns = `id, email, organization_id, role, token_hash, expires_at, accepted_at, created_at, updated_at`

func (s *pgInvitations) Create(ctx context.Context, inv *Invitation) error {
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into invitations(id, email, organization_id, role, token_hash, expires_at)
		 values($1, lower($2), $3, $4, $5, $6)`,
		inv.ID, inv.Email, inv.OrganizationID, inv.Role, inv.TokenHash, inv.ExpiresAt,
	)
	return err
}

func (s *pgInvitations) FindByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations where token_hash=$1`, tokenHash))
}

func (s *pgInvitations) FindPending(ctx context.Context, email, orgID string) (*Invitation, error) {
	return scanInvitation(s.db.QueryRowContext(ctx,
		`select `+invitationColumns+` from invitations
		 where email=lower($1) and organization_id=$2 and accepted_at is null`,
		email, orgID))
}

func scanInvitation(row *sql.Row) (*Invitation, error) {
	var (
		inv      Invitation
		accepted sql.NullTime
	)
	if err := row.Scan(&inv.ID, &inv.Email, &inv.OrganizationID, &inv.Role, &inv.TokenHash,
		&inv.ExpiresAt, &accepted, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	if accepted.Valid {
		inv.AcceptedAt = &accepted.Time
	}
	return &inv, nil
}

func (s *pgInvitations) Rotate(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update invitations set token_hash=$2, expires_at=$3, updated_at=now()
		 where id=$1 and accepted_at is null`,
		id, tokenHash, expiresAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgInvitations) MarkAccepted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update invitations set accepted_at=$2, updated_at=$2 where id=$1 and accepted_at is null`, id, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
