package superadmin

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const adminColumns = `user_id, granted_by, can_access_all_tenants, can_impersonate, can_manage_super_admins, mfa_enabled, is_active, coalesce(last_access_ip,''), created_at, updated_at`

func (s *PGStore) CreateAdmin(ctx context.Context, admin *User) error {
	_, err := s.db.ExecContext(ctx,
		`insert into super_admin_users(user_id, granted_by, can_access_all_tenants, can_impersonate, can_manage_super_admins, mfa_enabled, is_active)
		 values($1, $2, $3, $4, $5, $6, $7)
		 on conflict (user_id) do update set
		   granted_by=excluded.granted_by,
		   can_access_all_tenants=excluded.can_access_all_tenants,
		   can_impersonate=excluded.can_impersonate,
		   can_manage_super_admins=excluded.can_manage_super_admins,
		   is_active=excluded.is_active,
		   updated_at=now()`,
		admin.UserID, admin.GrantedBy, admin.CanAccessAllTenants, admin.CanImpersonate,
		admin.CanManageSuperAdmins, admin.MFAEnabled, admin.IsActive,
	)
	return err
}

func (s *PGStore) FindAdmin(ctx context.Context, userID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+adminColumns+` from super_admin_users where user_id=$1`, userID)
	var u User
	if err := row.Scan(&u.UserID, &u.GrantedBy, &u.CanAccessAllTenants, &u.CanImpersonate,
		&u.CanManageSuperAdmins, &u.MFAEnabled, &u.IsActive, &u.LastAccessIP,
		&u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *PGStore) SetAdminActive(ctx context.Context, userID string, active bool) error {
	return s.exec(ctx,
		`update super_admin_users set is_active=$2, updated_at=now() where user_id=$1`,
		userID, active)
}

func (s *PGStore) CountActiveAdmins(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from super_admin_users where is_active`).Scan(&n)
	return n, err
}

func (s *PGStore) RecordAccess(ctx context.Context, userID, ip string) error {
	return s.exec(ctx,
		`update super_admin_users set last_access_ip=$2, updated_at=now() where user_id=$1`,
		userID, ip)
}

func (s *PGStore) ReplaceSessions(ctx context.Context, sess *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`update super_admin_sessions set revoked_at=$2, revoked_reason=$3
		 where user_id=$1 and revoked_at is null`,
		sess.UserID, sess.CreatedAt, ReasonNewSession,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into super_admin_sessions(id, user_id, token_hash, expires_at, inactivity_timeout_minutes, last_activity_at, ip, user_agent, created_at)
		 values($1, $2, $3, $4, $5, $6, nullif($7,''), nullif($8,''), $9)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.ExpiresAt, sess.InactivityTimeoutMinutes,
		sess.LastActivityAt, sess.IP, sess.UserAgent, sess.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

const sessionColumns = `id, user_id, token_hash, expires_at, inactivity_timeout_minutes, last_activity_at, mfa_verified, mfa_challenge_expires_at, revoked_at, coalesce(revoked_reason,''), coalesce(ip,''), coalesce(user_agent,''), created_at`

func (s *PGStore) FindSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from super_admin_sessions where id=$1`, id)
	return scanSession(row)
}

func (s *PGStore) FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from super_admin_sessions where token_hash=$1`, tokenHash)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var (
		sess         Session
		mfaChallenge sql.NullTime
		revoked      sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.ExpiresAt,
		&sess.InactivityTimeoutMinutes, &sess.LastActivityAt, &sess.MFAVerified,
		&mfaChallenge, &revoked, &sess.RevokedReason, &sess.IP, &sess.UserAgent,
		&sess.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	if mfaChallenge.Valid {
		sess.MFAChallengeExpiresAt = &mfaChallenge.Time
	}
	if revoked.Valid {
		sess.RevokedAt = &revoked.Time
	}
	return &sess, nil
}

func (s *PGStore) RevokeSession(ctx context.Context, id string, at time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`update super_admin_sessions set revoked_at=$2, revoked_reason=$3
		 where id=$1 and revoked_at is null`,
		id, at, reason)
	return err
}

func (s *PGStore) RevokeAllSessions(ctx context.Context, userID string, at time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`update super_admin_sessions set revoked_at=$2, revoked_reason=$3
		 where user_id=$1 and revoked_at is null`,
		userID, at, reason)
	return err
}

func (s *PGStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx,
		`update super_admin_sessions set last_activity_at=$2 where id=$1`, id, at)
}

func (s *PGStore) SetMFAChallenge(ctx context.Context, sessionID string, expiresAt time.Time) error {
	return s.exec(ctx,
		`update super_admin_sessions set mfa_challenge_expires_at=$2, mfa_verified=false where id=$1`,
		sessionID, expiresAt)
}

func (s *PGStore) MarkMFAVerified(ctx context.Context, sessionID string) error {
	return s.exec(ctx,
		`update super_admin_sessions set mfa_verified=true, mfa_challenge_expires_at=null where id=$1`,
		sessionID)
}

// IncrementWindow is a single upsert so concurrent callers never lose an
// increment or double-start a window.
func (s *PGStore) IncrementWindow(ctx context.Context, userID, bucket string, now, resetBefore time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`insert into super_admin_rate_windows(user_id, bucket, window_start, count)
		 values($1, $2, $3, 1)
		 on conflict (user_id, bucket) do update set
		   count = case when super_admin_rate_windows.window_start <= $4 then 1 else super_admin_rate_windows.count + 1 end,
		   window_start = case when super_admin_rate_windows.window_start <= $4 then $3 else super_admin_rate_windows.window_start end
		 returning count`,
		userID, bucket, now, resetBefore,
	).Scan(&count)
	return count, err
}

func (s *PGStore) AllowlistStatus(ctx context.Context, ip string) (int, bool, error) {
	var (
		total  int
		listed bool
	)
	err := s.db.QueryRowContext(ctx,
		`select count(*), coalesce(bool_or(ip=$1), false) from super_admin_ip_allowlist`, ip,
	).Scan(&total, &listed)
	if err != nil {
		return 0, false, err
	}
	return total, listed, nil
}

func (s *PGStore) AddAllowlistEntry(ctx context.Context, ip, note string) error {
	_, err := s.db.ExecContext(ctx,
		`insert into super_admin_ip_allowlist(ip, note) values($1, nullif($2,''))
		 on conflict (ip) do update set note=excluded.note`,
		ip, note)
	return err
}

func (s *PGStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
