package impersonation

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

func (s *PGStore) Replace(ctx context.Context, sess *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`update impersonation_sessions set ended_at=$2, end_reason=$3
		 where super_admin_id=$1 and ended_at is null`,
		sess.SuperAdminID, sess.CreatedAt, EndReasonNewSession,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`insert into impersonation_sessions(id, super_admin_id, target_user_id, target_tenant_id, reason, expires_at, ip, user_agent, created_at)
		 values($1, $2, $3, $4, $5, $6, nullif($7,''), nullif($8,''), $9)`,
		sess.ID, sess.SuperAdminID, sess.TargetUserID, sess.TargetTenantID, sess.Reason,
		sess.ExpiresAt, sess.IP, sess.UserAgent, sess.CreatedAt,
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) Find(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, super_admin_id, target_user_id, target_tenant_id, reason, expires_at,
		        ended_at, coalesce(end_reason,''), coalesce(ip,''), coalesce(user_agent,''), created_at
		   from impersonation_sessions where id=$1`, id)
	var (
		sess  Session
		ended sql.NullTime
	)
	if err := row.Scan(&sess.ID, &sess.SuperAdminID, &sess.TargetUserID, &sess.TargetTenantID,
		&sess.Reason, &sess.ExpiresAt, &ended, &sess.EndReason, &sess.IP, &sess.UserAgent,
		&sess.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if ended.Valid {
		sess.EndedAt = &ended.Time
	}
	return &sess, nil
}

func (s *PGStore) End(ctx context.Context, id string, at time.Time, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`update impersonation_sessions set ended_at=$2, end_reason=$3
		 where id=$1 and ended_at is null`,
		id, at, reason)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ExpireOverdue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`update impersonation_sessions set ended_at=$1, end_reason=$2
		 where ended_at is null and expires_at <= $1`,
		now, EndReasonExpired)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
