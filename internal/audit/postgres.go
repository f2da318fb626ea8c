package audit

import (
	"context"
	"database/sql"
	"encoding/json"
)

var _ Store = (*PGStore)(nil)

// PGStore appends audit rows to PostgreSQL. Snapshots go into JSONB columns.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, entry *Entry) error {
	before, _ := json.Marshal(entry.Before)
	after, _ := json.Marshal(entry.After)
	_, err := s.db.ExecContext(ctx,
		`insert into audit_log(id, actor_id, action, resource_type, resource_id, tenant_id, before, after, ip, user_agent, occurred_at)
		 values($1,$2,$3,$4,$5,nullif($6,''),$7,$8,$9,$10,$11)`,
		entry.ID, entry.ActorID, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.TenantID, before, after, entry.IP, entry.UserAgent, entry.OccurredAt,
	)
	return err
}
