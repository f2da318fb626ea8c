// Package audit writes the immutable, append-only trail behind every
// elevated action. Entries are never updated or deleted by this core.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"gatehouse/internal/ids"
	"gatehouse/internal/obs"
)

// Entry is one audit record. Before and After hold value snapshots for
// mutations; nil means not applicable.
type Entry struct {
	ID           string         `json:"id"`
	ActorID      string         `json:"actor_id"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	TenantID     string         `json:"tenant_id,omitempty"`
	Before       map[string]any `json:"before,omitempty"`
	After        map[string]any `json:"after,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// Store appends entries. There is deliberately no update or delete.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
}

// Log validates, stamps and appends entries, mirroring each one to the
// structured log so operators can tail the trail without a DB query.
type Log struct {
	store Store
	now   func() time.Time
}

func NewLog(store Store) *Log {
	return &Log{store: store, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (l *Log) WithClock(fn func() time.Time) *Log {
	if fn != nil {
		l.now = fn
	}
	return l
}

// Record appends one entry. Action and actor are mandatory; an elevated
// mutation without attribution is a bug, not a soft failure.
func (l *Log) Record(ctx context.Context, entry Entry) error {
	entry.Action = strings.TrimSpace(entry.Action)
	entry.ActorID = strings.TrimSpace(entry.ActorID)
	if entry.Action == "" {
		return errors.New("audit: action is required")
	}
	if entry.ActorID == "" {
		return errors.New("audit: actor is required")
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = l.now().UTC()
	}
	if err := l.store.Append(ctx, &entry); err != nil {
		return err
	}
	obs.Logger().Infow("audit",
		"action", entry.Action,
		"actor_id", entry.ActorID,
		"resource_type", entry.ResourceType,
		"resource_id", entry.ResourceID,
		"tenant_id", entry.TenantID,
		"ip", entry.IP,
	)
	return nil
}
