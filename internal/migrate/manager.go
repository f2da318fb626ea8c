// Package migrate applies the SQL migration and seed scripts shipped with
// the service. Migrations are numbered NNNN_name.up.sql / NNNN_name.down.sql
// pairs; seeds are plain .sql files applied at most once. Applied script
// names land in ledger tables, so every command is safe to re-run.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"gatehouse/internal/obs"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"

	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Manager runs migration and seed scripts from disk against one database.
type Manager struct {
	db       *sql.DB
	dir      string
	seedsDir string

	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the migration ledger table name.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the seed ledger table name.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

func NewManager(db *sql.DB, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		dir:             migrationsDir,
		seedsDir:        seedsDir,
		migrationsTable: defaultMigrationsTable,
		seedsTable:      defaultSeedsTable,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithClock overrides the time source, for tests.
func (m *Manager) WithClock(fn func() time.Time) *Manager {
	if fn != nil {
		m.now = fn
	}
	return m
}

// Up applies every pending migration in lexical order. Each script runs in
// its own transaction and is recorded before the next one starts, so a
// mid-run failure leaves the ledger pointing at the last good script.
func (m *Manager) Up(ctx context.Context) error {
	if err := m.ensureLedgers(ctx); err != nil {
		return err
	}
	applied, err := m.appliedSet(ctx, m.migrationsTable)
	if err != nil {
		return err
	}
	scripts, err := listScripts(m.dir, upSuffix)
	if err != nil {
		return err
	}
	ran := 0
	for _, sc := range scripts {
		if applied[sc.name] {
			continue
		}
		if _, err := os.Stat(downCounterpart(sc.path)); err != nil {
			obs.Logger().Warnw("migration has no down script", "name", sc.name)
		}
		if err := m.runScript(ctx, sc.path); err != nil {
			return fmt.Errorf("migrate: apply %s: %w", sc.name, err)
		}
		if err := m.markApplied(ctx, m.migrationsTable, sc.name); err != nil {
			return err
		}
		obs.Logger().Infow("migration applied", "name", sc.name)
		ran++
	}
	if ran == 0 {
		obs.Logger().Infow("schema up to date", "applied", len(applied))
	}
	return nil
}

// Down rolls back the most recently applied migration using its .down.sql
// counterpart and removes it from the ledger.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureLedgers(ctx); err != nil {
		return err
	}
	history, err := m.appliedInOrder(ctx, m.migrationsTable)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return errors.New("migrate: nothing to roll back")
	}
	last := history[len(history)-1]
	down := downCounterpart(filepath.Join(m.dir, last))
	if _, err := os.Stat(down); err != nil {
		return fmt.Errorf("migrate: %s has no down script", last)
	}
	if err := m.runScript(ctx, down); err != nil {
		return fmt.Errorf("migrate: roll back %s: %w", last, err)
	}
	if _, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable), last); err != nil {
		return err
	}
	obs.Logger().Infow("migration rolled back", "name", last)
	return nil
}

// Seed applies pending seed scripts, each at most once.
func (m *Manager) Seed(ctx context.Context) error {
	if err := m.ensureLedgers(ctx); err != nil {
		return err
	}
	applied, err := m.appliedSet(ctx, m.seedsTable)
	if err != nil {
		return err
	}
	scripts, err := listScripts(m.seedsDir, ".sql")
	if err != nil {
		return err
	}
	for _, sc := range scripts {
		if applied[sc.name] {
			continue
		}
		if err := m.runScript(ctx, sc.path); err != nil {
			return fmt.Errorf("migrate: seed %s: %w", sc.name, err)
		}
		if err := m.markApplied(ctx, m.seedsTable, sc.name); err != nil {
			return err
		}
		obs.Logger().Infow("seed applied", "name", sc.name)
	}
	return nil
}

// Status lists applied migrations in the order they ran.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureLedgers(ctx); err != nil {
		return nil, err
	}
	return m.appliedInOrder(ctx, m.migrationsTable)
}

func (m *Manager) ensureLedgers(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

// runScript executes one file inside a transaction. The pgx stdlib driver
// rejects multi-statement Exec, so the script is split first.
func (m *Manager) runScript(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitSQL(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) markApplied(ctx context.Context, table, name string) error {
	_, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, table),
		name, m.now().UTC())
	return err
}

func (m *Manager) appliedSet(ctx context.Context, table string) (map[string]bool, error) {
	names, err := m.appliedInOrder(ctx, table)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

func (m *Manager) appliedInOrder(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

type script struct {
	name string
	path string
}

// listScripts returns dir's files matching suffix, sorted by name so the
// numeric prefix fixes the order. A missing directory reads as empty.
func listScripts(dir, suffix string) ([]script, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var scripts []script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		scripts = append(scripts, script{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].name < scripts[j].name })
	return scripts, nil
}

func downCounterpart(upPath string) string {
	return strings.TrimSuffix(upPath, upSuffix) + downSuffix
}

// splitSQL cuts a script into statements on semicolons that sit outside
// single-quoted literals and dollar-quoted blocks, so trigger function
// bodies survive intact. Trailing semicolons are dropped; blank pieces are
// skipped.
func splitSQL(src string) []string {
	var (
		stmts   []string
		cur     strings.Builder
		inQuote bool
		tag     string
	)
	flush := func() {
		if s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(cur.String()), ";")); s != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}
	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inQuote:
			cur.WriteRune(r)
			if r == '\'' {
				inQuote = false
			}
		case tag != "":
			cur.WriteRune(r)
			if r == '$' && strings.HasSuffix(cur.String(), tag) {
				tag = ""
			}
		case r == '\'':
			inQuote = true
			cur.WriteRune(r)
		case r == '$':
			if t, ok := dollarTag(runes[i:]); ok {
				tag = t
				cur.WriteString(t)
				i += len([]rune(t)) - 1
				continue
			}
			cur.WriteRune(r)
		case r == ';':
			cur.WriteRune(r)
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return stmts
}

// dollarTag reports the $tag$ opener at the start of rs, if any. A lone $
// (positional parameters, money) is not an opener.
func dollarTag(rs []rune) (string, bool) {
	for i := 1; i < len(rs); i++ {
		r := rs[i]
		if r == '$' {
			return string(rs[:i+1]), true
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return "", false
		}
	}
	return "", false
}
