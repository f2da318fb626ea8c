package migrate

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	"gatehouse/internal/obs"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func quietLogs(t *testing.T) {
	t.Helper()
	t.Cleanup(obs.ReplaceLoggerForTests(zap.NewNop().Sugar()))
}

func TestSplitSQL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{
			"two statements",
			"create table a (id text);\ncreate table b (id text);\n",
			[]string{"create table a (id text)", "create table b (id text)"},
		},
		{
			"semicolon inside literal",
			"insert into a (id) values ('x;y');",
			[]string{"insert into a (id) values ('x;y')"},
		},
		{
			"dollar-quoted body",
			"create function f() returns trigger as $$ begin return new; end; $$ language plpgsql;\nselect 1;",
			[]string{
				"create function f() returns trigger as $$ begin return new; end; $$ language plpgsql",
				"select 1",
			},
		},
		{
			"no trailing semicolon",
			"select 1",
			[]string{"select 1"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := splitSQL(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("want %q, got %q", tc.want, got)
			}
		})
	}
}

func TestUpAppliesOnlyPendingScripts(t *testing.T) {
	quietLogs(t)
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	dir := t.TempDir()
	writeScript(t, dir, "0001_users.up.sql", "create table users (id text primary key);")
	writeScript(t, dir, "0001_users.down.sql", "drop table users;")
	writeScript(t, dir, "0002_orgs.up.sql",
		"create table orgs (id text primary key);\ninsert into orgs (id) values ('seed;ed');")
	writeScript(t, dir, "0002_orgs.down.sql", "drop table orgs;")

	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create table orgs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into orgs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_orgs.up.sql", now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mgr := NewManager(db, dir, filepath.Join(dir, "seeds")).WithClock(func() time.Time { return now })
	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	quietLogs(t)
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	dir := t.TempDir()
	writeScript(t, dir, "0001_users.up.sql", "create table users (id text primary key);")
	writeScript(t, dir, "0001_users.down.sql", "drop table users;")
	writeScript(t, dir, "0002_orgs.up.sql", "create table orgs (id text primary key);")
	writeScript(t, dir, "0002_orgs.down.sql", "drop table orgs;")

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).
			AddRow("0001_users.up.sql").
			AddRow("0002_orgs.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table orgs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("delete from schema_migrations").
		WithArgs("0002_orgs.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewManager(db, dir, "").Down(context.Background()); err != nil {
		t.Fatalf("Down: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownRefusesWithoutCounterpart(t *testing.T) {
	quietLogs(t)
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	dir := t.TempDir()
	writeScript(t, dir, "0001_users.up.sql", "create table users (id text primary key);")

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_users.up.sql"))

	if err := NewManager(db, dir, "").Down(context.Background()); err == nil {
		t.Fatal("down without a counterpart script should fail")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
