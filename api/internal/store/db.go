package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

var ErrNotFound = sql.ErrNoRows

// Open connects with driver ("pgx" or "sqlite3") and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	// in-memory sqlite is per connection
	if driver == DriverSQLite && (dsn == ":memory:" || strings.Contains(dsn, "mode=memory")) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := Migrate(ctx, db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	ts := "timestamptz"
	id := "bigserial primary key"
	if driver == DriverSQLite {
		ts = "datetime"
		id = "integer primary key autoincrement"
	}
	stmts := []string{
		`create table if not exists lab_reports (
  id ` + id + `,
  created_at ` + ts + ` not null,
  owner text not null default '',
  image_hash text not null,
  engine text not null,
  raw_text text not null,
  report_text text not null default '',
  normalized boolean not null default false,
  mismatches integer not null default 0,
  unique (image_hash, engine)
)`,
		`create index if not exists idx_lab_reports_created on lab_reports(created_at)`,
		`create table if not exists preferences (
  owner text primary key,
  display_mode text not null,
  updated_at ` + ts + ` not null
)`,
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}
