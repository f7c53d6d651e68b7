// Package sqlstore is the dialect-portable persistence layer behind
// internal/admin and the dispatcher's alias/keyvault resolution: one
// *sqlx.DB, schema initialized on open, with a chronicle_meta
// migration_version row recording the schema version (runMigrations has no
// migration steps and only advances that row). Generalizes the
// teacher's internal/storage/sqldb.Store (sqlx + dialect.Dialect, same
// initSchema/runMigrations/columnExists shape) from the gateway's
// conversation/response tables to chronicle_events/chronicle_runs/
// chronicle_steps and the admin entity tables of spec §4.6.
package sqlstore

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"

	"github.com/chronicle-run/chronicle/internal/storage/dialect"
)

// SchemaVersion is the migration_version this build's initSchema produces.
// runMigrations advances an older database up to it.
const SchemaVersion = 1

// Store is the sqlx-backed, dialect-aware persistence layer.
type Store struct {
	db      *sqlx.DB
	dialect dialect.Dialect
}

// Config holds database connection configuration.
type Config struct {
	Driver string // sqlite, postgres
	DSN    string
}

// New opens a store for the given configuration, running dialect pragmas
// and schema initialization/migration before returning.
func New(cfg Config) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := openDB(d, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	for _, stmt := range d.PragmaStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute pragma: %w", err)
		}
	}

	store := &Store{db: db, dialect: d}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := store.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return store, nil
}

// openDB dispatches to the dialect's connection method. PostgreSQL is
// opened through bun's pgdriver connector rather than database/sql's
// driver-name registry — see DESIGN.md's Open Questions for why the
// teacher's "pgx" driver name was never wireable as a real import.
func openDB(d dialect.Dialect, dsn string) (*sqlx.DB, error) {
	switch d.Name() {
	case "postgres":
		sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		return sqlx.NewDb(sqlDB, "postgres"), nil
	default:
		return sqlx.Open(d.DriverName(), dsn)
	}
}

// NewSQLite is a convenience constructor for the embedded default deployment.
func NewSQLite(path string) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: path})
}

// DB returns the underlying *sqlx.DB for advanced/transactional callers.
func (s *Store) DB() *sqlx.DB { return s.db }

// Dialect returns the dialect in use.
func (s *Store) Dialect() dialect.Dialect { return s.dialect }

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_meta (
key TEXT PRIMARY KEY,
value TEXT NOT NULL
)`),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_events (
id TEXT PRIMARY KEY,
kind TEXT NOT NULL,
organization_id TEXT NOT NULL DEFAULT '',
provider TEXT,
model TEXT,
request_json %s,
response_json %s,
status TEXT,
retries INTEGER NOT NULL DEFAULT 0,
was_rate_limited %s NOT NULL DEFAULT %s,
error_text TEXT,
request_latency_ms INTEGER,
total_latency_ms INTEGER,
event_type TEXT,
data_json %s,
run_id TEXT,
created_at %s NOT NULL
)`, s.dialect.TextType(), s.dialect.TextType(), s.dialect.BooleanType(), falseLiteral(s.dialect), s.dialect.TextType(), s.dialect.TimestampType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_runs (
id TEXT PRIMARY KEY,
organization_id TEXT NOT NULL DEFAULT '',
name TEXT NOT NULL DEFAULT '',
description TEXT,
application TEXT,
environment TEXT,
input_json %s,
output_json %s,
status TEXT NOT NULL,
trace_id TEXT,
span_id TEXT,
tags_json %s,
info_json %s,
created_at %s NOT NULL,
updated_at %s NOT NULL
)`, s.dialect.TextType(), s.dialect.TextType(), s.dialect.TextType(), s.dialect.TextType(), s.dialect.TimestampType(), s.dialect.TimestampType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_steps (
id TEXT PRIMARY KEY,
run_id TEXT NOT NULL,
type TEXT,
parent_step TEXT,
name TEXT NOT NULL DEFAULT '',
input_json %s,
output_json %s,
status TEXT NOT NULL,
tags_json %s,
info_json %s,
span_id TEXT,
start_time %s NOT NULL,
end_time %s
)`, s.dialect.TextType(), s.dialect.TextType(), s.dialect.TextType(), s.dialect.TextType(), s.dialect.TimestampType(), s.dialect.TimestampType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_custom_providers (
id TEXT PRIMARY KEY,
organization_id TEXT NOT NULL DEFAULT '',
name TEXT NOT NULL,
url TEXT NOT NULL,
format TEXT NOT NULL,
api_key_source TEXT NOT NULL DEFAULT 'raw',
api_key_value TEXT,
headers_json %s,
model_prefix TEXT,
created_at %s NOT NULL,
updated_at %s NOT NULL
)`, s.dialect.TextType(), s.dialect.TimestampType(), s.dialect.TimestampType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_aliases (
id TEXT PRIMARY KEY,
organization_id TEXT NOT NULL DEFAULT '',
name TEXT NOT NULL,
random_order %s NOT NULL DEFAULT %s,
created_at %s NOT NULL,
updated_at %s NOT NULL
)`, s.dialect.BooleanType(), falseLiteral(s.dialect), s.dialect.TimestampType(), s.dialect.TimestampType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_alias_providers (
id TEXT PRIMARY KEY,
alias_id TEXT NOT NULL,
sort INTEGER NOT NULL DEFAULT 0,
provider TEXT NOT NULL,
model TEXT NOT NULL,
api_key_name TEXT
)`),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_api_keys (
id TEXT PRIMARY KEY,
organization_id TEXT NOT NULL DEFAULT '',
name TEXT NOT NULL,
provider TEXT NOT NULL,
source TEXT NOT NULL DEFAULT 'raw',
value TEXT NOT NULL,
created_at %s NOT NULL
)`, s.dialect.TimestampType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_pricing_plans (
id TEXT PRIMARY KEY,
provider TEXT NOT NULL,
model TEXT NOT NULL,
prompt_cost_per_1m REAL NOT NULL DEFAULT 0,
completion_cost_per_1m REAL NOT NULL DEFAULT 0,
created_at %s NOT NULL
)`, s.dialect.TimestampType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_organizations (
id TEXT PRIMARY KEY,
name TEXT NOT NULL,
owner TEXT NOT NULL DEFAULT '',
created_at %s NOT NULL,
updated_at %s NOT NULL
)`, s.dialect.TimestampType(), s.dialect.TimestampType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_users (
id TEXT PRIMARY KEY,
email TEXT NOT NULL,
name TEXT,
active %s NOT NULL DEFAULT %s,
created_at %s NOT NULL,
updated_at %s NOT NULL
)`, s.dialect.BooleanType(), trueLiteral(s.dialect), s.dialect.TimestampType(), s.dialect.TimestampType()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chronicle_roles (
id TEXT PRIMARY KEY,
organization_id TEXT NOT NULL,
user_id TEXT NOT NULL,
permission TEXT NOT NULL,
created_at %s NOT NULL
)`, s.dialect.TimestampType()),
		`CREATE INDEX IF NOT EXISTS idx_chronicle_events_org ON chronicle_events(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chronicle_events_run ON chronicle_events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chronicle_steps_run ON chronicle_steps(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chronicle_alias_providers_alias ON chronicle_alias_providers(alias_id, sort)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chronicle_aliases_org_name ON chronicle_aliases(organization_id, name)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chronicle_api_keys_provider_name ON chronicle_api_keys(provider, name)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chronicle_users_email ON chronicle_users(email)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_chronicle_roles_org_user ON chronicle_roles(organization_id, user_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(s.dialect.Rebind(stmt)); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	var count int
	row := s.db.QueryRow(s.dialect.Rebind(`SELECT COUNT(*) FROM chronicle_meta WHERE key = ?`), "migration_version")
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("failed to check migration_version: %w", err)
	}
	if count == 0 {
		_, err := s.db.Exec(s.dialect.Rebind(`INSERT INTO chronicle_meta (key, value) VALUES (?, ?)`),
			"migration_version", fmt.Sprintf("%d", SchemaVersion))
		if err != nil {
			return fmt.Errorf("failed to seed migration_version: %w", err)
		}
	}

	return nil
}

// runMigrations advances an existing database from its recorded
// migration_version up to SchemaVersion. No migrations exist yet beyond the
// version this build ships with initSchema; the hook stays in place for the
// next schema change rather than being added reactively later.
func (s *Store) runMigrations() error {
	version, err := s.migrationVersion()
	if err != nil {
		return err
	}
	if version >= SchemaVersion {
		return nil
	}
	_, err = s.db.Exec(s.dialect.Rebind(`UPDATE chronicle_meta SET value = ? WHERE key = ?`),
		fmt.Sprintf("%d", SchemaVersion), "migration_version")
	return err
}

func (s *Store) migrationVersion() (int, error) {
	var value string
	err := s.db.QueryRow(s.dialect.Rebind(`SELECT value FROM chronicle_meta WHERE key = ?`), "migration_version").Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read migration_version: %w", err)
	}
	var version int
	if _, err := fmt.Sscanf(value, "%d", &version); err != nil {
		return 0, fmt.Errorf("failed to parse migration_version %q: %w", value, err)
	}
	return version, nil
}

func (s *Store) columnExists(table, column string) (bool, error) {
	var count int
	err := s.db.QueryRow(s.dialect.ColumnExistsQuery(), table, column).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func falseLiteral(d dialect.Dialect) string {
	if d.Name() == "postgres" {
		return "FALSE"
	}
	return "0"
}

func trueLiteral(d dialect.Dialect) string {
	if d.Name() == "postgres" {
		return "TRUE"
	}
	return "1"
}
