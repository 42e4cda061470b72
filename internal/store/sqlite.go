// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database in WAL mode and creates the schema on startup

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// busy_timeout and foreign_keys are per connection, so they go in the DSN
	// where every pooled connection picks them up.
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL lets readers proceed while a usage increment is being written
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS principals (
			principal_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL,
			email        TEXT NOT NULL DEFAULT '',
			auth_source  TEXT NOT NULL,
			created_at   TEXT NOT NULL,
			last_seen    TEXT NOT NULL,

			CHECK (auth_source IN ('internal', 'external'))
		);

		CREATE TABLE IF NOT EXISTS usage_records (
			principal_id TEXT NOT NULL,
			period       TEXT NOT NULL,
			units        INTEGER NOT NULL DEFAULT 0,
			updated_at   TEXT NOT NULL,

			PRIMARY KEY (principal_id, period),
			CHECK (units >= 0)
		);

		CREATE INDEX IF NOT EXISTS idx_usage_period ON usage_records(period);

		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			audit_id           TEXT PRIMARY KEY,
			actor_principal_id TEXT NOT NULL,
			action             TEXT NOT NULL,
			target_type        TEXT NOT NULL,
			target_id          TEXT NOT NULL,
			ts                 TEXT NOT NULL,
			detail_json        TEXT,

			CHECK (action IN ('set_monthly_budget', 'issue_token'))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_log(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor_principal_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation reports whether err is a SQLite constraint failure.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "constraint failed") ||
		strings.Contains(err.Error(), "UNIQUE constraint")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
