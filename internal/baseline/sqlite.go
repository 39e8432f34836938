package baseline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/driftguard/internal/apperr"
	"github.com/starford/driftguard/internal/models"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS baselines (
	root           TEXT PRIMARY KEY,
	schema_version INTEGER NOT NULL,
	taken_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	root        TEXT NOT NULL REFERENCES baselines(root) ON DELETE CASCADE,
	path        TEXT NOT NULL,
	digest      TEXT NOT NULL DEFAULT '',
	unreadable  TEXT NOT NULL DEFAULT '',
	size        INTEGER NOT NULL DEFAULT 0,
	modified_at TEXT NOT NULL,
	PRIMARY KEY (root, path)
);
`

// SQLite stores baselines in a SQLite database.
type SQLite struct {
	conn *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("baseline: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("baseline: ping: %w", err)
	}
	if _, err := conn.Exec(sqliteSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("baseline: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Save replaces the baseline for m.Root within one transaction.
func (s *SQLite) Save(ctx context.Context, m *models.Manifest) error {
	if err := s.save(ctx, m); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrStoreWrite, err)
	}
	return nil
}

func (s *SQLite) save(ctx context.Context, m *models.Manifest) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("baseline: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.ExecContext(ctx, `
		INSERT INTO baselines (root, schema_version, taken_at)
		VALUES (?, ?, ?)
		ON CONFLICT(root) DO UPDATE SET
			schema_version = excluded.schema_version,
			taken_at       = excluded.taken_at
	`, m.Root, SchemaVersion, formatTime(m.TakenAt))
	if err != nil {
		return fmt.Errorf("baseline: upsert baseline: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE root = ?`, m.Root); err != nil {
		return fmt.Errorf("baseline: clear entries: %w", err)
	}

	if len(m.Entries) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO entries (root, path, digest, unreadable, size, modified_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("baseline: prepare entry insert: %w", err)
		}
		defer stmt.Close()
		for _, rec := range m.Records() {
			_, err := stmt.ExecContext(ctx, m.Root, rec.Path, rec.Digest.SHA256, rec.Digest.Unreadable,
				rec.Size, formatTime(rec.ModifiedAt))
			if err != nil {
				return fmt.Errorf("baseline: insert entry %s: %w", rec.Path, err)
			}
		}
	}

	return tx.Commit()
}

// Load reads the baseline for root. Both queries run in one read
// transaction so a concurrent Save is seen entirely or not at all.
func (s *SQLite) Load(ctx context.Context, root string) (*models.Manifest, error) {
	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %w", apperr.ErrStoreRead, err)
	}
	defer tx.Rollback() //nolint:errcheck // read-only

	var (
		version int
		takenAt string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT schema_version, taken_at FROM baselines WHERE root = ?`, root).Scan(&version, &takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrBaselineNotFound, root)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrStoreRead, err)
	}
	if version != SchemaVersion {
		return nil, fmt.Errorf("%w: schema version %d, want %d", apperr.ErrCorruptStore, version, SchemaVersion)
	}
	taken, err := parseTime(takenAt)
	if err != nil {
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT path, digest, unreadable, size, modified_at
		FROM entries
		WHERE root = ?
		ORDER BY path
	`, root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrStoreRead, err)
	}
	defer rows.Close()

	m := models.NewManifest(root, taken)
	for rows.Next() {
		var (
			rel, digest, unreadable, modified string
			size                              int64
		)
		if err := rows.Scan(&rel, &digest, &unreadable, &size, &modified); err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrStoreRead, err)
		}
		modifiedAt, err := parseTime(modified)
		if err != nil {
			return nil, err
		}
		rec, err := newRecord(rel, digest, unreadable, size, modifiedAt)
		if err != nil {
			return nil, err
		}
		m.Entries[rec.Path] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrStoreRead, err)
	}
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", apperr.ErrCorruptStore, s)
	}
	return t, nil
}
