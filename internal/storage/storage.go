// Package storage keeps completed analyses in a local SQLite database so
// they can be reopened, exported and compared without the backend.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lotas/codeatlas/internal/export"
	"github.com/lotas/codeatlas/internal/tree"
)

// ErrNotFound is returned when no analysis matches a job id.
var ErrNotFound = errors.New("analysis not found")

// AnalysisSummary holds the metadata for a stored analysis.
type AnalysisSummary struct {
	ID         int64
	JobID      string
	Source     string
	SessionID  string
	CreatedAt  time.Time
	NodeCount  int
	FileCount  int
	TotalBytes int64
}

// Analysis is a stored analysis with its result document.
type Analysis struct {
	AnalysisSummary
	Document *export.Document
}

// migration is a numbered schema change. Migrations are applied in order
// and tracked in the schema_migrations table so each runs exactly once.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS analyses (
    id          INTEGER PRIMARY KEY,
    job_id      TEXT UNIQUE NOT NULL,
    source      TEXT NOT NULL DEFAULT '',
    created_at  TEXT NOT NULL,
    node_count  INTEGER NOT NULL,
    file_count  INTEGER NOT NULL,
    tree        BLOB NOT NULL
);`,
	},
	{
		Version:     2,
		Description: "add session_id and total_bytes to analyses",
		SQL: `ALTER TABLE analyses ADD COLUMN session_id TEXT NOT NULL DEFAULT '';
ALTER TABLE analyses ADD COLUMN total_bytes INTEGER NOT NULL DEFAULT 0;`,
	},
	{
		Version:     3,
		Description: "index analyses by source",
		SQL:         `CREATE INDEX IF NOT EXISTS analyses_source ON analyses(source, created_at);`,
	},
}

// OpenDB opens (or creates) a SQLite database at the given path.
// It creates parent directories if needed, enables WAL mode,
// and runs any pending migrations.
func OpenDB(path string) (*sql.DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// runMigrations ensures the schema_migrations table exists and applies
// every migration not yet recorded there.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", m.Version).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if exists > 0 {
			continue
		}

		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := db.Exec(
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// SaveAnalysis stores doc, replacing any earlier analysis of the same job.
func SaveAnalysis(db *sql.DB, sessionID string, doc *export.Document) error {
	m, err := tree.New(doc.Tree)
	if err != nil {
		return fmt.Errorf("save analysis %s: %w", doc.JobID, err)
	}
	stats := m.Stats()

	blob, err := encodeDocument(doc)
	if err != nil {
		return fmt.Errorf("save analysis %s: %w", doc.JobID, err)
	}

	_, err = db.Exec(`
		INSERT INTO analyses (job_id, source, session_id, created_at, node_count, file_count, total_bytes, tree)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			source = excluded.source,
			session_id = excluded.session_id,
			created_at = excluded.created_at,
			node_count = excluded.node_count,
			file_count = excluded.file_count,
			total_bytes = excluded.total_bytes,
			tree = excluded.tree`,
		doc.JobID, doc.Source, sessionID, doc.ExportedAt.UTC().Format(time.RFC3339),
		m.Len(), stats.Files, stats.Bytes, blob,
	)
	if err != nil {
		return fmt.Errorf("insert analysis %s: %w", doc.JobID, err)
	}
	return nil
}

const summaryColumns = "id, job_id, source, session_id, created_at, node_count, file_count, total_bytes"

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner, s *AnalysisSummary, extra ...any) error {
	var created string
	dest := append([]any{&s.ID, &s.JobID, &s.Source, &s.SessionID, &created, &s.NodeCount, &s.FileCount, &s.TotalBytes}, extra...)
	if err := row.Scan(dest...); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return fmt.Errorf("parse created_at %q: %w", created, err)
	}
	s.CreatedAt = t
	return nil
}

// ListAnalyses returns all analyses, newest first.
func ListAnalyses(db *sql.DB) ([]AnalysisSummary, error) {
	rows, err := db.Query("SELECT " + summaryColumns + " FROM analyses ORDER BY created_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var result []AnalysisSummary
	for rows.Next() {
		var s AnalysisSummary
		if err := scanSummary(rows, &s); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return result, nil
}

// GetAnalysis loads the analysis of jobID with its document.
func GetAnalysis(db *sql.DB, jobID string) (*Analysis, error) {
	a := &Analysis{}
	var blob []byte
	err := scanSummary(db.QueryRow(
		"SELECT "+summaryColumns+", tree FROM analyses WHERE job_id = ?", jobID,
	), &a.AnalysisSummary, &blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("query analysis: %w", err)
	}

	doc, err := decodeDocument(blob)
	if err != nil {
		return nil, fmt.Errorf("load analysis %s: %w", jobID, err)
	}
	a.Document = doc
	return a, nil
}

// GetPreviousAnalysis returns the newest analysis of source other than
// excludeJobID. Returns nil, nil if there is none.
func GetPreviousAnalysis(db *sql.DB, source, excludeJobID string) (*Analysis, error) {
	var jobID string
	err := db.QueryRow(
		"SELECT job_id FROM analyses WHERE source = ? AND job_id != ? ORDER BY created_at DESC, id DESC LIMIT 1",
		source, excludeJobID,
	).Scan(&jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query previous analysis: %w", err)
	}
	return GetAnalysis(db, jobID)
}

// DeleteAnalysis removes the analysis of jobID.
// Returns an error if it does not exist.
func DeleteAnalysis(db *sql.DB, jobID string) error {
	res, err := db.Exec("DELETE FROM analyses WHERE job_id = ?", jobID)
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return nil
}
