// Package persistence provides durable backends for the execution trace
// store.
package persistence

import (
	"database/sql"
	"time"

	"github.com/arbor-go/arbor/internal/trace"
)

// SQLiteTraceStore is a trace.Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing the
// driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteTraceStore struct {
	db *sql.DB
}

// Ensure SQLiteTraceStore implements trace.Store.
var _ trace.Store = (*SQLiteTraceStore)(nil)

// NewSQLiteTraceStore initializes the required schema in the given database
// and returns a new SQLiteTraceStore.
func NewSQLiteTraceStore(db *sql.DB) (*SQLiteTraceStore, error) {
	s := &SQLiteTraceStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTraceStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			parent_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			seq INTEGER
		);
		CREATE INDEX IF NOT EXISTS executions_parent ON executions (parent_id);`,
	)
	return err
}

func (s *SQLiteTraceStore) Append(rec trace.Record) error {
	_, err := s.db.Exec(`
		INSERT INTO executions (id, parent_id, name, status, error, started_at, finished_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM executions))`,
		rec.ID,
		rec.ParentID,
		rec.Name,
		rec.Status,
		rec.Error,
		rec.Start.UnixNano(),
		rec.End.UnixNano(),
	)
	return err
}

func (s *SQLiteTraceStore) Roots() ([]trace.Record, error) {
	rows, err := s.db.Query(`
		SELECT id, parent_id, name, status, error, started_at, finished_at
		FROM executions
		WHERE parent_id = ''
		ORDER BY seq`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteTraceStore) Children(id string) ([]trace.Record, error) {
	rows, err := s.db.Query(`
		SELECT id, parent_id, name, status, error, started_at, finished_at
		FROM executions
		WHERE parent_id = ?
		ORDER BY seq`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *SQLiteTraceStore) Get(id string) (trace.Record, error) {
	row := s.db.QueryRow(`
		SELECT id, parent_id, name, status, error, started_at, finished_at
		FROM executions
		WHERE id = ?`,
		id,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return trace.Record{}, trace.ErrNotFound
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (trace.Record, error) {
	var rec trace.Record
	var errStr sql.NullString
	var started, finished int64

	if err := row.Scan(&rec.ID, &rec.ParentID, &rec.Name, &rec.Status, &errStr, &started, &finished); err != nil {
		return trace.Record{}, err
	}
	if errStr.Valid {
		rec.Error = errStr.String
	}
	rec.Start = time.Unix(0, started)
	rec.End = time.Unix(0, finished)
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]trace.Record, error) {
	var out []trace.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
