// Package jobhistory persists a best-effort, SQLite-backed audit trail of
// job status transitions for post-hoc inspection. It is never consulted
// for queue control flow: the in-memory status table remains authoritative
// (spec 7, error taxonomy item 5).
package jobhistory

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS job_transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	node_name TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	at_unix_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_job_transitions_node ON job_transitions(node_name);
`

// Store is a SQLite-backed job transition log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the audit database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Record logs one status transition. Failures are the caller's to log and
// swallow per spec 7's I/O-degradation policy; Record itself never panics.
func (s *Store) Record(nodeName, from, to string, attempt int) error {
	_, err := s.db.Exec(
		`INSERT INTO job_transitions (node_name, from_status, to_status, attempt, at_unix_ms) VALUES (?, ?, ?, ?, ?)`,
		nodeName, from, to, attempt, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("jobhistory: record failed: %w", err)
	}
	return nil
}

// Transition is one logged row, returned by History.
type Transition struct {
	NodeName  string
	From      string
	To        string
	Attempt   int
	AtUnixMs  int64
}

// History returns all logged transitions for nodeName, oldest first.
func (s *Store) History(nodeName string) ([]Transition, error) {
	rows, err := s.db.Query(
		`SELECT node_name, from_status, to_status, attempt, at_unix_ms FROM job_transitions WHERE node_name = ? ORDER BY id ASC`,
		nodeName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.NodeName, &t.From, &t.To, &t.Attempt, &t.AtUnixMs); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
