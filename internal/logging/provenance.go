package logging

import (
	"database/sql"
	"fmt"
	"time"
)

// #region log-decision

// LogIteration writes a provenance entry to the update_provenance_log table,
// recording the inputs and outcome of one outer ES/IES iteration for later
// audit (which inversion mode ran, how many realizations were active, why
// the run converged or didn't).
func LogIteration(db *sql.DB, entry IterationEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO update_provenance_log
			(case_name, iteration, mode, inversion_mode, active_realizations, active_observations, deactivated_observations, gamma, converged, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.CaseName,
		entry.Iteration,
		entry.Mode,
		entry.InversionMode,
		entry.ActiveRealizations,
		entry.ActiveObservations,
		entry.DeactivatedObservations,
		entry.Gamma,
		entry.Converged,
		nullIfEmpty(entry.Reason),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log iteration: %w", err)
	}
	return nil
}

// EnsureSchema creates the update_provenance_log table if it does not exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS update_provenance_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	case_name TEXT NOT NULL,
	iteration INTEGER NOT NULL,
	mode TEXT NOT NULL,
	inversion_mode TEXT NOT NULL,
	active_realizations INTEGER NOT NULL,
	active_observations INTEGER NOT NULL,
	deactivated_observations INTEGER NOT NULL,
	gamma REAL NOT NULL,
	converged INTEGER NOT NULL,
	reason TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_update_provenance_case ON update_provenance_log(case_name, iteration);
`)
	return err
}

// #endregion log-decision

// #region helpers

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
