package logging

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-iteration-tests
func TestLogIteration_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := IterationEntry{
		CaseName:           "case-a",
		Iteration:          2,
		Mode:               "IES",
		InversionMode:      "subspace-exact-r",
		ActiveRealizations: 48,
		ActiveObservations: 120,
		Gamma:              0.6,
		Converged:          false,
		Reason:             "max delta above threshold",
		CreatedAt:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := LogIteration(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM update_provenance_log").Scan(&count)
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	var caseName, mode string
	db.QueryRow("SELECT case_name, mode FROM update_provenance_log").Scan(&caseName, &mode)
	if caseName != "case-a" {
		t.Errorf("expected case_name 'case-a', got %q", caseName)
	}
	if mode != "IES" {
		t.Errorf("expected mode 'IES', got %q", mode)
	}
}

func TestLogIteration_ZeroCreatedAt(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := IterationEntry{
		CaseName:      "case-b",
		Iteration:     0,
		Mode:          "ES",
		InversionMode: "exact",
		Converged:     true,
	}

	before := time.Now().UTC()
	if err := LogIteration(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var createdAtStr string
	db.QueryRow("SELECT created_at FROM update_provenance_log").Scan(&createdAtStr)
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	if createdAt.Before(before) {
		t.Error("expected auto-filled created_at to be >= test start time")
	}
}

func TestLogIteration_EmptyReasonIsNull(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := IterationEntry{
		CaseName:      "case-c",
		Iteration:     1,
		Mode:          "ES",
		InversionMode: "subspace-ee-r",
		Reason:        "",
		CreatedAt:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := LogIteration(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var reason sql.NullString
	db.QueryRow("SELECT reason FROM update_provenance_log").Scan(&reason)
	if reason.Valid {
		t.Error("expected NULL reason for empty string")
	}
}

func TestLogIteration_Error(t *testing.T) {
	db := setupDB(t)
	db.Close() // close to force error

	entry := IterationEntry{
		CaseName:      "case-d",
		Mode:          "ES",
		InversionMode: "exact",
	}

	if err := LogIteration(db, entry); err == nil {
		t.Fatal("expected error on closed db")
	}
}

// #endregion log-iteration-tests

// #region null-if-empty-tests
func TestNullIfEmpty_Empty(t *testing.T) {
	result := nullIfEmpty("")
	if result != nil {
		t.Errorf("expected nil for empty string, got %v", result)
	}
}

func TestNullIfEmpty_NonEmpty(t *testing.T) {
	result := nullIfEmpty("hello")
	if result != "hello" {
		t.Errorf("expected 'hello', got %v", result)
	}
}

// #endregion null-if-empty-tests
