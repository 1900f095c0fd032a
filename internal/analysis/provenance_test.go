package analysis

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/ensemble-da/core/internal/ensmask"
	"github.com/ensemble-da/core/internal/logging"
)

func TestLogIterationWritesRow(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := logging.EnsureSchema(db); err != nil {
		t.Fatal(err)
	}

	s := NewState(DefaultConfig(), 3, 4, 2)
	masks := ensmask.New(4, 2)

	if err := s.LogIteration(db, "case-x", masks, 0, "not converged"); err != nil {
		t.Fatal(err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM update_provenance_log").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("got %d rows, want 1", count)
	}
}
