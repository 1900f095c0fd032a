package report

import (
	"bytes"
	"strings"
	"testing"
)

func TestWriteFixedWidthColumns(t *testing.T) {
	var buf bytes.Buffer
	rows := []Row{
		{Key: "WOPR:OP_1", Flag: FlagActive, Obs: 123.456, ObsStd: 12.5, Simulated: 120.1, Misfit: 0.734},
		{Key: "WOPR:OP_2", Flag: FlagInactive, Obs: 0, ObsStd: 0, Simulated: 0, Misfit: 0, Reason: "std-zero"},
	}
	if err := Write(&buf, rows); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header+separator+2 rows", len(lines))
	}
	for _, l := range lines[2:] {
		if len(l) != len(lines[0]) {
			t.Fatalf("row width %d != header width %d: %q", len(l), len(lines[0]), l)
		}
	}
	if !strings.Contains(lines[2], "123.456") {
		t.Fatalf("expected formatted obs value in row: %q", lines[2])
	}
	if !strings.Contains(lines[3], "std-zero") {
		t.Fatalf("expected reason column populated: %q", lines[3])
	}
}

func TestWriteEmptyRowsStillEmitsHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "FLAG") {
		t.Fatal("expected header to be written even with no rows")
	}
}
