package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ensemble-da/core/internal/blobstore"
)

// #region main

func main() {
	caseDir := flag.String("case", "", "path to the case directory")
	nodeKey := flag.String("node", "", "node key to inspect (omit to list mount records)")
	reportStep := flag.Int("report-step", 0, "report step for --node lookups")
	realization := flag.Int("realization", 0, "realization index for --node lookups")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *caseDir == "" {
		fmt.Fprintln(os.Stderr, "usage: blobinspect --case path/to/case [--node KEY --report-step N --realization N] [--json]")
		os.Exit(2)
	}

	if *nodeKey == "" {
		if err := runMountMode(*caseDir, *jsonOut); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := runNodeMode(*caseDir, *nodeKey, *reportStep, *realization, *jsonOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region mount-mode

func runMountMode(caseDir string, jsonOut bool) error {
	path := caseDir + "/mount"
	records, err := blobstore.ReadMountFile(path)
	if err != nil {
		return fmt.Errorf("read mount file: %w", err)
	}
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	fmt.Printf("%-6s %-20s %-10s\n", "ID", "CATEGORY", "INFO BYTES")
	for _, r := range records {
		fmt.Printf("%-6d %-20s %-10d\n", r.DriverID, categoryName(r.Category), len(r.DriverInfo))
	}
	return nil
}

func categoryName(c blobstore.DriverCategory) string {
	switch c {
	case blobstore.Parameter:
		return "PARAMETER"
	case blobstore.DynamicForecast:
		return "DYNAMIC_FORECAST"
	case blobstore.Index:
		return "INDEX"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", c)
	}
}

// #endregion mount-mode

// #region node-mode

type nodeDump struct {
	Key       blobstore.Key `json:"key"`
	Found     bool          `json:"found"`
	ByteCount int           `json:"byte_count"`
}

func runNodeMode(caseDir, nodeKey string, reportStep, realization int, jsonOut bool) error {
	store, err := blobstore.Open(caseDir)
	if err != nil {
		return fmt.Errorf("open case: %w", err)
	}
	defer store.Close()

	k := blobstore.Key{NodeKey: nodeKey, ReportStep: reportStep, Realization: realization}
	data, ok, err := store.Get(k)
	if err != nil {
		return fmt.Errorf("get %s: %w", nodeKey, err)
	}

	dump := nodeDump{Key: k, Found: ok, ByteCount: len(data)}
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	}
	if !ok {
		fmt.Printf("%s/%d/%d: not found\n", nodeKey, reportStep, realization)
		return nil
	}
	fmt.Printf("%s/%d/%d: %d bytes\n", nodeKey, reportStep, realization, len(data))
	return nil
}

// #endregion node-mode
