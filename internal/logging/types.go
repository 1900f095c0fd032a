package logging

import "time"

// #region iteration-entry

// IterationEntry is a single row in the update_provenance_log table: the
// inputs and outcome of one outer ES/IES iteration.
type IterationEntry struct {
	CaseName                string
	Iteration               int
	Mode                    string // "ES" | "IES"
	InversionMode           string // "EXACT" | "SUBSPACE-EXACT-R" | "SUBSPACE-EE-R"
	ActiveRealizations      int
	ActiveObservations      int
	DeactivatedObservations int
	Gamma                   float64
	Converged               bool
	Reason                  string
	CreatedAt               time.Time
}

// #endregion iteration-entry
