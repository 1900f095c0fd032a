// Package report renders the observation summary: a fixed-column-width
// text report of per-observation status, value, and misfit (spec 6).
package report

import (
	"fmt"
	"io"
	"strings"
)

// Flag is the per-observation active/inactive/missing indicator.
type Flag string

const (
	FlagActive   Flag = "ACTIVE"
	FlagInactive Flag = "INACTIVE"
	FlagMissing  Flag = "MISSING"
)

// Row is one observation's summary line.
type Row struct {
	Key      string
	Flag     Flag
	Obs      float64
	ObsStd   float64
	Simulated float64
	Misfit   float64
	Reason   string
}

const (
	colKey    = 24
	colFlag   = 10
	colNum    = 15
	colReason = 24
)

// Write renders rows to w with fixed column widths and %15.3f numerics.
func Write(w io.Writer, rows []Row) error {
	header := fmt.Sprintf("%-*s%-*s%*s%*s%*s%*s  %-*s\n",
		colKey, "KEY", colFlag, "FLAG", colNum, "OBS", colNum, "STD", colNum, "SIM", colNum, "MISFIT", colReason, "REASON")
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	if _, err := io.WriteString(w, strings.Repeat("-", len(header)-1)+"\n"); err != nil {
		return err
	}
	for _, r := range rows {
		line := fmt.Sprintf("%-*s%-*s%*.3f%*.3f%*.3f%*.3f  %-*s\n",
			colKey, r.Key, colFlag, string(r.Flag), colNum, r.Obs, colNum, r.ObsStd, colNum, r.Simulated, colNum, r.Misfit, colReason, r.Reason)
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}
