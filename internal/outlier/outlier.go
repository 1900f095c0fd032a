// Package outlier implements the deactivation policy that prunes
// observations before the update kernel runs: zero ensemble variance, or
// excessive standardized innovation relative to observation and ensemble
// spread.
package outlier

import (
	"math"

	"github.com/ensemble-da/core/internal/ensmask"
)

// Reason records why an observation slot was deactivated.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNoEnsembleVariation
	ReasonNoOverlap
	ReasonNeverActive
)

func (r Reason) String() string {
	switch r {
	case ReasonNoEnsembleVariation:
		return "no ensemble variation"
	case ReasonNoOverlap:
		return "no overlap"
	case ReasonNeverActive:
		return "never active"
	default:
		return "none"
	}
}

// Decision records the outcome for one observation slot.
type Decision struct {
	Index       int
	Deactivated bool
	Reason      Reason
}

// Stats holds the per-slot ensemble mean/std and observed value/std needed
// to evaluate the cutoffs, for every observation slot (active or not).
type Stats struct {
	ObsValue   []float64 // d_i
	ObsStd     []float64 // sigma_o(i)
	EnsMean    []float64 // mean_e(i)
	EnsStd     []float64 // sigma_e(i)
}

// DeactivateOutliers implements deactivate_outliers (spec 4.2): for every
// currently-active obs slot, deactivate on zero ensemble variance or
// excessive standardized innovation. Returns one Decision per active slot
// considered; the masks are mutated in place, in lockstep with the
// conceptual measurement-side companion (callers that keep a separate
// per-obs measurement structure must apply the same Decisions there).
func DeactivateOutliers(masks *ensmask.Masks, stats Stats, stdCutoff, alpha float64, verbose bool) []Decision {
	var decisions []Decision
	for _, i := range masks.ActiveObsIndices() {
		d := Decision{Index: i}
		sigmaE := stats.EnsStd[i]
		switch {
		case sigmaE <= stdCutoff:
			d.Deactivated = true
			d.Reason = ReasonNoEnsembleVariation
		case math.Abs(stats.ObsValue[i]-stats.EnsMean[i]) > alpha*(sigmaE+stats.ObsStd[i]):
			d.Deactivated = true
			d.Reason = ReasonNoOverlap
		}
		if d.Deactivated {
			masks.DeactivateObs(i)
		}
		decisions = append(decisions, d)
	}
	return decisions
}

// DeactivateStdZero is the degenerate case: alpha = +Inf, cutoff = 0 — only
// the zero-ensemble-variance check can fire.
func DeactivateStdZero(masks *ensmask.Masks, stats Stats, verbose bool) []Decision {
	return DeactivateOutliers(masks, stats, 0, math.Inf(1), verbose)
}
