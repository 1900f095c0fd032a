package outlier

import (
	"testing"

	"github.com/ensemble-da/core/internal/ensmask"
)

// scenario 3: outlier pruning, m=4 with obs 3 having sigma_e=1e-12.
func TestScenarioOutlierPruning(t *testing.T) {
	masks := ensmask.New(3, 4)
	stats := Stats{
		ObsValue: []float64{1, 1, 1, 1},
		ObsStd:   []float64{0.1, 0.1, 0.1, 0.1},
		EnsMean:  []float64{1, 1, 1, 1},
		EnsStd:   []float64{0.5, 0.5, 0.5, 1e-12},
	}
	decisions := DeactivateOutliers(masks, stats, 1e-9, 3.0, false)
	if len(decisions) != 4 {
		t.Fatalf("expected 4 decisions, got %d", len(decisions))
	}
	if masks.ObsMask[3] {
		t.Fatal("obs 3 should be deactivated")
	}
	found := false
	for _, d := range decisions {
		if d.Index == 3 {
			found = true
			if d.Reason != ReasonNoEnsembleVariation {
				t.Fatalf("expected no-ensemble-variation reason, got %v", d.Reason)
			}
		}
	}
	if !found {
		t.Fatal("no decision recorded for obs 3")
	}
}

func TestDeactivateStdZeroOnlyChecksVariance(t *testing.T) {
	masks := ensmask.New(2, 2)
	stats := Stats{
		ObsValue: []float64{100, 1},
		ObsStd:   []float64{0.1, 0.1},
		EnsMean:  []float64{1, 1},
		EnsStd:   []float64{0.5, 0},
	}
	decisions := DeactivateStdZero(masks, stats, false)
	for _, d := range decisions {
		if d.Index == 0 && d.Deactivated {
			t.Fatal("large mismatch alone must not deactivate under std-zero policy")
		}
		if d.Index == 1 && !d.Deactivated {
			t.Fatal("zero ensemble std must deactivate")
		}
	}
}

// scenario 4: re-inclusion — deactivate, then reactivate with altered data.
func TestScenarioReinclusion(t *testing.T) {
	masks := ensmask.New(3, 4)
	stats := Stats{
		ObsValue: []float64{1, 1, 100, 1},
		ObsStd:   []float64{0.1, 0.1, 0.1, 0.1},
		EnsMean:  []float64{1, 1, 1, 1},
		EnsStd:   []float64{0.5, 0.5, 0.5, 0.5},
	}
	DeactivateOutliers(masks, stats, 1e-9, 3.0, false)
	if masks.ObsMask[2] {
		t.Fatal("obs 2 should be deactivated (no overlap)")
	}

	// iteration 2: obs 2 active again with altered data within tolerance.
	masks.ActivateObs(2)
	stats.ObsValue[2] = 1.05
	decisions := DeactivateOutliers(masks, stats, 1e-9, 3.0, false)
	for _, d := range decisions {
		if d.Index == 2 && d.Deactivated {
			t.Fatal("obs 2 should stay active after re-inclusion with corrected data")
		}
	}
}
