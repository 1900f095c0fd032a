package analysis

import (
	"database/sql"

	"github.com/ensemble-da/core/internal/ensmask"
	"github.com/ensemble-da/core/internal/logging"
)

// LogIteration records the inputs and outcome of the iteration just applied
// by UpdateA into db, so a run's update history can be audited after the
// fact without rerunning the kernel. Iteration is the state's counter after
// that update and Gamma is the step length the update used. Callers own the
// db handle's lifetime.
func (s *State) LogIteration(db *sql.DB, caseName string, masks *ensmask.Masks, deactivatedObs int, reason string) error {
	nA, mA := masks.NActive()
	applied := s.It - 1
	if applied < 0 {
		applied = 0
	}
	return logging.LogIteration(db, logging.IterationEntry{
		CaseName:                caseName,
		Iteration:               s.It,
		Mode:                    s.Config.Mode.String(),
		InversionMode:           s.Config.Inversion.String(),
		ActiveRealizations:      nA,
		ActiveObservations:      mA,
		DeactivatedObservations: deactivatedObs,
		Gamma:                   s.Config.Gamma(applied),
		Converged:               s.Converged,
		Reason:                  reason,
	})
}
