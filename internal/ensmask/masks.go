// Package ensmask owns the active-set bookkeeping shared by the update
// kernel: the ensemble mask, the frozen and current observation masks, and
// the full-layout initial-perturbation matrix E re-embedded across outer
// iterations.
package ensmask

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// UnsetPerturbation marks an (obs, realization) slot in the full-layout E
// matrix that has never been observed active.
const UnsetPerturbation = -999.9

// Masks holds the three boolean vectors from the data model: ens_mask,
// obs_mask0 (frozen, grows monotonically), and obs_mask (current, shrinks
// within an outer iteration).
type Masks struct {
	EnsMask  []bool
	ObsMask0 []bool
	ObsMask  []bool
}

// New builds masks for an ensemble of size N and m observation slots, all
// active.
func New(N, m int) *Masks {
	return &Masks{
		EnsMask:  allTrue(N),
		ObsMask0: make([]bool, m),
		ObsMask:  allTrue(m),
	}
}

func allTrue(n int) []bool {
	v := make([]bool, n)
	for i := range v {
		v[i] = true
	}
	return v
}

// ActiveEnsIndices returns the indices of ens_mask that are currently true,
// in ascending order — this ordering defines the active-subspace column
// layout used throughout the update kernel.
func (m *Masks) ActiveEnsIndices() []int {
	return trueIndices(m.EnsMask)
}

// ActiveObsIndices returns the indices of obs_mask that are currently true.
func (m *Masks) ActiveObsIndices() []int {
	return trueIndices(m.ObsMask)
}

func trueIndices(mask []bool) []int {
	out := make([]int, 0, len(mask))
	for i, v := range mask {
		if v {
			out = append(out, i)
		}
	}
	return out
}

// NActive returns n_a, m_a: the current active ensemble and observation
// counts.
func (m *Masks) NActive() (nA, mA int) {
	for _, v := range m.EnsMask {
		if v {
			nA++
		}
	}
	for _, v := range m.ObsMask {
		if v {
			mA++
		}
	}
	return nA, mA
}

// DeactivateObs sets obs_mask[i] to false. It never touches obs_mask0 — per
// the data-model invariant, obs_mask0 only grows.
func (m *Masks) DeactivateObs(i int) {
	m.ObsMask[i] = false
}

// PromoteObs0 sets obs_mask0[i] to true, recording that slot i has now been
// observed active at least once. It is a no-op if already true, preserving
// the "once true, stays true" invariant by construction.
func (m *Masks) PromoteObs0(i int) {
	m.ObsMask0[i] = true
}

// ActivateObs reactivates obs_mask[i]. Per spec, a retry may reactivate a
// realization/observation between outer iterations; this does not violate
// P1, which only constrains monotonicity *within* one iteration.
func (m *Masks) ActivateObs(i int) {
	m.ObsMask[i] = true
}

// DeactivateEns sets ens_mask[j] to false.
func (m *Masks) DeactivateEns(j int) {
	m.EnsMask[j] = false
}

// ActivateEns reactivates ens_mask[j] between outer iterations.
func (m *Masks) ActivateEns(j int) {
	m.EnsMask[j] = true
}

// EStore owns the full m x N initial-perturbation matrix E, addressed by
// (obs_mask0, ens_mask) position rather than active-subspace position, so
// that it survives mask changes across outer iterations.
type EStore struct {
	full *mat.Dense // m x N, UnsetPerturbation where never observed
	m, N int
}

// NewEStore allocates an m x N store with every slot unset.
func NewEStore(m, N int) *EStore {
	full := mat.NewDense(m, N, nil)
	for i := 0; i < m; i++ {
		for j := 0; j < N; j++ {
			full.Set(i, j, UnsetPerturbation)
		}
	}
	return &EStore{full: full, m: m, N: N}
}

// Full returns the underlying m x N matrix. Callers must not mutate it
// directly; use StoreInitialE/AugmentInitialE.
func (e *EStore) Full() *mat.Dense { return e.full }

// StoreInitialE implements store_initial_E (spec 4.1.5): on the first IES
// call, copy the active-subspace E (m_a x n_a) into the full layout using
// the current masks. Rows/columns outside the active set stay at the
// sentinel.
func (e *EStore) StoreInitialE(masks *Masks, activeE *mat.Dense) error {
	obsIdx := masks.ActiveObsIndices()
	ensIdx := masks.ActiveEnsIndices()
	r, c := activeE.Dims()
	if r != len(obsIdx) || c != len(ensIdx) {
		return fmt.Errorf("ensmask: StoreInitialE dims %dx%d, want %dx%d", r, c, len(obsIdx), len(ensIdx))
	}
	for ai, i := range obsIdx {
		for aj, j := range ensIdx {
			e.full.Set(i, j, activeE.At(ai, aj))
		}
		masks.PromoteObs0(i)
	}
	return nil
}

// AugmentInitialE implements augment_initial_E (spec 4.1.5): on later
// calls, fill rows newly admitted by obs_mask — observations active for the
// first time this iteration — and promote them into obs_mask0. newRowsE
// must contain exactly the rows for newlyActiveObs, in that order, with one
// column per active realization (n_a wide) in ens_mask order at call time;
// columns are addressed by active realization position, matching
// StoreInitialE.
func (e *EStore) AugmentInitialE(masks *Masks, newlyActiveObs []int, newRowsE *mat.Dense) error {
	ensIdx := masks.ActiveEnsIndices()
	r, c := newRowsE.Dims()
	if r != len(newlyActiveObs) || c != len(ensIdx) {
		return fmt.Errorf("ensmask: AugmentInitialE dims %dx%d, want %dx%d", r, c, len(newlyActiveObs), len(ensIdx))
	}
	for ai, i := range newlyActiveObs {
		for aj, j := range ensIdx {
			e.full.Set(i, j, newRowsE.At(ai, aj))
		}
		masks.PromoteObs0(i)
	}
	return nil
}

// ActiveSubmatrix extracts the m_a x n_a active-subspace view of E for the
// current masks, substituting zero for any sentinel slot that should not
// occur per P2 but is tolerated defensively at read time.
func (e *EStore) ActiveSubmatrix(masks *Masks) *mat.Dense {
	obsIdx := masks.ActiveObsIndices()
	ensIdx := masks.ActiveEnsIndices()
	out := mat.NewDense(len(obsIdx), len(ensIdx), nil)
	for ai, i := range obsIdx {
		for aj, j := range ensIdx {
			v := e.full.At(i, j)
			if v == UnsetPerturbation {
				v = 0
			}
			out.Set(ai, aj, v)
		}
	}
	return out
}

// CheckIntegrity verifies P2: for every (i,j) with obs_mask0[i] && ens_mask[j],
// E[i,j] != UnsetPerturbation.
func (e *EStore) CheckIntegrity(masks *Masks) error {
	for i, active0 := range masks.ObsMask0 {
		if !active0 {
			continue
		}
		for j, activeEns := range masks.EnsMask {
			if !activeEns {
				continue
			}
			if e.full.At(i, j) == UnsetPerturbation {
				return fmt.Errorf("ensmask: E[%d,%d] unset despite obs_mask0&&ens_mask", i, j)
			}
		}
	}
	return nil
}
