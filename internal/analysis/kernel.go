// Package analysis implements the update kernel: construction of the
// update matrix X from predicted measurements, observation errors, and
// perturbations, the three inversion schemes, the IES coefficient-matrix
// recursion, and the optional AA projection.
package analysis

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/ensemble-da/core/internal/ensmask"
	"github.com/ensemble-da/core/internal/matrix"
)

// State owns the coefficient matrix W, the prior ensemble snapshot A0, the
// initial perturbation matrix E (via an ensmask.EStore), the outer
// iteration counter, and configuration (spec 3, "IES state").
type State struct {
	Config Config

	n, N int // parameter-vector length, full ensemble size
	m    int // total observation slots

	A0        *mat.Dense // n x N, captured on first call, immutable after
	W         *mat.Dense // N x N, zero-initialized
	EStore    *ensmask.EStore
	It        int
	Converged bool

	prevEnsMask []bool // snapshot of ens_mask as of the last call, for W row/col zeroing on re-inclusion
}

// NewState allocates a fresh kernel state for a run with n-length
// parameter vectors, N ensemble members, and m observation slots.
func NewState(cfg Config, n, N, m int) *State {
	return &State{
		Config: cfg,
		n:      n,
		N:      N,
		m:      m,
		W:      mat.NewDense(N, N, nil),
		EStore: ensmask.NewEStore(m, N),
	}
}

// UpdateA is the public contract: updateA(state, A, S, R, E, D) -> mutates
// A (n x N, full layout) in place. S, R, E, D are active-subspace matrices
// (m_a x n_a, m_a x m_a, m_a x n_a, m_a x n_a respectively) already
// extracted by the caller using the current masks.
func (s *State) UpdateA(masks *ensmask.Masks, A, S, R, E, D *mat.Dense) error {
	nA, mA := masks.NActive()
	if nA < 2 || mA == 0 {
		return nil // spec 4.1.5 edge case: silent no-op, not an error.
	}

	ensIdx := masks.ActiveEnsIndices()
	if err := checkDims(ensIdx, nA, mA, S, R, E, D); err != nil {
		return err
	}

	s.handleInitialE(masks, E)
	s.zeroReincludedW(masks)

	if s.A0 == nil {
		s.A0 = mat.DenseCopyOf(A)
	}

	piActive := matrix.AnomalyOperator(nA)
	normActive := 1 / math.Sqrt(float64(nA-1))

	var omega mat.Dense
	if s.Config.Mode == ModeIES && s.It > 0 {
		wActive := extractSquareSub(s.W, ensIdx)
		var wPi mat.Dense
		wPi.Mul(wActive, piActive)
		wPi.Scale(normActive, &wPi)
		omega.Add(identity(nA), &wPi)
	} else {
		omega.Scale(normActive, piActive)
	}

	var y mat.Dense
	y.Mul(S, &omega)

	dWork := mat.DenseCopyOf(D)
	yWork := &y

	if s.Config.AAProjection && nA < mA {
		aActive := extractColumns(A, ensIdx)
		delta := matrix.Anomalies(aActive)

		// The AA basis spans delta's row space (realization-index
		// directions with real ensemble spread), so it is QRColumnSpace
		// of delta^T, not of delta itself (see DESIGN.md). ProjectOnto
		// projects from the left, so Y and D — whose rows, not columns,
		// live in that space — are projected by transposing in, calling
		// ProjectOnto, and transposing back out.
		deltaT := mat.DenseCopyOf(delta.T())
		q := matrix.QRColumnSpace(deltaT)

		yProjT := matrix.ProjectOnto(q, mat.DenseCopyOf(yWork.T()))
		dProjT := matrix.ProjectOnto(q, mat.DenseCopyOf(dWork.T()))
		yWork = mat.DenseCopyOf(yProjT.T())
		dWork = mat.DenseCopyOf(dProjT.T())
	}

	solved, err := solve(s.Config.Inversion, yWork, R, E, dWork, s.Config.Truncation, nA)
	if err != nil {
		return fmt.Errorf("analysis: inversion failed: %w", err)
	}

	// ytSolved = Y^T * solved, the raw per-iteration coefficient increment
	// (spec 4.1.4's X_iter). The ES branch forms its single-shot X as
	// Omega * ytSolved; the IES branch folds ytSolved into W unscaled and
	// applyFullIESUpdate applies W/sqrt(N-1). On a first iteration
	// Omega = pi_N/sqrt(N-1) and pi_N * Y^T = Y^T (the rows of Y are already
	// mean-free), so with gamma = 1 and every realization active the two
	// branches produce the same update.
	var ytSolved mat.Dense
	ytSolved.Mul(yWork.T(), solved)

	switch s.Config.Mode {
	case ModeES:
		var xIter mat.Dense
		xIter.Mul(&omega, &ytSolved)
		aActive := extractColumns(A, ensIdx)
		var aNew mat.Dense
		aNew.Mul(aActive, addIdentity(&xIter, nA))
		scatterColumns(A, &aNew, ensIdx)
	case ModeIES:
		gamma := s.Config.Gamma(s.It)
		wActive := extractSquareSub(s.W, ensIdx)
		var scaled mat.Dense
		scaled.Scale(1-gamma, wActive)
		var incr mat.Dense
		incr.Scale(gamma, &ytSolved)
		var wActiveNew mat.Dense
		wActiveNew.Add(&scaled, &incr)
		scatterSquareSub(s.W, &wActiveNew, ensIdx)

		if err := s.applyFullIESUpdate(A); err != nil {
			return err
		}
	default:
		return fmt.Errorf("analysis: unknown mode %v", s.Config.Mode)
	}

	s.It++
	s.snapshotEnsMask(masks)
	return nil
}

// applyFullIESUpdate recomputes A <- A0 * (I_N + W/sqrt(N-1)) over the full
// ensemble, using the just-updated W. W is applied without pi_N, so the
// update can shift the ensemble mean.
func (s *State) applyFullIESUpdate(A *mat.Dense) error {
	normFull := 1 / math.Sqrt(float64(s.N-1))
	var wScaled mat.Dense
	wScaled.Scale(normFull, s.W)
	term := addIdentity(&wScaled, s.N)

	var aNew mat.Dense
	aNew.Mul(s.A0, term)
	A.Copy(&aNew)
	return nil
}

// handleInitialE implements store_initial_E / augment_initial_E (spec
// 4.1.5).
func (s *State) handleInitialE(masks *ensmask.Masks, E *mat.Dense) {
	if s.It == 0 {
		_ = s.EStore.StoreInitialE(masks, E)
		return
	}
	obsIdx := masks.ActiveObsIndices()
	var newlyActive []int
	var rowPositions []int
	for pos, i := range obsIdx {
		if !masks.ObsMask0[i] {
			newlyActive = append(newlyActive, i)
			rowPositions = append(rowPositions, pos)
		}
	}
	if len(newlyActive) == 0 {
		return
	}
	_, cols := E.Dims()
	newRows := mat.NewDense(len(newlyActive), cols, nil)
	for r, pos := range rowPositions {
		newRows.SetRow(r, mat.Row(nil, pos, E))
	}
	_ = s.EStore.AugmentInitialE(masks, newlyActive, newRows)
}

// zeroReincludedW implements: if a realization was inactive and becomes
// active again, its row/column in W must be zeroed on re-inclusion.
func (s *State) zeroReincludedW(masks *ensmask.Masks) {
	if s.prevEnsMask == nil {
		return
	}
	for j, nowActive := range masks.EnsMask {
		wasActive := j < len(s.prevEnsMask) && s.prevEnsMask[j]
		if nowActive && !wasActive {
			zeroRowCol(s.W, j)
		}
	}
}

func (s *State) snapshotEnsMask(masks *ensmask.Masks) {
	s.prevEnsMask = append(s.prevEnsMask[:0], masks.EnsMask...)
}

func checkDims(ensIdx []int, nA, mA int, S, R, E, D *mat.Dense) error {
	sr, sc := S.Dims()
	if sr != mA || sc != nA {
		return fmt.Errorf("analysis: S dims %dx%d, want %dx%d", sr, sc, mA, nA)
	}
	rr, rc := R.Dims()
	if rr != mA || rc != mA {
		return fmt.Errorf("analysis: R dims %dx%d, want %dx%d", rr, rc, mA, mA)
	}
	er, ec := E.Dims()
	if er != mA || ec != nA {
		return fmt.Errorf("analysis: E dims %dx%d, want %dx%d", er, ec, mA, nA)
	}
	dr, dc := D.Dims()
	if dr != mA || dc != nA {
		return fmt.Errorf("analysis: D dims %dx%d, want %dx%d", dr, dc, mA, nA)
	}
	if len(ensIdx) != nA {
		return fmt.Errorf("analysis: internal inconsistency, ensIdx len %d != n_a %d", len(ensIdx), nA)
	}
	return nil
}

func identity(n int) *mat.Dense {
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		out.Set(i, i, 1)
	}
	return out
}

func addIdentity(m *mat.Dense, n int) *mat.Dense {
	var out mat.Dense
	out.Add(identity(n), m)
	return &out
}

func extractColumns(full *mat.Dense, idx []int) *mat.Dense {
	rows, _ := full.Dims()
	out := mat.NewDense(rows, len(idx), nil)
	for aj, j := range idx {
		out.SetCol(aj, mat.Col(nil, j, full))
	}
	return out
}

func scatterColumns(full, sub *mat.Dense, idx []int) {
	for aj, j := range idx {
		full.SetCol(j, mat.Col(nil, aj, sub))
	}
}

func extractSquareSub(full *mat.Dense, idx []int) *mat.Dense {
	out := mat.NewDense(len(idx), len(idx), nil)
	for ai, i := range idx {
		for aj, j := range idx {
			out.Set(ai, aj, full.At(i, j))
		}
	}
	return out
}

func scatterSquareSub(full, sub *mat.Dense, idx []int) {
	for ai, i := range idx {
		for aj, j := range idx {
			full.Set(i, j, sub.At(ai, aj))
		}
	}
}

func zeroRowCol(m *mat.Dense, k int) {
	r, c := m.Dims()
	for j := 0; j < c; j++ {
		m.Set(k, j, 0)
	}
	for i := 0; i < r; i++ {
		m.Set(i, k, 0)
	}
}
