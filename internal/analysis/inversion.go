package analysis

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ensemble-da/core/internal/matrix"
)

// solve returns `solved`, the left-applied pseudo-inverse term appearing in
// X = Omega * (Y^T * solved), per the three inversion modes of spec 4.1.2.
// Y is m_a x n_a (propagated anomaly prediction), D is m_a x n_a
// (innovations-with-noise), R is m_a x m_a (only consulted by EXACT and
// SUBSPACE-EXACT-R).
func solve(mode InversionMode, Y, R, E, D *mat.Dense, tau float64, nA int) (*mat.Dense, error) {
	switch mode {
	case Exact:
		return solveExact(Y, R, D, tau, nA)
	case SubspaceExactR:
		return solveSubspace(Y, R, D, tau)
	case SubspaceEER:
		rApprox, err := approximateR(E, nA)
		if err != nil {
			return nil, err
		}
		return solveSubspace(Y, rApprox, D, tau)
	default:
		return nil, fmt.Errorf("analysis: unknown inversion mode %v", mode)
	}
}

// approximateR builds R ~= E*E^T/(n_a-1), avoiding the need for an
// explicit observation-error covariance (SUBSPACE-EE-R).
func approximateR(E *mat.Dense, nA int) (*mat.Dense, error) {
	if nA < 2 {
		return nil, fmt.Errorf("analysis: approximateR needs n_a>=2, got %d", nA)
	}
	var ee mat.Dense
	ee.Mul(E, E.T())
	ee.Scale(1/float64(nA-1), &ee)
	return &ee, nil
}

// solveExact implements EXACT: (Y Y^T + (n_a-1) R) Z = D, via truncated
// eigendecomposition of the symmetric left-hand side.
func solveExact(Y, R, D *mat.Dense, tau float64, nA int) (*mat.Dense, error) {
	mA, _ := Y.Dims()
	var yyt mat.Dense
	yyt.Mul(Y, Y.T())

	var c mat.Dense
	c.Scale(float64(nA-1), R)
	c.Add(&yyt, &c)

	sym := denseToSym(&c, mA)
	values, vectors, err := matrix.EigSymDescending(sym)
	if err != nil {
		return nil, err
	}
	keep := matrix.TruncationRank(values, tau)
	if keep == 0 {
		// No usable rank: solved is zero, the update degenerates to a no-op.
		_, nCols := D.Dims()
		return mat.NewDense(mA, nCols, nil), nil
	}

	vTrunc := mat.NewDense(mA, keep, nil)
	vTrunc.Copy(vectors.Slice(0, mA, 0, keep))

	invDiag := make([]float64, keep)
	for i := 0; i < keep; i++ {
		invDiag[i] = 1 / values[i]
	}

	var vtD mat.Dense
	vtD.Mul(vTrunc.T(), D)
	for i := 0; i < keep; i++ {
		row := mat.Row(nil, i, &vtD)
		for j := range row {
			row[j] *= invDiag[i]
		}
		vtD.SetRow(i, row)
	}
	var solved mat.Dense
	solved.Mul(vTrunc, &vtD)
	return &solved, nil
}

// solveSubspace implements the shared algebra behind SUBSPACE-EXACT-R and
// SUBSPACE-EE-R: SVD of Y truncated to rank r, an r x r eigendecomposition
// combining the truncated left singular vectors with R, then assembly of
// the pseudo-inverse term applied to D. This is the standard
// subspace-pseudo-inversion scheme (Evensen 2004 / Sakov & Oke): with
// Y = U0 Sig0 V0^T truncated to rank r,
//
//	X1  = Sig0^-1 U0^T R U0 Sig0^-1        (r x r)
//	X1  = Z Lam Z^T                        (symmetric eigendecomposition)
//	X2  = U0 Sig0^-1 Z                     (m_a x r)
//	solved = X2 diag(1/(1+Lam)) X2^T D
func solveSubspace(Y, R, D *mat.Dense, tau float64) (*mat.Dense, error) {
	svd, err := matrix.ThinSVD(Y)
	if err != nil {
		return nil, err
	}
	allS := svd.Values(nil)
	r := matrix.TruncationRank(allS, tau)
	mA, _ := Y.Dims()
	if r == 0 {
		_, nCols := D.Dims()
		return mat.NewDense(mA, nCols, nil), nil
	}
	u0, s0, _ := matrix.TruncatedUSV(svd, r)

	sigInv := make([]float64, r)
	for i, v := range s0 {
		if v == 0 {
			sigInv[i] = 0
			continue
		}
		sigInv[i] = 1 / v
	}
	sigInvDiag := mat.NewDiagDense(r, sigInv)

	var u0tR mat.Dense
	u0tR.Mul(u0.T(), R)
	var x1 mat.Dense
	x1.Mul(&u0tR, u0)

	var tmp mat.Dense
	tmp.Mul(sigInvDiag, &x1)
	var x1Scaled mat.Dense
	x1Scaled.Mul(&tmp, sigInvDiag)

	symX1 := denseToSym(&x1Scaled, r)
	lam, z, err := matrix.EigSymDescending(symX1)
	if err != nil {
		return nil, err
	}

	var x2 mat.Dense
	x2.Mul(u0, sigInvDiag)
	var x2z mat.Dense
	x2z.Mul(&x2, z)

	invOnePlusLam := make([]float64, r)
	for i, l := range lam {
		invOnePlusLam[i] = 1 / (1 + l)
	}

	var x2zT mat.Dense
	x2zT.Mul(x2z.T(), D)
	for i := 0; i < r; i++ {
		row := mat.Row(nil, i, &x2zT)
		for j := range row {
			row[j] *= invOnePlusLam[i]
		}
		x2zT.SetRow(i, row)
	}

	var solved mat.Dense
	solved.Mul(&x2z, &x2zT)
	return &solved, nil
}

// denseToSym copies the symmetric part of a square dense matrix into a
// SymDense, tolerating floating-point asymmetry from accumulated matrix
// products.
func denseToSym(d *mat.Dense, n int) *mat.SymDense {
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (d.At(i, j) + d.At(j, i)) / 2
			sym.SetSym(i, j, v)
		}
	}
	return sym
}
