// Package matrix provides the dense linear-algebra helpers shared by the
// update kernel: truncated SVD, symmetric eigendecomposition, the anomaly
// projection operator, and AA (anti-collapse) projection via QR.
package matrix

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// illConditionedFloor zeros singular/eigen values below this fraction of
// the largest one before truncation is applied, guarding against
// ill-conditioned Y*Y' + (N-1)R when realizations are nearly collinear.
const illConditionedFloor = 1e-6

// AnomalyOperator returns pi_N = I_N - 1*1^T/N, the operator that projects
// out the ensemble mean.
func AnomalyOperator(N int) *mat.Dense {
	pi := mat.NewDense(N, N, nil)
	for i := 0; i < N; i++ {
		for j := 0; j < N; j++ {
			v := -1.0 / float64(N)
			if i == j {
				v += 1.0
			}
			pi.Set(i, j, v)
		}
	}
	return pi
}

// Anomalies computes A * pi_N / sqrt(N-1) for an n x N matrix A.
func Anomalies(a mat.Matrix) *mat.Dense {
	_, N := a.Dims()
	pi := AnomalyOperator(N)
	var out mat.Dense
	out.Mul(a, pi)
	out.Scale(1/math.Sqrt(float64(N-1)), &out)
	return &out
}

// TruncationRank resolves the tau parameter (fraction in (0,1], or a
// positive integer k) against a descending list of singular/eigen values
// into a concrete retained rank, applying the ill-conditioning floor first.
func TruncationRank(values []float64, tau float64) int {
	n := len(values)
	if n == 0 {
		return 0
	}
	vmax := values[0]
	floor := vmax * illConditionedFloor
	usable := n
	for usable > 0 && values[usable-1] < floor {
		usable--
	}
	if usable == 0 {
		return 0
	}
	if tau > 1 {
		k := int(tau)
		if k > usable {
			k = usable
		}
		return k
	}
	if tau <= 0 {
		return usable
	}
	var total float64
	for _, v := range values[:usable] {
		total += v
	}
	if total == 0 {
		return usable
	}
	var cum float64
	for i, v := range values[:usable] {
		cum += v
		if cum/total >= tau {
			return i + 1
		}
	}
	return usable
}

// ThinSVD factorizes a via thin SVD (economy-size U), returning the
// underlying gonum SVD result for callers that need U, V, and singular
// values directly.
func ThinSVD(a mat.Matrix) (*mat.SVD, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("matrix: SVD factorization failed")
	}
	return &svd, nil
}

// TruncatedUSV returns U (rows x keep), singular values (len keep), and V
// (cols x keep) for the first `keep` singular triples of a thin SVD.
func TruncatedUSV(svd *mat.SVD, keep int) (u *mat.Dense, s []float64, v *mat.Dense) {
	var fullU, fullV mat.Dense
	svd.UTo(&fullU)
	svd.VTo(&fullV)
	ur, _ := fullU.Dims()
	vr, _ := fullV.Dims()

	u = mat.NewDense(ur, keep, nil)
	u.Copy(fullU.Slice(0, ur, 0, keep))
	v = mat.NewDense(vr, keep, nil)
	v.Copy(fullV.Slice(0, vr, 0, keep))

	allS := svd.Values(nil)
	s = append([]float64(nil), allS[:keep]...)
	return u, s, v
}

// EigSymDescending computes the eigendecomposition of a symmetric matrix,
// returning eigenvalues and eigenvectors sorted descending by eigenvalue
// (gonum returns them ascending).
func EigSymDescending(a *mat.SymDense) (values []float64, vectors *mat.Dense, err error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(a, true); !ok {
		return nil, nil, fmt.Errorf("matrix: symmetric eigendecomposition failed")
	}
	asc := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	n := len(asc)
	values = make([]float64, n)
	r, _ := vecs.Dims()
	vectors = mat.NewDense(r, n, nil)
	for i := 0; i < n; i++ {
		src := n - 1 - i
		values[i] = asc[src]
		vectors.SetCol(i, mat.Col(nil, src, &vecs))
	}
	return values, vectors, nil
}

// QRColumnSpace returns an orthonormal basis Q for the column space of a
// (the "thin" Q from QR factorization), used by the AA projection.
func QRColumnSpace(a *mat.Dense) *mat.Dense {
	var qr mat.QR
	qr.Factorize(a)
	r, c := a.Dims()
	k := c
	if r < c {
		k = r
	}
	var fullQ mat.Dense
	qr.QTo(&fullQ)
	q := mat.NewDense(r, k, nil)
	q.Copy(fullQ.Slice(0, r, 0, k))
	return q
}

// ProjectOnto returns Q*(Q^T*m), the projection of m onto the column space
// spanned by the orthonormal columns of q.
func ProjectOnto(q *mat.Dense, m mat.Matrix) *mat.Dense {
	var qt mat.Dense
	qt.Mul(q.T(), m)
	var out mat.Dense
	out.Mul(q, &qt)
	return &out
}
