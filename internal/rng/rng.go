// Package rng provides the seeded Gaussian perturbation stream used to
// build observation-noise matrices E reproducibly (P5).
package rng

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Stream wraps a seeded source of standard-normal draws. Two Streams built
// with the same seed produce bitwise identical sequences.
type Stream struct {
	r *rand.Rand
}

// New returns a Stream seeded deterministically from seed.
func New(seed int64) *Stream {
	return &Stream{r: rand.New(rand.NewSource(seed))}
}

// Float64 returns one standard-normal draw.
func (s *Stream) Float64() float64 {
	return s.r.NormFloat64()
}

// Matrix fills an rows x cols matrix with independent standard-normal
// draws, column-major fill order (column 0 fully drawn before column 1)
// matching the original source's realization-by-realization sampling
// order, so that for a fixed number of rows the same seed reproduces the
// same per-realization draws regardless of the number of columns.
func (s *Stream) Matrix(rows, cols int) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			out.Set(i, j, s.Float64())
		}
	}
	return out
}

// ScaledMatrix draws a standard-normal matrix and scales row i by std[i],
// producing perturbations consistent with a diagonal observation-error
// covariance's standard deviations.
func (s *Stream) ScaledMatrix(std []float64, cols int) *mat.Dense {
	out := s.Matrix(len(std), cols)
	for i, sd := range std {
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)*sd)
		}
	}
	return out
}
