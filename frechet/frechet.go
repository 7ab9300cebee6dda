// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package frechet computes the Fréchet distance between two Gaussians fit to
// activation pools, the metric primitive behind FID, plus loading and saving
// of precomputed Gaussian statistics.
package frechet

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"k8s.io/klog/v2"
)

const (
	// RegularizationEpsilon is added to the diagonal of both covariance
	// matrices when the square-root trace of their product fails to produce
	// finite values.
	RegularizationEpsilon = 1e-6

	// ImaginaryTolerance is the largest imaginary magnitude accepted on the
	// square-root trace terms before the computation is declared unstable.
	ImaginaryTolerance = 1e-3
)

// Distance returns the squared Fréchet distance between the two Gaussians:
//
//	d² = ||μ1 − μ2||² + Tr(Σ1) + Tr(Σ2) − 2·Tr(sqrt(Σ1·Σ2))
//
// The square-root trace term is taken from the eigenvalues of Σ1·Σ2. When
// the eigendecomposition fails or produces non-finite values the computation
// is retried once with RegularizationEpsilon added to both diagonals, and a
// warning is logged. If after that the imaginary component of the trace
// terms exceeds ImaginaryTolerance, an error reporting the maximum imaginary
// magnitude is returned.
//
// The result can be a small negative number near zero due to floating-point
// cancellation; callers should treat those values as zero.
func Distance(a, b Stats) (float64, error) {
	n := a.Dim()
	if b.Dim() != n {
		return 0, errors.Errorf("mismatched statistics: mu vectors have %d and %d entries", n, b.Dim())
	}
	if a.Sigma == nil || b.Sigma == nil {
		return 0, errors.Errorf("statistics are missing a covariance matrix")
	}
	if a.Sigma.SymmetricDim() != n || b.Sigma.SymmetricDim() != n {
		return 0, errors.Errorf("mismatched statistics: covariances are %d x %d and %d x %d, want %d x %d",
			a.Sigma.SymmetricDim(), a.Sigma.SymmetricDim(),
			b.Sigma.SymmetricDim(), b.Sigma.SymmetricDim(), n, n)
	}

	diff := make([]float64, n)
	floats.SubTo(diff, a.Mu, b.Mu)
	meanTerm := floats.Dot(diff, diff)

	trSqrt, err := traceSqrtProduct(a.Sigma, b.Sigma)
	if err != nil {
		return 0, err
	}
	return meanTerm + traceSym(a.Sigma) + traceSym(b.Sigma) - 2*trSqrt, nil
}

// traceSqrtProduct computes Tr(sqrt(s1·s2)), applying the regularization
// retry and the imaginary-component tolerance described in Distance.
func traceSqrtProduct(s1, s2 *mat.SymDense) (float64, error) {
	n := s1.SymmetricDim()
	prod := mat.NewDense(n, n, nil)
	prod.Mul(s1, s2)
	tr, maxImag, ok := traceSqrtEigen(prod)
	if !ok {
		klog.Warningf("frechet distance: covariance product is singular, retrying with %g added to both diagonals",
			RegularizationEpsilon)
		prod.Mul(addToDiagonal(s1, RegularizationEpsilon), addToDiagonal(s2, RegularizationEpsilon))
		tr, maxImag, ok = traceSqrtEigen(prod)
		if !ok {
			return 0, errors.Errorf(
				"frechet distance: covariance product stayed singular after adding %g to both diagonals",
				RegularizationEpsilon)
		}
	}
	if maxImag > ImaginaryTolerance {
		return 0, errors.Errorf("frechet distance: matrix square root has imaginary component %g", maxImag)
	}
	return tr, nil
}

// traceSqrtEigen returns the real part of Σ_i sqrt(λ_i) over the eigenvalues
// of m, along with the largest imaginary magnitude among the sqrt terms.
// ok is false when the factorization fails or any term is non-finite.
func traceSqrtEigen(m *mat.Dense) (tr, maxImag float64, ok bool) {
	var eig mat.Eigen
	if !eig.Factorize(m, mat.EigenNone) {
		return 0, 0, false
	}
	for _, lambda := range eig.Values(nil) {
		root := cmplx.Sqrt(lambda)
		re, im := real(root), imag(root)
		if math.IsNaN(re) || math.IsInf(re, 0) || math.IsNaN(im) || math.IsInf(im, 0) {
			return 0, 0, false
		}
		tr += re
		maxImag = math.Max(maxImag, math.Abs(im))
	}
	return tr, maxImag, true
}

func addToDiagonal(s *mat.SymDense, eps float64) *mat.SymDense {
	n := s.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	out.CopySym(s)
	for i := 0; i < n; i++ {
		out.SetSym(i, i, s.At(i, i)+eps)
	}
	return out
}

func traceSym(s *mat.SymDense) float64 {
	var tr float64
	for i := 0; i < s.SymmetricDim(); i++ {
		tr += s.At(i, i)
	}
	return tr
}
