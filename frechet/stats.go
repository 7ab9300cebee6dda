// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package frechet

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/numpy"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Stats holds the Gaussian summary of an activation pool: the mean vector
// and the covariance matrix of the pooled features.
type Stats struct {
	Mu    []float64
	Sigma *mat.SymDense
}

// Dim returns the feature dimension of the statistics.
func (s Stats) Dim() int { return len(s.Mu) }

// FromSamples computes Gaussian statistics from a matrix of activations,
// one observation per row, one feature per column. The covariance is the
// sample covariance (normalized by rows-1).
func FromSamples(x mat.Matrix) Stats {
	rows, cols := x.Dims()
	mu := make([]float64, cols)
	col := make([]float64, rows)
	for j := range mu {
		mat.Col(col, j, x)
		mu[j] = stat.Mean(col, nil)
	}
	sigma := mat.NewSymDense(cols, nil)
	stat.CovarianceMatrix(sigma, x, nil)
	return Stats{Mu: mu, Sigma: sigma}
}

// Load reads precomputed statistics from an .npz archive with exactly two
// entries: "mu", a 1-D float array, and "sigma", a square 2-D float array
// with matching dimension. Anything else is an error.
func Load(filePath string) (Stats, error) {
	arrays, err := numpy.FromNpzFile(filePath)
	if err != nil {
		return Stats{}, errors.WithMessagef(err, "loading statistics archive %q", filePath)
	}
	if len(arrays) != 2 {
		names := make([]string, 0, len(arrays))
		for name := range arrays {
			names = append(names, name)
		}
		return Stats{}, errors.Errorf(
			"statistics archive %q must hold exactly the entries \"mu\" and \"sigma\", found %q",
			filePath, names)
	}
	muT, ok := arrays["mu"]
	if !ok {
		return Stats{}, errors.Errorf("statistics archive %q is missing the \"mu\" entry", filePath)
	}
	sigmaT, ok := arrays["sigma"]
	if !ok {
		return Stats{}, errors.Errorf("statistics archive %q is missing the \"sigma\" entry", filePath)
	}

	muDims := muT.Shape().Dimensions
	if len(muDims) != 1 {
		return Stats{}, errors.Errorf("statistics archive %q: \"mu\" must be 1-D, got shape %v", filePath, muDims)
	}
	n := muDims[0]
	sigmaDims := sigmaT.Shape().Dimensions
	if len(sigmaDims) != 2 || sigmaDims[0] != n || sigmaDims[1] != n {
		return Stats{}, errors.Errorf(
			"statistics archive %q: \"sigma\" must be %d x %d to match \"mu\", got shape %v",
			filePath, n, n, sigmaDims)
	}

	mu, err := flatFloat64s(muT)
	if err != nil {
		return Stats{}, errors.WithMessagef(err, "statistics archive %q: \"mu\"", filePath)
	}
	sigmaFlat, err := flatFloat64s(sigmaT)
	if err != nil {
		return Stats{}, errors.WithMessagef(err, "statistics archive %q: \"sigma\"", filePath)
	}
	sigma := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sigma.SetSym(i, j, sigmaFlat[i*n+j])
		}
	}
	return Stats{Mu: mu, Sigma: sigma}, nil
}

// Save writes the statistics to an .npz archive in the same two-entry layout
// Load reads.
func (s Stats) Save(filePath string) error {
	n := s.Dim()
	if n == 0 || s.Sigma == nil {
		return errors.Errorf("cannot save empty statistics to %q", filePath)
	}
	if s.Sigma.SymmetricDim() != n {
		return errors.Errorf("statistics dimension mismatch: mu has %d entries, sigma is %d x %d",
			n, s.Sigma.SymmetricDim(), s.Sigma.SymmetricDim())
	}
	mu := make([]float64, n)
	copy(mu, s.Mu)
	sigmaFlat := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sigmaFlat[i*n+j] = s.Sigma.At(i, j)
		}
	}
	arrays := map[string]*tensors.Tensor{
		"mu":    tensors.FromFlatDataAndDimensions(mu, n),
		"sigma": tensors.FromFlatDataAndDimensions(sigmaFlat, n, n),
	}
	if err := numpy.ToNpzFile(arrays, filePath); err != nil {
		return errors.WithMessagef(err, "saving statistics archive %q", filePath)
	}
	return nil
}

// flatFloat64s returns the tensor's flat values widened to float64. Only
// float32 and float64 arrays are accepted.
func flatFloat64s(t *tensors.Tensor) ([]float64, error) {
	switch t.DType() {
	case dtypes.Float64:
		return tensors.MustCopyFlatData[float64](t), nil
	case dtypes.Float32:
		from := tensors.MustCopyFlatData[float32](t)
		to := make([]float64, len(from))
		for i, v := range from {
			to[i] = float64(v)
		}
		return to, nil
	default:
		return nil, errors.Errorf("unsupported array dtype %s, want float32 or float64", t.DType())
	}
}
