// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sampler produces batches of latent noise vectors for generative
// models.
//
// Three modes are supported:
//
//   - Pseudo-random (the default): every call draws fresh standard-normal
//     vectors.
//   - Low-discrepancy: points of an Owen-scrambled Halton sequence are mapped
//     to standard-normal space, either coordinate-wise through the inverse
//     normal CDF (the default) or through a Box-Muller transform over pairs
//     of uniform coordinates (see Config.PairedUniform).
//   - Cached low-discrepancy: a large block of sequence points is pre-drawn
//     and randomly permuted, and draws are served from the front of the block
//     without replacement. The permutation removes the structured ordering of
//     the sequence, so paired consumers (say a generator and a discriminator
//     sharing one sampler) do not see correlated consecutive batches.
//
// Samplers own all their random state. Two samplers never share a buffer, so
// independent samplers can coexist in one process.
package sampler

import (
	"math"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
	"gonum.org/v1/gonum/stat/samplemv"
)

// DefaultCacheBlock is the number of sequence points pre-drawn per refill in
// cached mode.
const DefaultCacheBlock = 1_000_000

// Config is created with New and configured with the chained methods, ending
// with a call to Done to build the Sampler.
type Config struct {
	dim        int
	lowDisc    bool
	paired     bool
	cached     bool
	cacheBlock int
	seed       uint64
	seeded     bool
}

// New creates the configuration for a Sampler of latent vectors with the
// given dimension. The default is pseudo-random standard-normal draws; chain
// LowDiscrepancy, PairedUniform, Cached, CacheBlock or Seed to change modes,
// and finish with Done.
func New(dim int) *Config {
	return &Config{dim: dim, cacheBlock: DefaultCacheBlock}
}

// LowDiscrepancy switches the sampler to an Owen-scrambled Halton sequence
// mapped to normal space through the inverse CDF.
func (c *Config) LowDiscrepancy() *Config {
	c.lowDisc = true
	return c
}

// PairedUniform maps low-discrepancy points to normal space with a
// Box-Muller transform over pairs of uniform coordinates, instead of the
// coordinate-wise inverse CDF. It implies LowDiscrepancy.
func (c *Config) PairedUniform() *Config {
	c.lowDisc = true
	c.paired = true
	return c
}

// Cached makes draws consume from a pre-drawn, randomly permuted block of
// low-discrepancy points, without replacement. The block is replaced whenever
// it holds fewer points than a draw requests. It implies LowDiscrepancy.
func (c *Config) Cached() *Config {
	c.lowDisc = true
	c.cached = true
	return c
}

// CacheBlock sets the number of points pre-drawn per refill in cached mode.
// Defaults to DefaultCacheBlock.
func (c *Config) CacheBlock(n int) *Config {
	c.cacheBlock = n
	return c
}

// Seed fixes the random source, making the sampler deterministic. By default
// the sampler is seeded from the wall clock.
func (c *Config) Seed(seed uint64) *Config {
	c.seed = seed
	c.seeded = true
	return c
}

// Done validates the configuration and builds the Sampler.
func (c *Config) Done() (*Sampler, error) {
	if c.dim < 1 {
		return nil, errors.Errorf("sampler: latent dimension must be >= 1, got %d", c.dim)
	}
	if c.cached && c.cacheBlock < 1 {
		return nil, errors.Errorf("sampler: cache block must be >= 1, got %d", c.cacheBlock)
	}
	seed := c.seed
	if !c.seeded {
		seed = uint64(time.Now().UnixNano())
	}
	s := &Sampler{
		dim:        c.dim,
		lowDisc:    c.lowDisc,
		paired:     c.paired,
		cached:     c.cached,
		cacheBlock: c.cacheBlock,
		rng:        rand.New(rand.NewSource(seed)),
	}
	return s, nil
}

// Sampler draws batches of latent vectors. Build it with New(...).Done().
// It is not safe for concurrent use: each Draw mutates the sampler's random
// state (and, in cached mode, its buffer).
type Sampler struct {
	dim        int
	lowDisc    bool
	paired     bool
	cached     bool
	cacheBlock int
	rng        *rand.Rand

	// Cached-mode buffer: flattened rows of normal-space points, served from
	// bufNext forward and never re-used.
	buf     []float32
	bufNext int
}

// Dim returns the dimension of the latent vectors drawn.
func (s *Sampler) Dim() int { return s.dim }

// Draw returns n latent vectors as a [n, dim] float32 tensor.
func (s *Sampler) Draw(n int) (*tensors.Tensor, error) {
	if n < 1 {
		return nil, errors.Errorf("sampler: draw size must be >= 1, got %d", n)
	}
	var flat []float32
	switch {
	case !s.lowDisc:
		flat = s.drawPseudo(n)
	case s.cached:
		var err error
		flat, err = s.drawCached(n)
		if err != nil {
			return nil, err
		}
	default:
		flat = s.sequencePoints(n)
	}
	return tensors.FromFlatDataAndDimensions(flat, n, s.dim), nil
}

func (s *Sampler) drawPseudo(n int) []float32 {
	flat := make([]float32, n*s.dim)
	for i := range flat {
		flat[i] = float32(s.rng.NormFloat64())
	}
	return flat
}

func (s *Sampler) drawCached(n int) ([]float32, error) {
	if remaining := len(s.buf)/s.dim - s.bufNext; remaining < n {
		if n > s.cacheBlock {
			return nil, errors.Errorf(
				"sampler: draw of %d points exceeds the cache block of %d; "+
					"raise Config.CacheBlock or draw in smaller batches", n, s.cacheBlock)
		}
		s.refill()
	}
	flat := make([]float32, n*s.dim)
	copy(flat, s.buf[s.bufNext*s.dim:(s.bufNext+n)*s.dim])
	s.bufNext += n
	return flat, nil
}

// refill replaces the buffer with a freshly drawn, randomly permuted block.
// Leftover points from the previous block are discarded.
func (s *Sampler) refill() {
	points := s.sequencePoints(s.cacheBlock)
	s.buf = make([]float32, len(points))
	for dst, src := range s.rng.Perm(s.cacheBlock) {
		copy(s.buf[dst*s.dim:(dst+1)*s.dim], points[src*s.dim:(src+1)*s.dim])
	}
	s.bufNext = 0
}

// sequencePoints returns n normal-space points of the low-discrepancy
// sequence, flattened row by row. Every call draws a freshly Owen-scrambled
// block: the scrambling randomness comes from the sampler's own source, so
// successive calls produce distinct, uncorrelated blocks while staying
// reproducible under a fixed seed.
func (s *Sampler) sequencePoints(n int) []float32 {
	if s.paired {
		return s.pairedPoints(n)
	}
	batch := mat.NewDense(n, s.dim, nil)
	h := samplemv.Halton{Kind: samplemv.Owen, Q: unitNormalQuantiler{}, Src: s.rng}
	h.Sample(batch)
	return flatten32(batch, n, s.dim)
}

// pairedPoints draws uniform sequence points in an even number of dimensions
// and converts coordinate pairs to normals with the Box-Muller transform.
func (s *Sampler) pairedPoints(n int) []float32 {
	evenDim := 2 * ((s.dim + 1) / 2)
	batch := mat.NewDense(n, evenDim, nil)
	// Halton requires a quantiler; the unit-uniform one is the identity,
	// keeping the points on the unit hypercube for the Box-Muller mapping.
	h := samplemv.Halton{Kind: samplemv.Owen, Q: distmv.NewUnitUniform(evenDim, s.rng), Src: s.rng}
	h.Sample(batch)
	flat := make([]float32, n*s.dim)
	for i := 0; i < n; i++ {
		row := batch.RawRowView(i)
		for j := 0; j+1 < evenDim; j += 2 {
			r := math.Sqrt(-2 * math.Log(row[j]))
			theta := 2 * math.Pi * row[j+1]
			z0, z1 := r*math.Cos(theta), r*math.Sin(theta)
			flat[i*s.dim+j] = float32(z0)
			if j+1 < s.dim {
				flat[i*s.dim+j+1] = float32(z1)
			}
		}
	}
	return flat
}

func flatten32(m *mat.Dense, rows, cols int) []float32 {
	flat := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		for j, v := range row {
			flat[i*cols+j] = float32(v)
		}
	}
	return flat
}

// unitNormalQuantiler maps uniform hypercube points through the standard
// normal inverse CDF, one coordinate at a time.
type unitNormalQuantiler struct{}

func (unitNormalQuantiler) Quantile(dst, p []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(p))
	}
	for i, v := range p {
		dst[i] = distuv.UnitNormal.Quantile(v)
	}
	return dst
}
