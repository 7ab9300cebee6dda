// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scoreinfinity estimates bias-corrected generative-model metrics:
// FID∞ and IS∞, the infinite-sample extrapolations of the Fréchet Inception
// Distance and of the Inception Score, following
// "Effectively Unbiased FID and Inception Score and where to find them"
// (https://arxiv.org/abs/1911.07023).
//
// FID and IS computed from N samples are biased, and the bias behaves as
// O(1/N): two models compared at different sample counts can rank in either
// order. This package removes the leading-order bias by evaluating the metric
// at a ladder of sample sizes, fitting an ordinary-least-squares line of the
// metric against 1/N, and reading the line's value at 1/N = 0.
//
// All metrics run over activations of a pretrained InceptionV3 network (see
// the inception sub-package), or of any other feature extractor implementing
// the Extractor interface. A typical evaluation of a generative model:
//
//	backend := backends.MustNew()
//	smpl := must.M1(sampler.New(zDim).LowDiscrepancy().Cached().Done())
//	calc := scoreinfinity.New(backend).Verbose(true)
//	fid, err := calc.FIDInfinity(gen, smpl, 50000, "real_stats.npz")
//
// Directories of generated images can be scored directly with
// FIDInfinityFromPath and ISInfinityFromPath.
package scoreinfinity

import (
	"time"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"

	"github.com/gomlx/scoreinfinity/inception"
)

// Default values for the Config knobs, matching the reference methodology.
const (
	// DefaultBatchSize is the number of images generated and extracted per step.
	DefaultBatchSize = 50

	// DefaultNumPoints is the number of sample sizes on the extrapolation ladder.
	DefaultNumPoints = 15

	// DefaultMinSamples is the smallest sample size on the ladder.
	DefaultMinSamples = 5000
)

// Generator produces a batch of images from a batch of latent vectors. The
// latents are shaped [batch, dim]; the returned images must be shaped
// [batch, height, width, channels] with values in [-1, 1]. Implementations
// must not retain gradients or training state: generation is inference only.
type Generator interface {
	Generate(latents *tensors.Tensor) (*tensors.Tensor, error)
}

// Extractor maps a batch of images, shaped [batch, height, width, channels]
// with values in [0, 1], to a pair of activation batches: pooled features
// shaped [batch, features] and unnormalized classification logits shaped
// [batch, classes]. The inception sub-package provides the standard
// InceptionV3-backed implementation.
type Extractor interface {
	Extract(images *tensors.Tensor) (features, logits *tensors.Tensor, err error)
}

// Config collects the evaluation parameters. Create it with New, adjust it
// with the chained setters and call one of the metric methods. A Config is
// not safe for concurrent use: it lazily builds and caches the default
// extractor.
type Config struct {
	backend    backends.Backend
	batchSize  int
	numPoints  int
	minSamples int
	seed       uint64
	seeded     bool
	verbose    bool
	plotFile   string
	extractor  Extractor
	dataDir    string
}

// New creates a Config with the default parameters for the given backend.
func New(backend backends.Backend) *Config {
	return &Config{
		backend:    backend,
		batchSize:  DefaultBatchSize,
		numPoints:  DefaultNumPoints,
		minSamples: DefaultMinSamples,
	}
}

// BatchSize sets how many images are generated and extracted per step.
// Defaults to DefaultBatchSize.
func (c *Config) BatchSize(n int) *Config {
	c.batchSize = n
	return c
}

// NumPoints sets the number of sample sizes on the extrapolation ladder.
// Defaults to DefaultNumPoints.
func (c *Config) NumPoints(n int) *Config {
	c.numPoints = n
	return c
}

// MinSamples sets the smallest sample size on the ladder. The total number
// of images evaluated must exceed it. Defaults to DefaultMinSamples.
func (c *Config) MinSamples(n int) *Config {
	c.minSamples = n
	return c
}

// Seed fixes the random source used for ladder resampling, making repeated
// evaluations deterministic. By default the source is seeded from the wall
// clock.
func (c *Config) Seed(seed uint64) *Config {
	c.seed = seed
	c.seeded = true
	return c
}

// Verbose enables a progress bar over the activation accumulation.
func (c *Config) Verbose(enabled bool) *Config {
	c.verbose = enabled
	return c
}

// PlotFile sets a path to save a PNG of the regression: the ladder's
// (1/N, metric) points and the fitted line. Empty (the default) disables it.
func (c *Config) PlotFile(path string) *Config {
	c.plotFile = path
	return c
}

// WithExtractor replaces the default InceptionV3 extractor. Useful to score
// with a domain-specific network, or to avoid the weights download in tests.
func (c *Config) WithExtractor(e Extractor) *Config {
	c.extractor = e
	return c
}

// InceptionDataDir sets the directory where the default extractor downloads
// and caches the InceptionV3 weights. See inception.DefaultDataDir.
func (c *Config) InceptionDataDir(dir string) *Config {
	c.dataDir = dir
	return c
}

func (c *Config) validate() error {
	if c.backend == nil {
		return errors.Errorf("scoreinfinity: backend must not be nil")
	}
	if c.batchSize < 1 {
		return errors.Errorf("scoreinfinity: batch size must be >= 1, got %d", c.batchSize)
	}
	if c.numPoints < 2 {
		return errors.Errorf("scoreinfinity: the ladder needs at least 2 points to fit a line, got %d", c.numPoints)
	}
	if c.minSamples < 2 {
		return errors.Errorf("scoreinfinity: minimum sample size must be >= 2, got %d", c.minSamples)
	}
	return nil
}

// getExtractor returns the configured extractor, building and caching the
// InceptionV3 default on first use.
func (c *Config) getExtractor() (Extractor, error) {
	if c.extractor != nil {
		return c.extractor, nil
	}
	cfg := inception.New(c.backend)
	if c.dataDir != "" {
		cfg = cfg.DataDir(c.dataDir)
	}
	ext, err := cfg.Done()
	if err != nil {
		return nil, err
	}
	c.extractor = ext
	return ext, nil
}

func (c *Config) newRand() *rand.Rand {
	seed := c.seed
	if !c.seeded {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewSource(seed))
}

// graphFuncGenerator adapts a generator graph function into a Generator with
// a cached, JIT-compiled exec.
type graphFuncGenerator struct {
	exec interface {
		Exec1(args ...any) (*tensors.Tensor, error)
	}
}

func (g *graphFuncGenerator) Generate(latents *tensors.Tensor) (*tensors.Tensor, error) {
	return g.exec.Exec1(latents)
}

// GeneratorFromGraphFunc wraps a stateless generator graph function, such as
// a fixed transform of the latents, into a Generator.
func GeneratorFromGraphFunc(backend backends.Backend, fn func(latents *graph.Node) *graph.Node) (Generator, error) {
	exec, err := graph.NewExec(backend, fn)
	if err != nil {
		return nil, errors.WithMessagef(err, "building generator exec")
	}
	return &graphFuncGenerator{exec: exec}, nil
}

// GeneratorFromContextGraphFunc wraps a generator model whose variables live
// in ctx, typically a trained GoMLX model, into a Generator. The graph
// function is executed with training disabled semantics: it must only read
// the context variables.
func GeneratorFromContextGraphFunc(backend backends.Backend, ctx *context.Context,
	fn func(ctx *context.Context, latents *graph.Node) *graph.Node) (Generator, error) {
	exec, err := context.NewExec(backend, ctx, fn)
	if err != nil {
		return nil, errors.WithMessagef(err, "building generator exec")
	}
	return &graphFuncGenerator{exec: exec}, nil
}
