// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scoreinfinity

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/scoreinfinity/inceptionscore"
	"github.com/gomlx/scoreinfinity/sampler"
)

// ISInfinity computes IS∞, the Inception Score extrapolated to an infinite
// number of generated images.
//
// It generates numFake images with gen (driven by latents from smpl), builds
// their class-probability pool, evaluates the single-split Inception Score at
// every sample size of the extrapolation ladder, and returns the intercept of
// the 1/N regression. numFake must exceed Config.MinSamples.
func (c *Config) ISInfinity(gen Generator, smpl *sampler.Sampler, numFake int) (float64, error) {
	if err := c.validate(); err != nil {
		return 0, err
	}
	if numFake <= c.minSamples {
		return 0, errors.Errorf(
			"scoreinfinity: numFake (%d) must exceed the minimum ladder size (%d)", numFake, c.minSamples)
	}
	ext, err := c.getExtractor()
	if err != nil {
		return 0, err
	}
	acc := c.newAccumulator(ext)
	defer acc.finalize()
	pool, err := acc.fromModel(gen, smpl, numFake)
	if err != nil {
		return 0, err
	}
	return c.extrapolateIS(pool)
}

// ISInfinityFromPath computes IS∞ for a directory of generated images. The
// directory must hold more than Config.MinSamples images; the extrapolation
// ladders over all of them.
func (c *Config) ISInfinityFromPath(fakePath string) (float64, error) {
	if err := c.validate(); err != nil {
		return 0, err
	}
	pool, err := c.poolFromDir(fakePath, true)
	if err != nil {
		return 0, err
	}
	return c.extrapolateIS(pool)
}

// extrapolateIS ladders the Inception Score over the probability pool. Each
// ladder point scores its whole subset as a single split, which is what the
// 1/N regression needs: one score per sample size.
func (c *Config) extrapolateIS(pool *Pool) (float64, error) {
	return c.extrapolate(pool.Probs, "Inception Score", func(subset *mat.Dense) (float64, error) {
		score, _, err := inceptionscore.Score(subset, 1)
		return score, err
	})
}
