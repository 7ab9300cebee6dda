// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scoreinfinity

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/scoreinfinity/frechet"
	"github.com/gomlx/scoreinfinity/sampler"
)

// FIDInfinity computes FID∞, the Fréchet Inception Distance extrapolated to
// an infinite number of generated images.
//
// It generates numFake images with gen (driven by latents from smpl), builds
// their pooled-feature activation pool, evaluates FID against the ground-truth
// statistics in realStatsPath at every sample size of the extrapolation
// ladder, and returns the intercept of the 1/N regression.
//
// realStatsPath must be an .npz archive with "mu" and "sigma" entries, as
// written by frechet.Stats.Save; numFake must exceed Config.MinSamples.
func (c *Config) FIDInfinity(gen Generator, smpl *sampler.Sampler, numFake int, realStatsPath string) (float64, error) {
	if err := c.validate(); err != nil {
		return 0, err
	}
	ref, err := frechet.Load(realStatsPath)
	if err != nil {
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
	return c.extrapolateFID(pool, ref)
}

// FIDInfinityFromPath computes FID∞ for a directory of generated images.
//
// realPath is either an .npz statistics archive or a directory of real images;
// a directory is summarized by the Gaussian statistics of all its images (no
// ladder on the real side). fakePath must be a directory holding more than
// Config.MinSamples images; the extrapolation ladders over all of them.
func (c *Config) FIDInfinityFromPath(realPath, fakePath string) (float64, error) {
	if err := c.validate(); err != nil {
		return 0, err
	}
	ref, err := c.realStats(realPath)
	if err != nil {
		return 0, err
	}
	pool, err := c.poolFromDir(fakePath, true)
	if err != nil {
		return 0, err
	}
	return c.extrapolateFID(pool, ref)
}

// extrapolateFID ladders FID over the pooled-feature pool against the fixed
// real statistics.
func (c *Config) extrapolateFID(pool *Pool, ref frechet.Stats) (float64, error) {
	return c.extrapolate(pool.Features, "FID", func(subset *mat.Dense) (float64, error) {
		return frechet.Distance(frechet.FromSamples(subset), ref)
	})
}

// realStats resolves the real side of FID∞: a path ending in .npz loads
// precomputed statistics, an existing directory is reduced to the statistics
// of all its images, anything else is a configuration error.
func (c *Config) realStats(realPath string) (frechet.Stats, error) {
	if strings.HasSuffix(realPath, ".npz") {
		return frechet.Load(realPath)
	}
	info, err := os.Stat(realPath)
	if err != nil || !info.IsDir() {
		return frechet.Stats{}, errors.Errorf(
			"scoreinfinity: real path %q is neither an .npz statistics archive nor a directory", realPath)
	}
	pool, err := c.poolFromDir(realPath, false)
	if err != nil {
		return frechet.Stats{}, err
	}
	return frechet.FromSamples(pool.Features), nil
}
