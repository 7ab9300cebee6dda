// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scoreinfinity

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ladderSizes returns points sample sizes evenly spaced between min and
// total, inclusive on both ends, truncated to integers. The sizes are
// strictly increasing; total must exceed min by at least points-1.
func ladderSizes(min, total, points int) ([]int, error) {
	if points < 2 {
		return nil, errors.Errorf("the extrapolation ladder needs at least 2 points, got %d", points)
	}
	if total <= min {
		return nil, errors.Errorf("total sample count (%d) must exceed the minimum ladder size (%d)", total, min)
	}
	if total-min < points-1 {
		return nil, errors.Errorf(
			"cannot fit %d strictly increasing sizes between %d and %d", points, min, total)
	}
	step := float64(total-min) / float64(points-1)
	sizes := make([]int, points)
	for i := range sizes {
		sizes[i] = int(float64(min) + step*float64(i))
	}
	sizes[points-1] = total
	return sizes, nil
}

// resampleRows returns a new matrix with n rows drawn without replacement
// from pool, using a fresh random permutation. The pool is left untouched,
// so successive resamples are independent.
func resampleRows(rng *rand.Rand, pool *mat.Dense, n int) *mat.Dense {
	rows, cols := pool.Dims()
	out := mat.NewDense(n, cols, nil)
	for i, idx := range rng.Perm(rows)[:n] {
		out.SetRow(i, pool.RawRowView(idx))
	}
	return out
}

// fitInverseSize fits metric = intercept + slope/N by ordinary least squares
// over the ladder. The intercept is the metric extrapolated to N -> infinity.
func fitInverseSize(sizes []int, values []float64) (intercept, slope float64) {
	xs := make([]float64, len(sizes))
	for i, n := range sizes {
		xs[i] = 1 / float64(n)
	}
	intercept, slope = stat.LinearRegression(xs, values, nil, false)
	return
}

// metricAtSize computes the metric over one resampled subset of the pool.
type metricAtSize func(subset *mat.Dense) (float64, error)

// extrapolate evaluates the metric at every ladder size over independently
// resampled subsets of pool, fits the 1/N regression and returns the
// intercept. If Config.PlotFile is set, the fit is also rendered to disk.
func (c *Config) extrapolate(pool *mat.Dense, name string, metric metricAtSize) (float64, error) {
	rows, _ := pool.Dims()
	sizes, err := ladderSizes(c.minSamples, rows, c.numPoints)
	if err != nil {
		return 0, err
	}
	rng := c.newRand()
	values := make([]float64, len(sizes))
	for i, n := range sizes {
		subset := resampleRows(rng, pool, n)
		values[i], err = metric(subset)
		if err != nil {
			return 0, errors.WithMessagef(err, "computing %s at sample size %d", name, n)
		}
	}
	intercept, slope := fitInverseSize(sizes, values)
	if c.plotFile != "" {
		if err := saveRegressionPlot(c.plotFile, name, sizes, values, intercept, slope); err != nil {
			return 0, err
		}
	}
	return intercept, nil
}

// saveRegressionPlot renders the ladder points and the fitted line to a PNG.
func saveRegressionPlot(path, name string, sizes []int, values []float64, intercept, slope float64) error {
	p := plot.New()
	p.Title.Text = name + " extrapolation"
	p.X.Label.Text = "1/N"
	p.Y.Label.Text = name

	pts := make(plotter.XYs, len(sizes))
	for i, n := range sizes {
		pts[i].X = 1 / float64(n)
		pts[i].Y = values[i]
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.WithMessagef(err, "plotting %s ladder", name)
	}
	fit := plotter.NewFunction(func(x float64) float64 { return intercept + slope*x })
	p.Add(scatter, fit)
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.WithMessagef(err, "saving regression plot to %q", path)
	}
	return nil
}
