// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scoreinfinity

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/mat"

	"github.com/gomlx/scoreinfinity/imageset"
	"github.com/gomlx/scoreinfinity/sampler"
)

// Pool is the activation pool of an evaluation run: one row per image, with
// pooled features and softmax-normalized class probabilities accumulated in
// parallel. Once built, a Pool is read-only; ladder resampling never mutates
// it.
type Pool struct {
	Features *mat.Dense
	Probs    *mat.Dense
}

// Len returns the number of images summarized in the pool.
func (p *Pool) Len() int {
	rows, _ := p.Features.Dims()
	return rows
}

// accumulator drives a generative model (or an image dataset) and the
// extractor to build an activation pool. The rescale exec maps generator
// output from [-1, 1] to clamped [0, 1]; the softmax exec normalizes logits
// into probabilities.
type accumulator struct {
	cfg     *Config
	ext     Extractor
	rescale *graph.Exec
	softmax *graph.Exec
}

func (c *Config) newAccumulator(ext Extractor) *accumulator {
	return &accumulator{
		cfg: c,
		ext: ext,
		rescale: graph.MustNewExec(c.backend, func(x *graph.Node) *graph.Node {
			return graph.ClipScalar(graph.MulScalar(graph.AddScalar(x, 1), 0.5), 0, 1)
		}),
		softmax: graph.MustNewExec(c.backend, func(logits *graph.Node) *graph.Node {
			return graph.Softmax(logits)
		}),
	}
}

func (a *accumulator) finalize() {
	a.rescale.Finalize()
	a.softmax.Finalize()
}

// fromModel generates count images batch by batch and returns their
// activation pool, trimmed to exactly count rows. The final batch may
// overshoot count and is trimmed, never padded.
func (a *accumulator) fromModel(gen Generator, smpl *sampler.Sampler, count int) (*Pool, error) {
	bar := a.cfg.newProgressBar(count)
	batches := (count + a.cfg.batchSize - 1) / a.cfg.batchSize
	var pool poolBuilder
	for b := 0; b < batches; b++ {
		latents, err := smpl.Draw(a.cfg.batchSize)
		if err != nil {
			return nil, err
		}
		images, err := gen.Generate(latents)
		latents.FinalizeAll()
		if err != nil {
			return nil, errors.WithMessagef(err, "generating batch %d of %d", b+1, batches)
		}
		rescaled, err := a.rescale.Exec1(images)
		images.FinalizeAll()
		if err != nil {
			return nil, errors.WithMessagef(err, "rescaling batch %d of %d to [0, 1]", b+1, batches)
		}
		added, err := a.extractInto(&pool, rescaled)
		rescaled.FinalizeAll()
		if err != nil {
			return nil, errors.WithMessagef(err, "extracting activations of batch %d of %d", b+1, batches)
		}
		if bar != nil {
			_ = bar.Add(added)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return pool.build(count)
}

// fromDataset consumes image batches from ds until count images have been
// extracted, and returns their activation pool trimmed to exactly count
// rows. Dataset images must already be in [0, 1]: no rescaling is applied.
func (a *accumulator) fromDataset(ds train.Dataset, count int) (*Pool, error) {
	bar := a.cfg.newProgressBar(count)
	var pool poolBuilder
	for pool.rows < count {
		_, inputs, _, err := ds.Yield()
		if err == io.EOF {
			return nil, errors.Errorf("dataset %q exhausted after %d of %d images", ds.Name(), pool.rows, count)
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "reading dataset %q", ds.Name())
		}
		if len(inputs) == 0 {
			return nil, errors.Errorf("dataset %q yielded a batch without inputs", ds.Name())
		}
		added, err := a.extractInto(&pool, inputs[0])
		for _, input := range inputs {
			input.FinalizeAll()
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "extracting activations of dataset %q", ds.Name())
		}
		if bar != nil {
			_ = bar.Add(added)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
	return pool.build(count)
}

// extractInto runs the extractor and the softmax over one image batch and
// appends the resulting rows to the pool builder. Returns the number of rows
// appended.
func (a *accumulator) extractInto(pool *poolBuilder, images *tensors.Tensor) (int, error) {
	features, logits, err := a.ext.Extract(images)
	if err != nil {
		return 0, err
	}
	probs, err := a.softmax.Exec1(logits)
	logits.FinalizeAll()
	if err != nil {
		features.FinalizeAll()
		return 0, errors.WithMessagef(err, "softmax over logits")
	}
	added, err := pool.append(features, probs)
	features.FinalizeAll()
	probs.FinalizeAll()
	return added, err
}

// poolFromDir accumulates the activations of every image under dir. When
// enforceMin is set the directory must hold more than Config.MinSamples
// images, checked before the extractor runs: the ladder precondition is a
// configuration error, not something to discover after minutes of inference.
func (c *Config) poolFromDir(dir string, enforceMin bool) (*Pool, error) {
	ds, err := imageset.New(dir).BatchSize(c.batchSize).Done()
	if err != nil {
		return nil, err
	}
	if enforceMin && ds.Len() <= c.minSamples {
		return nil, errors.Errorf(
			"scoreinfinity: %q holds %d images, the extrapolation ladder needs more than %d",
			dir, ds.Len(), c.minSamples)
	}
	ext, err := c.getExtractor()
	if err != nil {
		return nil, err
	}
	acc := c.newAccumulator(ext)
	defer acc.finalize()
	return acc.fromDataset(ds, ds.Len())
}

func (c *Config) newProgressBar(count int) *progressbar.ProgressBar {
	if !c.verbose {
		return nil
	}
	return progressbar.NewOptions(count,
		progressbar.OptionSetDescription(
			fmt.Sprintf("Inception activations (%s images)", humanize.Comma(int64(count)))),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
}

// poolBuilder grows the two activation matrices batch by batch, widening the
// extractor's float32 outputs to float64 rows.
type poolBuilder struct {
	rows      int
	featCols  int
	probCols  int
	featFlat  []float64
	probsFlat []float64
}

func (pb *poolBuilder) append(features, probs *tensors.Tensor) (int, error) {
	fRows, fCols, err := tensorDims2(features)
	if err != nil {
		return 0, errors.WithMessagef(err, "pooled features")
	}
	pRows, pCols, err := tensorDims2(probs)
	if err != nil {
		return 0, errors.WithMessagef(err, "probabilities")
	}
	if fRows != pRows {
		return 0, errors.Errorf("extractor returned %d feature rows but %d logit rows", fRows, pRows)
	}
	if pb.rows == 0 {
		pb.featCols, pb.probCols = fCols, pCols
	} else if fCols != pb.featCols || pCols != pb.probCols {
		return 0, errors.Errorf("activation dimensions changed mid-run: features %d -> %d, probabilities %d -> %d",
			pb.featCols, fCols, pb.probCols, pCols)
	}
	pb.featFlat, err = appendWidened(pb.featFlat, features)
	if err != nil {
		return 0, err
	}
	pb.probsFlat, err = appendWidened(pb.probsFlat, probs)
	if err != nil {
		return 0, err
	}
	pb.rows += fRows
	return fRows, nil
}

// build trims the accumulated rows to exactly count and assembles the Pool.
func (pb *poolBuilder) build(count int) (*Pool, error) {
	if pb.rows < count {
		return nil, errors.Errorf("accumulated only %d of %d activation rows", pb.rows, count)
	}
	return &Pool{
		Features: mat.NewDense(count, pb.featCols, pb.featFlat[:count*pb.featCols]),
		Probs:    mat.NewDense(count, pb.probCols, pb.probsFlat[:count*pb.probCols]),
	}, nil
}

func tensorDims2(t *tensors.Tensor) (rows, cols int, err error) {
	dims := t.Shape().Dimensions
	if len(dims) != 2 {
		return 0, 0, errors.Errorf("want a rank-2 activation batch, got shape %v", dims)
	}
	return dims[0], dims[1], nil
}

func appendWidened(dst []float64, t *tensors.Tensor) ([]float64, error) {
	switch t.DType() {
	case dtypes.Float64:
		return append(dst, tensors.MustCopyFlatData[float64](t)...), nil
	case dtypes.Float32:
		for _, v := range tensors.MustCopyFlatData[float32](t) {
			dst = append(dst, float64(v))
		}
		return dst, nil
	default:
		return nil, errors.Errorf("unsupported activation dtype %s, want float32 or float64", t.DType())
	}
}
