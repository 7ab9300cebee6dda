// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scoreinfinity

import (
	"io"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/simplego"

	"github.com/gomlx/scoreinfinity/sampler"
)

// meanExtractor is a stand-in feature extractor: from each image it takes the
// mean pixel value m and reports features [m, m², 1−m, 0.25] and logits
// [2m, −2m, m]. Deterministic, so activation pools are exact functions of the
// images that produced them.
type meanExtractor struct {
	calls int
}

func (e *meanExtractor) Extract(images *tensors.Tensor) (features, logits *tensors.Tensor, err error) {
	e.calls++
	dims := images.Shape().Dimensions
	b := dims[0]
	flat := tensors.MustCopyFlatData[float32](images)
	per := len(flat) / b
	feats := make([]float32, 0, b*4)
	lgts := make([]float32, 0, b*3)
	for i := 0; i < b; i++ {
		var sum float32
		for _, v := range flat[i*per : (i+1)*per] {
			sum += v
		}
		m := sum / float32(per)
		feats = append(feats, m, m*m, 1-m, 0.25)
		lgts = append(lgts, 2*m, -2*m, m)
	}
	return tensors.FromFlatDataAndDimensions(feats, b, 4),
		tensors.FromFlatDataAndDimensions(lgts, b, 3), nil
}

// latentImageGenerator reshapes each latent vector into a [1, 1, dim] image,
// so generated "images" carry the latent distribution through the pipeline.
func latentImageGenerator(t *testing.T, cfg *Config) Generator {
	gen, err := GeneratorFromGraphFunc(cfg.backend, func(latents *graph.Node) *graph.Node {
		return graph.InsertAxes(graph.InsertAxes(latents, 1), 1)
	})
	require.NoError(t, err)
	return gen
}

func TestAccumulateFromModel(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ext := &meanExtractor{}
	cfg := New(backend).BatchSize(8).Seed(1)
	gen := latentImageGenerator(t, cfg)
	smpl := must.M1(sampler.New(6).Seed(2).Done())

	acc := cfg.newAccumulator(ext)
	defer acc.finalize()

	// 19 images at batch 8 take 3 batches; the last overshoots and is trimmed.
	pool, err := acc.fromModel(gen, smpl, 19)
	require.NoError(t, err)
	assert.Equal(t, 3, ext.calls)
	assert.Equal(t, 19, pool.Len())
	fRows, fCols := pool.Features.Dims()
	pRows, pCols := pool.Probs.Dims()
	assert.Equal(t, 19, fRows)
	assert.Equal(t, 4, fCols)
	assert.Equal(t, 19, pRows)
	assert.Equal(t, 3, pCols)

	// Logits go through a softmax: every probability row sums to 1.
	for i := 0; i < pRows; i++ {
		var sum float64
		for j := 0; j < pCols; j++ {
			p := pool.Probs.At(i, j)
			assert.Greater(t, p, 0.0)
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-5, "probability row %d", i)
	}
}

func TestAccumulateRescalesGeneratorOutput(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ext := &meanExtractor{}
	cfg := New(backend).BatchSize(4).Seed(3)
	// The generator emits constant -1 images, the bottom of the generator
	// range, which must arrive at the extractor rescaled to 0.
	gen, err := GeneratorFromGraphFunc(cfg.backend, func(latents *graph.Node) *graph.Node {
		images := graph.InsertAxes(graph.InsertAxes(latents, 1), 1)
		return graph.AddScalar(graph.MulScalar(images, 0), -1)
	})
	require.NoError(t, err)
	smpl := must.M1(sampler.New(2).Seed(4).Done())

	acc := cfg.newAccumulator(ext)
	defer acc.finalize()
	pool, err := acc.fromModel(gen, smpl, 4)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 0.0, pool.Features.At(i, 0), 1e-6, "mean pixel of row %d", i)
		assert.InDelta(t, 1.0, pool.Features.At(i, 2), 1e-6)
	}
}

// sliceDataset yields pre-built image tensors, train.Dataset style.
type sliceDataset struct {
	batches []*tensors.Tensor
	next    int
}

func (ds *sliceDataset) Name() string { return "slices" }
func (ds *sliceDataset) Reset()       { ds.next = 0 }
func (ds *sliceDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	if ds.next >= len(ds.batches) {
		return nil, nil, nil, io.EOF
	}
	batch := ds.batches[ds.next]
	ds.next++
	return ds, []*tensors.Tensor{batch}, nil, nil
}

func constantImageBatch(b, h, w, c int, value float32) *tensors.Tensor {
	flat := make([]float32, b*h*w*c)
	for i := range flat {
		flat[i] = value
	}
	return tensors.FromFlatDataAndDimensions(flat, b, h, w, c)
}

func TestAccumulateFromDataset(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ext := &meanExtractor{}
	cfg := New(backend)
	acc := cfg.newAccumulator(ext)
	defer acc.finalize()

	ds := &sliceDataset{batches: []*tensors.Tensor{
		constantImageBatch(3, 2, 2, 3, 0.25),
		constantImageBatch(3, 2, 2, 3, 0.75),
	}}
	pool, err := acc.fromDataset(ds, 5)
	require.NoError(t, err)
	require.Equal(t, 5, pool.Len())
	// Dataset images are taken as-is, no [-1, 1] rescaling.
	assert.InDelta(t, 0.25, pool.Features.At(0, 0), 1e-6)
	assert.InDelta(t, 0.75, pool.Features.At(4, 0), 1e-6)
}

func TestAccumulateFromDatasetExhausted(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	cfg := New(backend)
	acc := cfg.newAccumulator(&meanExtractor{})
	defer acc.finalize()

	ds := &sliceDataset{batches: []*tensors.Tensor{constantImageBatch(2, 2, 2, 3, 0.5)}}
	_, err := acc.fromDataset(ds, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exhausted")
}
