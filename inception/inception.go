// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package inception provides the standard feature extractor behind FID and
// the Inception Score: a pretrained InceptionV3 network producing, per image,
// the mean-pooled 2048-dimensional embedding and the 1000-class logits.
//
// The Keras weights are downloaded and unpacked on first use. Images are
// resized in-graph to the configured size and preprocessed to the [-1, 1]
// range InceptionV3 expects.
package inception

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/examples/inceptionv3"
	"github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

const (
	// DefaultDataDir is where the InceptionV3 weights are downloaded and
	// cached when no directory is configured.
	DefaultDataDir = "~/.cache/gomlx/inceptionv3"

	// DefaultImageSize is the resolution images are resized to before running
	// the network, InceptionV3's native classification input size.
	DefaultImageSize = 299
)

// Config is created with New and configured with the chained methods, ending
// with a call to Done to download the weights and build the Extractor.
type Config struct {
	backend   backends.Backend
	dataDir   string
	imageSize int
}

// New creates the configuration for an Extractor on the given backend. Chain
// DataDir or ImageSize to change the defaults, and finish with Done.
func New(backend backends.Backend) *Config {
	return &Config{backend: backend, dataDir: DefaultDataDir, imageSize: DefaultImageSize}
}

// DataDir sets the directory where the pretrained weights are downloaded and
// cached. Defaults to DefaultDataDir.
func (c *Config) DataDir(dir string) *Config {
	c.dataDir = dir
	return c
}

// ImageSize sets the square resolution images are resized to in-graph before
// running the network. Valid values range from inceptionv3.MinimumImageSize
// (75) to 299; smaller sizes are faster and coarser. Defaults to
// DefaultImageSize.
func (c *Config) ImageSize(pixels int) *Config {
	c.imageSize = pixels
	return c
}

// Done downloads and unpacks the weights if needed and builds the Extractor.
func (c *Config) Done() (*Extractor, error) {
	if c.backend == nil {
		return nil, errors.Errorf("inception: backend must not be nil")
	}
	if c.imageSize < inceptionv3.MinimumImageSize || c.imageSize > DefaultImageSize {
		return nil, errors.Errorf("inception: image size must be between %d and %d, got %d",
			inceptionv3.MinimumImageSize, DefaultImageSize, c.imageSize)
	}
	if err := inceptionv3.DownloadAndUnpackWeights(c.dataDir); err != nil {
		return nil, errors.WithMessagef(err, "inception: fetching InceptionV3 weights to %q", c.dataDir)
	}
	e := &Extractor{dataDir: c.dataDir, imageSize: c.imageSize}
	exec, err := context.NewExec(c.backend, context.New(),
		func(ctx *context.Context, batch *graph.Node) (features, logits *graph.Node) {
			return e.buildGraph(ctx, batch)
		})
	if err != nil {
		return nil, errors.WithMessagef(err, "inception: building extractor exec")
	}
	e.exec = exec
	return e, nil
}

// Extractor runs the pretrained InceptionV3 over image batches. Build it with
// New(...).Done(). It is inference-only: the model variables are loaded
// frozen and no gradients exist in the extraction graph.
type Extractor struct {
	dataDir   string
	imageSize int
	exec      *context.Exec
}

// Extract returns the pooled features ([batch, 2048]) and the unnormalized
// classification logits ([batch, 1000]) of a batch of images, shaped
// [batch, height, width, 3] channels-last with values in [0, 1].
func (e *Extractor) Extract(batch *tensors.Tensor) (features, logits *tensors.Tensor, err error) {
	return e.exec.Exec2(batch)
}

// Finalize releases the compiled extraction graphs and the model variables.
// The Extractor must not be used afterwards.
func (e *Extractor) Finalize() {
	e.exec.Finalize()
}

// buildGraph resizes and preprocesses the batch, then runs InceptionV3 twice
// under one variable scope: once without the classification top for the
// pooled embedding, once with it for the logits. The second call reuses the
// variables of the first, which is why the scope is marked Checked(false).
func (e *Extractor) buildGraph(ctx *context.Context, batch *graph.Node) (features, logits *graph.Node) {
	if batch.Rank() != 4 {
		exceptions.Panicf("inception: image batches must be rank-4 [batch, height, width, 3], got shape %s",
			batch.Shape())
	}
	shape := batch.Shape()
	spatialAxes := images.GetSpatialAxes(shape, images.ChannelsLast)
	var needsResizing bool
	for _, axis := range spatialAxes {
		if shape.Dimensions[axis] != e.imageSize {
			needsResizing = true
			break
		}
	}
	if needsResizing {
		newSizes := shape.Clone().Dimensions
		for _, axis := range spatialAxes {
			newSizes[axis] = e.imageSize
		}
		batch = graph.Interpolate(batch, newSizes...).Done()
	}

	// Images arrive in [0, 1]; PreprocessImage maps them to InceptionV3's
	// [-1, 1] input range.
	batch = inceptionv3.PreprocessImage(batch, 1.0, images.ChannelsLast)

	ctx = ctx.In("inceptionV3").Checked(false)
	features = inceptionv3.BuildGraph(ctx, batch).
		PreTrained(e.dataDir).
		SetPooling(inceptionv3.MeanPooling).
		ClassificationTop(false).
		ChannelsAxis(images.ChannelsLast).
		Trainable(false).
		Done()
	logits = inceptionv3.BuildGraph(ctx, batch).
		PreTrained(e.dataDir).
		ClassificationTop(true).
		ChannelsAxis(images.ChannelsLast).
		Trainable(false).
		Done()
	return
}
