// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imageset loads a directory of images as batched GoMLX tensors.
//
// The directory is scanned recursively for .jpg and .png files; each image is
// resized so its shorter side matches the configured size, center-cropped to
// a square and converted to a float32 tensor with values in [0, 1],
// channels-last. Dataset implements the GoMLX train.Dataset interface, so the
// same source also plugs into training and evaluation loops.
package imageset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	// DefaultSize is the square side images are cropped to.
	DefaultSize = 64

	// DefaultBatchSize is the number of images per yielded batch.
	DefaultBatchSize = 50
)

// Config is created with New and configured with the chained methods, ending
// with a call to Done to scan the directory and build the Dataset.
type Config struct {
	dir       string
	size      int
	batchSize int
}

// New creates the configuration for a Dataset over the images found under
// dir (recursively). Chain Size or BatchSize to change the defaults, and
// finish with Done.
func New(dir string) *Config {
	return &Config{dir: dir, size: DefaultSize, batchSize: DefaultBatchSize}
}

// Size sets the square side images are resized (shorter side) and
// center-cropped to. Defaults to DefaultSize.
func (c *Config) Size(pixels int) *Config {
	c.size = pixels
	return c
}

// BatchSize sets the number of images per yielded batch. Defaults to
// DefaultBatchSize.
func (c *Config) BatchSize(n int) *Config {
	c.batchSize = n
	return c
}

// Done scans the directory and builds the Dataset. A directory without any
// .jpg or .png file is an error.
func (c *Config) Done() (*Dataset, error) {
	if c.size < 1 {
		return nil, errors.Errorf("imageset: image size must be >= 1, got %d", c.size)
	}
	if c.batchSize < 1 {
		return nil, errors.Errorf("imageset: batch size must be >= 1, got %d", c.batchSize)
	}
	dir, err := fsutil.ReplaceTildeInDir(c.dir)
	if err != nil {
		return nil, errors.WithMessagef(err, "imageset: resolving %q", c.dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "imageset: invalid directory %q", dir)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("imageset: %q is not a directory", dir)
	}
	var paths []string
	err = filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jpg", ".png":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "imageset: scanning %q", dir)
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("imageset: no .jpg or .png images found under %q", dir)
	}
	return &Dataset{
		name:      fmt.Sprintf("images(%s)", dir),
		paths:     paths,
		size:      c.size,
		batchSize: c.batchSize,
		toTensor:  images.ToTensor(dtypes.Float32),
	}, nil
}

// Dataset yields batches of images from a directory as float32 tensors shaped
// [batch, size, size, 3] with values in [0, 1]. Build it with New(...).Done().
//
// It implements train.Dataset: Yield returns the image batch as the only
// input and no labels, the final partial batch is yielded rather than
// dropped, and exhaustion is reported as io.EOF until Reset.
type Dataset struct {
	name      string
	paths     []string
	size      int
	batchSize int
	toTensor  *images.ToTensorConfig

	mu   sync.Mutex
	next int
}

var _ train.Dataset = (*Dataset)(nil)

// Name implements train.Dataset.
func (ds *Dataset) Name() string { return ds.name }

// Len returns the number of images found in the directory.
func (ds *Dataset) Len() int { return len(ds.paths) }

// Yield implements train.Dataset. It returns the next image batch as the
// single element of inputs; spec is the Dataset itself and labels is nil.
func (ds *Dataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.next >= len(ds.paths) {
		return nil, nil, nil, io.EOF
	}
	end := min(ds.next+ds.batchSize, len(ds.paths))
	batch := make([]image.Image, 0, end-ds.next)
	for _, path := range ds.paths[ds.next:end] {
		img, err := ds.loadImage(path)
		if err != nil {
			return nil, nil, nil, err
		}
		batch = append(batch, img)
	}
	ds.next = end
	return ds, []*tensors.Tensor{ds.toTensor.Batch(batch)}, nil, nil
}

// Reset implements train.Dataset, restarting the scan from the first image.
func (ds *Dataset) Reset() {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.next = 0
}

// loadImage decodes one image, resizes its shorter side to the configured
// size (bilinear) and center-crops it to a square.
func (ds *Dataset) loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "imageset: opening %q", path)
	}
	img, _, err := image.Decode(f)
	_ = f.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "imageset: decoding %q", path)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= bounds.Dy() {
		img = imaging.Resize(img, ds.size, 0, imaging.Linear)
	} else {
		img = imaging.Resize(img, 0, ds.size, imaging.Linear)
	}
	return imaging.CropCenter(img, ds.size, ds.size), nil
}
