// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package inception

import (
	"flag"
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	_ "github.com/gomlx/gomlx/backends/simplego"
)

var flagDataDir = flag.String("data", "/tmp/gomlx_inceptionv3", "Directory where to save and load the InceptionV3 weights.")

func TestConfigValidation(t *testing.T) {
	_, err := New(nil).Done()
	require.Error(t, err)

	backend := graphtest.BuildTestBackend()
	_, err = New(backend).ImageSize(64).Done()
	require.Error(t, err, "below the minimum InceptionV3 input size")
	_, err = New(backend).ImageSize(300).Done()
	require.Error(t, err, "above the native InceptionV3 input size")
}

func TestExtract(t *testing.T) {
	if testing.Short() {
		fmt.Println("- github.com/gomlx/scoreinfinity/inception: TestExtract disabled for go test --short because it requires downloading a large file with weights.")
		return
	}
	backend := graphtest.BuildTestBackend()
	ext, err := New(backend).DataDir(*flagDataDir).ImageSize(75).Done()
	require.NoError(t, err)
	defer ext.Finalize()

	// A batch of 2 noise images, at a resolution the graph must resize.
	rng := rand.New(rand.NewSource(1))
	flat := make([]float32, 2*32*32*3)
	for i := range flat {
		flat[i] = rng.Float32()
	}
	batch := tensors.FromFlatDataAndDimensions(flat, 2, 32, 32, 3)

	features, logits, err := ext.Extract(batch)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2048}, features.Shape().Dimensions)
	assert.Equal(t, []int{2, 1000}, logits.Shape().Dimensions)
	for _, v := range tensors.MustCopyFlatData[float32](features) {
		require.False(t, math.IsNaN(float64(v)), "pooled features must be finite")
	}
}
