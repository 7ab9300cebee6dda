// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package inceptionscore computes the Inception Score of a batch of
// class-probability vectors: the exponentiated mean KL divergence between
// each example's distribution and the batch's marginal distribution.
package inceptionscore

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Score computes the Inception Score of probs, a [examples, classes] matrix
// of probability vectors (rows summing to 1).
//
// The batch is divided into splits contiguous chunks. For each chunk the
// per-example KL divergence against the chunk's mean distribution is averaged
// and exponentiated; the returned score and standard deviation are taken over
// the chunk scores. With splits == 1 — the value used by the infinite-sample
// extrapolation, which needs a single score per sample size — the standard
// deviation is zero.
func Score(probs mat.Matrix, splits int) (score, std float64, err error) {
	n, k := probs.Dims()
	if splits < 1 {
		return 0, 0, errors.Errorf("inception score: splits must be >= 1, got %d", splits)
	}
	if n < splits {
		return 0, 0, errors.Errorf("inception score: %d examples cannot fill %d splits", n, splits)
	}

	logMean := make([]float64, k)
	scores := make([]float64, 0, splits)
	for j := 0; j < splits; j++ {
		start, end := j*n/splits, (j+1)*n/splits
		chunk := float64(end - start)
		for c := 0; c < k; c++ {
			var sum float64
			for i := start; i < end; i++ {
				sum += probs.At(i, c)
			}
			logMean[c] = math.Log(sum / chunk)
		}
		var klSum float64
		for i := start; i < end; i++ {
			for c := 0; c < k; c++ {
				p := probs.At(i, c)
				klSum += p * (math.Log(p) - logMean[c])
			}
		}
		scores = append(scores, math.Exp(klSum/chunk))
	}
	return stat.Mean(scores, nil), stat.PopStdDev(scores, nil), nil
}
