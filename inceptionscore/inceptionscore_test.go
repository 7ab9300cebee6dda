package inceptionscore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func repeatedRows(row []float64, n int) *mat.Dense {
	m := mat.NewDense(n, len(row), nil)
	for i := 0; i < n; i++ {
		m.SetRow(i, row)
	}
	return m
}

func TestScoreOfIdenticalRowsIsOne(t *testing.T) {
	// Exactly representable probabilities keep the chunk mean bit-identical
	// to every row, so the KL term is exactly zero.
	probs := repeatedRows([]float64{0.5, 0.25, 0.125, 0.125}, 8)
	score, std, err := Score(probs, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
	assert.Equal(t, 0.0, std)
}

func TestScoreGrowsWithDisagreement(t *testing.T) {
	agree := repeatedRows([]float64{0.5, 0.5}, 4)
	disagree := mat.NewDense(4, 2, []float64{
		0.75, 0.25,
		0.25, 0.75,
		0.75, 0.25,
		0.25, 0.75,
	})
	sAgree, _, err := Score(agree, 1)
	require.NoError(t, err)
	sDisagree, _, err := Score(disagree, 1)
	require.NoError(t, err)
	assert.Greater(t, sDisagree, sAgree)

	// Hand-computed: both rows are at KL 0.75·ln(1.5) + 0.25·ln(0.5) from the
	// uniform chunk mean.
	kl := 0.75*math.Log(1.5) + 0.25*math.Log(0.5)
	assert.InDelta(t, math.Exp(kl), sDisagree, 1e-12)
}

func TestScoreOverSplits(t *testing.T) {
	probs := mat.NewDense(4, 2, []float64{
		0.5, 0.5,
		0.5, 0.5,
		0.75, 0.25,
		0.25, 0.75,
	})
	kl := 0.75*math.Log(1.5) + 0.25*math.Log(0.5)
	wantSecond := math.Exp(kl)

	score, std, err := Score(probs, 2)
	require.NoError(t, err)
	assert.InDelta(t, (1.0+wantSecond)/2, score, 1e-12)
	assert.InDelta(t, (wantSecond-1.0)/2, std, 1e-12)
}

func TestScoreArgumentErrors(t *testing.T) {
	probs := repeatedRows([]float64{0.5, 0.5}, 2)
	_, _, err := Score(probs, 0)
	require.Error(t, err)
	_, _, err = Score(probs, 3)
	require.Error(t, err)
}
