package main

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabelEmbeddingOrthonormal(t *testing.T) {
	e, err := NewLabelEmbedding(10, 32, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, e.NumClasses())
	assert.Equal(t, 32, e.Dim())

	for i := 0; i < 10; i++ {
		vi := e.Embed(i)
		require.Len(t, vi, 32)
		for j := 0; j < 10; j++ {
			vj := e.Embed(j)
			dot := 0.0
			for k := range vi {
				dot += vi[k] * vj[k]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, dot, 1e-10, "<e%d, e%d>", i, j)
		}
	}
}

func TestLabelEmbeddingSquare(t *testing.T) {
	e, err := NewLabelEmbedding(5, 5, 3)
	require.NoError(t, err)
	for c := 0; c < 5; c++ {
		assert.InDelta(t, 1, floatsNorm(e.Embed(c)), 1e-10)
	}
}

func TestLabelEmbeddingTooNarrow(t *testing.T) {
	_, err := NewLabelEmbedding(10, 9, 0)
	assert.True(t, errors.Is(err, ErrLabelDim), "got %v", err)
}

func TestLabelEmbeddingSeeded(t *testing.T) {
	a, err := NewLabelEmbedding(4, 8, 1)
	require.NoError(t, err)
	b, err := NewLabelEmbedding(4, 8, 1)
	require.NoError(t, err)
	assert.Equal(t, a.Embed(2), b.Embed(2))
}

func TestClassifyRecoversClass(t *testing.T) {
	e, err := NewLabelEmbedding(10, 20, 0)
	require.NoError(t, err)

	for c := 0; c < 10; c++ {
		assert.Equal(t, c, e.Classify(e.Embed(c)))

		scaled := e.Embed(c)
		for i := range scaled {
			scaled[i] *= 7.5
		}
		assert.Equal(t, c, e.Classify(scaled))
	}

	assert.Equal(t, []int{3, 1, 4}, e.ClassifyBatch(e.EmbedBatch([]int{3, 1, 4})))
}

func TestClassifyZeroVector(t *testing.T) {
	e, err := NewLabelEmbedding(3, 3, 0)
	require.NoError(t, err)
	// Every score is zero, so the first class wins.
	assert.Equal(t, 0, e.Classify(make([]float64, 3)))
}

func TestEmbeddingMix(t *testing.T) {
	e, err := NewLabelEmbedding(3, 6, 0)
	require.NoError(t, err)

	mixed := e.Mix([]int{0, 1}, []int{2, 1}, []float64{0.25, 0.6})
	e0, e1, e2 := e.Embed(0), e.Embed(1), e.Embed(2)
	for k := 0; k < 6; k++ {
		assert.InDelta(t, 0.25*e0[k]+0.75*e2[k], mixed.At(0, k), 1e-12)
		assert.InDelta(t, e1[k], mixed.At(1, k), 1e-12)
	}
	assert.Panics(t, func() { e.Embed(3) })
}
