package main

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LabelEmbedding maps each class to a fixed unit vector of length labelDim.
// Rows are pairwise orthonormal. The embedding is built once per run and is
// never trained.
type LabelEmbedding struct {
	numClasses int
	labelDim   int
	vectors    *mat.Dense // numClasses × labelDim
}

// NewLabelEmbedding orthonormalizes a uniform random labelDim × numClasses
// matrix and keeps its Q factor's first numClasses columns as class vectors.
// The matrix is drawn from a generator derived from seed alone, so the same
// seed gives the same embedding whether or not the run was resumed.
func NewLabelEmbedding(numClasses, labelDim int, seed int64) (*LabelEmbedding, error) {
	if numClasses <= 0 {
		return nil, errors.Errorf("embedding: need at least one class, got %d", numClasses)
	}
	if labelDim < numClasses {
		return nil, errors.Wrapf(ErrLabelDim, "embedding: label_dim %d < %d classes", labelDim, numClasses)
	}

	rng := NewRNG(seed, streamEmbedding)
	raw := mat.NewDense(labelDim, numClasses, nil)
	for i := 0; i < labelDim; i++ {
		for j := 0; j < numClasses; j++ {
			raw.Set(i, j, rng.Float64())
		}
	}

	var qr mat.QR
	qr.Factorize(raw)
	var q mat.Dense
	qr.QTo(&q)

	basis := q.Slice(0, labelDim, 0, numClasses)
	vectors := mat.DenseCopyOf(basis.T())
	return &LabelEmbedding{numClasses: numClasses, labelDim: labelDim, vectors: vectors}, nil
}

// NumClasses is the number of embedded classes.
func (e *LabelEmbedding) NumClasses() int { return e.numClasses }

// Dim is the embedding length.
func (e *LabelEmbedding) Dim() int { return e.labelDim }

// Embed returns a copy of the vector for class.
func (e *LabelEmbedding) Embed(class int) []float64 {
	e.check(class)
	return mat.Row(nil, class, e.vectors)
}

func (e *LabelEmbedding) check(class int) {
	if class < 0 || class >= e.numClasses {
		panic(fmt.Sprintf("embedding: class %d out of range [0,%d)", class, e.numClasses))
	}
}

// EmbedBatch returns one embedding row per target.
func (e *LabelEmbedding) EmbedBatch(targets []int) *Tensor {
	out := NewTensor(len(targets), e.labelDim)
	for i, c := range targets {
		e.check(c)
		mat.Row(out.Row(i), c, e.vectors)
	}
	return out
}

// Mix returns γ_i·embed(a_i) + (1-γ_i)·embed(b_i) per row.
func (e *LabelEmbedding) Mix(a, b []int, gamma []float64) *Tensor {
	return MixRows(e.EmbedBatch(a), e.EmbedBatch(b), gamma)
}

// Classify returns the class whose embedding has the largest cosine
// similarity with v: v is normalized, scored by negative dot product against
// every class vector, and the first minimum wins.
func (e *LabelEmbedding) Classify(v []float64) int {
	if len(v) != e.labelDim {
		panic(fmt.Sprintf("embedding: vector length %d, want %d", len(v), e.labelDim))
	}
	norm := math.Max(floatsNorm(v), cosineEps)
	unit := mat.NewVecDense(len(v), nil)
	for i, x := range v {
		unit.SetVec(i, x/norm)
	}

	best, bestScore := 0, math.Inf(1)
	for c := 0; c < e.numClasses; c++ {
		score := -mat.Dot(unit, e.vectors.RowView(c))
		if score < bestScore {
			best, bestScore = c, score
		}
	}
	return best
}

// ClassifyBatch classifies every row of outputs.
func (e *LabelEmbedding) ClassifyBatch(outputs *Tensor) []int {
	out := make([]int, outputs.Rows())
	for i := range out {
		out[i] = e.Classify(outputs.Row(i))
	}
	return out
}

func floatsNorm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
