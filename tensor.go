package main

import (
	"fmt"
	"math"
)

// Tensor represents a multi-dimensional array of float64 values.
// It stores data in row-major (C-contiguous) order.
//
// Training code here only uses rank-2 tensors: one row per example and one
// column per feature, class or embedding coordinate.
//
// Tensor is not safe for concurrent use. Synchronization must be
// handled by the caller if needed.
type Tensor struct {
	data  []float64 // Flat array storing all elements
	shape []int     // Dimensions [batch, features]
	grad  []float64 // Gradient for backpropagation
}

// NewTensor creates a tensor with the given shape, initialized to zero.
// Panics if shape is empty or has a negative dimension. Zero-sized
// dimensions are allowed so that an empty batch is representable.
//
// Shape errors are programmer bugs, not runtime conditions that should be
// handled gracefully.
func NewTensor(shape ...int) *Tensor {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}

	size := 1
	for i, dim := range shape {
		if dim < 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must not be negative, got %d", i, dim))
		}
		size *= dim
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		data:  make([]float64, size),
		shape: shapeCopy,
		grad:  make([]float64, size),
	}
}

// NewTensorFrom wraps data as a rows×cols tensor. data is not copied.
func NewTensorFrom(data []float64, rows, cols int) *Tensor {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("tensor: %d values cannot fill %dx%d", len(data), rows, cols))
	}
	return &Tensor{
		data:  data,
		shape: []int{rows, cols},
		grad:  make([]float64, len(data)),
	}
}

// NewTensorRand creates a tensor with values from a normal distribution
// with standard deviation std, drawn from rng.
func NewTensorRand(rng *RNG, std float64, shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.data {
		t.data[i] = rng.NormFloat64() * std
	}
	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	shape := make([]int, len(t.shape))
	copy(shape, t.shape)
	return shape
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return len(t.data)
}

// Rows is the leading dimension.
func (t *Tensor) Rows() int { return t.shape[0] }

// Cols is the trailing dimension of a rank-2 tensor.
func (t *Tensor) Cols() int { return t.shape[len(t.shape)-1] }

// Data exposes the flat backing array.
func (t *Tensor) Data() []float64 { return t.data }

// Grad exposes the flat gradient array.
func (t *Tensor) Grad() []float64 { return t.grad }

// Row returns row i of a rank-2 tensor as a slice sharing storage.
func (t *Tensor) Row(i int) []float64 {
	cols := t.Cols()
	return t.data[i*cols : (i+1)*cols]
}

// At returns the element at the given indices.
// Panics if indices are invalid - this is a programmer error.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
// Panics if indices are invalid.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

// flatIndex converts multi-dimensional indices to a flat index.
func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}
	return idx
}

// ZeroGrad clears the gradient tensor. Call before backward pass.
func (t *Tensor) ZeroGrad() {
	for i := range t.grad {
		t.grad[i] = 0
	}
}

// String returns a string representation of the tensor for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// ===========================================================================
// OPERATIONS
// ===========================================================================

// MatMul performs matrix multiplication: C = A @ B.
// A must be (M, K), B must be (K, N), result is (M, N).
// Uses the global compute configuration to decide on parallel execution.
func MatMul(a, b *Tensor) *Tensor {
	return MatMulWithConfig(a, b, globalComputeConfig)
}

// Transpose returns the transpose of a 2D matrix: A^T.
func Transpose(a *Tensor) *Tensor {
	if len(a.shape) != 2 {
		panic("tensor: Transpose requires 2D tensor")
	}

	m, n := a.shape[0], a.shape[1]
	out := NewTensor(n, m)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			out.data[j*m+i] = a.data[i*n+j]
		}
	}
	return out
}

// AddRowVector adds bias (1, N) to every row of x (M, N) in place.
func AddRowVector(x, bias *Tensor) {
	n := x.Cols()
	if bias.Size() != n {
		panic(fmt.Sprintf("tensor: bias size %d does not match %d columns", bias.Size(), n))
	}
	for i := 0; i < x.Rows(); i++ {
		row := x.Row(i)
		for j := range row {
			row[j] += bias.data[j]
		}
	}
}

// MixRows returns out_i = lam_i·a_i + (1-lam_i)·b_i for every row i.
func MixRows(a, b *Tensor, lam []float64) *Tensor {
	if !shapeEqual(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: cannot mix shapes %v and %v", a.shape, b.shape))
	}
	if len(lam) != a.Rows() {
		panic(fmt.Sprintf("tensor: %d coefficients for %d rows", len(lam), a.Rows()))
	}
	out := NewTensor(a.shape...)
	for i, l := range lam {
		ra, rb, ro := a.Row(i), b.Row(i), out.Row(i)
		for j := range ro {
			ro[j] = l*ra[j] + (1-l)*rb[j]
		}
	}
	return out
}

// GatherRows returns the rows of t in the order given by idx.
func GatherRows(t *Tensor, idx []int) *Tensor {
	out := NewTensor(len(idx), t.Cols())
	for i, j := range idx {
		copy(out.Row(i), t.Row(j))
	}
	return out
}

// ===========================================================================
// ACTIVATION FUNCTIONS
// ===========================================================================

// ReLU applies Rectified Linear Unit: f(x) = max(0, x).
func ReLU(x *Tensor) *Tensor {
	out := NewTensor(x.shape...)
	for i := range x.data {
		out.data[i] = math.Max(0, x.data[i])
	}
	return out
}

// Softmax applies p_i = exp(x_i) / Σ exp(x_j) to each row.
// Subtracts the row max before exp to prevent overflow.
func Softmax(x *Tensor) *Tensor {
	out := LogSoftmax(x)
	for i := range out.data {
		out.data[i] = math.Exp(out.data[i])
	}
	return out
}

// LogSoftmax applies log p_i = x_i - log Σ exp(x_j) to each row.
func LogSoftmax(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("tensor: LogSoftmax requires 2D tensor")
	}
	out := NewTensor(x.shape...)
	for b := 0; b < x.Rows(); b++ {
		row, dst := x.Row(b), out.Row(b)
		maxVal := math.Inf(-1)
		for _, v := range row {
			if v > maxVal {
				maxVal = v
			}
		}
		sum := 0.0
		for _, v := range row {
			sum += math.Exp(v - maxVal)
		}
		logSumExp := maxVal + math.Log(sum)
		for f, v := range row {
			dst[f] = v - logSumExp
		}
	}
	return out
}

// argmax returns the index of the first maximum.
func argmax(data []float64) int {
	best := 0
	for i := 1; i < len(data); i++ {
		if data[i] > data[best] {
			best = i
		}
	}
	return best
}

// ArgmaxRows returns the first-maximum column of every row.
func ArgmaxRows(x *Tensor) []int {
	out := make([]int, x.Rows())
	for i := range out {
		out[i] = argmax(x.Row(i))
	}
	return out
}

// ===========================================================================
// HELPERS
// ===========================================================================

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
