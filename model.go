package main

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Model is a classifier over flattened inputs. Forward caches what Backward
// needs, so calls must alternate Forward, Backward on the same batch.
type Model interface {
	// Forward maps (batch, inputDim) to (batch, outputDim).
	Forward(x *Tensor) *Tensor
	// Backward accumulates parameter gradients for gradOut = ∂loss/∂output
	// of the last Forward.
	Backward(gradOut *Tensor)
	// Parameters lists trainable tensors in a fixed order.
	Parameters() []*Tensor
	// ParameterNames names Parameters, index for index.
	ParameterNames() []string
}

// ModelSpec sizes a model.
type ModelSpec struct {
	InputDim  int
	HiddenDim int
	OutputDim int
}

type modelBuilder func(spec ModelSpec, rng *RNG) Model

var modelBuilders = map[string]modelBuilder{
	"linear": func(spec ModelSpec, rng *RNG) Model { return NewLinearClassifier(spec, rng) },
	"mlp":    func(spec ModelSpec, rng *RNG) Model { return NewMLPClassifier(spec, rng) },
}

// ModelNames lists the registered model types.
func ModelNames() []string {
	names := make([]string, 0, len(modelBuilders))
	for name := range modelBuilders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewModel builds the named model with weights drawn from a generator
// derived from seed.
func NewModel(name string, spec ModelSpec, seed int64) (Model, error) {
	build, ok := modelBuilders[name]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown model %q (have %v)", name, ModelNames())
	}
	return build(spec, NewRNG(seed, streamInit)), nil
}

// dense is a fully connected layer y = x @ W + b.
type dense struct {
	w, b  *Tensor
	input *Tensor
}

func newDense(in, out int, std float64, rng *RNG) *dense {
	return &dense{
		w: NewTensorRand(rng, std, in, out),
		b: NewTensor(1, out),
	}
}

func (d *dense) forward(x *Tensor) *Tensor {
	d.input = x
	out := MatMul(x, d.w)
	AddRowVector(out, d.b)
	return out
}

// backward accumulates ∂W = xᵀ·g and ∂b = Σ_rows g, returning ∂x = g·Wᵀ.
func (d *dense) backward(gradOut *Tensor) *Tensor {
	gw := MatMul(Transpose(d.input), gradOut)
	for i, g := range gw.data {
		d.w.grad[i] += g
	}
	for r := 0; r < gradOut.Rows(); r++ {
		for j, g := range gradOut.Row(r) {
			d.b.grad[j] += g
		}
	}
	return MatMul(gradOut, Transpose(d.w))
}

// LinearClassifier is multinomial logistic regression: logits = x @ W + b.
type LinearClassifier struct {
	out *dense
}

// NewLinearClassifier creates a linear model.
func NewLinearClassifier(spec ModelSpec, rng *RNG) *LinearClassifier {
	return &LinearClassifier{
		out: newDense(spec.InputDim, spec.OutputDim, math.Sqrt(1/float64(spec.InputDim)), rng),
	}
}

func (m *LinearClassifier) Forward(x *Tensor) *Tensor { return m.out.forward(x) }

func (m *LinearClassifier) Backward(gradOut *Tensor) { m.out.backward(gradOut) }

func (m *LinearClassifier) Parameters() []*Tensor { return []*Tensor{m.out.w, m.out.b} }

func (m *LinearClassifier) ParameterNames() []string { return []string{"out.w", "out.b"} }

// MLPClassifier has one ReLU hidden layer:
//   logits = ReLU(x @ W1 + b1) @ W2 + b2
type MLPClassifier struct {
	hidden, out   *dense
	preActivation *Tensor
}

// NewMLPClassifier creates a one-hidden-layer perceptron with He-initialized
// hidden weights.
func NewMLPClassifier(spec ModelSpec, rng *RNG) *MLPClassifier {
	return &MLPClassifier{
		hidden: newDense(spec.InputDim, spec.HiddenDim, math.Sqrt(2/float64(spec.InputDim)), rng),
		out:    newDense(spec.HiddenDim, spec.OutputDim, math.Sqrt(1/float64(spec.HiddenDim)), rng),
	}
}

func (m *MLPClassifier) Forward(x *Tensor) *Tensor {
	m.preActivation = m.hidden.forward(x)
	return m.out.forward(ReLU(m.preActivation))
}

func (m *MLPClassifier) Backward(gradOut *Tensor) {
	grad := m.out.backward(gradOut)
	for i, z := range m.preActivation.data {
		if z <= 0 {
			grad.data[i] = 0
		}
	}
	m.hidden.backward(grad)
}

func (m *MLPClassifier) Parameters() []*Tensor {
	return []*Tensor{m.hidden.w, m.hidden.b, m.out.w, m.out.b}
}

func (m *MLPClassifier) ParameterNames() []string {
	return []string{"hidden.w", "hidden.b", "out.w", "out.b"}
}
