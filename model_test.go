package main

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// numericGrad perturbs one parameter value and measures the change in loss.
func numericGrad(model Model, p *Tensor, i int, x *Tensor, loss func(out *Tensor) float64) float64 {
	const h = 1e-6
	orig := p.data[i]
	p.data[i] = orig + h
	up := loss(model.Forward(x))
	p.data[i] = orig - h
	down := loss(model.Forward(x))
	p.data[i] = orig
	return (up - down) / (2 * h)
}

func TestModelGradients(t *testing.T) {
	spec := ModelSpec{InputDim: 5, HiddenDim: 4, OutputDim: 3}
	targets := []int{0, 2, 1}

	for _, name := range ModelNames() {
		t.Run(name, func(t *testing.T) {
			model, err := NewModel(name, spec, 1)
			require.NoError(t, err)

			x := NewTensorRand(NewRNG(2, streamRun), 1, 3, spec.InputDim)
			lossOf := func(out *Tensor) float64 {
				l, _ := CrossEntropy(out, targets)
				return l
			}

			for _, p := range model.Parameters() {
				p.ZeroGrad()
			}
			out := model.Forward(x)
			assert.Equal(t, []int{3, spec.OutputDim}, out.Shape())
			_, grad := CrossEntropy(out, targets)
			model.Backward(grad)

			names := model.ParameterNames()
			for pi, p := range model.Parameters() {
				for i := range p.data {
					want := numericGrad(model, p, i, x, lossOf)
					assert.InDelta(t, want, p.grad[i], 1e-5, "%s[%d]", names[pi], i)
				}
			}
		})
	}
}

func TestNewModelSeeded(t *testing.T) {
	spec := ModelSpec{InputDim: 6, HiddenDim: 5, OutputDim: 2}
	a, err := NewModel("mlp", spec, 3)
	require.NoError(t, err)
	b, err := NewModel("mlp", spec, 3)
	require.NoError(t, err)
	c, err := NewModel("mlp", spec, 4)
	require.NoError(t, err)

	assert.Equal(t, a.Parameters()[0].Data(), b.Parameters()[0].Data())
	assert.NotEqual(t, a.Parameters()[0].Data(), c.Parameters()[0].Data())
	assert.Len(t, a.ParameterNames(), len(a.Parameters()))

	_, err = NewModel("resnet", spec, 0)
	assert.Error(t, err)
}

func TestNewModelUnknown(t *testing.T) {
	_, err := NewModel("resnet", ModelSpec{InputDim: 4, OutputDim: 2}, 0)
	assert.True(t, errors.Is(err, ErrInvalidConfig), "%v", err)
	assert.Contains(t, err.Error(), `unknown model "resnet"`)
}
