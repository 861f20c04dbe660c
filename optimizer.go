package main

import "fmt"

// SGDOptimizer implements stochastic gradient descent with momentum and L2
// weight decay:
//
//   g = grad + weightDecay * param
//   v = momentum * v + g
//   param -= lr * v
//
// The velocity buffers are part of the run state and go into checkpoints.
type SGDOptimizer struct {
	momentum    float64
	weightDecay float64
	velocity    []*Tensor
}

// NewSGDOptimizer creates an SGD optimizer with one zeroed velocity buffer
// per parameter.
func NewSGDOptimizer(params []*Tensor, momentum, weightDecay float64) *SGDOptimizer {
	velocity := make([]*Tensor, len(params))
	for i, p := range params {
		velocity[i] = NewTensor(p.shape...)
	}
	return &SGDOptimizer{
		momentum:    momentum,
		weightDecay: weightDecay,
		velocity:    velocity,
	}
}

// Step updates parameters in place.
func (opt *SGDOptimizer) Step(params []*Tensor, lr float64) {
	if len(params) != len(opt.velocity) {
		panic(fmt.Sprintf("optimizer: %d params, %d velocity buffers", len(params), len(opt.velocity)))
	}
	for i, p := range params {
		v := opt.velocity[i].data
		for j := range p.data {
			grad := p.grad[j] + opt.weightDecay*p.data[j]
			v[j] = opt.momentum*v[j] + grad
			p.data[j] -= lr * v[j]
		}
	}
}

// ZeroGrad clears gradients.
func (opt *SGDOptimizer) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// Velocity exposes the momentum buffers, index-aligned with the parameters.
func (opt *SGDOptimizer) Velocity() []*Tensor { return opt.velocity }
