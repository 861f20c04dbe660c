package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Loss functions reduce a batch of model outputs and targets to a scalar and
// return the gradient of that scalar with respect to the outputs, which is
// what the model's backward pass consumes.
//
// Soft-label cross-entropy (targets t are distributions over classes):
//
//   L = -1/B Σ_b Σ_c t_bc · log p_bc,        p = softmax(z)
//   ∂L/∂z_bc = (p_bc · Σ_c' t_bc' - t_bc) / B
//
// With the underconfidence penalty the batch-mean predictive entropy
// H_b = -Σ_c p_bc log p_bc is added twice:
//
//   L += 2/B Σ_b H_b,     ∂H_b/∂z_bc = -p_bc (log p_bc + H_b)
//
// Hard cross-entropy is the same loss with one-hot targets, computed
// directly from target indices.
//
// Negative cosine (targets are label-embedding vectors):
//
//   L = -1/B Σ_b cos(z_b, t_b),   cos = z·t / (max(|z|,ε) max(|t|,ε))
//   ∂cos/∂z = t / (|z||t|) - cos · z / |z|²
//
// ===========================================================================

import (
	"fmt"
	"math"
)

// cosineEps bounds vector norms away from zero.
const cosineEps = 1e-8

// SoftCrossEntropy is the cross-entropy of logits against soft targets of
// the same shape, optionally plus twice the mean predictive entropy.
func SoftCrossEntropy(logits, soft *Tensor, underconfidence bool) (float64, *Tensor) {
	if !shapeEqual(logits.shape, soft.shape) {
		panic(fmt.Sprintf("loss: logits %v and targets %v differ in shape", logits.shape, soft.shape))
	}

	batch := logits.Rows()
	logp := LogSoftmax(logits)
	grad := NewTensor(logits.shape...)
	if batch == 0 {
		return math.NaN(), grad
	}
	scale := 1 / float64(batch)

	total := 0.0
	for b := 0; b < batch; b++ {
		lp, t, g := logp.Row(b), soft.Row(b), grad.Row(b)

		mass := 0.0
		for c := range lp {
			total -= t[c] * lp[c]
			mass += t[c]
		}

		entropy := 0.0
		if underconfidence {
			for _, l := range lp {
				entropy -= math.Exp(l) * l
			}
			total += 2 * entropy
		}

		for c, l := range lp {
			p := math.Exp(l)
			g[c] = (p*mass - t[c]) * scale
			if underconfidence {
				g[c] += 2 * -p * (l + entropy) * scale
			}
		}
	}
	return total * scale, grad
}

// CrossEntropy is the cross-entropy of logits against class indices.
//
// Given:
//   - logits: (batch, classes) - unnormalized scores
//   - targets: (batch) - target class IDs
//
// Computes loss = -log(softmax(logits)[target]) averaged over the batch.
func CrossEntropy(logits *Tensor, targets []int) (float64, *Tensor) {
	batch := logits.Rows()
	if len(targets) != batch {
		panic(fmt.Sprintf("loss: target length %d != batch size %d", len(targets), batch))
	}

	logp := LogSoftmax(logits)
	grad := NewTensor(logits.shape...)
	if batch == 0 {
		return math.NaN(), grad
	}
	scale := 1 / float64(batch)

	total := 0.0
	for b, target := range targets {
		lp, g := logp.Row(b), grad.Row(b)
		total -= lp[target]
		for c, l := range lp {
			g[c] = math.Exp(l) * scale
		}
		g[target] -= scale
	}
	return total * scale, grad
}

// NegativeCosine is minus the batch-mean cosine similarity between outputs
// and targets of the same shape.
func NegativeCosine(outputs, targets *Tensor) (float64, *Tensor) {
	if !shapeEqual(outputs.shape, targets.shape) {
		panic(fmt.Sprintf("loss: outputs %v and targets %v differ in shape", outputs.shape, targets.shape))
	}

	batch := outputs.Rows()
	grad := NewTensor(outputs.shape...)
	if batch == 0 {
		return math.NaN(), grad
	}
	scale := 1 / float64(batch)

	total := 0.0
	for b := 0; b < batch; b++ {
		z, t, g := outputs.Row(b), targets.Row(b), grad.Row(b)
		zn := math.Max(floatsNorm(z), cosineEps)
		tn := math.Max(floatsNorm(t), cosineEps)

		dot := 0.0
		for i := range z {
			dot += z[i] * t[i]
		}
		cos := dot / (zn * tn)
		total -= cos

		for i := range z {
			g[i] = -(t[i]/(zn*tn) - cos*z[i]/(zn*zn)) * scale
		}
	}
	return total * scale, grad
}

// OneHot returns a (len(targets), numClasses) one-hot matrix.
func OneHot(targets []int, numClasses int) *Tensor {
	out := NewTensor(len(targets), numClasses)
	for i, c := range targets {
		out.Set(1, i, c)
	}
	return out
}

// MixOneHot returns γ_i·onehot(a_i) + (1-γ_i)·onehot(b_i) per row.
func MixOneHot(a, b []int, gamma []float64, numClasses int) *Tensor {
	return MixRows(OneHot(a, numClasses), OneHot(b, numClasses), gamma)
}
