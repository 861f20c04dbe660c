package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Mixing coefficients are drawn from Beta distributions. This file holds the
// Beta family (density, CDF, quantile) and the sampler that turns the run's
// generator into per-example coefficients.
//
// Two ways of drawing n coefficients:
//
//   i.i.d.:      λ_i = PPF(u_i),              u_i ~ U(0,1)
//   stratified:  λ_i = PPF(i/n + u_i/n),      u_i ~ U(0,1)
//
// Both use inverse-transform sampling so that a draw consumes exactly one
// uniform from the generator. Stratified sampling puts one draw in each of n
// equal-probability buckets, which lowers the batch-to-batch variance of the
// coefficients while keeping the same marginal distribution. Because PPF is
// monotone, stratified draws come out sorted by bucket.
//
// Boundary behaviour follows the math: the density at 0 or 1 may be +Inf,
// a finite limit, or 0 depending on the shape parameters, and callers are
// expected to carry Inf/NaN through rather than fail.
//
// ===========================================================================

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

// BetaParams are the shape parameters (a, b) of a Beta distribution.
type BetaParams struct {
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
}

// Validate reports whether both shape parameters are finite and positive.
func (p BetaParams) Validate() error {
	if !(p.A > 0) || !(p.B > 0) || math.IsInf(p.A, 0) || math.IsInf(p.B, 0) {
		return errors.Wrapf(ErrInvalidConfig, "beta parameters must be positive and finite, got (%g, %g)", p.A, p.B)
	}
	return nil
}

// PDF evaluates the density at x.
func (p BetaParams) PDF(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return math.NaN()
	case x < 0 || x > 1:
		return 0
	case x == 0:
		return boundaryDensity(p.A, p.B)
	case x == 1:
		return boundaryDensity(p.B, p.A)
	}
	return distuv.Beta{Alpha: p.A, Beta: p.B}.Prob(x)
}

// boundaryDensity is the density at the end of [0,1] governed by the shape
// parameter near, with far the other one.
func boundaryDensity(near, far float64) float64 {
	switch {
	case near < 1:
		return math.Inf(1)
	case near > 1:
		return 0
	}
	// Beta(1, far) has density far·(1-x)^(far-1), which is far at x = 0.
	return far
}

// CDF evaluates the cumulative distribution function at x.
func (p BetaParams) CDF(x float64) float64 {
	switch {
	case math.IsNaN(x):
		return math.NaN()
	case x <= 0:
		return 0
	case x >= 1:
		return 1
	}
	return mathext.RegIncBeta(p.A, p.B, x)
}

// PPF evaluates the quantile function (inverse CDF) at q.
func (p BetaParams) PPF(q float64) float64 {
	switch {
	case math.IsNaN(q):
		return math.NaN()
	case q <= 0:
		return 0
	case q >= 1:
		return 1
	}
	return mathext.InvRegIncBeta(p.A, p.B, q)
}

// BetaPDF evaluates the density at every x.
func BetaPDF(xs []float64, p BetaParams) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = p.PDF(x)
	}
	return out
}

// BetaCDF evaluates the CDF at every x.
func BetaCDF(xs []float64, p BetaParams) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = p.CDF(x)
	}
	return out
}

// BetaPPF evaluates the quantile function at every q.
func BetaPPF(qs []float64, p BetaParams) []float64 {
	out := make([]float64, len(qs))
	for i, q := range qs {
		out[i] = p.PPF(q)
	}
	return out
}

// BetaSampler draws Beta-distributed coefficients from the run generator.
type BetaSampler struct {
	rng        *RNG
	stratified bool
}

// NewBetaSampler returns a sampler; stratified selects what Draw does.
func NewBetaSampler(rng *RNG, stratified bool) *BetaSampler {
	return &BetaSampler{rng: rng, stratified: stratified}
}

// Sample draws n i.i.d. values from Beta(p.A, p.B).
func (s *BetaSampler) Sample(n int, p BetaParams) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = openUnit(p.PPF(s.rng.openFloat64()))
	}
	return out
}

// StratifiedSample draws one value from each of n equal-probability buckets
// of Beta(p.A, p.B), in bucket order.
func (s *BetaSampler) StratifiedSample(n int, p BetaParams) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = openUnit(p.PPF(stratumQuantile(i, n, s.rng.openFloat64())))
	}
	return out
}

// stratumQuantile maps u in (0,1) into bucket i of n, staying below 1.
func stratumQuantile(i, n int, u float64) float64 {
	return math.Min((float64(i)+u)/float64(n), math.Nextafter(1, 0))
}

// openUnit keeps a draw inside (0,1). Quantiles of strongly U-shaped Beta
// distributions underflow to exactly 0 or round to 1 in float64.
func openUnit(x float64) float64 {
	switch {
	case x <= 0:
		return math.SmallestNonzeroFloat64
	case x >= 1:
		return math.Nextafter(1, 0)
	}
	return x
}

// Draw dispatches to StratifiedSample or Sample.
func (s *BetaSampler) Draw(n int, p BetaParams) []float64 {
	if s.stratified {
		return s.StratifiedSample(n, p)
	}
	return s.Sample(n, p)
}
