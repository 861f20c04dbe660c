package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// A mixing policy turns a batch size into a coefficient pair per example:
//
//   lambda  blends inputs:  x = λ·x_A + (1-λ)·x_B
//   gamma   blends labels:  y = γ·y_A + (1-γ)·y_B
//
// The regimes differ only in how (λ, γ) are drawn, so each one is a small
// type behind MixingPolicy and the training loop never branches on the
// regime to get coefficients:
//
//   mixup                    λ ~ Beta(lam),  γ = CDF_Beta(gamma)(λ)
//   directional adversarial  λ ~ Beta(dat),  γ = λ (labels are not mixed)
//   DAT transform            λ' ~ Beta(dat), λ = λ' or 1-λ' by a fair coin,
//                            γ = p(λ) / (p(λ) + p(1-λ)) with p = pdf of Beta(dat)
//   plain                    λ = γ = 1
//
// The DAT transform reads a DAT-style coefficient as a mixup pair: γ is the
// posterior probability that the mixed point came from the A side when λ
// could equally have been drawn for either side.
//
// ===========================================================================

// Coefficients are the per-example mixing weights of one batch.
type Coefficients struct {
	Lambda []float64
	Gamma  []float64
}

// Len is the number of examples the coefficients cover.
func (c Coefficients) Len() int { return len(c.Lambda) }

// MixingPolicy produces the coefficient pair for a batch of n examples.
type MixingPolicy interface {
	Compute(n int) Coefficients
}

// NewMixingPolicy selects the policy variant for cfg.Mode. Parameters are
// assumed validated by Config.Validate.
func NewMixingPolicy(cfg Config, sampler *BetaSampler) MixingPolicy {
	switch cfg.Mode {
	case ModeMixup:
		return &mixupPolicy{sampler: sampler, lam: cfg.Lam, gamma: cfg.Gamma}
	case ModeDirectionalAdversarial:
		return &directionalAdversarialPolicy{sampler: sampler, dat: cfg.DAT}
	case ModeDATTransform:
		return &datTransformPolicy{sampler: sampler, rng: sampler.rng, dat: cfg.DAT}
	}
	return plainPolicy{}
}

type mixupPolicy struct {
	sampler *BetaSampler
	lam     BetaParams
	gamma   BetaParams
}

func (p *mixupPolicy) Compute(n int) Coefficients {
	lam := p.sampler.Draw(n, p.lam)
	return Coefficients{Lambda: lam, Gamma: BetaCDF(lam, p.gamma)}
}

type directionalAdversarialPolicy struct {
	sampler *BetaSampler
	dat     BetaParams
}

func (p *directionalAdversarialPolicy) Compute(n int) Coefficients {
	lam := p.sampler.Draw(n, p.dat)
	gam := make([]float64, n)
	copy(gam, lam)
	return Coefficients{Lambda: lam, Gamma: gam}
}

type datTransformPolicy struct {
	sampler *BetaSampler
	rng     *RNG
	dat     BetaParams
}

func (p *datTransformPolicy) Compute(n int) Coefficients {
	lam := p.sampler.Draw(n, p.dat)
	for i := range lam {
		if p.rng.IntN(2) == 0 {
			lam[i] = 1 - lam[i]
		}
	}
	gam := make([]float64, n)
	for i, l := range lam {
		gam[i] = datGamma(l, p.dat)
	}
	return Coefficients{Lambda: lam, Gamma: gam}
}

// datGamma is p(λ) / (p(λ) + p(1-λ)). When both densities overflow, as
// they do next to 0 and 1 for a, b < 1, the result is NaN.
func datGamma(lam float64, p BetaParams) float64 {
	d := p.PDF(lam)
	return d / (d + p.PDF(1-lam))
}

type plainPolicy struct{}

func (plainPolicy) Compute(n int) Coefficients {
	lam := make([]float64, n)
	gam := make([]float64, n)
	for i := range lam {
		lam[i], gam[i] = 1, 1
	}
	return Coefficients{Lambda: lam, Gamma: gam}
}
