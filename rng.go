package main

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Stream identifiers mixed into the PCG increment so that independent uses of
// the seed never share a sequence.
const (
	streamRun       uint64 = 0x6d69787472756e31 // training randomness
	streamInit      uint64 = 0x6d69787472756e32 // model initialization
	streamEmbedding uint64 = 0x6d69787472756e33 // label embedding
)

// RNG is the run's pseudo-random generator. Every random decision made during
// training (stream shuffles, augmentation, permutations, Beta draws,
// stratification offsets, coin flips) goes through a single RNG so that a
// seed, or a restored state, fully determines the run.
//
// RNG is not safe for concurrent use.
type RNG struct {
	src *rand.PCG
	*rand.Rand
}

// NewRNG returns a generator seeded from seed on the given stream.
func NewRNG(seed int64, stream uint64) *RNG {
	src := rand.NewPCG(uint64(seed), stream)
	return &RNG{src: src, Rand: rand.New(src)}
}

// State returns the serialized generator state.
func (r *RNG) State() ([]byte, error) {
	b, err := r.src.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "rng: marshal state")
	}
	return b, nil
}

// Restore replaces the generator state with one produced by State.
func (r *RNG) Restore(state []byte) error {
	if len(state) == 0 {
		return errors.New("rng: empty state")
	}
	if err := r.src.UnmarshalBinary(state); err != nil {
		return errors.Wrap(err, "rng: unmarshal state")
	}
	return nil
}

// openFloat64 returns a uniform value in the open interval (0,1).
func (r *RNG) openFloat64() float64 {
	for {
		if u := r.Float64(); u > 0 {
			return u
		}
	}
}
