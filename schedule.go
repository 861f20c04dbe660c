package main

import "math"

// Schedule gives the learning rate to use after a given epoch. It is
// consulted once per epoch, after evaluation, and sets the rate for the next
// epoch.
type Schedule interface {
	Rate(epoch int) float64
	Name() string
}

// NewSchedule returns the schedule selected by kind.
func NewSchedule(kind ScheduleKind, base float64) Schedule {
	switch kind {
	case ScheduleDecay:
		return newDecaySchedule(base)
	case ScheduleStep:
		return stepSchedule{base: base}
	}
	return constantSchedule{base: base}
}

// decaySchedule decays geometrically from base to base/10 over epochs
// [0,101], then to base/100 over (100,150], then holds.
type decaySchedule struct {
	base   float64
	ratio1 float64
	ratio2 float64
}

func newDecaySchedule(base float64) decaySchedule {
	return decaySchedule{
		base:   base,
		ratio1: math.Pow(0.1, 1.0/101),
		ratio2: math.Pow(0.1, 1.0/50),
	}
}

func (s decaySchedule) Rate(epoch int) float64 {
	switch {
	case epoch <= 100:
		return s.base * math.Pow(s.ratio1, float64(epoch+1))
	case epoch <= 150:
		return s.base / 10 * math.Pow(s.ratio2, float64(epoch-100))
	}
	return s.base / 100
}

func (decaySchedule) Name() string { return "decay" }

// stepSchedule divides by 10 from epoch 100 and again from epoch 150.
type stepSchedule struct {
	base float64
}

func (s stepSchedule) Rate(epoch int) float64 {
	lr := s.base
	if epoch >= 100 {
		lr /= 10
	}
	if epoch >= 150 {
		lr /= 10
	}
	return lr
}

func (stepSchedule) Name() string { return "sanity" }

type constantSchedule struct {
	base float64
}

func (s constantSchedule) Rate(int) float64 { return s.base }

func (constantSchedule) Name() string { return "constant" }
