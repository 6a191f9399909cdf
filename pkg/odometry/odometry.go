// Package odometry accumulates per-wheel travelled distance from encoder tick
// deltas.
package odometry

import (
	"github.com/pkg/errors"

	"github.com/tigerbot-team/microrato/pkg/wheel"
)

// UMPerCM converts the micrometre accumulators to centimetres.
const UMPerCM = 10000

type Integrator struct {
	distancePerTickUM int
	signs             wheel.PerWheel[int]

	ticks   wheel.PerWheel[int]
	partial wheel.PerWheel[int]
	total   wheel.PerWheel[int64]
}

// New creates an integrator.  signs corrects for wheels that are mounted
// mirrored; each entry must be +1 or -1.
func New(distancePerTickUM int, signs wheel.PerWheel[int]) (*Integrator, error) {
	if distancePerTickUM <= 0 {
		return nil, errors.Errorf("distance per tick must be positive, not %d", distancePerTickUM)
	}
	for w, s := range signs {
		if s != 1 && s != -1 {
			return nil, errors.Errorf("%v wheel sign must be +1 or -1, not %d", wheel.Wheel(w), s)
		}
	}
	return &Integrator{
		distancePerTickUM: distancePerTickUM,
		signs:             signs,
	}, nil
}

// Update folds in one cycle's raw (uncorrected) encoder deltas.
func (i *Integrator) Update(raw wheel.PerWheel[int]) {
	for w, r := range raw {
		ticks := r * i.signs[w]
		delta := ticks * i.distancePerTickUM
		i.ticks[w] = ticks
		i.partial[w] = delta
		i.total[w] += int64(delta)
	}
}

// TickDeltas returns the sign-corrected tick counts from the last Update.
func (i *Integrator) TickDeltas() wheel.PerWheel[int] {
	return i.ticks
}

// Partial is the distance travelled during the last cycle, in micrometres.
func (i *Integrator) Partial() wheel.PerWheel[int] {
	return i.partial
}

// Total is the distance travelled since the last Reset, in micrometres.
func (i *Integrator) Total() wheel.PerWheel[int64] {
	return i.total
}

func (i *Integrator) PartialCM() (cm wheel.PerWheel[int]) {
	for w, v := range i.partial {
		cm[w] = v / UMPerCM
	}
	return
}

func (i *Integrator) TotalCM() (cm wheel.PerWheel[int]) {
	for w, v := range i.total {
		cm[w] = int(v / UMPerCM)
	}
	return
}

func (i *Integrator) DistancePerTickUM() int {
	return i.distancePerTickUM
}

func (i *Integrator) Reset() {
	i.ticks = wheel.PerWheel[int]{}
	i.partial = wheel.PerWheel[int]{}
	i.total = wheel.PerWheel[int64]{}
}
