// Package filter provides the small stateful filters used to condition raw
// sensor channels: a hysteresis debouncer for binary signals and a fixed
// window rolling average for scalar ones.
package filter

import "github.com/pkg/errors"

var ErrZeroThreshold = errors.New("debounce threshold must be positive")

// Debounce is a leaky integrator with two-sided hysteresis.  Each true sample
// moves the count up towards the threshold and each false sample moves it down
// towards zero.  The output only turns on when the count reaches the threshold
// and only turns off again when the count drains back to zero, so a single
// noisy sample can never flip it.
type Debounce struct {
	threshold uint
	count     uint
	state     bool
}

func NewDebounce(threshold uint) (*Debounce, error) {
	if threshold == 0 {
		return nil, ErrZeroThreshold
	}
	return &Debounce{threshold: threshold}, nil
}

// Update feeds one raw sample into the filter and returns the filtered state.
func (d *Debounce) Update(raw bool) bool {
	if raw {
		if d.count < d.threshold {
			d.count++
		}
	} else if d.count > 0 {
		d.count--
	}

	if d.state {
		if d.count == 0 {
			d.state = false
		}
	} else if d.count == d.threshold {
		d.state = true
	}
	return d.state
}

func (d *Debounce) State() bool {
	return d.state
}

func (d *Debounce) Count() uint {
	return d.count
}

func (d *Debounce) Threshold() uint {
	return d.threshold
}

// Reset returns the filter to off with an empty count.
func (d *Debounce) Reset() {
	d.count = 0
	d.state = false
}
