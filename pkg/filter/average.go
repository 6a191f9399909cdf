package filter

import "github.com/pkg/errors"

// RollingAverage is a moving average over the last Window() samples.  The
// running sum is maintained incrementally, one subtraction and one addition per
// sample.
//
// The window starts pre-filled with a neutral value so the output is
// meaningful from the first sample rather than dragged towards zero while the
// buffer warms up.
type RollingAverage struct {
	buf     []int
	cursor  int
	sum     int
	prefill int
}

func NewRollingAverage(window int, prefill int) (*RollingAverage, error) {
	if window <= 0 {
		return nil, errors.Errorf("rolling average window must be positive, got %d", window)
	}
	r := &RollingAverage{
		buf:     make([]int, window),
		prefill: prefill,
	}
	r.Reset()
	return r, nil
}

// Update replaces the oldest sample with the new one and returns the average
// of the window, truncated towards zero.
func (r *RollingAverage) Update(sample int) int {
	r.sum -= r.buf[r.cursor]
	r.buf[r.cursor] = sample
	r.sum += sample
	r.cursor = (r.cursor + 1) % len(r.buf)
	return r.Value()
}

func (r *RollingAverage) Value() int {
	return r.sum / len(r.buf)
}

func (r *RollingAverage) Sum() int {
	return r.sum
}

func (r *RollingAverage) Window() int {
	return len(r.buf)
}

// Samples returns a copy of the window contents, oldest first.
func (r *RollingAverage) Samples() []int {
	out := make([]int, 0, len(r.buf))
	out = append(out, r.buf[r.cursor:]...)
	out = append(out, r.buf[:r.cursor]...)
	return out
}

// Reset re-fills the window with the neutral value.
func (r *RollingAverage) Reset() {
	for i := range r.buf {
		r.buf[i] = r.prefill
	}
	r.cursor = 0
	r.sum = r.prefill * len(r.buf)
}
