package hal

import (
	"sync"

	"github.com/tigerbot-team/microrato/pkg/wheel"
)

// EncoderCounters accumulates encoder ticks from edge sources running on
// other goroutines.  Both wheels are read and cleared under one lock so a
// cycle never sees one wheel's ticks without the other's.
type EncoderCounters struct {
	lock   sync.Mutex
	counts wheel.PerWheel[int]
}

func (c *EncoderCounters) Tick(w wheel.Wheel, n int) {
	c.lock.Lock()
	c.counts[w] += n
	c.lock.Unlock()
}

func (c *EncoderCounters) Add(deltas wheel.PerWheel[int]) {
	c.lock.Lock()
	for w, d := range deltas {
		c.counts[w] += d
	}
	c.lock.Unlock()
}

func (c *EncoderCounters) ReadAndReset() wheel.PerWheel[int] {
	c.lock.Lock()
	defer c.lock.Unlock()
	counts := c.counts
	c.counts = wheel.PerWheel[int]{}
	return counts
}
