// Package picontrol implements the per-wheel proportional-integral velocity
// loop.  Setpoints and measurements are both in encoder ticks per control
// cycle; the output is a motor command that the HAL clamps to the motor
// range.
package picontrol

import (
	"github.com/tigerbot-team/microrato/pkg/tunable"
	"github.com/tigerbot-team/microrato/pkg/units"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

const (
	NameKp    = "pi-kp"
	NameKi    = "pi-ki"
	NameLimit = "pi-integral-limit"
)

// Gains are held as tunables so they can be adjusted while the loop runs.
type Gains struct {
	Kp, Ki, Limit *tunable.Tunable
}

// NewGains registers the three controller tunables with ts.
func NewGains(ts *tunable.Tunables, kp, ki, limit int) Gains {
	return Gains{
		Kp:    ts.Create(NameKp, kp, 0, 100),
		Ki:    ts.Create(NameKi, ki, 0, 100),
		Limit: ts.Create(NameLimit, limit, 0, 1000),
	}
}

// FixedGains returns gains that aren't registered anywhere.
func FixedGains(kp, ki, limit int) Gains {
	var ts tunable.Tunables
	return NewGains(&ts, kp, ki, limit)
}

// Setpoint converts a wheel velocity in cm/s to encoder ticks per cycle:
// periodMS * velocity * 10 / distancePerTickUM, truncating towards zero.
func Setpoint(velocity, periodMS, distancePerTickUM int) int {
	return units.Ratio{Num: periodMS * 10, Den: distancePerTickUM}.Apply(velocity)
}

type Controller struct {
	gains    Gains
	integral wheel.PerWheel[int]
}

func New(gains Gains) *Controller {
	return &Controller{gains: gains}
}

// Step runs one control cycle for both wheels and returns the motor commands.
// The integral is clamped to +/- the limit after each accumulation.
func (c *Controller) Step(setpoints, measured wheel.PerWheel[int]) (commands wheel.PerWheel[int]) {
	kp := c.gains.Kp.Get()
	ki := c.gains.Ki.Get()
	limit := c.gains.Limit.Get()
	if limit < 0 {
		limit = 0
	}

	for w := range setpoints {
		e := setpoints[w] - measured[w]
		i := units.Clamp(c.integral[w]+e, -limit, limit)
		c.integral[w] = i
		commands[w] = kp*e + ki*i
	}
	return
}

func (c *Controller) Integral() wheel.PerWheel[int] {
	return c.integral
}

func (c *Controller) Reset() {
	c.integral = wheel.PerWheel[int]{}
}
