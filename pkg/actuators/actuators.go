// Package actuators turns the application's requests (wheel velocities, a
// pointing angle, indicator LEDs) into HAL writes once per cycle.  Requests
// are buffered and only reach the hardware in Update, except for the safe
// default written by Init and Stop.
package actuators

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/microrato/pkg/config"
	"github.com/tigerbot-team/microrato/pkg/hal"
	"github.com/tigerbot-team/microrato/pkg/lifecycle"
	"github.com/tigerbot-team/microrato/pkg/picontrol"
	"github.com/tigerbot-team/microrato/pkg/sharedstate"
	"github.com/tigerbot-team/microrato/pkg/units"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

// DeltaSource supplies the measured, sign-corrected encoder ticks of the
// most recent cycle.
type DeltaSource interface {
	TickDeltas() wheel.PerWheel[int]
}

type Conditioner struct {
	hw     hal.Interface
	shared *sharedstate.State
	deltas DeltaSource
	log    zerolog.Logger

	periodMS          int
	distancePerTickUM int
	maxVelocity       int
	pointing          units.Converter
	pi                *picontrol.Controller

	phase lifecycle.Phase

	velocity  wheel.PerWheel[int]
	setpoints wheel.PerWheel[int]
	degree    int
	effective int
	leds      []bool
	written   []bool
	command   wheel.PerWheel[int]
}

// New validates the config and builds the conditioner.  If gains is the
// zero value, fixed gains are taken from the config.
func New(cfg config.Config, hw hal.Interface, shared *sharedstate.State, deltas DeltaSource, gains picontrol.Gains) (*Conditioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := cfg.Pointing
	conv, err := units.NewConverter(p.MinDegree, p.MaxDegree, p.MinNative, p.MaxNative)
	if err != nil {
		return nil, errors.Wrap(err, "pointing calibration")
	}
	if gains.Kp == nil || gains.Ki == nil || gains.Limit == nil {
		ctl := cfg.Controller
		gains = picontrol.FixedGains(ctl.Kp, ctl.Ki, ctl.IntegralLimit)
	}
	return &Conditioner{
		hw:                hw,
		shared:            shared,
		deltas:            deltas,
		log:               log.With().Str("component", "actuators").Logger(),
		periodMS:          cfg.CyclePeriodMS,
		distancePerTickUM: cfg.Odometry.DistancePerTickUM,
		maxVelocity:       cfg.Controller.MaxVelocity,
		pointing:          conv,
		pi:                picontrol.New(gains),
		leds:              make([]bool, cfg.NumLEDs),
		written:           make([]bool, cfg.NumLEDs),
	}, nil
}

// Init forgets the controller's integral and any buffered requests, then
// writes the safe default straight to the HAL.
func (c *Conditioner) Init() {
	c.pi.Reset()
	c.clearRequests()
	c.writeSafeDefault()
	c.phase = lifecycle.Ready
	c.log.Info().Msg("Actuators initialised")
}

// Stop writes the safe default straight to the HAL and drops buffered
// requests.  The controller's integral is kept.
func (c *Conditioner) Stop() {
	c.clearRequests()
	c.writeSafeDefault()
	if c.phase != lifecycle.Uninitialized {
		c.phase = lifecycle.Stopped
	}
	c.log.Info().Msg("Actuators stopped")
}

func (c *Conditioner) clearRequests() {
	c.velocity = wheel.PerWheel[int]{}
	c.setpoints = wheel.PerWheel[int]{}
	c.command = wheel.PerWheel[int]{}
	c.degree = c.pointing.Midpoint()
	for i := range c.leds {
		c.leds[i] = false
	}
}

// writeSafeDefault stops the motors, centres the pointing actuator and turns
// every indicator off.
func (c *Conditioner) writeSafeDefault() {
	c.hw.WriteMotorCommand(0, 0)
	c.shared.PublishSetpoints(wheel.PerWheel[int]{})

	native := c.pointing.ToNative(c.pointing.Midpoint())
	c.hw.WritePointingActuator(native)
	c.effective = c.pointing.ToPhysical(native)
	c.shared.PublishPointing(c.effective)

	for i := range c.written {
		c.hw.SetIndicator(i, false)
		c.written[i] = false
	}
}

// Update runs the velocity controller against the last measured ticks and
// writes the motors, the pointing actuator and any indicators that changed.
func (c *Conditioner) Update() error {
	if err := c.phase.CheckReady(); err != nil {
		return errors.Wrap(err, "actuators")
	}

	c.command = c.pi.Step(c.setpoints, c.deltas.TickDeltas())
	c.hw.WriteMotorCommand(c.command.Left(), c.command.Right())
	c.shared.PublishSetpoints(c.setpoints)

	native := c.pointing.ToNative(c.degree)
	c.effective = c.pointing.ToPhysical(native)
	c.hw.WritePointingActuator(native)
	c.shared.PublishPointing(c.effective)

	for i, on := range c.leds {
		if on != c.written[i] {
			c.hw.SetIndicator(i, on)
			c.written[i] = on
		}
	}
	return nil
}

// SetVelocity requests wheel velocities in cm/s, clamped to the configured
// maximum.  The tick setpoints are derived immediately.
func (c *Conditioner) SetVelocity(left, right int) error {
	if err := c.phase.CheckReady(); err != nil {
		return errors.Wrap(err, "actuators")
	}
	c.velocity = wheel.Of(
		units.Clamp(left, -c.maxVelocity, c.maxVelocity),
		units.Clamp(right, -c.maxVelocity, c.maxVelocity),
	)
	for w, v := range c.velocity {
		c.setpoints[w] = picontrol.Setpoint(v, c.periodMS, c.distancePerTickUM)
	}
	return nil
}

// SetPointing requests an absolute pointing angle in degrees, clamped to the
// calibrated range.
func (c *Conditioner) SetPointing(degree int) error {
	if err := c.phase.CheckReady(); err != nil {
		return errors.Wrap(err, "actuators")
	}
	c.degree = units.Clamp(degree, c.pointing.PhysMin, c.pointing.PhysMax)
	return nil
}

// RotatePointing moves the requested angle by delta degrees.
func (c *Conditioner) RotatePointing(delta int) error {
	if err := c.phase.CheckReady(); err != nil {
		return errors.Wrap(err, "actuators")
	}
	return c.SetPointing(c.degree + delta)
}

// SetLed requests an indicator state.  It reports false, and changes nothing,
// for an indicator that doesn't exist.
func (c *Conditioner) SetLed(n int, on bool) (bool, error) {
	if err := c.phase.CheckReady(); err != nil {
		return false, errors.Wrap(err, "actuators")
	}
	if n < 0 || n >= len(c.leds) {
		return false, nil
	}
	c.leds[n] = on
	return true, nil
}

// SetLeds requests every indicator at once; bit n of bitmap is indicator n.
func (c *Conditioner) SetLeds(bitmap uint) error {
	if err := c.phase.CheckReady(); err != nil {
		return errors.Wrap(err, "actuators")
	}
	for i := range c.leds {
		c.leds[i] = bitmap&(1<<uint(i)) != 0
	}
	return nil
}

// Velocity returns the requested wheel velocities after clamping.
func (c *Conditioner) Velocity() (wheel.PerWheel[int], error) {
	if err := c.phase.CheckInitialized(); err != nil {
		return wheel.PerWheel[int]{}, errors.Wrap(err, "actuators")
	}
	return c.velocity, nil
}

// Pointing returns the effective angle: the requested angle after a round
// trip through the actuator's native units, as of the last write.
func (c *Conditioner) Pointing() (int, error) {
	if err := c.phase.CheckInitialized(); err != nil {
		return 0, errors.Wrap(err, "actuators")
	}
	return c.effective, nil
}

// Setpoints returns the per-cycle tick targets for the requested velocities.
func (c *Conditioner) Setpoints() (wheel.PerWheel[int], error) {
	if err := c.phase.CheckInitialized(); err != nil {
		return wheel.PerWheel[int]{}, errors.Wrap(err, "actuators")
	}
	return c.setpoints, nil
}

// Command returns the motor command written by the last Update.
func (c *Conditioner) Command() (wheel.PerWheel[int], error) {
	if err := c.phase.CheckInitialized(); err != nil {
		return wheel.PerWheel[int]{}, errors.Wrap(err, "actuators")
	}
	return c.command, nil
}

func (c *Conditioner) Integral() (wheel.PerWheel[int], error) {
	if err := c.phase.CheckInitialized(); err != nil {
		return wheel.PerWheel[int]{}, errors.Wrap(err, "actuators")
	}
	return c.pi.Integral(), nil
}

func (c *Conditioner) Phase() lifecycle.Phase {
	return c.phase
}
