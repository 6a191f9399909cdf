// Package sensors turns the HAL's raw per-cycle readings into the stable
// view the application reads: debounced ground, beacon and stall flags,
// odometry and a smoothed battery voltage.
package sensors

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/microrato/pkg/config"
	"github.com/tigerbot-team/microrato/pkg/filter"
	"github.com/tigerbot-team/microrato/pkg/hal"
	"github.com/tigerbot-team/microrato/pkg/lifecycle"
	"github.com/tigerbot-team/microrato/pkg/odometry"
	"github.com/tigerbot-team/microrato/pkg/sharedstate"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

const ObstacleInfinite = hal.ObstacleInfinite

// Snapshot is the conditioned state of every sensor after the last Update.
type Snapshot struct {
	// Obstacles is indexed by hal.ObstacleLeft, hal.ObstacleFront and
	// hal.ObstacleRight.
	Obstacles [hal.NumObstacleSensors]int

	Beacon bool
	// BeaconDirection is the pointing angle, in degrees, at which the beacon
	// was last seen.  It holds its value while the beacon is out of sight.
	BeaconDirection int

	// Ground runs from the leftmost sensor (index 0) to the rightmost.
	Ground [hal.NumGroundSensors]bool
	// GroundCenter is set when at least two of the three centre sensors see
	// the ground mark.
	GroundCenter bool

	OdometryPartialCM wheel.PerWheel[int]
	OdometryTotalCM   wheel.PerWheel[int]
	// TickDeltas are this cycle's sign-corrected encoder ticks.
	TickDeltas wheel.PerWheel[int]

	BatteryDecivolts int
	LowBattery       bool

	Stalled bool

	StartButton, StopButton bool

	// Cycle counts Updates since Init.
	Cycle uint64
}

type Conditioner struct {
	cfg    config.SensorsConfig
	hw     hal.Interface
	shared *sharedstate.State
	log    zerolog.Logger

	phase lifecycle.Phase

	ground     [hal.NumGroundSensors]*filter.Debounce
	beacon     *filter.Debounce
	stall      *filter.Debounce
	lowBattery *filter.Debounce
	battery    *filter.RollingAverage
	odometry   *odometry.Integrator

	raw       hal.RawSensorSnapshot
	beaconDir int
	cycle     uint64
}

// New validates the config and builds the conditioner's filters.  It doesn't
// touch the hardware; call Init before the first Update.
func New(cfg config.Config, hw hal.Interface, shared *sharedstate.State) (*Conditioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sc := cfg.Sensors
	c := &Conditioner{
		cfg:    sc,
		hw:     hw,
		shared: shared,
		log:    log.With().Str("component", "sensors").Logger(),
	}

	var err error
	for i := range c.ground {
		if c.ground[i], err = filter.NewDebounce(sc.GroundThreshold); err != nil {
			return nil, errors.Wrap(err, "ground filter")
		}
	}
	if c.beacon, err = filter.NewDebounce(sc.BeaconThreshold); err != nil {
		return nil, errors.Wrap(err, "beacon filter")
	}
	if c.stall, err = filter.NewDebounce(sc.StallThreshold); err != nil {
		return nil, errors.Wrap(err, "stall filter")
	}
	if c.lowBattery, err = filter.NewDebounce(sc.LowBatteryThreshold); err != nil {
		return nil, errors.Wrap(err, "low battery filter")
	}
	if c.battery, err = filter.NewRollingAverage(sc.BatteryWindow, sc.BatteryPrefill); err != nil {
		return nil, errors.Wrap(err, "battery filter")
	}
	signs := wheel.Of(cfg.Odometry.LeftSign, cfg.Odometry.RightSign)
	if c.odometry, err = odometry.New(cfg.Odometry.DistancePerTickUM, signs); err != nil {
		return nil, err
	}
	return c, nil
}

// Init forgets all filter memory and powers up the sensors.
func (c *Conditioner) Init() {
	for _, g := range c.ground {
		g.Reset()
	}
	c.beacon.Reset()
	c.stall.Reset()
	c.lowBattery.Reset()
	c.battery.Reset()
	c.odometry.Reset()
	c.raw = hal.RawSensorSnapshot{}
	c.beaconDir = 0
	c.cycle = 0

	c.hw.SetSensorsEnabled(true)
	c.phase = lifecycle.Ready
	c.log.Info().Msg("Sensors initialised")
}

// Update reads one cycle's raw values and advances every filter.  The
// actuator side must already have published this cycle's setpoints.
func (c *Conditioner) Update() error {
	if err := c.phase.CheckReady(); err != nil {
		return errors.Wrap(err, "sensors")
	}

	raw, err := c.hw.ReadRawSensors()
	if err != nil {
		return errors.Wrap(err, "failed to read raw sensors")
	}
	deltas, err := c.hw.ReadAndResetEncoderDeltas()
	if err != nil {
		return errors.Wrap(err, "failed to read encoders")
	}
	raw.EncoderDeltas = deltas
	c.raw = raw

	c.updateBeacon()
	c.updateGround()
	c.odometry.Update(raw.EncoderDeltas)
	c.updateBattery()
	c.updateStall()
	c.cycle++

	if e := c.log.Debug(); e.Enabled() {
		ticks := c.odometry.TickDeltas()
		e.Uint64("cycle", c.cycle).
			Ints("ticks", ticks[:]).
			Uint8("ground", raw.Ground).
			Int("battery", c.battery.Value()).
			Msg("Sensors updated")
	}
	return nil
}

func (c *Conditioner) updateBeacon() {
	if c.beacon.Update(c.raw.Beacon) {
		c.beaconDir = c.shared.Pointing()
	}
}

func (c *Conditioner) updateGround() {
	for i, g := range c.ground {
		g.Update(c.raw.Ground&(1<<uint(i)) != 0)
	}
}

func (c *Conditioner) updateBattery() {
	was := c.lowBattery.State()
	dv := c.battery.Update(BatteryDecivolts(c.raw.Battery, c.cfg))
	low := c.lowBattery.Update(dv < c.cfg.LowBatteryDecivolts)
	if low != was {
		c.log.Info().Bool("low", low).Int("decivolts", dv).Msg("Battery state changed")
	}
}

// updateStall compares this cycle's measured ticks with the setpoints the
// actuator side published for it.  Both are ticks per cycle.
func (c *Conditioner) updateStall() {
	setpoints := c.shared.Setpoints()
	ticks := c.odometry.TickDeltas()
	stuck := false
	for w := range setpoints {
		if abs(setpoints[w]-ticks[w]) >= c.cfg.StallTicks {
			stuck = true
		}
	}
	was := c.stall.State()
	if now := c.stall.Update(stuck); now != was {
		c.log.Info().Bool("stalled", now).
			Ints("setpoints", setpoints[:]).
			Ints("ticks", ticks[:]).
			Msg("Stall state changed")
	}
}

// Stop powers down the sensors but keeps filter memory, so a later Init
// (which does forget) is the only reset.
func (c *Conditioner) Stop() {
	c.hw.SetSensorsEnabled(false)
	if c.phase != lifecycle.Uninitialized {
		c.phase = lifecycle.Stopped
	}
	c.log.Info().Msg("Sensors stopped")
}

func (c *Conditioner) Phase() lifecycle.Phase {
	return c.phase
}

// Snapshot returns the conditioned view after the last Update.  It remains
// readable once stopped.
func (c *Conditioner) Snapshot() (Snapshot, error) {
	if err := c.phase.CheckInitialized(); err != nil {
		return Snapshot{}, errors.Wrap(err, "sensors")
	}
	s := Snapshot{
		Obstacles:         c.raw.Obstacles,
		Beacon:            c.beacon.State(),
		BeaconDirection:   c.beaconDir,
		OdometryPartialCM: c.odometry.PartialCM(),
		OdometryTotalCM:   c.odometry.TotalCM(),
		TickDeltas:        c.odometry.TickDeltas(),
		BatteryDecivolts:  c.battery.Value(),
		LowBattery:        c.lowBattery.State(),
		Stalled:           c.stall.State(),
		StartButton:       c.raw.StartButton,
		StopButton:        c.raw.StopButton,
		Cycle:             c.cycle,
	}
	// Bit 0 of the raw field is the rightmost sensor.
	centre := 0
	for i, g := range c.ground {
		s.Ground[len(s.Ground)-1-i] = g.State()
		if i >= 1 && i <= 3 && g.State() {
			centre++
		}
	}
	s.GroundCenter = centre >= 2
	return s, nil
}

// Odometry exposes the integrator; the actuator side reads its tick deltas.
func (c *Conditioner) Odometry() *odometry.Integrator {
	return c.odometry
}

// BatteryDecivolts converts a raw ADC reading of the battery divider to the
// battery voltage in tenths of a volt, via the voltage at the ADC pin in
// hundredths of a volt.  Each stage rounds to nearest.
func BatteryDecivolts(raw int, cfg config.SensorsConfig) int {
	pin := (raw*cfg.ADCRefCentivolts + cfg.ADCMax/2) / cfg.ADCMax
	top, bottom := cfg.DividerTopOhms, cfg.DividerBottomOhms
	return (pin*(top+bottom) + bottom/2) / (10 * bottom)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
