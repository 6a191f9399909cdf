package sensors

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/microrato/pkg/config"
	"github.com/tigerbot-team/microrato/pkg/hal"
	"github.com/tigerbot-team/microrato/pkg/lifecycle"
	"github.com/tigerbot-team/microrato/pkg/picontrol"
	"github.com/tigerbot-team/microrato/pkg/sharedstate"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

type fixture struct {
	cfg    config.Config
	sim    *hal.Sim
	shared *sharedstate.State
	c      *Conditioner
}

func newFixture(t *testing.T) *fixture {
	cfg := config.Default()
	sim := hal.NewSim(hal.SimOptions{
		BatteryRaw:   972,
		NumLEDs:      cfg.NumLEDs,
		EncoderSigns: wheel.Of(cfg.Odometry.LeftSign, cfg.Odometry.RightSign),
	})
	shared := sharedstate.New()
	c, err := New(cfg, sim, shared)
	require.NoError(t, err)
	c.Init()
	return &fixture{cfg: cfg, sim: sim, shared: shared, c: c}
}

func (f *fixture) step(t *testing.T) Snapshot {
	require.NoError(t, f.c.Update())
	s, err := f.c.Snapshot()
	require.NoError(t, err)
	return s
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Sensors.GroundThreshold = 0
	_, err := New(cfg, hal.NewSim(hal.SimOptions{}), sharedstate.New())
	assert.Error(t, err)
}

func TestUpdateBeforeInit(t *testing.T) {
	c, err := New(config.Default(), hal.NewSim(hal.SimOptions{}), sharedstate.New())
	require.NoError(t, err)
	assert.ErrorIs(t, c.Update(), lifecycle.ErrNotInitialized)
	_, err = c.Snapshot()
	assert.ErrorIs(t, err, lifecycle.ErrNotInitialized)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	assert.True(t, f.sim.SensorsEnabled())
	assert.Equal(t, lifecycle.Ready, f.c.Phase())

	f.sim.AddEncoderTicks(-100, 100)
	f.step(t)

	f.c.Stop()
	assert.False(t, f.sim.SensorsEnabled())
	assert.ErrorIs(t, f.c.Update(), lifecycle.ErrStopped)
	s, err := f.c.Snapshot()
	require.NoError(t, err, "snapshot stays readable when stopped")
	assert.Equal(t, wheel.Of(2, 2), s.OdometryTotalCM, "stop keeps memory")

	f.c.Init()
	assert.True(t, f.sim.SensorsEnabled())
	s, err = f.c.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, wheel.Of(0, 0), s.OdometryTotalCM, "init forgets")
	assert.Equal(t, uint64(0), s.Cycle)
}

// A ground mark seen by the rightmost sensor for five cycles.
func TestGroundSensorDebounce(t *testing.T) {
	f := newFixture(t)
	f.sim.SetGround(0x01)
	for i := 1; i <= 4; i++ {
		s := f.step(t)
		assert.False(t, s.Ground[4], "cycle %d", i)
	}
	s := f.step(t)
	assert.True(t, s.Ground[4])
	assert.Equal(t, uint(5), f.c.ground[0].Count())
	assert.Equal(t, [hal.NumGroundSensors]bool{false, false, false, false, true}, s.Ground)
}

func TestGroundOrderingAndCentre(t *testing.T) {
	f := newFixture(t)
	f.sim.SetGround(0x10 | 0x06)
	var s Snapshot
	for i := 0; i < 5; i++ {
		s = f.step(t)
	}
	assert.Equal(t, [hal.NumGroundSensors]bool{true, false, true, true, false}, s.Ground)
	assert.True(t, s.GroundCenter)

	f.sim.SetGround(0x02)
	for i := 0; i < 5; i++ {
		s = f.step(t)
	}
	assert.Equal(t, [hal.NumGroundSensors]bool{false, false, false, true, false}, s.Ground)
	assert.False(t, s.GroundCenter)
}

func TestGroundGlitchRejected(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		if i%3 == 0 {
			f.sim.SetGround(0x04)
		} else {
			f.sim.SetGround(0)
		}
		s := f.step(t)
		assert.False(t, s.Ground[2])
	}
}

func TestBatterySteadyAtPrefill(t *testing.T) {
	f := newFixture(t)
	f.sim.SetBattery(972)
	for i := 0; i < f.cfg.Sensors.BatteryWindow; i++ {
		s := f.step(t)
		assert.Equal(t, 96, s.BatteryDecivolts)
		assert.False(t, s.LowBattery)
	}
}

func TestBatteryDecivolts(t *testing.T) {
	sc := config.Default().Sensors
	assert.Equal(t, 96, BatteryDecivolts(972, sc))
	assert.Equal(t, 101, BatteryDecivolts(1023, sc))
	assert.Equal(t, 59, BatteryDecivolts(600, sc))
	assert.Equal(t, 0, BatteryDecivolts(0, sc))
}

func TestLowBattery(t *testing.T) {
	f := newFixture(t)
	f.sim.SetBattery(600)
	var s Snapshot
	for i := 0; i < 22; i++ {
		s = f.step(t)
	}
	assert.Equal(t, 70, s.BatteryDecivolts)
	assert.False(t, s.LowBattery)
	for i := 0; i < 4; i++ {
		s = f.step(t)
		assert.False(t, s.LowBattery)
	}
	s = f.step(t)
	assert.True(t, s.LowBattery)
}

func TestOdometry(t *testing.T) {
	f := newFixture(t)
	dpt := f.cfg.Odometry.DistancePerTickUM
	var s Snapshot
	for i := 0; i < 100; i++ {
		// Forwards: the left encoder counts down.
		f.sim.AddEncoderTicks(-20, 20)
		s = f.step(t)
	}
	assert.Equal(t, wheel.Of(20, 20), s.TickDeltas)
	total := 100 * 20 * dpt / 10000
	assert.Equal(t, wheel.Of(total, total), s.OdometryTotalCM)
	assert.Equal(t, wheel.Of(20*dpt/10000, 20*dpt/10000), s.OdometryPartialCM)
}

func TestBeaconDirection(t *testing.T) {
	f := newFixture(t)
	f.shared.PublishPointing(-43)
	f.sim.SetBeacon(true)
	var s Snapshot
	for i := 0; i < 5; i++ {
		s = f.step(t)
	}
	assert.True(t, s.Beacon)
	assert.Equal(t, -43, s.BeaconDirection)

	// Still asserted while the count drains, so the direction follows.
	f.sim.SetBeacon(false)
	f.shared.PublishPointing(21)
	for i := 0; i < 5; i++ {
		s = f.step(t)
	}
	assert.False(t, s.Beacon)
	assert.Equal(t, 21, s.BeaconDirection)

	f.shared.PublishPointing(60)
	s = f.step(t)
	assert.Equal(t, 21, s.BeaconDirection, "last known direction is kept")
}

func TestObstaclesAndButtonsPassThrough(t *testing.T) {
	f := newFixture(t)
	f.sim.SetObstacles(12, ObstacleInfinite, 40)
	f.sim.SetButton(hal.StartButton, true)
	s := f.step(t)
	assert.Equal(t, [hal.NumObstacleSensors]int{12, ObstacleInfinite, 40}, s.Obstacles)
	assert.True(t, s.StartButton)
	assert.False(t, s.StopButton)
	assert.Equal(t, uint64(1), s.Cycle)
}

func TestNoStallWhenIdle(t *testing.T) {
	f := newFixture(t)
	f.shared.PublishSetpoints(wheel.Of(0, 0))
	for i := 0; i < 50; i++ {
		s := f.step(t)
		assert.False(t, s.Stalled, "cycle %d", i)
	}
}

func TestStallWhenWheelsBlocked(t *testing.T) {
	f := newFixture(t)
	sp := picontrol.Setpoint(50, f.cfg.CyclePeriodMS, f.cfg.Odometry.DistancePerTickUM)
	require.GreaterOrEqual(t, sp, f.cfg.Sensors.StallTicks)
	f.shared.PublishSetpoints(wheel.Of(sp, sp))

	for i := 1; i < int(f.cfg.Sensors.StallThreshold); i++ {
		s := f.step(t)
		assert.False(t, s.Stalled, "cycle %d", i)
	}
	s := f.step(t)
	assert.True(t, s.Stalled)
}

func TestNoStallWhenTracking(t *testing.T) {
	f := newFixture(t)
	f.shared.PublishSetpoints(wheel.Of(16, 16))
	for i := 0; i < 20; i++ {
		// Within StallTicks of the setpoint.
		f.sim.AddEncoderTicks(-15, 18)
		s := f.step(t)
		assert.False(t, s.Stalled)
	}
}

func TestReadErrorPropagates(t *testing.T) {
	f := newFixture(t)
	f.sim.SetReadError(errors.New("adc fault"))
	err := f.c.Update()
	assert.ErrorContains(t, err, "adc fault")
}
