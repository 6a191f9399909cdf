package actuators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerbot-team/microrato/pkg/config"
	"github.com/tigerbot-team/microrato/pkg/hal"
	"github.com/tigerbot-team/microrato/pkg/lifecycle"
	"github.com/tigerbot-team/microrato/pkg/picontrol"
	"github.com/tigerbot-team/microrato/pkg/sharedstate"
	"github.com/tigerbot-team/microrato/pkg/tunable"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

type fakeDeltas struct {
	d wheel.PerWheel[int]
}

func (f *fakeDeltas) TickDeltas() wheel.PerWheel[int] {
	return f.d
}

type fixture struct {
	sim    *hal.Sim
	shared *sharedstate.State
	deltas *fakeDeltas
	c      *Conditioner
}

func newFixture(t *testing.T) *fixture {
	cfg := config.Default()
	f := &fixture{
		sim:    hal.NewSim(hal.SimOptions{NumLEDs: cfg.NumLEDs}),
		shared: sharedstate.New(),
		deltas: &fakeDeltas{},
	}
	c, err := New(cfg, f.sim, f.shared, f.deltas, picontrol.Gains{})
	require.NoError(t, err)
	f.c = c
	return f
}

func read(t *testing.T, get func() (wheel.PerWheel[int], error)) wheel.PerWheel[int] {
	t.Helper()
	v, err := get()
	require.NoError(t, err)
	return v
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pointing.MaxNative = cfg.Pointing.MinNative
	_, err := New(cfg, hal.NewSim(hal.SimOptions{}), sharedstate.New(), &fakeDeltas{}, picontrol.Gains{})
	assert.Error(t, err)
}

func TestCallsBeforeInit(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.c.Update(), lifecycle.ErrNotInitialized)
	assert.ErrorIs(t, f.c.SetVelocity(10, 10), lifecycle.ErrNotInitialized)
	assert.ErrorIs(t, f.c.SetPointing(10), lifecycle.ErrNotInitialized)
	assert.ErrorIs(t, f.c.RotatePointing(10), lifecycle.ErrNotInitialized)
	assert.ErrorIs(t, f.c.SetLeds(1), lifecycle.ErrNotInitialized)
	_, err := f.c.SetLed(0, true)
	assert.ErrorIs(t, err, lifecycle.ErrNotInitialized)
	_, err = f.c.Velocity()
	assert.ErrorIs(t, err, lifecycle.ErrNotInitialized)
	_, err = f.c.Pointing()
	assert.ErrorIs(t, err, lifecycle.ErrNotInitialized)
	for _, get := range []func() (wheel.PerWheel[int], error){f.c.Setpoints, f.c.Command, f.c.Integral} {
		_, err = get()
		assert.ErrorIs(t, err, lifecycle.ErrNotInitialized)
	}
	assert.Equal(t, hal.SimWriteCounts{}, f.sim.WriteCounts())
}

func TestInitWritesSafeDefaultImmediately(t *testing.T) {
	f := newFixture(t)
	f.sim.WriteMotorCommand(50, 50)
	f.sim.WritePointingActuator(7)
	f.sim.SetIndicator(2, true)

	f.c.Init()

	assert.Equal(t, lifecycle.Ready, f.c.Phase())
	assert.Equal(t, wheel.Of(0, 0), f.sim.MotorCommand())
	assert.Equal(t, 0, f.sim.PointingNative())
	for i := 0; i < 4; i++ {
		assert.False(t, f.sim.Indicator(i), "indicator %d", i)
	}
	assert.Equal(t, wheel.Of(0, 0), f.shared.Setpoints())
	assert.Equal(t, 0, f.shared.Pointing())
	p, err := f.c.Pointing()
	require.NoError(t, err)
	assert.Equal(t, 0, p)
}

func TestRequestsAreBufferedUntilUpdate(t *testing.T) {
	f := newFixture(t)
	f.c.Init()
	before := f.sim.WriteCounts()

	require.NoError(t, f.c.SetVelocity(50, 50))
	require.NoError(t, f.c.SetPointing(10))
	require.NoError(t, f.c.SetLeds(0xf))

	assert.Equal(t, before, f.sim.WriteCounts())
	assert.Equal(t, wheel.Of(0, 0), f.sim.MotorCommand())

	require.NoError(t, f.c.Update())
	assert.NotEqual(t, wheel.Of(0, 0), f.sim.MotorCommand())
	assert.Equal(t, 2, f.sim.PointingNative())
	assert.True(t, f.sim.Indicator(3))
}

func TestVelocityClampAndSetpoints(t *testing.T) {
	f := newFixture(t)
	f.c.Init()

	require.NoError(t, f.c.SetVelocity(50, -500))
	v, err := f.c.Velocity()
	require.NoError(t, err)
	assert.Equal(t, wheel.Of(50, -100), v)
	// 50 cm/s over a 10 ms cycle is 5 mm; at 299 um per tick that's 16 ticks.
	assert.Equal(t, wheel.Of(16, -33), read(t, f.c.Setpoints))

	require.NoError(t, f.c.Update())
	assert.Equal(t, wheel.Of(16, -33), f.shared.Setpoints())
}

func TestUpdateRunsController(t *testing.T) {
	f := newFixture(t)
	f.c.Init()
	require.NoError(t, f.c.SetVelocity(10, 10))
	sp := read(t, f.c.Setpoints)
	require.Equal(t, wheel.Of(3, 3), sp)

	f.deltas.d = wheel.Of(3, 1)
	require.NoError(t, f.c.Update())

	// Left is on target; right is 2 ticks short: 8*2 + 3*2.
	assert.Equal(t, wheel.Of(0, 22), read(t, f.c.Command))
	assert.Equal(t, wheel.Of(0, 22), f.sim.MotorCommand())
	assert.Equal(t, wheel.Of(0, 2), read(t, f.c.Integral))
}

func TestMotorCommandIsClampedByHAL(t *testing.T) {
	f := newFixture(t)
	f.c.Init()
	require.NoError(t, f.c.SetVelocity(100, -100))
	require.NoError(t, f.c.Update())
	assert.Equal(t, wheel.Of(hal.MaxMotorCommand, -hal.MaxMotorCommand), f.sim.MotorCommand())
}

func TestPointingEffectiveAngle(t *testing.T) {
	f := newFixture(t)
	f.c.Init()

	for _, tc := range []struct {
		request, native, effective int
	}{
		{10, 2, 11},
		{-10, -2, -11},
		{0, 0, 0},
		{80, 15, 80},
		{200, 15, 80},
		{-200, -15, -80},
	} {
		require.NoError(t, f.c.SetPointing(tc.request))
		require.NoError(t, f.c.Update())
		assert.Equal(t, tc.native, f.sim.PointingNative(), "request %d", tc.request)
		p, err := f.c.Pointing()
		require.NoError(t, err)
		assert.Equal(t, tc.effective, p, "request %d", tc.request)
		assert.Equal(t, tc.effective, f.shared.Pointing(), "request %d", tc.request)
	}
}

func TestRotatePointingIsRelativeToRequest(t *testing.T) {
	f := newFixture(t)
	f.c.Init()

	require.NoError(t, f.c.SetPointing(10))
	require.NoError(t, f.c.RotatePointing(10))
	require.NoError(t, f.c.Update())
	// 20 degrees requested, not 11+10.
	assert.Equal(t, 4, f.sim.PointingNative())

	require.NoError(t, f.c.RotatePointing(100))
	require.NoError(t, f.c.Update())
	assert.Equal(t, 15, f.sim.PointingNative())
}

func TestSetLed(t *testing.T) {
	f := newFixture(t)
	f.c.Init()

	ok, err := f.c.SetLed(1, true)
	require.NoError(t, err)
	assert.True(t, ok)

	for _, n := range []int{-1, 4, 100} {
		ok, err = f.c.SetLed(n, true)
		require.NoError(t, err)
		assert.False(t, ok, "led %d", n)
	}

	require.NoError(t, f.c.Update())
	assert.True(t, f.sim.Indicator(1))
	assert.False(t, f.sim.Indicator(0))
}

func TestLedsOnlyWrittenOnChange(t *testing.T) {
	f := newFixture(t)
	f.c.Init()
	base := f.sim.WriteCounts().Indicator

	require.NoError(t, f.c.SetLeds(0xa))
	require.NoError(t, f.c.Update())
	assert.Equal(t, base+2, f.sim.WriteCounts().Indicator)
	assert.False(t, f.sim.Indicator(0))
	assert.True(t, f.sim.Indicator(1))
	assert.False(t, f.sim.Indicator(2))
	assert.True(t, f.sim.Indicator(3))

	require.NoError(t, f.c.Update())
	assert.Equal(t, base+2, f.sim.WriteCounts().Indicator)

	require.NoError(t, f.c.SetLeds(0x2))
	require.NoError(t, f.c.Update())
	assert.Equal(t, base+3, f.sim.WriteCounts().Indicator)
	assert.False(t, f.sim.Indicator(3))
}

func TestStop(t *testing.T) {
	f := newFixture(t)
	f.c.Init()
	require.NoError(t, f.c.SetVelocity(10, 10))
	require.NoError(t, f.c.SetPointing(40))
	require.NoError(t, f.c.SetLeds(0xf))
	require.NoError(t, f.c.Update())
	integral := read(t, f.c.Integral)
	require.NotEqual(t, wheel.Of(0, 0), integral)

	f.c.Stop()

	assert.Equal(t, lifecycle.Stopped, f.c.Phase())
	assert.Equal(t, wheel.Of(0, 0), f.sim.MotorCommand())
	assert.Equal(t, 0, f.sim.PointingNative())
	assert.False(t, f.sim.Indicator(0))
	assert.Equal(t, wheel.Of(0, 0), f.shared.Setpoints())
	assert.Equal(t, integral, read(t, f.c.Integral))

	assert.ErrorIs(t, f.c.Update(), lifecycle.ErrStopped)
	assert.ErrorIs(t, f.c.SetVelocity(1, 1), lifecycle.ErrStopped)
	v, err := f.c.Velocity()
	require.NoError(t, err)
	assert.Equal(t, wheel.Of(0, 0), v)

	f.c.Init()
	assert.Equal(t, wheel.Of(0, 0), read(t, f.c.Integral))
	require.NoError(t, f.c.Update())
}

func TestStopBeforeInitStaysUninitialized(t *testing.T) {
	f := newFixture(t)
	f.c.Stop()
	assert.Equal(t, lifecycle.Uninitialized, f.c.Phase())
	assert.Equal(t, wheel.Of(0, 0), f.sim.MotorCommand())
}

func TestLiveGains(t *testing.T) {
	cfg := config.Default()
	ts := &tunable.Tunables{}
	gains := picontrol.NewGains(ts, 1, 0, 15)
	sim := hal.NewSim(hal.SimOptions{NumLEDs: cfg.NumLEDs})
	c, err := New(cfg, sim, sharedstate.New(), &fakeDeltas{}, gains)
	require.NoError(t, err)
	c.Init()
	require.NoError(t, c.SetVelocity(10, 10))

	require.NoError(t, c.Update())
	assert.Equal(t, wheel.Of(3, 3), read(t, c.Command))

	ts.Find(picontrol.NameKp).Set(4)
	c.pi.Reset()
	require.NoError(t, c.Update())
	assert.Equal(t, wheel.Of(12, 12), read(t, c.Command))
}
