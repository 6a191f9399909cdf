package gpiohal

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"

	"github.com/tigerbot-team/microrato/pkg/config"
	"github.com/tigerbot-team/microrato/pkg/hal"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

type fakeADC struct {
	values map[int]int
	err    error
	closed bool
}

func (f *fakeADC) Read(ch int) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.values[ch], nil
}

func (f *fakeADC) Close() error {
	f.closed = true
	return nil
}

type fakeGround struct {
	bits   byte
	closed bool
}

func (f *fakeGround) ReadInputs() (byte, error) {
	return f.bits, nil
}

func (f *fakeGround) Close() error {
	f.closed = true
	return nil
}

type fakePointer struct {
	positions []int
	closed    bool
}

func (f *fakePointer) SetPosition(native int) error {
	f.positions = append(f.positions, native)
	return nil
}

func (f *fakePointer) Close() error {
	f.closed = true
	return nil
}

type testBoard struct {
	*Board
	pins    map[string]*gpiotest.Pin
	adc     *fakeADC
	ground  *fakeGround
	pointer *fakePointer
}

func newTestBoard(t *testing.T) *testBoard {
	pins := map[string]*gpiotest.Pin{}
	pin := func(name string, edges bool) *gpiotest.Pin {
		p := &gpiotest.Pin{N: name, Num: len(pins)}
		if edges {
			p.EdgesChan = make(chan gpio.Level)
		}
		pins[name] = p
		return p
	}
	var ps Pins
	for _, w := range wheel.All() {
		ps.MotorPWM[w] = pin(fmt.Sprintf("pwm-%v", w), false)
		ps.MotorDir[w] = pin(fmt.Sprintf("dir-%v", w), false)
		ps.Encoders[w] = pin(fmt.Sprintf("enc-%v", w), true)
	}
	for i := 0; i < 4; i++ {
		ps.LEDs = append(ps.LEDs, pin(fmt.Sprintf("led%d", i), false))
	}
	ps.Start = pin("start", false)
	ps.Stop = pin("stop", false)
	ps.Beacon = pin("beacon", false)
	ps.ObstEnable = pin("obst-en", false)
	ps.GroundEnable = pin("gnd-en", false)

	cfg := config.Default()
	cfg.HAL.Driver = config.DriverGPIO
	adc := &fakeADC{values: map[int]int{0: 300, 1: 200, 2: 100, 3: 972}}
	ground := &fakeGround{bits: 0xe4}
	ptr := &fakePointer{}

	b, err := newBoard(cfg, ps, adc, ground, ptr)
	require.NoError(t, err)
	// Buttons idle high on their pull-ups.
	pins["start"].L = gpio.High
	pins["stop"].L = gpio.High
	return &testBoard{Board: b, pins: pins, adc: adc, ground: ground, pointer: ptr}
}

func TestReadRawSensors(t *testing.T) {
	b := newTestBoard(t)
	defer b.Close()

	raw, err := b.ReadRawSensors()
	require.NoError(t, err)
	// Channels 2, 1, 0 are left, front, right.
	assert.Equal(t, [hal.NumObstacleSensors]int{100, 200, 300}, raw.Obstacles)
	assert.Equal(t, 972, raw.Battery)
	assert.Equal(t, uint8(0x04), raw.Ground)
	assert.False(t, raw.Beacon)
	assert.False(t, raw.StartButton, "pulled up means released")
	assert.False(t, raw.StopButton)

	b.pins["start"].L = gpio.Low
	b.pins["beacon"].L = gpio.High
	raw, err = b.ReadRawSensors()
	require.NoError(t, err)
	assert.True(t, raw.StartButton)
	assert.True(t, raw.Beacon)
	assert.True(t, b.ReadButton(hal.StartButton))
	assert.False(t, b.ReadButton(hal.StopButton))
}

func TestReadRawSensorsADCError(t *testing.T) {
	b := newTestBoard(t)
	defer b.Close()
	b.adc.err = errors.New("spi gone")
	_, err := b.ReadRawSensors()
	assert.ErrorContains(t, err, "spi gone")
}

func TestMotorCommand(t *testing.T) {
	b := newTestBoard(t)
	defer b.Close()

	// Twice, so the default two-sample smoothing settles.
	b.WriteMotorCommand(50, -150)
	b.WriteMotorCommand(50, -150)
	assert.Equal(t, gpio.DutyMax/2, b.pins["pwm-left"].D)
	assert.Equal(t, gpio.Low, b.pins["dir-left"].L)
	assert.Equal(t, gpio.DutyMax, b.pins["pwm-right"].D)
	assert.Equal(t, gpio.High, b.pins["dir-right"].L)
	assert.Equal(t, motorPWMFrequency, b.pins["pwm-left"].F)
}

func TestMotorSmoothing(t *testing.T) {
	pwm := wheel.Of[gpio.PinIO](&gpiotest.Pin{N: "a"}, &gpiotest.Pin{N: "b"})
	dir := wheel.Of[gpio.PinIO](&gpiotest.Pin{N: "c"}, &gpiotest.Pin{N: "d"})
	m, err := newMotorDriver(pwm, dir, 2)
	require.NoError(t, err)

	m.Write(wheel.Of(100, 0))
	assert.Equal(t, motorDuty(50), pwm[wheel.Left].(*gpiotest.Pin).D)
	m.Write(wheel.Of(100, 0))
	assert.Equal(t, motorDuty(100), pwm[wheel.Left].(*gpiotest.Pin).D)
	m.Write(wheel.Of(-100, 0))
	assert.Equal(t, motorDuty(0), pwm[wheel.Left].(*gpiotest.Pin).D)
	assert.Equal(t, 1, m.Direction(wheel.Left), "direction holds while stopped")
	m.Write(wheel.Of(-100, 0))
	assert.Equal(t, -1, m.Direction(wheel.Left))
}

func TestZeroCommandStopsMotorsImmediately(t *testing.T) {
	b := newTestBoard(t)
	defer b.Close()
	require.Equal(t, 2, config.Default().HAL.GPIO.MotorSmoothing)

	for i := 0; i < 5; i++ {
		b.WriteMotorCommand(100, -100)
	}
	require.Equal(t, gpio.DutyMax, b.pins["pwm-left"].D)
	require.Equal(t, gpio.DutyMax, b.pins["pwm-right"].D)

	b.WriteMotorCommand(0, 0)
	assert.Equal(t, gpio.Duty(0), b.pins["pwm-left"].D)
	assert.Equal(t, gpio.Duty(0), b.pins["pwm-right"].D)

	// Smoothing starts again from rest.
	b.WriteMotorCommand(100, 0)
	assert.Equal(t, gpio.DutyMax/2, b.pins["pwm-left"].D)
	assert.Equal(t, gpio.Duty(0), b.pins["pwm-right"].D)
}

func TestEncoderEdgesCountInDrivenDirection(t *testing.T) {
	b := newTestBoard(t)
	defer b.Close()

	b.WriteMotorCommand(-30, 30)
	for i := 0; i < 5; i++ {
		b.pins["enc-left"].EdgesChan <- gpio.High
		b.pins["enc-right"].EdgesChan <- gpio.High
	}
	var total wheel.PerWheel[int]
	require.Eventually(t, func() bool {
		d, err := b.ReadAndResetEncoderDeltas()
		require.NoError(t, err)
		total[wheel.Left] += d.Left()
		total[wheel.Right] += d.Right()
		return total == wheel.Of(-5, 5)
	}, time.Second, time.Millisecond)
}

func TestIndicatorsAndSensorPower(t *testing.T) {
	b := newTestBoard(t)
	defer b.Close()

	b.SetIndicator(2, true)
	assert.Equal(t, gpio.High, b.pins["led2"].L)
	b.SetIndicator(2, false)
	assert.Equal(t, gpio.Low, b.pins["led2"].L)
	b.SetIndicator(7, true)

	b.SetSensorsEnabled(true)
	assert.Equal(t, gpio.High, b.pins["obst-en"].L)
	assert.Equal(t, gpio.High, b.pins["gnd-en"].L)
}

func TestPointing(t *testing.T) {
	b := newTestBoard(t)
	defer b.Close()
	b.WritePointingActuator(-15)
	b.WritePointingActuator(8)
	assert.Equal(t, []int{-15, 8}, b.pointer.positions)
}

func TestWaitForTick(t *testing.T) {
	b := newTestBoard(t)
	defer b.Close()
	require.NoError(t, b.WaitForTick(context.Background()))
}

func TestClose(t *testing.T) {
	b := newTestBoard(t)
	b.WriteMotorCommand(100, 100)
	b.SetIndicator(0, true)
	require.NoError(t, b.Close())
	assert.Equal(t, gpio.Low, b.pins["pwm-left"].L)
	assert.Equal(t, gpio.Low, b.pins["led0"].L)
	assert.True(t, b.adc.closed)
	assert.True(t, b.ground.closed)
	assert.True(t, b.pointer.closed)
}

func TestPWMServoPulse(t *testing.T) {
	cfg := config.Default()
	pin := &gpiotest.Pin{N: "servo"}
	s, err := newPWMServo(pin, cfg.Pointing, cfg.HAL.GPIO)
	require.NoError(t, err)

	// Inverted: minimum pulse is fully right.
	assert.Equal(t, 2200, s.PulseUS(-15))
	assert.Equal(t, 1450, s.PulseUS(0))
	assert.Equal(t, 700, s.PulseUS(15))
	assert.Equal(t, 700, s.PulseUS(99))

	require.NoError(t, s.SetPosition(0))
	assert.Equal(t, servoFrequency, pin.F)
	assert.Equal(t, gpio.Duty(int64(1450)*int64(gpio.DutyMax)/10000), pin.D)
}

func TestPWMServoRejectsEmptyPulseRange(t *testing.T) {
	cfg := config.Default()
	cfg.HAL.GPIO.ServoMaxUS = cfg.HAL.GPIO.ServoMinUS
	_, err := newPWMServo(&gpiotest.Pin{}, cfg.Pointing, cfg.HAL.GPIO)
	assert.Error(t, err)
}
