// Package gpiohal drives the robot directly from a Linux board's GPIO header:
// H-bridge PWM and direction pins, single-channel wheel encoders, LEDs,
// buttons and the beacon receiver on GPIO, obstacle sensors and battery
// divider on an MCP3008, and the ground sensors on a PCF8574.
package gpiohal

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"github.com/tigerbot-team/microrato/pkg/config"
	"github.com/tigerbot-team/microrato/pkg/hal"
	"github.com/tigerbot-team/microrato/pkg/hal/expander"
	"github.com/tigerbot-team/microrato/pkg/hal/spiadc"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

// Pins are the board's GPIO lines.  Per-wheel arrays are indexed by
// wheel.Wheel.
type Pins struct {
	MotorPWM wheel.PerWheel[gpio.PinIO]
	MotorDir wheel.PerWheel[gpio.PinIO]
	Encoders wheel.PerWheel[gpio.PinIO]
	LEDs     []gpio.PinIO

	Start, Stop, Beacon      gpio.PinIO
	ObstEnable, GroundEnable gpio.PinIO
}

type analogReader interface {
	Read(channel int) (int, error)
	Close() error
}

type groundReader interface {
	ReadInputs() (byte, error)
	Close() error
}

// pointer positions the pointing actuator.
type pointer interface {
	SetPosition(native int) error
	Close() error
}

const groundMask = 1<<hal.NumGroundSensors - 1

type Board struct {
	pins    Pins
	adc     analogReader
	ground  groundReader
	pointer pointer

	obstacleChannels [hal.NumObstacleSensors]int
	batteryChannel   int

	motors   *motorDriver
	counters hal.EncoderCounters

	cancelEncoders context.CancelFunc
	encodersDone   sync.WaitGroup

	period time.Duration
	ticker *time.Ticker
}

// Open claims the pins and peripherals named in the config.
func Open(cfg config.Config) (*Board, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialise periph")
	}
	g := cfg.HAL.GPIO

	var pins Pins
	var err error
	lookup := func(name string) gpio.PinIO {
		if err != nil {
			return nil
		}
		p := gpioreg.ByName(name)
		if p == nil {
			err = errors.Errorf("no such GPIO pin %q", name)
		}
		return p
	}
	for _, w := range wheel.All() {
		pins.MotorPWM[w] = lookup(g.MotorPWMPins[w])
		pins.MotorDir[w] = lookup(g.MotorDirPins[w])
		pins.Encoders[w] = lookup(g.EncoderPins[w])
	}
	for i := 0; i < cfg.NumLEDs; i++ {
		pins.LEDs = append(pins.LEDs, lookup(g.LEDPins[i]))
	}
	pins.Start = lookup(g.StartButtonPin)
	pins.Stop = lookup(g.StopButtonPin)
	pins.Beacon = lookup(g.BeaconPin)
	pins.ObstEnable = lookup(g.ObstEnablePin)
	pins.GroundEnable = lookup(g.GroundEnablePin)
	if err != nil {
		return nil, err
	}

	adc, err := spiadc.Open(g.SPIPort)
	if err != nil {
		return nil, err
	}
	adc.SetSamples(g.ADCSamples)
	ground, err := expander.Open(g.I2CBus, g.ExpanderAddr, groundMask)
	if err != nil {
		_ = adc.Close()
		return nil, err
	}

	var ptr pointer
	if g.BusServoPort != "" {
		ptr, err = openBusServo(g.BusServoPort, g.BusServoBaud, g.BusServoID)
	} else {
		servoPin := gpioreg.ByName(g.ServoPin)
		if servoPin == nil {
			err = errors.Errorf("no such GPIO pin %q", g.ServoPin)
		} else {
			ptr, err = newPWMServo(servoPin, cfg.Pointing, g)
		}
	}
	if err != nil {
		_ = adc.Close()
		_ = ground.Close()
		return nil, err
	}

	b, err := newBoard(cfg, pins, adc, ground, ptr)
	if err != nil {
		_ = adc.Close()
		_ = ground.Close()
		_ = ptr.Close()
		return nil, err
	}
	log.Info().Msg("GPIO board opened")
	return b, nil
}

func newBoard(cfg config.Config, pins Pins, adc analogReader, ground groundReader, ptr pointer) (*Board, error) {
	g := cfg.HAL.GPIO
	b := &Board{
		pins:           pins,
		adc:            adc,
		ground:         ground,
		pointer:        ptr,
		batteryChannel: g.BatteryChannel,
		period:         time.Duration(cfg.CyclePeriodMS) * time.Millisecond,
	}
	copy(b.obstacleChannels[:], g.ObstacleChannels)

	var err error
	b.motors, err = newMotorDriver(pins.MotorPWM, pins.MotorDir, g.MotorSmoothing)
	if err != nil {
		return nil, err
	}

	type inputPin struct {
		name string
		pin  gpio.PinIO
		pull gpio.Pull
	}
	for _, in := range []inputPin{
		{"start", pins.Start, gpio.PullUp},
		{"stop", pins.Stop, gpio.PullUp},
		{"beacon", pins.Beacon, gpio.PullDown},
	} {
		if err := in.pin.In(in.pull, gpio.NoEdge); err != nil {
			return nil, errors.Wrapf(err, "failed to configure %s input", in.name)
		}
	}
	outputs := append([]gpio.PinIO{pins.ObstEnable, pins.GroundEnable}, pins.LEDs...)
	for _, out := range outputs {
		if err := out.Out(gpio.Low); err != nil {
			return nil, errors.Wrapf(err, "failed to configure output %s", out)
		}
	}
	for _, w := range wheel.All() {
		if err := pins.Encoders[w].In(gpio.PullUp, gpio.RisingEdge); err != nil {
			return nil, errors.Wrapf(err, "failed to configure %v encoder", w)
		}
	}

	var ctx context.Context
	ctx, b.cancelEncoders = context.WithCancel(context.Background())
	for _, w := range wheel.All() {
		b.encodersDone.Add(1)
		go b.countEdges(ctx, w)
	}
	return b, nil
}

func (b *Board) WaitForTick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.ticker == nil {
		b.ticker = time.NewTicker(b.period)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ticker.C:
		return nil
	}
}

func (b *Board) ReadRawSensors() (raw hal.RawSensorSnapshot, err error) {
	for i, ch := range b.obstacleChannels {
		raw.Obstacles[i], err = b.adc.Read(ch)
		if err != nil {
			return hal.RawSensorSnapshot{}, errors.Wrap(err, "failed to read obstacle sensor")
		}
	}
	raw.Battery, err = b.adc.Read(b.batteryChannel)
	if err != nil {
		return hal.RawSensorSnapshot{}, errors.Wrap(err, "failed to read battery")
	}
	ground, err := b.ground.ReadInputs()
	if err != nil {
		return hal.RawSensorSnapshot{}, errors.Wrap(err, "failed to read ground sensors")
	}
	raw.Ground = ground & groundMask
	raw.Beacon = b.pins.Beacon.Read() == gpio.High
	raw.StartButton = b.ReadButton(hal.StartButton)
	raw.StopButton = b.ReadButton(hal.StopButton)
	return raw, nil
}

func (b *Board) ReadAndResetEncoderDeltas() (wheel.PerWheel[int], error) {
	return b.counters.ReadAndReset(), nil
}

func (b *Board) WriteMotorCommand(left, right int) {
	b.motors.Write(wheel.Of(hal.ClampMotor(left), hal.ClampMotor(right)))
}

func (b *Board) WritePointingActuator(native int) {
	if err := b.pointer.SetPosition(native); err != nil {
		log.Warn().Err(err).Int("native", native).Msg("Failed to position pointing actuator")
	}
}

func (b *Board) SetIndicator(n int, on bool) {
	if n < 0 || n >= len(b.pins.LEDs) {
		log.Warn().Int("n", n).Msg("Indicator out of range")
		return
	}
	if err := b.pins.LEDs[n].Out(gpio.Level(on)); err != nil {
		log.Warn().Err(err).Int("n", n).Msg("Failed to set indicator")
	}
}

// Buttons pull up and short to ground when pressed.
func (b *Board) ReadButton(btn hal.Button) bool {
	pin := b.pins.Start
	if btn == hal.StopButton {
		pin = b.pins.Stop
	}
	return pin.Read() == gpio.Low
}

func (b *Board) SetSensorsEnabled(on bool) {
	for _, p := range []gpio.PinIO{b.pins.ObstEnable, b.pins.GroundEnable} {
		if err := p.Out(gpio.Level(on)); err != nil {
			log.Warn().Err(err).Str("pin", p.String()).Msg("Failed to switch sensor power")
		}
	}
}

func (b *Board) Close() error {
	b.cancelEncoders()
	b.encodersDone.Wait()
	if b.ticker != nil {
		b.ticker.Stop()
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	record(b.motors.Stop())
	for _, led := range b.pins.LEDs {
		record(led.Out(gpio.Low))
	}
	b.SetSensorsEnabled(false)
	record(b.pointer.Close())
	record(b.adc.Close())
	record(b.ground.Close())
	log.Info().Err(firstErr).Msg("GPIO board closed")
	return firstErr
}

var _ hal.Interface = (*Board)(nil)
