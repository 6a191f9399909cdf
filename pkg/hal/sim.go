package hal

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/microrato/pkg/wheel"
)

type SimOptions struct {
	// Period between ticks.  Zero makes WaitForTick return immediately, so
	// tests can step the loop by hand.
	Period time.Duration
	// PlantGainPercent turns each motor command into encoder ticks per cycle:
	// ticks = command * gain / 100.  Zero leaves the wheels still, as if
	// they were blocked.
	PlantGainPercent int
	// EncoderSigns is the direction each encoder counts when its wheel
	// moves forwards.
	EncoderSigns wheel.PerWheel[int]
	BatteryRaw   int
	NumLEDs      int
}

// Sim is an in-memory robot.  Tests set the raw sensor values and inspect
// what the conditioners wrote; the control loop can also run against it
// with a crude first-order plant turning motor commands into encoder ticks.
type Sim struct {
	opts     SimOptions
	ticker   *time.Ticker
	counters EncoderCounters

	lock           sync.Mutex
	raw            RawSensorSnapshot
	buttons        [2]bool
	readErr        error
	motor          wheel.PerWheel[int]
	pointing       int
	leds           []bool
	sensorsEnabled bool
	closed         bool

	motorWrites     int
	pointingWrites  int
	indicatorWrites int
	ticks           int
}

func NewSim(opts SimOptions) *Sim {
	if opts.EncoderSigns == (wheel.PerWheel[int]{}) {
		opts.EncoderSigns = wheel.Of(1, 1)
	}
	s := &Sim{
		opts: opts,
		leds: make([]bool, opts.NumLEDs),
	}
	s.raw.Battery = opts.BatteryRaw
	s.raw.Obstacles = [NumObstacleSensors]int{ObstacleInfinite, ObstacleInfinite, ObstacleInfinite}
	return s
}

func (s *Sim) WaitForTick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.opts.Period > 0 {
		if s.ticker == nil {
			s.ticker = time.NewTicker(s.opts.Period)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ticker.C:
		}
	}

	s.lock.Lock()
	s.ticks++
	var deltas wheel.PerWheel[int]
	for w, cmd := range s.motor {
		deltas[w] = cmd * s.opts.PlantGainPercent / 100 * s.opts.EncoderSigns[w]
	}
	s.lock.Unlock()
	if deltas != (wheel.PerWheel[int]{}) {
		s.counters.Add(deltas)
	}
	return nil
}

func (s *Sim) ReadRawSensors() (RawSensorSnapshot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.readErr != nil {
		return RawSensorSnapshot{}, s.readErr
	}
	raw := s.raw
	raw.StartButton = s.buttons[StartButton]
	raw.StopButton = s.buttons[StopButton]
	return raw, nil
}

func (s *Sim) ReadAndResetEncoderDeltas() (wheel.PerWheel[int], error) {
	s.lock.Lock()
	err := s.readErr
	s.lock.Unlock()
	if err != nil {
		return wheel.PerWheel[int]{}, err
	}
	return s.counters.ReadAndReset(), nil
}

func (s *Sim) WriteMotorCommand(left, right int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.motor = wheel.Of(ClampMotor(left), ClampMotor(right))
	s.motorWrites++
}

func (s *Sim) WritePointingActuator(native int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pointing = native
	s.pointingWrites++
}

func (s *Sim) SetIndicator(n int, on bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if n < 0 || n >= len(s.leds) {
		log.Warn().Int("n", n).Msg("Sim: indicator out of range")
		return
	}
	s.leds[n] = on
	s.indicatorWrites++
}

func (s *Sim) ReadButton(b Button) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.buttons[b]
}

func (s *Sim) SetSensorsEnabled(on bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sensorsEnabled = on
}

func (s *Sim) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.closed = true
	return nil
}

// Setters for the simulated world.

func (s *Sim) SetObstacles(left, front, right int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.raw.Obstacles = [NumObstacleSensors]int{left, front, right}
}

func (s *Sim) SetGround(bits uint8) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.raw.Ground = bits
}

func (s *Sim) SetBeacon(on bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.raw.Beacon = on
}

func (s *Sim) SetBattery(raw int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.raw.Battery = raw
}

func (s *Sim) SetButton(b Button, pressed bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.buttons[b] = pressed
}

// SetReadError makes subsequent sensor reads fail with err; nil clears it.
func (s *Sim) SetReadError(err error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.readErr = err
}

// AddEncoderTicks feeds raw ticks into the encoder counters, as an edge
// source would.
func (s *Sim) AddEncoderTicks(left, right int) {
	s.counters.Add(wheel.Of(left, right))
}

// Inspection of what was written.

func (s *Sim) MotorCommand() wheel.PerWheel[int] {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.motor
}

func (s *Sim) PointingNative() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.pointing
}

func (s *Sim) Indicator(n int) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if n < 0 || n >= len(s.leds) {
		return false
	}
	return s.leds[n]
}

func (s *Sim) SensorsEnabled() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.sensorsEnabled
}

func (s *Sim) Closed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.closed
}

type SimWriteCounts struct {
	Motor, Pointing, Indicator int
}

func (s *Sim) WriteCounts() SimWriteCounts {
	s.lock.Lock()
	defer s.lock.Unlock()
	return SimWriteCounts{
		Motor:     s.motorWrites,
		Pointing:  s.pointingWrites,
		Indicator: s.indicatorWrites,
	}
}

func (s *Sim) Ticks() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.ticks
}

var _ Interface = (*Sim)(nil)
