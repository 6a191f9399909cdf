package gpiohal

import (
	"context"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"

	"github.com/tigerbot-team/microrato/pkg/config"
	"github.com/tigerbot-team/microrato/pkg/units"
)

const servoFrequency = 100 * physic.Hertz

// pwmServo is a hobby servo on a PWM pin.  Native positions map linearly
// onto the configured pulse width range.
type pwmServo struct {
	pin                  gpio.PinIO
	minNative, maxNative int
	minUS, maxUS         int
	inverse              bool
}

func newPWMServo(pin gpio.PinIO, p config.PointingConfig, g config.GPIOConfig) (*pwmServo, error) {
	if g.ServoMaxUS <= g.ServoMinUS {
		return nil, errors.Errorf("servo pulse range [%d, %d]us is empty", g.ServoMinUS, g.ServoMaxUS)
	}
	return &pwmServo{
		pin:       pin,
		minNative: p.MinNative,
		maxNative: p.MaxNative,
		minUS:     g.ServoMinUS,
		maxUS:     g.ServoMaxUS,
		inverse:   g.ServoInverse,
	}, nil
}

// PulseUS is the pulse width for a native position.
func (s *pwmServo) PulseUS(native int) int {
	span := s.maxNative - s.minNative
	idx := units.Clamp(native, s.minNative, s.maxNative) - s.minNative
	if s.inverse {
		idx = span - idx
	}
	return s.minUS + idx*(s.maxUS-s.minUS)/span
}

func (s *pwmServo) SetPosition(native int) error {
	us := int64(s.PulseUS(native))
	periodUS := int64(time.Second/time.Microsecond) * int64(physic.Hertz) / int64(servoFrequency)
	duty := gpio.Duty(us * int64(gpio.DutyMax) / periodUS)
	return s.pin.PWM(duty, servoFrequency)
}

func (s *pwmServo) Close() error {
	return s.pin.Out(gpio.Low)
}

// busServo is a Feetech STS bus servo.  Native positions are the servo's own
// position units.
type busServo struct {
	bus   *feetech.Bus
	group *feetech.ServoGroup
	id    int
}

const busServoTimeout = 50 * time.Millisecond

func openBusServo(port string, baud, id int) (*busServo, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baud,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open servo bus %s", port)
	}
	group := feetech.NewServoGroupByIDs(bus, id)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := group.EnableAll(ctx); err != nil {
		_ = bus.Close()
		return nil, errors.Wrapf(err, "failed to enable servo %d", id)
	}
	return &busServo{bus: bus, group: group, id: id}, nil
}

func (s *busServo) SetPosition(native int) error {
	ctx, cancel := context.WithTimeout(context.Background(), busServoTimeout)
	defer cancel()
	return s.group.SetPositions(ctx, feetech.PositionMap{s.id: native})
}

func (s *busServo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.group.DisableAll(ctx); err != nil {
		_ = s.bus.Close()
		return err
	}
	return s.bus.Close()
}
