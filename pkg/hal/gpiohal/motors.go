package gpiohal

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/physic"

	"github.com/tigerbot-team/microrato/pkg/filter"
	"github.com/tigerbot-team/microrato/pkg/hal"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

const motorPWMFrequency = 20 * physic.KiloHertz

// motorDriver drives two H-bridge channels, each with a PWM pin for the
// magnitude and a direction pin for the sign.  Non-zero commands are averaged
// over the last few writes to soften steps in the drive level.
type motorDriver struct {
	pwm, dir wheel.PerWheel[gpio.PinIO]
	smooth   wheel.PerWheel[*filter.RollingAverage]

	// forwards records the direction each wheel was last driven in; the
	// single-channel encoders can't tell direction themselves.
	forwards [2]int32
}

func newMotorDriver(pwm, dir wheel.PerWheel[gpio.PinIO], smoothing int) (*motorDriver, error) {
	m := &motorDriver{pwm: pwm, dir: dir}
	for _, w := range wheel.All() {
		var err error
		m.smooth[w], err = filter.NewRollingAverage(smoothing, 0)
		if err != nil {
			return nil, err
		}
		atomic.StoreInt32(&m.forwards[w], 1)
		if err := dir[w].Out(gpio.Low); err != nil {
			return nil, err
		}
		if err := pwm[w].Out(gpio.Low); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func motorDuty(level int) gpio.Duty {
	if level < 0 {
		level = -level
	}
	return gpio.Duty(int64(level) * int64(gpio.DutyMax) / hal.MaxMotorCommand)
}

func (m *motorDriver) Write(cmd wheel.PerWheel[int]) {
	for _, w := range wheel.All() {
		// A zero command stops the wheel at once and forgets the history.
		level := 0
		if cmd[w] == 0 {
			m.smooth[w].Reset()
		} else {
			level = m.smooth[w].Update(cmd[w])
		}
		reverse := level < 0
		if level != 0 {
			dir := int32(1)
			if reverse {
				dir = -1
			}
			atomic.StoreInt32(&m.forwards[w], dir)
		}
		if err := m.dir[w].Out(gpio.Level(reverse)); err != nil {
			log.Warn().Err(err).Stringer("wheel", w).Msg("Failed to set motor direction")
			continue
		}
		if err := m.pwm[w].PWM(motorDuty(level), motorPWMFrequency); err != nil {
			log.Warn().Err(err).Stringer("wheel", w).Msg("Failed to set motor PWM")
		}
	}
}

// Direction is +1 or -1 for the way the wheel was last driven.
func (m *motorDriver) Direction(w wheel.Wheel) int {
	return int(atomic.LoadInt32(&m.forwards[w]))
}

func (m *motorDriver) Stop() error {
	var firstErr error
	for _, w := range wheel.All() {
		m.smooth[w].Reset()
		if err := m.pwm[w].Out(gpio.Low); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
