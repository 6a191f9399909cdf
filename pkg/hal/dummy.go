package hal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/microrato/pkg/wheel"
)

// Dummy is a HAL with no hardware behind it.  It logs every call and reads
// back an empty arena with a healthy battery.  The start button always reads
// pressed so nothing waits on it; stop never does.
type Dummy struct {
	period time.Duration
	ticker *time.Ticker
}

// DummyBatteryRaw is the battery reading the Dummy reports, about 9.6V
// through the reference divider.
const DummyBatteryRaw = 972

func NewDummy(period time.Duration) *Dummy {
	return &Dummy{period: period}
}

func (d *Dummy) WaitForTick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.ticker == nil {
		log.Info().Dur("period", d.period).Msg("DHW: Starting ticker")
		d.ticker = time.NewTicker(d.period)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ticker.C:
		return nil
	}
}

func (d *Dummy) ReadRawSensors() (RawSensorSnapshot, error) {
	log.Debug().Msg("DHW: ReadRawSensors")
	return RawSensorSnapshot{
		Obstacles:   [NumObstacleSensors]int{ObstacleInfinite, ObstacleInfinite, ObstacleInfinite},
		Battery:     DummyBatteryRaw,
		StartButton: true,
	}, nil
}

func (d *Dummy) ReadAndResetEncoderDeltas() (wheel.PerWheel[int], error) {
	log.Debug().Msg("DHW: ReadAndResetEncoderDeltas")
	return wheel.PerWheel[int]{}, nil
}

func (d *Dummy) WriteMotorCommand(left, right int) {
	log.Debug().Int("left", ClampMotor(left)).Int("right", ClampMotor(right)).Msg("DHW: WriteMotorCommand")
}

func (d *Dummy) WritePointingActuator(native int) {
	log.Debug().Int("native", native).Msg("DHW: WritePointingActuator")
}

func (d *Dummy) SetIndicator(n int, on bool) {
	log.Info().Int("n", n).Bool("on", on).Msg("DHW: SetIndicator")
}

func (d *Dummy) ReadButton(b Button) bool {
	log.Debug().Stringer("button", b).Msg("DHW: ReadButton")
	return b == StartButton
}

func (d *Dummy) SetSensorsEnabled(on bool) {
	log.Info().Bool("on", on).Msg("DHW: SetSensorsEnabled")
}

func (d *Dummy) Close() error {
	log.Info().Msg("DHW: Close")
	if d.ticker != nil {
		d.ticker.Stop()
	}
	return nil
}

var _ Interface = (*Dummy)(nil)
