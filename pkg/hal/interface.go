// Package hal is the boundary between the conditioning layer and the robot
// hardware.  Conditioners only talk to an Interface; the drivers in the
// sub-packages, the Dummy and the Sim implement it.
package hal

import (
	"context"

	"github.com/tigerbot-team/microrato/pkg/wheel"
)

// ObstacleInfinite is the reading a HAL reports when an obstacle sensor sees
// nothing in range.
const ObstacleInfinite = 1000

const (
	ObstacleLeft = iota
	ObstacleFront
	ObstacleRight
	NumObstacleSensors
)

// NumGroundSensors is the width of the RawSensorSnapshot.Ground bitfield.
const NumGroundSensors = 5

type Button int

const (
	StartButton Button = iota
	StopButton
)

func (b Button) String() string {
	switch b {
	case StartButton:
		return "start"
	case StopButton:
		return "stop"
	}
	return "unknown"
}

// RawSensorSnapshot is one cycle's worth of unconditioned readings.
type RawSensorSnapshot struct {
	// Obstacles is indexed by ObstacleLeft, ObstacleFront, ObstacleRight.
	Obstacles [NumObstacleSensors]int
	// Ground holds one bit per ground sensor; bit 0 is the rightmost sensor
	// and bit 4 the leftmost.
	Ground uint8
	Beacon bool
	// Battery is in raw ADC counts.
	Battery int
	// EncoderDeltas are the raw ticks counted since the previous read,
	// before any per-wheel sign correction.
	EncoderDeltas wheel.PerWheel[int]

	StartButton, StopButton bool
}

type Interface interface {
	// WaitForTick blocks until the start of the next control cycle.
	WaitForTick(ctx context.Context) error

	// ReadRawSensors samples every sensor except the encoders;
	// EncoderDeltas is left zero.
	ReadRawSensors() (RawSensorSnapshot, error)
	// ReadAndResetEncoderDeltas atomically takes both wheels' tick counts
	// and zeroes them.
	ReadAndResetEncoderDeltas() (wheel.PerWheel[int], error)

	// Writes are fire-and-forget; implementations log failures.

	// WriteMotorCommand sets the motor drive levels, clamped to
	// +/-MaxMotorCommand.
	WriteMotorCommand(left, right int)
	WritePointingActuator(native int)
	SetIndicator(n int, on bool)
	// ReadButton reports whether the button is pressed; active-low inputs
	// are already inverted.
	ReadButton(b Button) bool
	SetSensorsEnabled(on bool)

	Close() error
}

// MaxMotorCommand is the full-scale motor drive level.
const MaxMotorCommand = 100

// ClampMotor limits a motor command to the drivable range.
func ClampMotor(v int) int {
	if v > MaxMotorCommand {
		return MaxMotorCommand
	}
	if v < -MaxMotorCommand {
		return -MaxMotorCommand
	}
	return v
}
