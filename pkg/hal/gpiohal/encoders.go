package gpiohal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/microrato/pkg/wheel"
)

// edgeTimeout bounds how long an encoder goroutine waits before rechecking
// for shutdown.
const edgeTimeout = 100 * time.Millisecond

// countEdges counts rising edges on one wheel's encoder.  Each edge counts
// one tick in the direction the wheel was last driven.
func (b *Board) countEdges(ctx context.Context, w wheel.Wheel) {
	defer b.encodersDone.Done()
	pin := b.pins.Encoders[w]
	log.Debug().Stringer("wheel", w).Str("pin", pin.String()).Msg("Encoder loop started")
	for ctx.Err() == nil {
		if pin.WaitForEdge(edgeTimeout) {
			b.counters.Tick(w, b.motors.Direction(w))
		}
	}
}
