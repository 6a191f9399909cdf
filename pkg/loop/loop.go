// Package loop runs the fixed-period control cycle: wait for the tick, apply
// the actuator requests, condition the sensors, then hand the new snapshot to
// the application.
package loop

import (
	"context"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/microrato/pkg/actuators"
	"github.com/tigerbot-team/microrato/pkg/config"
	"github.com/tigerbot-team/microrato/pkg/hal"
	"github.com/tigerbot-team/microrato/pkg/picontrol"
	"github.com/tigerbot-team/microrato/pkg/sensors"
	"github.com/tigerbot-team/microrato/pkg/sharedstate"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

// ErrDone may be returned by a StepFunc to end Run cleanly.
var ErrDone = errors.New("done")

// StepFunc is the application's per-cycle logic.  It reads the snapshot and
// queues requests on the actuators; they reach the hardware next cycle.
type StepFunc func(snap sensors.Snapshot, act *actuators.Conditioner) error

const timingWindow = 100

// Status is published after every cycle for diagnostic consumers.
type Status struct {
	Snapshot  sensors.Snapshot
	Velocity  wheel.PerWheel[int]
	Setpoints wheel.PerWheel[int]
	Command   wheel.PerWheel[int]
	Pointing  int
	Timing    Timing
}

type Timing struct {
	Average  time.Duration
	Max      time.Duration
	Overruns uint64
}

type Runner struct {
	hw        hal.Interface
	shared    *sharedstate.State
	sensors   *sensors.Conditioner
	actuators *actuators.Conditioner
	period    time.Duration
	log       zerolog.Logger

	statusC chan Status

	lock     sync.Mutex
	avg      *movingaverage.MovingAverage
	max      time.Duration
	overruns uint64
}

// New builds both conditioners over hw, sharing state between them and
// feeding the sensor side's odometry to the velocity controller.
func New(cfg config.Config, hw hal.Interface, gains picontrol.Gains) (*Runner, error) {
	shared := sharedstate.New()
	sc, err := sensors.New(cfg, hw, shared)
	if err != nil {
		return nil, errors.Wrap(err, "sensor conditioner")
	}
	ac, err := actuators.New(cfg, hw, shared, sc.Odometry(), gains)
	if err != nil {
		return nil, errors.Wrap(err, "actuator conditioner")
	}
	return &Runner{
		hw:        hw,
		shared:    shared,
		sensors:   sc,
		actuators: ac,
		period:    time.Duration(cfg.CyclePeriodMS) * time.Millisecond,
		log:       log.With().Str("component", "loop").Logger(),
		statusC:   make(chan Status, 1),
		avg:       movingaverage.New(timingWindow),
	}, nil
}

func (r *Runner) Sensors() *sensors.Conditioner {
	return r.sensors
}

func (r *Runner) Actuators() *actuators.Conditioner {
	return r.actuators
}

// Statuses returns a channel holding the most recent cycle's status.  Older
// statuses are dropped if the reader falls behind.
func (r *Runner) Statuses() <-chan Status {
	return r.statusC
}

// Run initialises both conditioners and cycles until ctx is cancelled, step
// returns an error or a conditioner fails.  Cancellation and ErrDone return
// nil.  Both conditioners are stopped on the way out, which leaves the
// motors off.
func (r *Runner) Run(ctx context.Context, step StepFunc) error {
	r.sensors.Init()
	r.actuators.Init()
	defer func() {
		r.actuators.Stop()
		r.sensors.Stop()
	}()

	r.log.Info().Dur("period", r.period).Msg("Control loop started")
	defer r.log.Info().Msg("Control loop stopped")

	for {
		if err := r.hw.WaitForTick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "waiting for tick")
		}
		start := time.Now()

		snap, err := r.cycle()
		if err != nil {
			r.log.Error().Err(err).Msg("Control cycle failed")
			return err
		}
		if step != nil {
			if err := step(snap, r.actuators); err != nil {
				if errors.Is(err, ErrDone) {
					return nil
				}
				return errors.Wrap(err, "application step")
			}
		}

		r.recordTiming(time.Since(start))
		r.publish(snap)
	}
}

// cycle applies the queued actuator requests before conditioning the
// sensors, so the stall check sees this cycle's setpoints.
func (r *Runner) cycle() (sensors.Snapshot, error) {
	if err := r.actuators.Update(); err != nil {
		return sensors.Snapshot{}, err
	}
	if err := r.sensors.Update(); err != nil {
		return sensors.Snapshot{}, err
	}
	return r.sensors.Snapshot()
}

func (r *Runner) recordTiming(elapsed time.Duration) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.avg.Add(float64(elapsed))
	if elapsed > r.max {
		r.max = elapsed
	}
	if r.period > 0 && elapsed > r.period {
		r.overruns++
		r.log.Warn().Dur("elapsed", elapsed).Dur("period", r.period).Msg("Control cycle overran")
	}
}

// Timing returns the moving average and worst case of the work done per
// cycle, excluding the wait for the tick.
func (r *Runner) Timing() Timing {
	r.lock.Lock()
	defer r.lock.Unlock()
	return Timing{
		Average:  time.Duration(r.avg.Avg()),
		Max:      r.max,
		Overruns: r.overruns,
	}
}

func (r *Runner) publish(snap sensors.Snapshot) {
	velocity, _ := r.actuators.Velocity()
	command, _ := r.actuators.Command()
	s := Status{
		Snapshot:  snap,
		Velocity:  velocity,
		Setpoints: r.shared.Setpoints(),
		Command:   command,
		Pointing:  r.shared.Pointing(),
		Timing:    r.Timing(),
	}
	select {
	case r.statusC <- s:
	default:
		select {
		case <-r.statusC:
		default:
		}
		select {
		case r.statusC <- s:
		default:
		}
	}
}
