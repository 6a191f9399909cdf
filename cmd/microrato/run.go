package main

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/microrato/pkg/actuators"
	"github.com/tigerbot-team/microrato/pkg/loop"
	"github.com/tigerbot-team/microrato/pkg/picontrol"
	"github.com/tigerbot-team/microrato/pkg/sensors"
)

const (
	waitingLED    = 0
	lowBatteryLED = 3
	blinkCycles   = 50
)

type RunCmd struct {
	Left        int           `help:"Left wheel velocity, cm/s." default:"30"`
	Right       int           `help:"Right wheel velocity, cm/s." default:"30"`
	Pointing    int           `help:"Pointing angle, degrees." default:"0"`
	Duration    time.Duration `help:"Stop after driving for this long; 0 drives until the stop button or a stall." default:"0s"`
	NoWait      bool          `help:"Start driving without waiting for the start button."`
	IgnoreStall bool          `help:"Keep driving when the wheels stall."`
}

func (c *RunCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	hw, err := openHAL(cfg)
	if err != nil {
		return err
	}
	defer hw.Close()

	r, err := loop.New(cfg, hw, picontrol.Gains{})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	d := &drive{
		left:        c.Left,
		right:       c.Right,
		pointing:    c.Pointing,
		waiting:     !c.NoWait,
		ignoreStall: c.IgnoreStall,
	}
	if c.Duration > 0 {
		d.maxCycles = uint64(c.Duration / (time.Duration(cfg.CyclePeriodMS) * time.Millisecond))
	}
	if d.waiting {
		log.Info().Msg("Waiting for start button")
	}
	if err := r.Run(ctx, d.step); err != nil {
		return err
	}

	t := r.Timing()
	e := log.Info().
		Str("reason", d.reason).
		Dur("avg-cycle", t.Average).
		Dur("max-cycle", t.Max).
		Uint64("overruns", t.Overruns)
	if snap, err := r.Sensors().Snapshot(); err == nil {
		e = e.Ints("odometry-cm", snap.OdometryTotalCM[:]).Int("battery-dv", snap.BatteryDecivolts)
	}
	e.Msg("Run finished")
	return nil
}

// drive is the application logic for the run command: blink while waiting
// for the start button, then hold the requested velocities and angle until
// something ends the run.
type drive struct {
	left, right, pointing int
	maxCycles             uint64
	ignoreStall           bool

	waiting    bool
	started    uint64
	lowBattery bool
	reason     string
}

func (d *drive) step(snap sensors.Snapshot, act *actuators.Conditioner) error {
	if d.waiting {
		if !snap.StartButton {
			_, err := act.SetLed(waitingLED, (snap.Cycle/blinkCycles)%2 == 0)
			return err
		}
		d.waiting = false
		d.started = snap.Cycle
		log.Info().Uint64("cycle", snap.Cycle).Msg("Start button pressed")
		if _, err := act.SetLed(waitingLED, false); err != nil {
			return err
		}
	}

	switch {
	case snap.StopButton:
		return d.finish("stop button")
	case snap.Stalled && !d.ignoreStall:
		return d.finish("stalled")
	case d.maxCycles > 0 && snap.Cycle-d.started >= d.maxCycles:
		return d.finish("duration")
	}

	if snap.LowBattery != d.lowBattery {
		d.lowBattery = snap.LowBattery
		if _, err := act.SetLed(lowBatteryLED, snap.LowBattery); err != nil {
			return err
		}
	}
	if err := act.SetVelocity(d.left, d.right); err != nil {
		return err
	}
	return act.SetPointing(d.pointing)
}

func (d *drive) finish(reason string) error {
	d.reason = reason
	return loop.ErrDone
}
