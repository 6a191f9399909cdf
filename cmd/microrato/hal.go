package main

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/microrato/pkg/config"
	"github.com/tigerbot-team/microrato/pkg/hal"
	"github.com/tigerbot-team/microrato/pkg/hal/gpiohal"
	"github.com/tigerbot-team/microrato/pkg/hal/serialhal"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

func openHAL(cfg config.Config) (hal.Interface, error) {
	period := time.Duration(cfg.CyclePeriodMS) * time.Millisecond
	log.Info().Str("driver", cfg.HAL.Driver).Dur("period", period).Msg("Opening HAL")

	switch cfg.HAL.Driver {
	case config.DriverSim:
		return hal.NewSim(hal.SimOptions{
			Period:           period,
			PlantGainPercent: cfg.HAL.Sim.PlantGainPercent,
			EncoderSigns:     wheel.Of(cfg.Odometry.LeftSign, cfg.Odometry.RightSign),
			BatteryRaw:       cfg.HAL.Sim.BatteryRaw,
			NumLEDs:          cfg.NumLEDs,
		}), nil
	case config.DriverDummy:
		return hal.NewDummy(period), nil
	case config.DriverGPIO:
		b, err := gpiohal.Open(cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.DriverSerial:
		s := cfg.HAL.Serial
		b, err := serialhal.Open(s.Port, s.BaudRate, time.Duration(s.ReadTimeoutMS)*time.Millisecond, period)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, errors.Errorf("unknown HAL driver %q", cfg.HAL.Driver)
}
