package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/microrato/pkg/config"
)

type Globals struct {
	Config   string `help:"Path to the YAML config file." default:"microrato.yaml" type:"path"`
	LogLevel string `help:"Log level." default:"info" enum:"debug,info,warn,error"`
	Driver   string `help:"Override the HAL driver from the config (sim, dummy, gpio, serial)."`
}

var CLI struct {
	Globals

	Run         RunCmd         `cmd:"" help:"Wait for the start button, then drive until stopped."`
	Monitor     MonitorCmd     `cmd:"" help:"Interactive console for driving and tuning the robot."`
	CheckConfig CheckConfigCmd `cmd:"" help:"Load and validate the config, then print the effective values."`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("microrato"),
		kong.Description("Signal conditioning and control loop for a small differential-drive robot."),
		kong.UsageOnError(),
	)
	setUpLogging(CLI.LogLevel)
	err := ctx.Run(&CLI.Globals)
	ctx.FatalIfErrorf(err)
}

func setUpLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli})
}

// loadConfig applies the --driver override on top of the config file.
func (g *Globals) loadConfig() (config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return cfg, err
	}
	if g.Driver != "" {
		cfg.HAL.Driver = g.Driver
		if err := cfg.Validate(); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// signalContext is cancelled by Ctrl-C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case s := <-signals:
			log.Info().Str("signal", s.String()).Msg("Shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx, cancel
}
