package main

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/tigerbot-team/microrato/pkg/actuators"
	"github.com/tigerbot-team/microrato/pkg/config"
	"github.com/tigerbot-team/microrato/pkg/loop"
	"github.com/tigerbot-team/microrato/pkg/picontrol"
	"github.com/tigerbot-team/microrato/pkg/sensors"
	"github.com/tigerbot-team/microrato/pkg/tunable"
	"github.com/tigerbot-team/microrato/pkg/units"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

type MonitorCmd struct {
	VelocityStep int `help:"Velocity change per key press, cm/s." default:"5"`
	PointingStep int `help:"Pointing change per key press, degrees." default:"10"`
}

const (
	chartHeight = 12
	borderSize  = 2
	maxRequests = 16
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("46"))
)

var seriesColors = map[string]string{
	"left":     "196",
	"right":    "51",
	"setpoint": "226",
}

// request runs on the control loop's goroutine; the actuators aren't safe to
// touch from anywhere else.
type request func(act *actuators.Conditioner) error

func (c *MonitorCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	hw, err := openHAL(cfg)
	if err != nil {
		return err
	}
	defer hw.Close()

	ts := &tunable.Tunables{}
	gains := picontrol.NewGains(ts, cfg.Controller.Kp, cfg.Controller.Ki, cfg.Controller.IntegralLimit)
	r, err := loop.New(cfg, hw, gains)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	requests := make(chan request, maxRequests)
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, func(snap sensors.Snapshot, act *actuators.Conditioner) error {
			for {
				select {
				case req := <-requests:
					if err := req(act); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		})
	}()

	m := newMonitorModel(cfg, c, r, ts, requests, done)
	_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
	cancel()
	if !m.loopDone {
		m.loopErr = <-done
	}
	if m.loopErr != nil {
		return m.loopErr
	}
	return err
}

type monitorModel struct {
	cfg      config.Config
	cmd      *MonitorCmd
	runner   *loop.Runner
	tunables *tunable.Tunables
	requests chan<- request
	done     <-chan error

	chart  *streamlinechart.Model
	width  int
	height int

	status   loop.Status
	haveData bool
	velocity wheel.PerWheel[int]
	pointing int
	leds     uint
	message  string
	loopDone bool
	loopErr  error
}

type statusMsg loop.Status
type loopDoneMsg struct{ err error }

func waitForStatus(r *loop.Runner) tea.Cmd {
	return func() tea.Msg {
		return statusMsg(<-r.Statuses())
	}
}

func waitForDone(done <-chan error) tea.Cmd {
	return func() tea.Msg {
		return loopDoneMsg{err: <-done}
	}
}

func newMonitorModel(cfg config.Config, cmd *MonitorCmd, r *loop.Runner, ts *tunable.Tunables,
	requests chan<- request, done <-chan error) *monitorModel {
	maxTicks := float64(picontrol.Setpoint(cfg.Controller.MaxVelocity, cfg.CyclePeriodMS, cfg.Odometry.DistancePerTickUM))
	chart := streamlinechart.New(80, chartHeight,
		streamlinechart.WithYRange(-maxTicks, maxTicks),
	)
	for name, color := range seriesColors {
		chart.SetDataSetStyles(name, runes.ThinLineStyle, lipgloss.NewStyle().Foreground(lipgloss.Color(color)))
	}
	return &monitorModel{
		cfg:      cfg,
		cmd:      cmd,
		runner:   r,
		tunables: ts,
		requests: requests,
		done:     done,
		chart:    &chart,
	}
}

func (m *monitorModel) Init() tea.Cmd {
	return tea.Batch(waitForStatus(m.runner), waitForDone(m.done))
}

func (m *monitorModel) send(desc string, req request) {
	select {
	case m.requests <- req:
		m.message = desc
	default:
		m.message = "control loop busy, dropped: " + desc
		log.Warn().Str("request", desc).Msg("Dropped monitor request")
	}
}

func (m *monitorModel) setVelocity(left, right int) {
	limit := m.cfg.Controller.MaxVelocity
	m.velocity = wheel.Of(units.Clamp(left, -limit, limit), units.Clamp(right, -limit, limit))
	v := m.velocity
	m.send(fmt.Sprintf("velocity %d %d", v.Left(), v.Right()), func(act *actuators.Conditioner) error {
		return act.SetVelocity(v.Left(), v.Right())
	})
}

func (m *monitorModel) rotate(delta int) {
	m.send(fmt.Sprintf("rotate %+d", delta), func(act *actuators.Conditioner) error {
		return act.RotatePointing(delta)
	})
}

func (m *monitorModel) toggleLED(n int) {
	m.leds ^= 1 << uint(n)
	bitmap := m.leds
	m.send(fmt.Sprintf("leds %04b", bitmap), func(act *actuators.Conditioner) error {
		return act.SetLeds(bitmap)
	})
}

func (m *monitorModel) handleKey(key string) tea.Cmd {
	step := m.cmd.VelocityStep
	v := m.velocity
	switch key {
	case "q", "ctrl+c":
		return tea.Quit
	case "up", "w":
		m.setVelocity(v.Left()+step, v.Right()+step)
	case "down", "s":
		m.setVelocity(v.Left()-step, v.Right()-step)
	case "left", "a":
		m.setVelocity(v.Left()-step, v.Right()+step)
	case "right", "d":
		m.setVelocity(v.Left()+step, v.Right()-step)
	case " ":
		m.setVelocity(0, 0)
	case ",":
		m.rotate(-m.cmd.PointingStep)
	case ".":
		m.rotate(m.cmd.PointingStep)
	case "c":
		m.send("centre", func(act *actuators.Conditioner) error {
			return act.SetPointing(0)
		})
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		n := int(key[0] - '1')
		if n < m.cfg.NumLEDs {
			m.toggleLED(n)
		}
	case "tab":
		m.tunables.SelectNext()
	case "shift+tab":
		m.tunables.SelectPrev()
	case "+", "=":
		if t := m.tunables.Current(); t != nil {
			t.Add(1)
		}
	case "-", "_":
		if t := m.tunables.Current(); t != nil {
			t.Add(-1)
		}
	}
	return nil
}

func (m *monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		w := m.width - borderSize - 2
		if w < 40 {
			w = 40
		}
		m.chart.Resize(w, chartHeight)
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case statusMsg:
		m.status = loop.Status(msg)
		m.haveData = true
		m.chart.PushDataSet("left", float64(m.status.Snapshot.TickDeltas.Left()))
		m.chart.PushDataSet("right", float64(m.status.Snapshot.TickDeltas.Right()))
		m.chart.PushDataSet("setpoint", float64(m.status.Setpoints.Left()))
		m.chart.DrawAll()
		return m, waitForStatus(m.runner)

	case loopDoneMsg:
		m.loopDone = true
		m.loopErr = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m *monitorModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("microrato monitor"))
	sb.WriteString(labelStyle.Render(fmt.Sprintf("  driver=%s period=%dms", m.cfg.HAL.Driver, m.cfg.CyclePeriodMS)))
	sb.WriteString("\n\n")

	if !m.haveData {
		sb.WriteString(labelStyle.Render("Waiting for the control loop..."))
		sb.WriteString("\n")
	} else {
		sb.WriteString(m.renderStatus())
	}

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n\n")

	sb.WriteString(m.renderTunables())
	sb.WriteString("\n")
	sb.WriteString(labelStyle.Render("arrows/wasd drive  space stop  , . rotate  c centre  1-9 leds  tab +/- tune  q quit"))
	sb.WriteString("\n")
	if m.message != "" {
		sb.WriteString(labelStyle.Render("> " + m.message))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *monitorModel) renderStatus() string {
	s := m.status
	snap := s.Snapshot
	var sb strings.Builder
	line := func(label, format string, args ...any) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("%-10s", label)))
		sb.WriteString(fmt.Sprintf(format, args...))
		sb.WriteString("\n")
	}

	line("cycle", "%d", snap.Cycle)
	line("velocity", "L %4d  R %4d cm/s   setpoint L %3d  R %3d   command L %4d  R %4d",
		s.Velocity.Left(), s.Velocity.Right(), s.Setpoints.Left(), s.Setpoints.Right(),
		s.Command.Left(), s.Command.Right())
	line("odometry", "L %6d  R %6d cm   (partial L %d  R %d)",
		snap.OdometryTotalCM.Left(), snap.OdometryTotalCM.Right(),
		snap.OdometryPartialCM.Left(), snap.OdometryPartialCM.Right())
	line("obstacles", "L %4d  F %4d  R %4d",
		snap.Obstacles[0], snap.Obstacles[1], snap.Obstacles[2])
	line("ground", "%s  centre %s", renderGround(snap.Ground[:]), flag(snap.GroundCenter))
	line("pointing", "%4d deg   beacon %s at %d deg", s.Pointing, flag(snap.Beacon), snap.BeaconDirection)

	battery := fmt.Sprintf("%d.%d V", snap.BatteryDecivolts/10, snap.BatteryDecivolts%10)
	if snap.LowBattery {
		battery = alertStyle.Render(battery + " LOW")
	}
	line("battery", "%s", battery)

	stall := flag(snap.Stalled)
	if snap.Stalled {
		stall = alertStyle.Render("STALLED")
	}
	line("state", "stall %s   start %s   stop %s", stall, flag(snap.StartButton), flag(snap.StopButton))
	line("timing", "avg %v  max %v  overruns %d", s.Timing.Average, s.Timing.Max, s.Timing.Overruns)
	return sb.String()
}

func (m *monitorModel) renderTunables() string {
	current := m.tunables.Current()
	var items []string
	for _, t := range m.tunables.All {
		item := fmt.Sprintf("%s=%d", t.Name, t.Get())
		if t == current {
			item = activeStyle.Render("[" + item + "]")
		}
		items = append(items, item)
	}
	return strings.Join(items, "  ")
}

func renderGround(ground []bool) string {
	var sb strings.Builder
	for _, on := range ground {
		if on {
			sb.WriteString("■")
		} else {
			sb.WriteString("□")
		}
	}
	return sb.String()
}

func renderLegend() string {
	var items []string
	for _, name := range []string{"left", "right", "setpoint"} {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		items = append(items, style.Render("━━")+" "+name)
	}
	return strings.Join(items, "  ") + labelStyle.Render("   (ticks per cycle)")
}

func flag(b bool) string {
	if b {
		return activeStyle.Render("on ")
	}
	return "off"
}

