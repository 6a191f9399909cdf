// Package serialhal talks to a microcontroller that owns the robot's motors,
// servo and sensors, over a line-based serial protocol.
//
// Each request is one ASCII line.  Requests that read something get exactly
// one reply line:
//
//	R        -> S <obstL> <obstF> <obstR> <ground> <beacon> <battery> <start> <stop>
//	E        -> E <left> <right>     (the MCU zeroes its counters)
//	B <s|t>  -> B <0|1>
//
// Writes get no reply:
//
//	M <left> <right>
//	P <position>
//	L <n> <0|1>
//	N <0|1>
package serialhal

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"github.com/tigerbot-team/microrato/pkg/hal"
	"github.com/tigerbot-team/microrato/pkg/wheel"
)

var ErrTimeout = errors.New("timed out waiting for reply")

type Port interface {
	io.ReadWriteCloser
}

type timeoutPort interface {
	SetReadTimeout(t time.Duration) error
}

type inputResetter interface {
	ResetInputBuffer() error
}

// maxStaleReplies bounds how many lines with the wrong tag a request skips
// while looking for its reply.
const maxStaleReplies = 4

type Bridge struct {
	lock    sync.Mutex
	port    Port
	pending []byte
	buf     [64]byte
	// maxEmptyReads bounds how many zero-length reads (the serial library's
	// timeout signal) a reply may take.
	maxEmptyReads int

	period time.Duration
	ticker *time.Ticker
}

// Open opens the serial device and wraps it in a Bridge.
func Open(path string, baud int, readTimeout, period time.Duration) (*Bridge, error) {
	port, err := serial.Open(path, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", path)
	}
	b, err := New(port, readTimeout, period)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	log.Info().Str("port", path).Int("baud", baud).Msg("Serial bridge opened")
	return b, nil
}

func New(port Port, readTimeout, period time.Duration) (*Bridge, error) {
	if tp, ok := port.(timeoutPort); ok && readTimeout > 0 {
		if err := tp.SetReadTimeout(readTimeout); err != nil {
			return nil, errors.Wrap(err, "failed to set serial read timeout")
		}
	}
	return &Bridge{
		port:          port,
		maxEmptyReads: 3,
		period:        period,
	}, nil
}

func (b *Bridge) send(format string, args ...interface{}) error {
	line := fmt.Sprintf(format, args...) + "\n"
	_, err := io.WriteString(b.port, line)
	return err
}

func (b *Bridge) readLine() (string, error) {
	empty := 0
	for {
		if i := bytes.IndexByte(b.pending, '\n'); i >= 0 {
			line := string(bytes.TrimSpace(b.pending[:i]))
			b.pending = b.pending[i+1:]
			return line, nil
		}
		n, err := b.port.Read(b.buf[:])
		if err != nil {
			return "", err
		}
		if n == 0 {
			empty++
			if empty >= b.maxEmptyReads {
				// Whatever arrived belongs to a reply we've given up on.
				b.pending = nil
				return "", ErrTimeout
			}
			continue
		}
		b.pending = append(b.pending, b.buf[:n]...)
	}
}

// discardInput drops anything received before a request is sent; it can
// only be a late reply to an earlier request.
func (b *Bridge) discardInput() {
	b.pending = nil
	if r, ok := b.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			log.Debug().Err(err).Msg("Failed to reset serial input buffer")
		}
	}
}

// readReply returns the next line tagged with tag.  Lines with another tag
// are late replies to earlier requests and are skipped.
func (b *Bridge) readReply(tag string) (string, []string, error) {
	for stale := 0; ; stale++ {
		line, err := b.readLine()
		if err != nil {
			return "", nil, err
		}
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == tag {
			return line, fields, nil
		}
		if stale >= maxStaleReplies {
			return "", nil, errors.Errorf("unexpected reply %q", line)
		}
		log.Debug().Str("line", line).Str("want", tag).Msg("Skipping stale serial reply")
	}
}

// request sends a line and returns the fields of the reply, checking that it
// starts with tag and has the expected number of values.
func (b *Bridge) request(tag string, values int, format string, args ...interface{}) ([]int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.discardInput()
	if err := b.send(format, args...); err != nil {
		return nil, errors.Wrap(err, "serial write failed")
	}
	line, fields, err := b.readReply(tag)
	if err != nil {
		return nil, errors.Wrap(err, "serial read failed")
	}
	if len(fields) != values+1 {
		return nil, errors.Errorf("unexpected reply %q", line)
	}
	out := make([]int, values)
	for i, f := range fields[1:] {
		out[i], err = strconv.Atoi(f)
		if err != nil {
			return nil, errors.Wrapf(err, "bad value in reply %q", line)
		}
	}
	return out, nil
}

func (b *Bridge) write(format string, args ...interface{}) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if err := b.send(format, args...); err != nil {
		log.Warn().Err(err).Str("request", fmt.Sprintf(format, args...)).Msg("Serial write failed")
	}
}

func (b *Bridge) WaitForTick(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.ticker == nil {
		b.ticker = time.NewTicker(b.period)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.ticker.C:
		return nil
	}
}

func (b *Bridge) ReadRawSensors() (hal.RawSensorSnapshot, error) {
	v, err := b.request("S", 8, "R")
	if err != nil {
		return hal.RawSensorSnapshot{}, err
	}
	return hal.RawSensorSnapshot{
		Obstacles:   [hal.NumObstacleSensors]int{v[0], v[1], v[2]},
		Ground:      uint8(v[3]) & (1<<hal.NumGroundSensors - 1),
		Beacon:      v[4] != 0,
		Battery:     v[5],
		StartButton: v[6] != 0,
		StopButton:  v[7] != 0,
	}, nil
}

func (b *Bridge) ReadAndResetEncoderDeltas() (wheel.PerWheel[int], error) {
	v, err := b.request("E", 2, "E")
	if err != nil {
		return wheel.PerWheel[int]{}, err
	}
	return wheel.Of(v[0], v[1]), nil
}

func (b *Bridge) WriteMotorCommand(left, right int) {
	b.write("M %d %d", hal.ClampMotor(left), hal.ClampMotor(right))
}

func (b *Bridge) WritePointingActuator(native int) {
	b.write("P %d", native)
}

func (b *Bridge) SetIndicator(n int, on bool) {
	b.write("L %d %d", n, boolToInt(on))
}

func (b *Bridge) ReadButton(btn hal.Button) bool {
	code := "s"
	if btn == hal.StopButton {
		code = "t"
	}
	v, err := b.request("B", 1, "B %s", code)
	if err != nil {
		log.Warn().Err(err).Stringer("button", btn).Msg("Failed to read button")
		return false
	}
	return v[0] != 0
}

func (b *Bridge) SetSensorsEnabled(on bool) {
	b.write("N %d", boolToInt(on))
}

func (b *Bridge) Close() error {
	if b.ticker != nil {
		b.ticker.Stop()
	}
	b.WriteMotorCommand(0, 0)
	return b.port.Close()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

var _ hal.Interface = (*Bridge)(nil)
