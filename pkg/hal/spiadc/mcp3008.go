// Package spiadc reads an MCP3008 8-channel, 10-bit ADC over SPI.  The robot
// wires its obstacle sensors and the battery divider to it.
package spiadc

import (
	"github.com/pkg/errors"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"
)

const (
	NumChannels = 8
	MaxValue    = 1023

	startBit    = 0x01
	singleEnded = 0x08
)

type conn interface {
	Tx(w, r []byte) error
}

type MCP3008 struct {
	c      conn
	closer interface{ Close() error }

	// Each conversion is the mean of this many samples.
	samples int

	w, r [3]byte
}

// Open connects to the ADC on the given spidev port.
func Open(port string) (*MCP3008, error) {
	// Make sure periph is initialized.
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialise periph")
	}
	p, err := spireg.Open(port)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open SPI port %s", port)
	}
	c, err := p.Connect(physic.MegaHertz, spi.Mode0, 8)
	if err != nil {
		_ = p.Close()
		return nil, errors.Wrap(err, "failed to connect to MCP3008")
	}
	adc := New(c)
	adc.closer = p
	return adc, nil
}

// New wraps an existing connection.  Conversions average two samples by
// default.
func New(c conn) *MCP3008 {
	return &MCP3008{c: c, samples: 2}
}

// SetSamples sets how many conversions each Read averages; values below one
// mean one.
func (m *MCP3008) SetSamples(n int) {
	if n < 1 {
		n = 1
	}
	m.samples = n
}

// Read returns the averaged conversion of one single-ended channel, in the
// range 0..MaxValue.
func (m *MCP3008) Read(channel int) (int, error) {
	if channel < 0 || channel >= NumChannels {
		return 0, errors.Errorf("MCP3008 channel %d out of range", channel)
	}
	sum := 0
	for i := 0; i < m.samples; i++ {
		m.w = [3]byte{startBit, byte(singleEnded|channel) << 4, 0}
		if err := m.c.Tx(m.w[:], m.r[:]); err != nil {
			return 0, errors.Wrapf(err, "MCP3008 transfer on channel %d failed", channel)
		}
		sum += int(m.r[1]&0x03)<<8 | int(m.r[2])
	}
	return sum / m.samples, nil
}

func (m *MCP3008) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer.Close()
}
