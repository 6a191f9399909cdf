// Package expander drives a PCF8574 8-bit I2C I/O expander, which the robot
// uses to read its five ground sensors.
package expander

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/io/i2c"
)

const DefaultAddr = 0x20

type port interface {
	Read(buf []byte) error
	Write(buf []byte) error
	Close() error
}

type PCF8574 struct {
	dev port
	// inputs are the pins configured as inputs; the PCF8574 needs them
	// written high before they can be read.  The rest are driven low.
	inputs byte

	buf [1]byte
}

func Open(bus string, addr int, inputs byte) (*PCF8574, error) {
	dev, err := i2c.Open(&i2c.Devfs{Dev: bus}, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open PCF8574 at %s/%#x", bus, addr)
	}
	return New(dev, inputs)
}

// New takes ownership of dev; it is closed again if the input pins can't be
// released.
func New(dev port, inputs byte) (*PCF8574, error) {
	p := &PCF8574{
		dev:    dev,
		inputs: inputs,
	}
	p.buf[0] = inputs
	if err := dev.Write(p.buf[:]); err != nil {
		_ = dev.Close()
		return nil, errors.Wrap(err, "PCF8574 write failed")
	}
	return p, nil
}

// ReadInputs returns the state of the input pins; output pins read as 0.
func (p *PCF8574) ReadInputs() (byte, error) {
	if err := p.dev.Read(p.buf[:]); err != nil {
		return 0, errors.Wrap(err, "PCF8574 read failed")
	}
	return p.buf[0] & p.inputs, nil
}

func (p *PCF8574) Close() error {
	return p.dev.Close()
}
