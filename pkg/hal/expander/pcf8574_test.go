package expander

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePort struct {
	pins     byte
	written  []byte
	readErr  error
	writeErr error
	closed   bool
}

func (f *fakePort) Read(buf []byte) error {
	if f.readErr != nil {
		return f.readErr
	}
	buf[0] = f.pins
	return nil
}

func (f *fakePort) Write(buf []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, buf[0])
	return nil
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func TestNewReleasesInputs(t *testing.T) {
	f := &fakePort{}
	_, err := New(f, 0x1f)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f}, f.written)
}

func TestReadInputsMasksOutputs(t *testing.T) {
	f := &fakePort{pins: 0xe5}
	p, err := New(f, 0x1f)
	require.NoError(t, err)
	v, err := p.ReadInputs()
	require.NoError(t, err)
	assert.Equal(t, byte(0x05), v)
}

func TestNewClosesPortWhenReleaseFails(t *testing.T) {
	f := &fakePort{writeErr: errors.New("nack")}
	_, err := New(f, 0x1f)
	assert.ErrorContains(t, err, "nack")
	assert.True(t, f.closed)
}

func TestReadError(t *testing.T) {
	f := &fakePort{readErr: errors.New("nack")}
	p, err := New(f, 0x1f)
	require.NoError(t, err)
	_, err = p.ReadInputs()
	assert.ErrorContains(t, err, "nack")
}

func TestClose(t *testing.T) {
	f := &fakePort{}
	p, err := New(f, 0x1f)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.True(t, f.closed)
}
