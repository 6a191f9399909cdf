// Package lifecycle tracks the Uninitialized -> Ready -> Stopped -> Ready
// state machine shared by the sensor and actuator conditioners.
package lifecycle

import "github.com/pkg/errors"

var (
	ErrNotInitialized = errors.New("not initialised")
	ErrStopped        = errors.New("stopped")
)

type Phase int

const (
	Uninitialized Phase = iota
	Ready
	Stopped
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// CheckReady returns nil in Ready and the matching sentinel otherwise.
func (p Phase) CheckReady() error {
	switch p {
	case Ready:
		return nil
	case Stopped:
		return ErrStopped
	}
	return ErrNotInitialized
}

// CheckInitialized allows Ready and Stopped; only Uninitialized fails.
func (p Phase) CheckInitialized() error {
	if p == Uninitialized {
		return ErrNotInitialized
	}
	return nil
}
