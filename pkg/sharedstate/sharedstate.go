// Package sharedstate carries the values the actuator side hands to the
// sensor side each cycle: the wheel setpoints (for stall detection) and the
// effective pointing angle (for the beacon direction).
package sharedstate

import (
	"sync"

	"github.com/tigerbot-team/microrato/pkg/wheel"
)

// State has a single writer (the actuator conditioner) and a single reader
// on the control goroutine.  The mutex lets diagnostic readers on other
// goroutines look too.
type State struct {
	lock      sync.Mutex
	setpoints wheel.PerWheel[int]
	pointing  int
}

func New() *State {
	return &State{}
}

func (s *State) PublishSetpoints(sp wheel.PerWheel[int]) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.setpoints = sp
}

// Setpoints returns the last published setpoints, in encoder ticks per cycle.
func (s *State) Setpoints() wheel.PerWheel[int] {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.setpoints
}

func (s *State) PublishPointing(degree int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pointing = degree
}

func (s *State) Pointing() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.pointing
}
