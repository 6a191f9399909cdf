package tunable

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Tunable is an integer parameter that can be adjusted while the robot is
// running, for example a controller gain nudged from the monitor console.
// Reads and writes are atomic so the control loop never sees a torn value.
type Tunable struct {
	Name     string
	Min, Max int64
	value    int64
}

func (t *Tunable) clamp(v int64) int64 {
	if t.Min < t.Max {
		if v < t.Min {
			return t.Min
		}
		if v > t.Max {
			return t.Max
		}
	}
	return v
}

func (t *Tunable) Add(delta int) {
	for {
		old := atomic.LoadInt64(&t.value)
		newV := t.clamp(old + int64(delta))
		if atomic.CompareAndSwapInt64(&t.value, old, newV) {
			log.Info().Str("tunable", t.Name).Int64("value", newV).Msg("Tunable adjusted")
			return
		}
	}
}

func (t *Tunable) Set(v int) {
	newV := t.clamp(int64(v))
	atomic.StoreInt64(&t.value, newV)
	log.Debug().Str("tunable", t.Name).Int64("value", newV).Msg("Tunable set")
}

func (t *Tunable) Get() int {
	return int(atomic.LoadInt64(&t.value))
}

type Tunables struct {
	All      []*Tunable
	selected int
}

// Create registers a new tunable.  If min < max the value is kept within
// [min, max]; otherwise it is unbounded.
func (t *Tunables) Create(name string, value, min, max int) *Tunable {
	newTunable := &Tunable{
		Name: name,
		Min:  int64(min),
		Max:  int64(max),
	}
	newTunable.value = newTunable.clamp(int64(value))
	t.All = append(t.All, newTunable)
	return newTunable
}

func (t *Tunables) Find(name string) *Tunable {
	for _, tn := range t.All {
		if tn.Name == name {
			return tn
		}
	}
	return nil
}

func (t *Tunables) SelectNext() {
	if len(t.All) == 0 {
		return
	}
	t.selected++
	if t.selected >= len(t.All) {
		t.selected = 0
	}
	log.Info().Str("tunable", t.Current().Name).Int("value", t.Current().Get()).Msg("Tunable selected")
}

func (t *Tunables) SelectPrev() {
	if len(t.All) == 0 {
		return
	}
	t.selected--
	if t.selected < 0 {
		t.selected = len(t.All) - 1
	}
	log.Info().Str("tunable", t.Current().Name).Int("value", t.Current().Get()).Msg("Tunable selected")
}

// Current returns the selected tunable, or nil if none have been created.
func (t *Tunables) Current() *Tunable {
	if len(t.All) == 0 {
		return nil
	}
	return t.All[t.selected]
}
