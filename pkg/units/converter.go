// Package units maps between human units (degrees, cm/s) and device-native
// units (servo positions, encoder ticks per cycle).
package units

import (
	"math"

	"github.com/pkg/errors"
)

// Converter is a linear mapping between a physical range and a native range.
// Values outside either range saturate at the boundary.  Because the native
// range is usually much coarser than the physical one, a round trip through
// the native range can move the value; callers should report Effective(x)
// rather than the x they asked for.
type Converter struct {
	PhysMin, PhysMax     int
	NativeMin, NativeMax int
}

func NewConverter(physMin, physMax, nativeMin, nativeMax int) (Converter, error) {
	if physMax <= physMin {
		return Converter{}, errors.Errorf("physical range [%d, %d] is empty", physMin, physMax)
	}
	if nativeMax <= nativeMin {
		return Converter{}, errors.Errorf("native range [%d, %d] is empty", nativeMin, nativeMax)
	}
	return Converter{
		PhysMin:   physMin,
		PhysMax:   physMax,
		NativeMin: nativeMin,
		NativeMax: nativeMax,
	}, nil
}

func (c Converter) physRange() float64 {
	return float64(c.PhysMax - c.PhysMin)
}

func (c Converter) nativeRange() float64 {
	return float64(c.NativeMax - c.NativeMin)
}

// ToNative converts a physical value, clamped to range, to the nearest native
// position.
func (c Converter) ToNative(x int) int {
	x = Clamp(x, c.PhysMin, c.PhysMax)
	return int(math.Round(float64(c.NativeMin) + float64(x-c.PhysMin)*c.nativeRange()/c.physRange()))
}

// ToPhysical converts a native position, clamped to range, to the nearest
// physical value.
func (c Converter) ToPhysical(y int) int {
	y = Clamp(y, c.NativeMin, c.NativeMax)
	return int(math.Round(float64(c.PhysMin) + float64(y-c.NativeMin)*c.physRange()/c.nativeRange()))
}

// Effective returns the physical value the device will actually reach when
// asked for x.
func (c Converter) Effective(x int) int {
	return c.ToPhysical(c.ToNative(x))
}

// Step is the size of one native step in physical units.
func (c Converter) Step() float64 {
	return c.physRange() / c.nativeRange()
}

// Midpoint is the centre of the physical range.
func (c Converter) Midpoint() int {
	return c.PhysMin + (c.PhysMax-c.PhysMin)/2
}

func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
