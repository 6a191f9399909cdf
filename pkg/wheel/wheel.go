package wheel

// Wheel indexes a drive wheel.
type Wheel int

const (
	Left Wheel = iota
	Right
)

func (w Wheel) String() string {
	switch w {
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return "unknown"
}

// PerWheel holds one value for each drive wheel, indexed by Wheel.
type PerWheel[T any] [2]T

// Of builds a PerWheel from a left and right value.
func Of[T any](left, right T) PerWheel[T] {
	return PerWheel[T]{left, right}
}

func (p PerWheel[T]) Left() T {
	return p[Left]
}

func (p PerWheel[T]) Right() T {
	return p[Right]
}

// All lists the wheels in index order.
func All() []Wheel {
	return []Wheel{Left, Right}
}
