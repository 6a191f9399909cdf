package units

// Ratio scales an integer by Num/Den using integer arithmetic.  The product is
// formed before the division and the result truncates towards zero.
type Ratio struct {
	Num, Den int
}

func (r Ratio) Apply(x int) int {
	return x * r.Num / r.Den
}
