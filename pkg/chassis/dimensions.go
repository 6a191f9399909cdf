package chassis

import "math"

const (
	WheelDiameterMM float64 = 40
	WheelCircumMM           = WheelDiameterMM * math.Pi

	// EncoderTicksPerRev counts encoder edges per wheel revolution, after the
	// gearbox.
	EncoderTicksPerRev = 420
)

// DistancePerTickUM is the nominal travel per encoder tick, rounded to whole
// micrometres.
var DistancePerTickUM = int(math.Round(WheelCircumMM * 1000 / EncoderTicksPerRev))
