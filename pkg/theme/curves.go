package theme

import "math"

// CurveType selects the response shape of a mapping target.
type CurveType string

const (
	CurveLinear      CurveType = "linear"
	CurveExponential CurveType = "exponential"
	CurveLogarithmic CurveType = "logarithmic"
	CurveStepped     CurveType = "stepped"
)

// steppedLevels is the quantization granularity of CurveStepped.
const steppedLevels = 4

func (c CurveType) known() bool {
	switch c {
	case CurveLinear, CurveExponential, CurveLogarithmic, CurveStepped:
		return true
	}
	return false
}

// Apply maps v through the curve. Input is clamped to [0,1] and every
// curve returns exactly 0 at 0 and exactly 1 at 1. Unknown curve types
// behave as linear.
func (c CurveType) Apply(v float64) float64 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 1
	}
	switch c {
	case CurveExponential:
		return v * v
	case CurveLogarithmic:
		// log10(1 + 9v): hits 0 at v=0 and exactly 1 at v=1.
		return math.Log1p(9*v) / math.Ln10
	case CurveStepped:
		return math.Floor(v*steppedLevels) / steppedLevels
	default:
		return v
	}
}
