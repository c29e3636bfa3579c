package match

import (
	"fmt"
	"math"

	"github.com/sells-group/takeoff/internal/model"
)

type limits struct {
	warn, err float64
	unit      string
}

var sanityLimits = map[model.MeasureKind]limits{
	model.MeasureLength: {warn: 10_000, err: 100_000, unit: "m"},
	model.MeasureArea:   {warn: 100_000, err: 1_000_000, unit: "m²"},
	model.MeasureVolume: {warn: 10_000, err: 100_000, unit: "m³"},
	model.MeasureCount:  {warn: math.Inf(1), err: 100_000, unit: "u"},
}

// CheckQuantity grades the plausibility of a computed quantity for its
// measure kind. Negative and non-finite values are impossible and must be
// discarded; error and warning levels keep the quantity but lower the
// confidence.
func CheckQuantity(kind model.MeasureKind, qty float64) (model.SanityLevel, string) {
	if math.IsNaN(qty) || math.IsInf(qty, 0) {
		return model.SanityImpossible, "quantity is not a finite number"
	}
	if qty < 0 {
		return model.SanityImpossible, fmt.Sprintf("negative quantity %g", qty)
	}

	l, ok := sanityLimits[kind]
	if !ok {
		return model.SanityOK, ""
	}
	if qty > l.err {
		return model.SanityError, fmt.Sprintf("%.0f %s exceeds %.0f %s: unconverted units?", qty, l.unit, l.err, l.unit)
	}
	if kind == model.MeasureCount && qty != math.Trunc(qty) {
		return model.SanityWarning, fmt.Sprintf("count %g is not a whole number", qty)
	}
	if qty > l.warn {
		return model.SanityWarning, fmt.Sprintf("%.0f %s exceeds %.0f %s: check for outliers", qty, l.unit, l.warn, l.unit)
	}
	return model.SanityOK, ""
}

func measureOf(m model.CalcMethod) model.MeasureKind {
	switch m {
	case model.CalcLength:
		return model.MeasureLength
	case model.CalcArea:
		return model.MeasureArea
	case model.CalcVolume:
		return model.MeasureVolume
	case model.CalcCount:
		return model.MeasureCount
	}
	return model.MeasureService
}
