package normalize

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"

	"github.com/sells-group/takeoff/internal/cad"
	"github.com/sells-group/takeoff/internal/model"
)

// Heuristic thresholds on the bounding-box diagonal, in native units.
const (
	diagMillimeters = 10000.0
	diagCentimeters = 100.0
)

var unitFactors = map[string]float64{
	"mm": 0.001,
	"cm": 0.01,
	"m":  1,
	"km": 1000,
	"in": 0.0254,
	"ft": 0.3048,
	"yd": 0.9144,
}

// UnitFactor returns the meters-per-unit factor of a unit name.
func UnitFactor(unit string) (float64, bool) {
	f, ok := unitFactors[strings.ToLower(strings.TrimSpace(unit))]
	return f, ok
}

// Diagonal returns the XY diagonal of b, or 0 for empty bounds.
func Diagonal(b *geom.Bounds) float64 {
	if b == nil || b.IsEmpty() {
		return 0
	}
	return math.Hypot(b.Max(0)-b.Min(0), b.Max(1)-b.Min(1))
}

// InferScale decides the native-unit to meter factor of one drawing.
//
// An explicit override always wins. Otherwise the drawing header unit is
// used when it names a length unit. Without either, the bounding-box
// diagonal picks millimeters (> 10,000), centimeters (> 100) or meters. The
// heuristic is approximate and reported as not confident.
func InferScale(bounds *geom.Bounds, headerUnits int, override string) (model.Scale, error) {
	if override != "" {
		f, ok := UnitFactor(override)
		if !ok {
			return model.Scale{}, eris.Errorf("normalize: unknown unit override %q", override)
		}
		return model.Scale{
			Factor:    f,
			Unit:      strings.ToLower(strings.TrimSpace(override)),
			Source:    model.ScaleOverride,
			Confident: true,
		}, nil
	}

	if name, f, ok := cad.UnitName(headerUnits); ok {
		return model.Scale{Factor: f, Unit: name, Source: model.ScaleHeader, Confident: true}, nil
	}

	diag := Diagonal(bounds)
	switch {
	case diag > diagMillimeters:
		return model.Scale{Factor: 0.001, Unit: "mm", Source: model.ScaleHeuristic}, nil
	case diag > diagCentimeters:
		return model.Scale{Factor: 0.01, Unit: "cm", Source: model.ScaleHeuristic}, nil
	default:
		return model.Scale{Factor: 1, Unit: "m", Source: model.ScaleHeuristic}, nil
	}
}

// ScaleBounds returns b with every coordinate multiplied by factor, as when
// converting native drawing units to meters.
func ScaleBounds(b *geom.Bounds, factor float64) *geom.Bounds {
	out := geom.NewBounds(geom.XY)
	if b == nil || b.IsEmpty() {
		return out
	}
	return out.Extend(geom.NewLineStringFlat(geom.XY, []float64{
		b.Min(0) * factor, b.Min(1) * factor,
		b.Max(0) * factor, b.Max(1) * factor,
	}))
}

// UnionBounds extends dst with src and returns dst. Empty src is ignored.
func UnionBounds(dst, src *geom.Bounds) *geom.Bounds {
	if dst == nil {
		dst = geom.NewBounds(geom.XY)
	}
	if src == nil || src.IsEmpty() {
		return dst
	}
	return dst.Extend(geom.NewLineStringFlat(geom.XY, []float64{
		src.Min(0), src.Min(1), src.Max(0), src.Max(1),
	}))
}

// PositionBounds returns the bounds of every positioned item. It stands in
// for geometry bounds when only normalized items are available.
func PositionBounds(items []model.MeasurableItem) *geom.Bounds {
	b := geom.NewBounds(geom.XY)
	for _, it := range items {
		if it.Position == nil {
			continue
		}
		b.Extend(geom.NewPointFlat(geom.XY, []float64{it.Position.X, it.Position.Y}))
	}
	return b
}

// DrawingBounds returns the native-unit bounds of every top-level
// coordinate in d. Block interiors are not included.
func DrawingBounds(d *cad.Drawing) *geom.Bounds {
	b := geom.NewBounds(geom.XY)
	add := func(vs ...cad.Vec) {
		if len(vs) == 0 {
			return
		}
		b.Extend(geom.NewLineStringFlat(geom.XY, flatten(vs)))
	}
	for _, e := range d.Entities {
		switch ent := e.(type) {
		case cad.Line:
			add(ent.Start, ent.End)
		case cad.Polyline:
			add(ent.Vertices...)
		case cad.Hatch:
			for _, l := range ent.Loops {
				add(l...)
			}
		case cad.Insert:
			add(ent.Position)
		case cad.Text:
			add(ent.Position)
		}
	}
	return b
}
