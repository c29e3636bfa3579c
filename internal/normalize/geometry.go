package normalize

import (
	"math"

	geom "github.com/twpayne/go-geom"

	"github.com/sells-group/takeoff/internal/cad"
)

func flatten(vs []cad.Vec) []float64 {
	flat := make([]float64, 0, 2*len(vs))
	for _, v := range vs {
		flat = append(flat, v.X, v.Y)
	}
	return flat
}

// closedFlat returns the flat coordinates of vs with the first vertex
// repeated at the end, unless it is already there.
func closedFlat(vs []cad.Vec) []float64 {
	flat := flatten(vs)
	if len(vs) > 0 && vs[0] != vs[len(vs)-1] {
		flat = append(flat, vs[0].X, vs[0].Y)
	}
	return flat
}

// PathLength is the sum of consecutive vertex distances. A closed path
// includes the segment back to the first vertex.
func PathLength(vs []cad.Vec, closed bool) float64 {
	if len(vs) < 2 {
		return 0
	}
	if closed {
		return geom.NewLinearRingFlat(geom.XY, closedFlat(vs)).Length()
	}
	return geom.NewLineStringFlat(geom.XY, flatten(vs)).Length()
}

// ShoelaceArea returns |Σ(x_i·y_{i+1} − x_{i+1}·y_i)| / 2 over the ring
// formed by vs. Winding direction does not matter.
func ShoelaceArea(vs []cad.Vec) float64 {
	if len(vs) < 3 {
		return 0
	}
	return math.Abs(geom.NewLinearRingFlat(geom.XY, closedFlat(vs)).Area())
}

// centroid is the vertex mean, used as a representative position.
func centroid(vs []cad.Vec) cad.Vec {
	var c cad.Vec
	if len(vs) == 0 {
		return c
	}
	for _, v := range vs {
		c.X += v.X
		c.Y += v.Y
	}
	n := float64(len(vs))
	return cad.Vec{X: c.X / n, Y: c.Y / n}
}

// affine maps (x, y) to (a·x + b·y + e, c·x + d·y + f).
type affine struct {
	a, b, c, d, e, f float64
}

var identity = affine{a: 1, d: 1}

// insertTransform places block-local coordinates: scale, then rotate
// counter-clockwise by degrees, then translate to the insertion point.
func insertTransform(ins cad.Insert) affine {
	sx, sy := ins.ScaleX, ins.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	rad := ins.Rotation * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	return affine{
		a: cos * sx, b: -sin * sy,
		c: sin * sx, d: cos * sy,
		e: ins.Position.X, f: ins.Position.Y,
	}
}

// then returns the transform applying t first and outer second.
func (t affine) then(outer affine) affine {
	return affine{
		a: outer.a*t.a + outer.b*t.c,
		b: outer.a*t.b + outer.b*t.d,
		c: outer.c*t.a + outer.d*t.c,
		d: outer.c*t.b + outer.d*t.d,
		e: outer.a*t.e + outer.b*t.f + outer.e,
		f: outer.c*t.e + outer.d*t.f + outer.f,
	}
}

func (t affine) apply(v cad.Vec) cad.Vec {
	return cad.Vec{X: t.a*v.X + t.b*v.Y + t.e, Y: t.c*v.X + t.d*v.Y + t.f}
}

func (t affine) applyAll(vs []cad.Vec) []cad.Vec {
	out := make([]cad.Vec, len(vs))
	for i, v := range vs {
		out[i] = t.apply(v)
	}
	return out
}

// transformEntity returns e with its coordinates mapped by t and the
// given id and layer.
func transformEntity(e cad.Entity, t affine, base cad.Base) cad.Entity {
	switch ent := e.(type) {
	case cad.Line:
		return cad.Line{Base: base, Start: t.apply(ent.Start), End: t.apply(ent.End)}
	case cad.Polyline:
		return cad.Polyline{Base: base, Vertices: t.applyAll(ent.Vertices), Closed: ent.Closed}
	case cad.Hatch:
		loops := make([][]cad.Vec, len(ent.Loops))
		for i, l := range ent.Loops {
			loops[i] = t.applyAll(l)
		}
		return cad.Hatch{Base: base, Loops: loops}
	case cad.Text:
		return cad.Text{Base: base, Content: ent.Content, Position: t.apply(ent.Position), Multiline: ent.Multiline}
	case cad.Insert:
		out := ent
		out.Base = base
		out.Position = t.apply(ent.Position)
		return out
	case cad.Unknown:
		return cad.Unknown{Base: base, RawType: ent.RawType, Reason: ent.Reason}
	}
	return e
}
