// Package cad models raw 2D CAD entities at the normalization boundary and
// reads them from the supported upstream formats.
//
// Each entity type is its own Go type implementing Entity; heterogeneous
// source shapes never travel past this package and the normalizer.
package cad

import (
	"fmt"
	"math"
)

// Vec is a 2D coordinate in native drawing units.
type Vec struct {
	X float64
	Y float64
}

// Finite reports whether both coordinates are finite numbers.
func (v Vec) Finite() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// Entity is a raw CAD entity. The concrete types are Line, Polyline, Hatch,
// Insert, Text and Unknown.
type Entity interface {
	// Handle is the entity's source identity within its drawing.
	Handle() string
	// Layer is the raw layer name.
	Layer() string
	// Type is the source type tag (LINE, LWPOLYLINE, ...).
	Type() string
}

// Base carries the fields shared by all entities.
type Base struct {
	ID        string
	LayerName string
}

func (b Base) Handle() string { return b.ID }
func (b Base) Layer() string  { return b.LayerName }

// Line is a LINE entity.
type Line struct {
	Base
	Start Vec
	End   Vec
}

func (Line) Type() string { return "LINE" }

// Polyline is an LWPOLYLINE or POLYLINE entity.
type Polyline struct {
	Base
	Vertices []Vec
	Closed   bool
}

func (Polyline) Type() string { return "LWPOLYLINE" }

// Hatch is a HATCH entity described by its boundary loops.
type Hatch struct {
	Base
	Loops [][]Vec
}

func (Hatch) Type() string { return "HATCH" }

// Insert is a block reference.
type Insert struct {
	Base
	Block    string
	Position Vec
	ScaleX   float64
	ScaleY   float64
	Rotation float64 // degrees, counter-clockwise
}

func (Insert) Type() string { return "INSERT" }

// Text is a TEXT or MTEXT entity.
type Text struct {
	Base
	Content   string
	Position  Vec
	Multiline bool
}

func (t Text) Type() string {
	if t.Multiline {
		return "MTEXT"
	}
	return "TEXT"
}

// Unknown is an entity the readers could not map to a supported type. The
// normalizer skips it with a warning.
type Unknown struct {
	Base
	RawType string
	Reason  string
}

func (u Unknown) Type() string { return u.RawType }

// Drawing is one parsed source file.
type Drawing struct {
	Name     string
	Units    int // DXF $INSUNITS code, 0 when unknown
	Entities []Entity
	Blocks   map[string][]Entity
}

// ParseError reports a source file that could not be parsed at all. No
// partial result from that file is trusted.
type ParseError struct {
	File string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cad: parse %s: %v", e.File, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// UnitName returns the conventional name of a DXF $INSUNITS code and its
// factor to meters. ok is false for unitless or unsupported codes.
func UnitName(code int) (name string, toMeters float64, ok bool) {
	switch code {
	case 1:
		return "in", 0.0254, true
	case 2:
		return "ft", 0.3048, true
	case 4:
		return "mm", 0.001, true
	case 5:
		return "cm", 0.01, true
	case 6:
		return "m", 1, true
	case 7:
		return "km", 1000, true
	case 10:
		return "yd", 0.9144, true
	}
	return "", 0, false
}
