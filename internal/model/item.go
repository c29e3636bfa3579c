// Package model defines the shared data model of the takeoff engine.
package model

import "math"

// Kind is the dimensional kind of a measurable item or layer aggregate.
// An item never changes kind after creation.
type Kind string

const (
	KindBlock  Kind = "block"  // discrete countable object
	KindLength Kind = "length" // linear geometry
	KindArea   Kind = "area"   // enclosed polygon or hatch
	KindText   Kind = "text"   // label used as evidence, not a quantity
)

// Valid reports whether k is one of the known item kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindBlock, KindLength, KindArea, KindText:
		return true
	}
	return false
}

// Discipline tags the trade a layer belongs to.
type Discipline string

const (
	DisciplineElectrical   Discipline = "electrical"
	DisciplineSanitary     Discipline = "sanitary"
	DisciplineArchitecture Discipline = "architecture"
	DisciplineStructure    Discipline = "structure"
	DisciplineMechanical   Discipline = "mechanical"
	DisciplineUnknown      Discipline = "unknown"
)

// Point is a 2D position. Item positions are expressed in meters.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// MeasurableItem is the atomic unit produced by normalization.
//
// ValueSI is the canonical quantity: meters for length, square meters for
// area, a count for blocks and texts. It is always present and never
// negative. Items are not mutated after creation; enrichment returns copies.
type MeasurableItem struct {
	ID         string     `json:"id"`
	Layer      string     `json:"layer"`
	LayerNorm  string     `json:"layer_norm"`
	Discipline Discipline `json:"discipline"`
	Kind       Kind       `json:"kind"`
	ValueRaw   float64    `json:"value_raw"`
	UnitRaw    string     `json:"unit_raw"`
	ValueSI    float64    `json:"value_si"`
	Evidence   string     `json:"evidence"`
	NearbyText []string   `json:"nearby_text,omitempty"`
	Position   *Point     `json:"position,omitempty"`
	Label      string     `json:"label,omitempty"` // text content for text items, block name for blocks
	Source     string     `json:"source,omitempty"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// WithNearbyText returns a copy of the item carrying the given nearby tokens
// and an extended evidence string.
func (m MeasurableItem) WithNearbyText(tokens []string, evidence string) MeasurableItem {
	out := m
	out.NearbyText = append([]string(nil), tokens...)
	if evidence != "" {
		if out.Evidence != "" {
			out.Evidence += "; " + evidence
		} else {
			out.Evidence = evidence
		}
	}
	if len(m.Warnings) > 0 {
		out.Warnings = append([]string(nil), m.Warnings...)
	}
	return out
}

// LayerAggregate accumulates items per (normalized layer, kind).
type LayerAggregate struct {
	Layer        string     `json:"layer"`
	DisplayName  string     `json:"display_name"`
	Kind         Kind       `json:"kind"`
	Discipline   Discipline `json:"discipline"`
	Length       float64    `json:"length_m"`
	Area         float64    `json:"area_m2"`
	Count        int        `json:"count"`
	ItemIDs      []string   `json:"item_ids"`
	NearbyTokens []string   `json:"nearby_tokens,omitempty"`
}

// Value returns the aggregate's canonical quantity for its kind.
func (a LayerAggregate) Value() float64 {
	switch a.Kind {
	case KindLength:
		return a.Length
	case KindArea:
		return a.Area
	default:
		return float64(a.Count)
	}
}
