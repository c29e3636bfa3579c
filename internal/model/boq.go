package model

// RowType classifies a BoQ row. Only RowItem and RowService rows are matched.
type RowType string

const (
	RowItem    RowType = "item"
	RowHeader  RowType = "header"
	RowNote    RowType = "note"
	RowService RowType = "service"
)

// MeasureKind is the dimensional category a BoQ unit asks for.
type MeasureKind string

const (
	MeasureLength  MeasureKind = "length"
	MeasureArea    MeasureKind = "area"
	MeasureVolume  MeasureKind = "volume"
	MeasureCount   MeasureKind = "block"
	MeasureService MeasureKind = "service"
	MeasureUnknown MeasureKind = "unknown"
)

// BoQLineItem is one row of the reference bill of quantities.
//
// HeightFactor, SidesMultiplier and Thickness are optional per-row overrides
// of the project defaults used for wall and volume conversions.
type BoQLineItem struct {
	Index           int      `json:"index"`
	Description     string   `json:"description"`
	Unit            string   `json:"unit"`
	ExpectedQty     *float64 `json:"expected_qty,omitempty"`
	RowType         RowType  `json:"row_type"`
	HeightFactor    *float64 `json:"height_factor,omitempty"`
	SidesMultiplier *float64 `json:"sides_multiplier,omitempty"`
	Thickness       *float64 `json:"thickness,omitempty"`
	Discipline      string   `json:"discipline,omitempty"`
}
