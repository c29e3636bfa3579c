package match

import (
	"strings"

	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/textutil"
)

var unitKinds = map[string]model.MeasureKind{
	// length
	"m": model.MeasureLength, "ml": model.MeasureLength, "mts": model.MeasureLength,
	"mt": model.MeasureLength, "metro": model.MeasureLength, "metros": model.MeasureLength,
	"m l": model.MeasureLength, "mtl": model.MeasureLength, "lm": model.MeasureLength,
	"meter": model.MeasureLength, "meters": model.MeasureLength,
	// area
	"m2": model.MeasureArea, "mt2": model.MeasureArea, "mts2": model.MeasureArea,
	"sqm": model.MeasureArea, "metro cuadrado": model.MeasureArea, "metros cuadrados": model.MeasureArea,
	// volume
	"m3": model.MeasureVolume, "mt3": model.MeasureVolume, "mts3": model.MeasureVolume,
	"metro cubico": model.MeasureVolume, "metros cubicos": model.MeasureVolume,
	// count
	"un": model.MeasureCount, "u": model.MeasureCount, "c u": model.MeasureCount,
	"unidad": model.MeasureCount, "unidades": model.MeasureCount, "n": model.MeasureCount,
	"no": model.MeasureCount, "nro": model.MeasureCount, "pza": model.MeasureCount,
	"pzas": model.MeasureCount, "und": model.MeasureCount, "ud": model.MeasureCount,
	"uds": model.MeasureCount, "unit": model.MeasureCount, "units": model.MeasureCount,
	"ea": model.MeasureCount, "nos": model.MeasureCount, "pcs": model.MeasureCount,
	// service
	"gl": model.MeasureService, "global": model.MeasureService, "glb": model.MeasureService,
	"est": model.MeasureService, "ls": model.MeasureService, "lump sum": model.MeasureService,
	"sg": model.MeasureService,
}

// ClassifyUnit maps a declared BoQ unit to the measure kind it asks for.
// Superscripts are folded first so "m²" reads as "m2".
func ClassifyUnit(unit string) model.MeasureKind {
	u := strings.NewReplacer("²", "2", "³", "3", "°", "o", "º", "o").Replace(strings.ToLower(unit))
	u = textutil.Normalize(u)
	if u == "" {
		return model.MeasureUnknown
	}
	if k, ok := unitKinds[u]; ok {
		return k
	}
	return model.MeasureUnknown
}

var notePrefixes = []string{"nota", "note", "notas", "notes", "obs", "observacion", "observaciones"}

// ClassifyRow infers the row type of a BoQ line: a row with neither unit
// nor expected quantity is a section header, a row opening with a note
// marker is a note, and a lump-sum unit makes a service item.
func ClassifyRow(row model.BoQLineItem) model.RowType {
	desc := textutil.Normalize(row.Description)
	if first := strings.Fields(desc); len(first) > 0 {
		for _, p := range notePrefixes {
			if first[0] == p {
				return model.RowNote
			}
		}
	}
	if strings.TrimSpace(row.Unit) == "" && row.ExpectedQty == nil {
		return model.RowHeader
	}
	if ClassifyUnit(row.Unit) == model.MeasureService {
		return model.RowService
	}
	return model.RowItem
}

// compatible reports whether an aggregate of kind k can measure mk, and the
// type fit of that pairing. Area rows accept length layers through the
// wall conversion; volume rows accept area layers through thickness.
func compatible(mk model.MeasureKind, k model.Kind) bool {
	switch mk {
	case model.MeasureLength:
		return k == model.KindLength
	case model.MeasureArea:
		return k == model.KindArea || k == model.KindLength
	case model.MeasureVolume:
		return k == model.KindArea
	case model.MeasureCount:
		return k == model.KindBlock
	}
	return false
}

func calcMethodFor(k model.Kind) model.CalcMethod {
	switch k {
	case model.KindLength:
		return model.CalcLength
	case model.KindArea:
		return model.CalcArea
	default:
		return model.CalcCount
	}
}
