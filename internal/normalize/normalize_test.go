package normalize

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	geom "github.com/twpayne/go-geom"

	"github.com/sells-group/takeoff/internal/cad"
	"github.com/sells-group/takeoff/internal/model"
)

func TestShoelaceArea(t *testing.T) {
	square := []cad.Vec{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	triangle := []cad.Vec{{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 0, Y: 3}}

	assert.InDelta(t, 1.0, ShoelaceArea(square), 1e-12)
	assert.InDelta(t, 6.0, ShoelaceArea(triangle), 1e-12)

	reversed := make([]cad.Vec, len(triangle))
	for i, v := range triangle {
		reversed[len(triangle)-1-i] = v
	}
	assert.InDelta(t, 6.0, ShoelaceArea(reversed), 1e-12)

	closed := append(append([]cad.Vec(nil), square...), square[0])
	assert.InDelta(t, 1.0, ShoelaceArea(closed), 1e-12, "explicit closing vertex")
	assert.Zero(t, ShoelaceArea(square[:2]))
}

func TestPathLength(t *testing.T) {
	square := []cad.Vec{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}}
	assert.InDelta(t, 3.0, PathLength(square, false), 1e-12)
	assert.InDelta(t, 4.0, PathLength(square, true), 1e-12)
	assert.InDelta(t, 5.0, PathLength([]cad.Vec{{X: 0, Y: 0}, {X: 3, Y: 4}}, false), 1e-12)
	assert.Zero(t, PathLength(square[:1], false))
}

func boundsOf(w, h float64) *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(0, 0, w, h)
}

func TestInferScale(t *testing.T) {
	tests := []struct {
		name     string
		bounds   *geom.Bounds
		header   int
		override string
		unit     string
		source   model.ScaleSource
		sure     bool
	}{
		{"override wins over header", boundsOf(30000, 20000), 6, "mm", "mm", model.ScaleOverride, true},
		{"header", boundsOf(30000, 20000), 5, "", "cm", model.ScaleHeader, true},
		{"heuristic mm", boundsOf(30000, 20000), 0, "", "mm", model.ScaleHeuristic, false},
		{"heuristic cm", boundsOf(3000, 2000), 0, "", "cm", model.ScaleHeuristic, false},
		{"heuristic m", boundsOf(30, 20), 0, "", "m", model.ScaleHeuristic, false},
		{"empty bounds", geom.NewBounds(geom.XY), 0, "", "m", model.ScaleHeuristic, false},
		{"unitless header falls back", boundsOf(30, 20), 0, "", "m", model.ScaleHeuristic, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := InferScale(tt.bounds, tt.header, tt.override)
			require.NoError(t, err)
			assert.Equal(t, tt.unit, s.Unit)
			assert.Equal(t, tt.source, s.Source)
			assert.Equal(t, tt.sure, s.Confident)
		})
	}

	_, err := InferScale(boundsOf(1, 1), 0, "furlong")
	assert.Error(t, err)
}

func TestInferDiscipline(t *testing.T) {
	assert.Equal(t, model.DisciplineArchitecture, InferDiscipline("FA_TABIQUES"))
	assert.Equal(t, model.DisciplineElectrical, InferDiscipline("E-ENCHUFES"))
	assert.Equal(t, model.DisciplineElectrical, InferDiscipline("Iluminación"))
	assert.Equal(t, model.DisciplineSanitary, InferDiscipline("AP_AGUA_FRIA"))
	assert.Equal(t, model.DisciplineStructure, InferDiscipline("EST-VIGAS"))
	assert.Equal(t, model.DisciplineMechanical, InferDiscipline("HVAC ductos"))
	assert.Equal(t, model.DisciplineUnknown, InferDiscipline("0"))
	assert.Equal(t, model.DisciplineUnknown, InferDiscipline(""))
}

func drawing() *cad.Drawing {
	return &cad.Drawing{
		Name:  "a101",
		Units: 4, // mm
		Entities: []cad.Entity{
			cad.Polyline{Base: cad.Base{ID: "2F", LayerName: "FA_TABIQUES"}, Vertices: []cad.Vec{{X: 0, Y: 0}, {X: 10000, Y: 0}}},
			cad.Polyline{
				Base:     cad.Base{ID: "30", LayerName: "A-PISO"},
				Vertices: []cad.Vec{{X: 0, Y: 0}, {X: 2000, Y: 0}, {X: 2000, Y: 3000}, {X: 0, Y: 3000}},
				Closed:   true,
			},
			cad.Hatch{Base: cad.Base{ID: "31", LayerName: "A-PISO"}, Loops: [][]cad.Vec{
				{{X: 0, Y: 0}, {X: 1000, Y: 0}, {X: 1000, Y: 1000}, {X: 0, Y: 1000}},
				{{X: 0, Y: 0}, {X: 1000, Y: 0}, {X: 1000, Y: 1000}},
			}},
			cad.Insert{Base: cad.Base{ID: "32", LayerName: "E-ENCHUFES"}, Block: "ENCHUFE", Position: cad.Vec{X: 5000, Y: 0}, ScaleX: 1, ScaleY: 1, Rotation: 90},
			cad.Text{Base: cad.Base{ID: "33", LayerName: "TEXTOS"}, Content: `{\fArial|b0;Tabique\Pinterior}`, Position: cad.Vec{X: 100, Y: 200}},
			cad.Unknown{Base: cad.Base{ID: "34", LayerName: "X"}, RawType: "SPLINE", Reason: "unsupported entity type"},
		},
		Blocks: map[string][]cad.Entity{
			"ENCHUFE": {
				cad.Line{Base: cad.Base{ID: "b0", LayerName: "0"}, Start: cad.Vec{}, End: cad.Vec{X: 100, Y: 0}},
			},
		},
	}
}

func itemByID(t *testing.T, items []model.MeasurableItem, id string) model.MeasurableItem {
	t.Helper()
	for _, it := range items {
		if it.ID == id {
			return it
		}
	}
	t.Fatalf("item %s not found", id)
	return model.MeasurableItem{}
}

func TestDrawing(t *testing.T) {
	res, err := Drawing(context.Background(), drawing(), Options{Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, "mm", res.Scale.Unit)
	assert.Equal(t, model.ScaleHeader, res.Scale.Source)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Items, 6)

	wall := itemByID(t, res.Items, "2F#len")
	assert.Equal(t, model.KindLength, wall.Kind)
	assert.InDelta(t, 10000, wall.ValueRaw, 1e-9)
	assert.InDelta(t, 10.0, wall.ValueSI, 1e-9)
	assert.Equal(t, "fa_tabiques", wall.LayerNorm)
	assert.Equal(t, model.DisciplineArchitecture, wall.Discipline)
	require.NotNil(t, wall.Position)
	assert.InDelta(t, 5.0, wall.Position.X, 1e-9)

	perim := itemByID(t, res.Items, "30#len")
	assert.InDelta(t, 10.0, perim.ValueSI, 1e-9)
	floor := itemByID(t, res.Items, "30#area")
	assert.Equal(t, model.KindArea, floor.Kind)
	assert.InDelta(t, 6.0, floor.ValueSI, 1e-9)
	assert.Equal(t, "mm2", floor.UnitRaw)

	hatch := itemByID(t, res.Items, "31#area")
	assert.InDelta(t, 1.5, hatch.ValueSI, 1e-9)
	require.Len(t, hatch.Warnings, 1)
	assert.Contains(t, hatch.Warnings[0], "not subtracted")

	block := itemByID(t, res.Items, "32#block")
	assert.Equal(t, model.KindBlock, block.Kind)
	assert.Equal(t, 1.0, block.ValueSI)
	assert.Equal(t, "ENCHUFE", block.Label)

	text := itemByID(t, res.Items, "33#text")
	assert.Equal(t, model.KindText, text.Kind)
	assert.Equal(t, "Tabique interior", text.Label)

	var skipped bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "34") && strings.Contains(w, "SPLINE") {
			skipped = true
		}
	}
	assert.True(t, skipped)
}

func TestDrawingDeterministic(t *testing.T) {
	a, err := Drawing(context.Background(), drawing(), Options{Workers: 1})
	require.NoError(t, err)
	b, err := Drawing(context.Background(), drawing(), Options{Workers: 8})
	require.NoError(t, err)
	assert.Equal(t, a.Items, b.Items)
}

func TestDrawingExpandBlocks(t *testing.T) {
	res, err := Drawing(context.Background(), drawing(), Options{ExpandBlocks: true, IDPrefix: "d0"})
	require.NoError(t, err)

	block := itemByID(t, res.Items, "d0:32#block")
	assert.Equal(t, "E-ENCHUFES", block.Layer)

	inner := itemByID(t, res.Items, "d0:32/b0#len")
	assert.Equal(t, "E-ENCHUFES", inner.Layer, "layer 0 inherits the insert layer")
	assert.InDelta(t, 0.1, inner.ValueSI, 1e-9)
	require.NotNil(t, inner.Position)
	// rotated 90°: the line runs from (5000,0) to (5000,100)
	assert.InDelta(t, 5.0, inner.Position.X, 1e-9)
	assert.InDelta(t, 0.05, inner.Position.Y, 1e-9)
}

func TestDrawingBlockCycle(t *testing.T) {
	d := &cad.Drawing{
		Name:  "cycle",
		Units: 6,
		Entities: []cad.Entity{
			cad.Insert{Base: cad.Base{ID: "1", LayerName: "L"}, Block: "A", ScaleX: 1, ScaleY: 1},
			cad.Insert{Base: cad.Base{ID: "2", LayerName: "L"}, Block: "MISSING", ScaleX: 1, ScaleY: 1},
		},
		Blocks: map[string][]cad.Entity{
			"A": {cad.Insert{Base: cad.Base{ID: "a0", LayerName: "0"}, Block: "B", ScaleX: 2, ScaleY: 2}},
			"B": {
				cad.Line{Base: cad.Base{ID: "b0", LayerName: "0"}, End: cad.Vec{X: 1}},
				cad.Insert{Base: cad.Base{ID: "b1", LayerName: "0"}, Block: "A", ScaleX: 1, ScaleY: 1},
			},
		},
	}
	res, err := Drawing(context.Background(), d, Options{ExpandBlocks: true})
	require.NoError(t, err)

	line := itemByID(t, res.Items, "1/a0/b0#len")
	assert.InDelta(t, 2.0, line.ValueSI, 1e-9, "nested scale applies")

	joined := strings.Join(res.Warnings, "\n")
	assert.Contains(t, joined, "references itself")
	assert.Contains(t, joined, "undefined block")
}

func TestDrawingAllUnparseable(t *testing.T) {
	d := &cad.Drawing{
		Name: "bad.json",
		Entities: []cad.Entity{
			cad.Unknown{Base: cad.Base{ID: "1"}, RawType: "SPLINE"},
			cad.Unknown{Base: cad.Base{ID: "2"}, RawType: "3DFACE"},
		},
	}
	_, err := Drawing(context.Background(), d, Options{})
	var pe *cad.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "bad.json", pe.File)
}

func TestDrawingEmpty(t *testing.T) {
	res, err := Drawing(context.Background(), &cad.Drawing{Name: "empty"}, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestDrawingHeuristicWarns(t *testing.T) {
	d := &cad.Drawing{
		Name: "noheader",
		Entities: []cad.Entity{
			cad.Line{Base: cad.Base{ID: "1", LayerName: "L"}, End: cad.Vec{X: 20000, Y: 0}},
		},
	}
	res, err := Drawing(context.Background(), d, Options{})
	require.NoError(t, err)
	assert.Equal(t, "mm", res.Scale.Unit)
	assert.False(t, res.Scale.Confident)
	assert.InDelta(t, 20.0, res.Items[0].ValueSI, 1e-9)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "inferred")

	res, err = Drawing(context.Background(), d, Options{UnitOverride: "cm"})
	require.NoError(t, err)
	assert.InDelta(t, 200.0, res.Items[0].ValueSI, 1e-9)
}

func TestDrawingCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Drawing(ctx, drawing(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestImplicitlyClosedPolyline(t *testing.T) {
	d := &cad.Drawing{
		Name:  "room",
		Units: 6,
		Entities: []cad.Entity{
			cad.Polyline{Base: cad.Base{ID: "r", LayerName: "ROOM"}, Vertices: []cad.Vec{
				{X: 0, Y: 0}, {X: 4, Y: 0}, {X: 4, Y: 3}, {X: 0, Y: 3}, {X: 0, Y: 0},
			}},
		},
	}
	res, err := Drawing(context.Background(), d, Options{})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.InDelta(t, 12.0, itemByID(t, res.Items, "r#area").ValueSI, 1e-9)
	assert.InDelta(t, 14.0, itemByID(t, res.Items, "r#len").ValueSI, 1e-9)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Muro doble", cleanText(`Muro\Pdoble`))
	assert.Equal(t, "Tabique", cleanText(`{\H2.5;Tabique}`))
	assert.Equal(t, "plain", cleanText("  plain "))
}

func TestAffineThen(t *testing.T) {
	inner := insertTransform(cad.Insert{ScaleX: 2, ScaleY: 2, Position: cad.Vec{X: 1, Y: 0}})
	outer := insertTransform(cad.Insert{ScaleX: 1, ScaleY: 1, Rotation: 90, Position: cad.Vec{X: 10, Y: 10}})
	got := inner.then(outer).apply(cad.Vec{X: 1, Y: 0})
	// inner: (1,0) -> (3,0); outer: rotate to (0,3) then translate
	assert.InDelta(t, 10.0, got.X, 1e-9)
	assert.InDelta(t, 13.0, got.Y, 1e-9)
	assert.False(t, math.IsNaN(got.X))
}

func TestDrawingBoundsInMeters(t *testing.T) {
	d := &cad.Drawing{Name: "muro", Units: 4, Entities: []cad.Entity{
		cad.Polyline{Base: cad.Base{ID: "1", LayerName: "MUROS"}, Vertices: []cad.Vec{{X: 0, Y: 0}, {X: 50000, Y: 0}}},
	}}
	res, err := Drawing(context.Background(), d, Options{})
	require.NoError(t, err)
	require.NotNil(t, res.Bounds)
	assert.InDelta(t, 50.0, Diagonal(res.Bounds), 1e-9)
	assert.InDelta(t, 50.0, res.Bounds.Max(0), 1e-9)
}

func TestBoundsHelpers(t *testing.T) {
	a := geom.NewBounds(geom.XY).Set(0, 0, 3, 0)
	b := geom.NewBounds(geom.XY).Set(0, 4, 1, 4)

	u := UnionBounds(nil, a)
	UnionBounds(u, b)
	UnionBounds(u, geom.NewBounds(geom.XY))
	assert.InDelta(t, 5.0, Diagonal(u), 1e-12)

	assert.InDelta(t, 0.005, Diagonal(ScaleBounds(u, 0.001)), 1e-12)
	assert.True(t, ScaleBounds(nil, 2).IsEmpty())

	pos := PositionBounds([]model.MeasurableItem{
		{Position: &model.Point{X: 0, Y: 0}},
		{Position: &model.Point{X: 3, Y: 4}},
		{},
	})
	assert.InDelta(t, 5.0, Diagonal(pos), 1e-12)
	assert.Zero(t, Diagonal(PositionBounds(nil)))
}
