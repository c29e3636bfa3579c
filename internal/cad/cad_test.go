package cad

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleStream = `{
  "name": "A-101",
  "units": 4,
  "entities": [
    {"type": "LWPOLYLINE", "handle": "2F", "layer": "FA_TABIQUES", "closed": false, "vertices": [[0,0],[1000,0],[1000,500]]},
    {"type": "line", "layer": "EJES", "start": [0,0], "end": [0,300]},
    {"type": "HATCH", "handle": "30", "layer": "PISO", "loops": [[[0,0],[10,0],[10,10],[0,10]]]},
    {"type": "INSERT", "handle": "31", "layer": "E-ENCHUFES", "block": "ENCHUFE", "position": [50,50], "rotation": 90},
    {"type": "MTEXT", "handle": "32", "layer": "TEXTOS", "text": "Tabique", "position": [10,10]},
    {"type": "SPLINE", "handle": "33", "layer": "X"},
    {"type": "LWPOLYLINE", "handle": "34", "layer": "X", "vertices": [[0,0]]}
  ],
  "blocks": {
    "ENCHUFE": [{"type": "LINE", "layer": "0", "start": [0,0], "end": [100,0]}]
  }
}`

func TestDecodeJSON(t *testing.T) {
	d, err := DecodeJSON(strings.NewReader(sampleStream), "a101.json")
	require.NoError(t, err)

	assert.Equal(t, "A-101", d.Name)
	assert.Equal(t, 4, d.Units)
	require.Len(t, d.Entities, 7)

	pl, ok := d.Entities[0].(Polyline)
	require.True(t, ok)
	assert.Equal(t, "2F", pl.Handle())
	assert.Equal(t, "FA_TABIQUES", pl.Layer())
	assert.Len(t, pl.Vertices, 3)
	assert.False(t, pl.Closed)

	ln, ok := d.Entities[1].(Line)
	require.True(t, ok)
	assert.Equal(t, "E1", ln.Handle(), "missing handle falls back to position")
	assert.Equal(t, Vec{X: 0, Y: 300}, ln.End)

	h, ok := d.Entities[2].(Hatch)
	require.True(t, ok)
	assert.Len(t, h.Loops, 1)

	ins, ok := d.Entities[3].(Insert)
	require.True(t, ok)
	assert.Equal(t, "ENCHUFE", ins.Block)
	assert.Equal(t, 1.0, ins.ScaleX)
	assert.Equal(t, 90.0, ins.Rotation)

	txt, ok := d.Entities[4].(Text)
	require.True(t, ok)
	assert.Equal(t, "MTEXT", txt.Type())
	assert.Equal(t, "Tabique", txt.Content)

	u, ok := d.Entities[5].(Unknown)
	require.True(t, ok)
	assert.Equal(t, "SPLINE", u.Type())

	_, ok = d.Entities[6].(Unknown)
	assert.True(t, ok, "single-vertex polyline is unparseable")

	require.Contains(t, d.Blocks, "ENCHUFE")
	assert.Equal(t, "block:ENCHUFE#0", d.Blocks["ENCHUFE"][0].Handle())
	assert.Equal(t, "0", d.Blocks["ENCHUFE"][0].Layer())
}

func TestDecodeJSONInvalid(t *testing.T) {
	_, err := DecodeJSON(strings.NewReader(`{"entities": [`), "broken.json")
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "broken.json", pe.File)
	assert.Contains(t, err.Error(), "broken.json")
}

func TestDecodeJSONDefaultsName(t *testing.T) {
	d, err := DecodeJSON(strings.NewReader(`{"entities": []}`), "plan.json")
	require.NoError(t, err)
	assert.Equal(t, "plan.json", d.Name)
	assert.Empty(t, d.Entities)
}

func TestUnitName(t *testing.T) {
	name, f, ok := UnitName(4)
	assert.True(t, ok)
	assert.Equal(t, "mm", name)
	assert.Equal(t, 0.001, f)

	_, _, ok = UnitName(0)
	assert.False(t, ok)
	_, _, ok = UnitName(99)
	assert.False(t, ok)
}

func TestReadDXFMissingFile(t *testing.T) {
	_, err := ReadDXF(filepath.Join(t.TempDir(), "missing.dxf"))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
}

// dxfSource joins group code/value pairs into ASCII DXF text.
func dxfSource(pairs ...string) string {
	return strings.Join(pairs, "\n") + "\n"
}

func TestDecodeDXFLineOnly(t *testing.T) {
	src := dxfSource(
		"0", "SECTION", "2", "ENTITIES",
		"0", "LINE", "5", "1A", "8", "FA_TABIQUES",
		"10", "0", "20", "0", "30", "0",
		"11", "50", "21", "0", "31", "0",
		"0", "ENDSEC",
		"0", "EOF",
	)
	d, err := DecodeDXF(strings.NewReader(src), "muro.dxf")
	require.NoError(t, err)

	assert.Equal(t, 0, d.Units)
	require.Len(t, d.Entities, 1)
	line, ok := d.Entities[0].(Line)
	require.True(t, ok, "got %T", d.Entities[0])
	assert.Equal(t, "1A", line.Handle())
	assert.Equal(t, "FA_TABIQUES", line.Layer())
	assert.Equal(t, Vec{X: 0, Y: 0}, line.Start)
	assert.Equal(t, Vec{X: 50, Y: 0}, line.End)
}

func TestDecodeDXFHeaderUnits(t *testing.T) {
	src := dxfSource(
		"0", "SECTION", "2", "HEADER",
		"9", "$INSUNITS", "70", "6",
		"0", "ENDSEC",
		"0", "SECTION", "2", "ENTITIES",
		"0", "LWPOLYLINE", "8", "PISO", "90", "3", "70", "1",
		"10", "0", "20", "0",
		"10", "20", "20", "0",
		"10", "20", "20", "20",
		"0", "ENDSEC",
		"0", "EOF",
	)
	d, err := DecodeDXF(strings.NewReader(src), "planta.dxf")
	require.NoError(t, err)

	assert.Equal(t, 6, d.Units)
	name, factor, ok := UnitName(d.Units)
	require.True(t, ok)
	assert.Equal(t, "m", name)
	assert.Equal(t, 1.0, factor)
	require.Len(t, d.Entities, 1)
	pl, ok := d.Entities[0].(Polyline)
	require.True(t, ok, "got %T", d.Entities[0])
	assert.True(t, pl.Closed)
	assert.Len(t, pl.Vertices, 3)
	assert.Equal(t, "DXF0", pl.Handle())
}

func TestDecodeDXFInsertTextAndBlocks(t *testing.T) {
	src := dxfSource(
		"0", "SECTION", "2", "BLOCKS",
		"0", "BLOCK", "8", "0", "2", "ENCHUFE", "70", "0", "10", "0", "20", "0",
		"0", "LINE", "8", "0", "10", "0", "20", "0", "11", "100", "21", "0",
		"0", "ENDBLK", "8", "0",
		"0", "ENDSEC",
		"0", "SECTION", "2", "ENTITIES",
		"0", "INSERT", "5", "31", "8", "E-ENCHUFES", "2", "ENCHUFE",
		"10", "50", "20", "60", "30", "0", "50", "90",
		"0", "TEXT", "5", "32", "8", "TEXTOS", "10", "10", "20", "10", "30", "0", "40", "2.5", "1", "Tabique",
		"0", "CIRCLE", "8", "X", "10", "0", "20", "0", "30", "0", "40", "1",
		"0", "ENDSEC",
		"0", "EOF",
	)
	d, err := DecodeDXF(strings.NewReader(src), "enchufes.dxf")
	require.NoError(t, err)
	require.Len(t, d.Entities, 3)

	ins, ok := d.Entities[0].(Insert)
	require.True(t, ok, "got %T", d.Entities[0])
	assert.Equal(t, "31", ins.Handle())
	assert.Equal(t, "ENCHUFE", ins.Block)
	assert.Equal(t, Vec{X: 50, Y: 60}, ins.Position)
	assert.Equal(t, 1.0, ins.ScaleX)
	assert.Equal(t, 1.0, ins.ScaleY)
	assert.Equal(t, 90.0, ins.Rotation)

	txt, ok := d.Entities[1].(Text)
	require.True(t, ok, "got %T", d.Entities[1])
	assert.Equal(t, "Tabique", txt.Content)
	assert.Equal(t, "TEXTOS", txt.Layer())
	assert.Equal(t, Vec{X: 10, Y: 10}, txt.Position)

	unk, ok := d.Entities[2].(Unknown)
	require.True(t, ok, "got %T", d.Entities[2])
	assert.Equal(t, "DXF2", unk.Handle())

	require.Contains(t, d.Blocks, "ENCHUFE")
	require.Len(t, d.Blocks["ENCHUFE"], 1)
	def, ok := d.Blocks["ENCHUFE"][0].(Line)
	require.True(t, ok, "got %T", d.Blocks["ENCHUFE"][0])
	assert.Equal(t, "block:ENCHUFE#0", def.Handle())
	assert.Equal(t, Vec{X: 100, Y: 0}, def.End)
}

func writeShapefile(t *testing.T, path string, typ shp.ShapeType, shapes []shp.Shape, attrs [][]string) {
	t.Helper()
	w, err := shp.Create(path, typ)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("Layer", 40),
		shp.StringField("EntityHand", 16),
		shp.StringField("Text", 60),
	}))
	for i, s := range shapes {
		w.Write(s)
		for j, v := range attrs[i] {
			require.NoError(t, w.WriteAttribute(i, j, v))
		}
	}
	w.Close()

	// The writer names the attribute table "<base>dbf" while the reader
	// looks for "<base>.dbf".
	base := strings.TrimSuffix(path, ".shp")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
}

func TestReadShapefileLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.shp")
	writeShapefile(t, path, shp.POLYLINE,
		[]shp.Shape{
			shp.NewPolyLine([][]shp.Point{{{X: 0, Y: 0}, {X: 10, Y: 0}}}),
			shp.NewPolyLine([][]shp.Point{
				{{X: 0, Y: 0}, {X: 0, Y: 5}},
				{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 3, Y: 1}},
			}),
		},
		[][]string{{"FA_TABIQUES", "2F", ""}, {"EJES", "", ""}},
	)

	d, err := ReadShapefile(path)
	require.NoError(t, err)
	require.Len(t, d.Entities, 3)

	first, ok := d.Entities[0].(Polyline)
	require.True(t, ok)
	assert.Equal(t, "2F", first.Handle())
	assert.Equal(t, "FA_TABIQUES", first.Layer())
	assert.Equal(t, []Vec{{0, 0}, {10, 0}}, first.Vertices)

	assert.Equal(t, "SHP1.0", d.Entities[1].Handle())
	assert.Equal(t, "SHP1.1", d.Entities[2].Handle())
	assert.Len(t, d.Entities[2].(Polyline).Vertices, 3)
}

func TestReadShapefilePoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.shp")
	writeShapefile(t, path, shp.POINT,
		[]shp.Shape{&shp.Point{X: 1, Y: 2}, &shp.Point{X: 3, Y: 4}},
		[][]string{{"TEXTOS", "40", "Muro"}, {"E-ENCHUFES", "41", ""}},
	)

	d, err := ReadShapefile(path)
	require.NoError(t, err)
	require.Len(t, d.Entities, 2)

	txt, ok := d.Entities[0].(Text)
	require.True(t, ok)
	assert.Equal(t, "Muro", txt.Content)
	assert.Equal(t, Vec{X: 1, Y: 2}, txt.Position)

	ins, ok := d.Entities[1].(Insert)
	require.True(t, ok)
	assert.Equal(t, "E-ENCHUFES", ins.Layer())
}

func TestReadShapefileMissing(t *testing.T) {
	_, err := ReadShapefile(filepath.Join(t.TempDir(), "nope.shp"))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
}

func TestSplitPartsDropsClosingPoint(t *testing.T) {
	pts := []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 0}}
	parts := splitParts([]int32{0}, pts)
	require.Len(t, parts, 1)
	assert.Len(t, parts[0], 3)
}

func TestDecodeAttribute(t *testing.T) {
	assert.Equal(t, "tubería", decodeAttribute("tubería"))
	assert.Equal(t, "tubería", decodeAttribute("tuber\xeda"))
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a-101.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleStream), 0o644))

	d, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "A-101", d.Name)
	assert.NotEmpty(t, d.Entities)

	_, err = ReadFile(filepath.Join(dir, "plan.pdf"))
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, pe.Error(), "unsupported drawing format")

	_, err = ReadFile(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.As(err, &pe))
}
