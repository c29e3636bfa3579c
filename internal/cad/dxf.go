package cad

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/rpaloschi/dxf-go/core"
	"github.com/rpaloschi/dxf-go/document"
	"github.com/rpaloschi/dxf-go/entities"
)

// ReadDXF parses an ASCII DXF file. Lines, polylines, inserts and texts are
// lifted into the tagged union along with BLOCKS definitions and the
// $INSUNITS header. Every other entity becomes Unknown and is reported by
// the normalizer.
func ReadDXF(path string) (*Drawing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{File: path, Err: eris.Wrap(err, "open dxf")}
	}
	defer f.Close() //nolint:errcheck

	return DecodeDXF(f, path)
}

// DecodeDXF parses DXF content from r.
func DecodeDXF(r io.Reader, name string) (*Drawing, error) {
	doc, err := document.DxfDocumentFromStream(r)
	if err != nil {
		return nil, &ParseError{File: name, Err: eris.Wrap(err, "decode dxf")}
	}
	d := &Drawing{Name: name, Units: dxfUnits(doc), Blocks: map[string][]Entity{}}

	for blockName, b := range doc.Blocks {
		if b == nil {
			continue
		}
		defs := make([]Entity, 0, len(b.Entities))
		for i, e := range b.Entities {
			defs = append(defs, fromDXF(e, fmt.Sprintf("block:%s#%d", blockName, i)))
		}
		d.Blocks[blockName] = defs
	}

	if doc.Entities != nil {
		for i, e := range doc.Entities.Entities {
			d.Entities = append(d.Entities, fromDXF(e, fmt.Sprintf("DXF%d", i)))
		}
	}
	return d, nil
}

// dxfUnits reads $INSUNITS; zero means unitless or absent.
func dxfUnits(doc *document.DxfDocument) int {
	if doc.Header == nil {
		return 0
	}
	for _, tag := range doc.Header.Get("$INSUNITS") {
		if tag == nil || tag.Value == nil {
			continue
		}
		if v, ok := core.AsInt(tag.Value); ok {
			return v
		}
	}
	return 0
}

// fromDXF maps one dxf-go entity. The entity handle wins over fallbackID.
func fromDXF(e entities.Entity, fallbackID string) Entity {
	switch ent := e.(type) {
	case *entities.Line:
		base := dxfBase(ent.BaseEntity, fallbackID)
		start := Vec{X: ent.Start.X, Y: ent.Start.Y}
		end := Vec{X: ent.End.X, Y: ent.End.Y}
		if !start.Finite() || !end.Finite() {
			return Unknown{Base: base, RawType: "LINE", Reason: "non-finite endpoint"}
		}
		return Line{Base: base, Start: start, End: end}

	case *entities.LWPolyline:
		verts := make([]Vec, 0, len(ent.Points))
		for _, p := range ent.Points {
			verts = append(verts, Vec{X: p.Point.X, Y: p.Point.Y})
		}
		return polylineOrUnknown(dxfBase(ent.BaseEntity, fallbackID), verts, ent.Closed)

	case *entities.Polyline:
		verts := make([]Vec, 0, len(ent.Vertices))
		for _, v := range ent.Vertices {
			verts = append(verts, Vec{X: v.Location.X, Y: v.Location.Y})
		}
		closed := len(verts) > 2 && verts[0] == verts[len(verts)-1]
		if closed {
			verts = verts[:len(verts)-1]
		}
		return polylineOrUnknown(dxfBase(ent.BaseEntity, fallbackID), verts, closed)

	case *entities.Insert:
		base := dxfBase(ent.BaseEntity, fallbackID)
		pos := Vec{X: ent.InsertionPoint.X, Y: ent.InsertionPoint.Y}
		if !pos.Finite() {
			return Unknown{Base: base, RawType: "INSERT", Reason: "insert needs a position"}
		}
		ins := Insert{
			Base:     base,
			Block:    ent.BlockName,
			Position: pos,
			ScaleX:   ent.ScaleFactorX,
			ScaleY:   ent.ScaleFactorY,
			Rotation: ent.RotationAngle,
		}
		if ins.ScaleX == 0 {
			ins.ScaleX = 1
		}
		if ins.ScaleY == 0 {
			ins.ScaleY = 1
		}
		return ins

	case *entities.Text:
		base := dxfBase(ent.BaseEntity, fallbackID)
		pos := Vec{X: ent.FirstAlignmentPoint.X, Y: ent.FirstAlignmentPoint.Y}
		if !pos.Finite() {
			return Unknown{Base: base, RawType: "TEXT", Reason: "text needs a position"}
		}
		return Text{Base: base, Content: ent.Value, Position: pos}
	}

	return Unknown{
		Base:    Base{ID: fallbackID},
		RawType: fmt.Sprintf("%T", e),
		Reason:  "entity type not read from dxf",
	}
}

func dxfBase(b entities.BaseEntity, fallbackID string) Base {
	id := b.Handle
	if id == "" {
		id = fallbackID
	}
	return Base{ID: id, LayerName: b.LayerName}
}

func polylineOrUnknown(base Base, verts []Vec, closed bool) Entity {
	if len(verts) < 2 {
		return Unknown{Base: base, RawType: "POLYLINE", Reason: "polyline needs at least two vertices"}
	}
	for _, v := range verts {
		if !v.Finite() {
			return Unknown{Base: base, RawType: "POLYLINE", Reason: "non-finite vertex"}
		}
	}
	return Polyline{Base: base, Vertices: verts, Closed: closed}
}
