package cad

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
)

// Attribute columns written by ogr2ogr when exporting DXF layers. DBF field
// names are capped at ten characters.
const (
	fieldLayer  = "layer"
	fieldHandle = "entityhand"
	fieldText   = "text"
)

// ReadShapefile reads a shapefile exported from a CAD drawing. Polylines
// become one Polyline per part, polygons become a Hatch with one loop per
// ring, and points become Text when they carry a label or an unnamed Insert
// otherwise. Shapefile coordinates carry no unit header.
func ReadShapefile(path string) (*Drawing, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, &ParseError{File: path, Err: eris.Wrap(err, "open shapefile")}
	}
	defer func() { _ = reader.Close() }()

	fieldIdx := make(map[string]int)
	for i, f := range reader.Fields() {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}
	attr := func(name string) string {
		idx, ok := fieldIdx[name]
		if !ok {
			return ""
		}
		return decodeAttribute(strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00")))
	}

	d := &Drawing{Name: path, Blocks: map[string][]Entity{}}
	for reader.Next() {
		n, shape := reader.Shape()
		id := attr(fieldHandle)
		if id == "" {
			id = fmt.Sprintf("SHP%d", n)
		}
		base := Base{ID: id, LayerName: attr(fieldLayer)}

		switch s := shape.(type) {
		case *shp.Point:
			pos := Vec{X: s.X, Y: s.Y}
			if label := attr(fieldText); label != "" {
				d.Entities = append(d.Entities, Text{Base: base, Content: label, Position: pos})
			} else {
				d.Entities = append(d.Entities, Insert{Base: base, Position: pos, ScaleX: 1, ScaleY: 1})
			}
		case *shp.PolyLine:
			parts := splitParts(s.Parts, s.Points)
			for i, part := range parts {
				pb := base
				if len(parts) > 1 {
					pb.ID = fmt.Sprintf("%s.%d", base.ID, i)
				}
				d.Entities = append(d.Entities, polylineOrUnknown(pb, part, false))
			}
		case *shp.PolyLineZ:
			for i, part := range splitParts(s.Parts, s.Points) {
				pb := base
				if s.NumParts > 1 {
					pb.ID = fmt.Sprintf("%s.%d", base.ID, i)
				}
				d.Entities = append(d.Entities, polylineOrUnknown(pb, part, false))
			}
		case *shp.Polygon:
			d.Entities = append(d.Entities, hatchOrUnknown(base, splitParts(s.Parts, s.Points)))
		case *shp.PolygonZ:
			d.Entities = append(d.Entities, hatchOrUnknown(base, splitParts(s.Parts, s.Points)))
		default:
			d.Entities = append(d.Entities, Unknown{
				Base:    base,
				RawType: fmt.Sprintf("%T", shape),
				Reason:  "shape type not supported",
			})
		}
	}
	if err := reader.Err(); err != nil {
		return nil, &ParseError{File: path, Err: eris.Wrap(err, "read shapefile")}
	}

	zap.L().Debug("cad: read shapefile",
		zap.String("path", path),
		zap.Int("entities", len(d.Entities)),
	)
	return d, nil
}

// splitParts cuts a flat point array into parts using the part start offsets.
// Rings repeat their first point at the end; the duplicate is dropped.
func splitParts(starts []int32, points []shp.Point) [][]Vec {
	out := make([][]Vec, 0, len(starts))
	for i, start := range starts {
		end := int32(len(points))
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		part := make([]Vec, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, Vec{X: p.X, Y: p.Y})
		}
		if len(part) > 2 && part[0] == part[len(part)-1] {
			part = part[:len(part)-1]
		}
		out = append(out, part)
	}
	return out
}

func hatchOrUnknown(base Base, loops [][]Vec) Entity {
	if len(loops) == 0 {
		return Unknown{Base: base, RawType: "POLYGON", Reason: "polygon has no rings"}
	}
	for _, l := range loops {
		if len(l) < 3 {
			return Unknown{Base: base, RawType: "POLYGON", Reason: "ring needs at least three vertices"}
		}
		for _, v := range l {
			if !v.Finite() {
				return Unknown{Base: base, RawType: "POLYGON", Reason: "non-finite vertex"}
			}
		}
	}
	return Hatch{Base: base, Loops: loops}
}

// decodeAttribute converts legacy Windows-1252 DBF text to UTF-8. Layer
// names from Spanish drawings often carry accents in that code page.
func decodeAttribute(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	out, err := charmap.Windows1252.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}
