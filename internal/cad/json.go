package cad

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// rawDrawing is the upstream entity stream document.
type rawDrawing struct {
	Name     string                 `json:"name"`
	Units    int                    `json:"units"`
	Entities []rawEntity            `json:"entities"`
	Blocks   map[string][]rawEntity `json:"blocks"`
}

type rawEntity struct {
	Type     string        `json:"type"`
	Handle   string        `json:"handle"`
	Layer    string        `json:"layer"`
	Closed   bool          `json:"closed"`
	Vertices [][]float64   `json:"vertices"`
	Start    []float64     `json:"start"`
	End      []float64     `json:"end"`
	Loops    [][][]float64 `json:"loops"`
	Block    string        `json:"block"`
	Position []float64     `json:"position"`
	ScaleX   *float64      `json:"scale_x"`
	ScaleY   *float64      `json:"scale_y"`
	Rotation float64       `json:"rotation"`
	Text     string        `json:"text"`
}

// DecodeJSON reads an entity stream document. Entries with unsupported types
// or malformed coordinates are kept as Unknown so the normalizer can report
// them; a document that is not valid JSON is a ParseError.
func DecodeJSON(r io.Reader, name string) (*Drawing, error) {
	var raw rawDrawing
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, &ParseError{File: name, Err: eris.Wrap(err, "decode entity stream")}
	}
	if raw.Name == "" {
		raw.Name = name
	}

	d := &Drawing{
		Name:     raw.Name,
		Units:    raw.Units,
		Entities: make([]Entity, 0, len(raw.Entities)),
		Blocks:   make(map[string][]Entity, len(raw.Blocks)),
	}
	for i, re := range raw.Entities {
		id := re.Handle
		if id == "" {
			id = fmt.Sprintf("E%d", i)
		}
		d.Entities = append(d.Entities, re.entity(id))
	}

	names := make([]string, 0, len(raw.Blocks))
	for n := range raw.Blocks {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		defs := raw.Blocks[n]
		ents := make([]Entity, 0, len(defs))
		for i, re := range defs {
			ents = append(ents, re.entity(fmt.Sprintf("block:%s#%d", n, i)))
		}
		d.Blocks[n] = ents
	}
	return d, nil
}

func (re rawEntity) entity(id string) Entity {
	base := Base{ID: id, LayerName: re.Layer}
	typ := strings.ToUpper(strings.TrimSpace(re.Type))
	bad := func(reason string) Entity {
		return Unknown{Base: base, RawType: typ, Reason: reason}
	}

	switch typ {
	case "LINE":
		start, ok1 := vec(re.Start)
		end, ok2 := vec(re.End)
		if !ok1 || !ok2 {
			return bad("line needs start and end")
		}
		return Line{Base: base, Start: start, End: end}

	case "LWPOLYLINE", "POLYLINE":
		verts, ok := vecs(re.Vertices)
		if !ok || len(verts) < 2 {
			return bad("polyline needs at least two valid vertices")
		}
		return Polyline{Base: base, Vertices: verts, Closed: re.Closed}

	case "HATCH":
		if len(re.Loops) == 0 {
			return bad("hatch has no boundary loops")
		}
		loops := make([][]Vec, 0, len(re.Loops))
		for _, l := range re.Loops {
			verts, ok := vecs(l)
			if !ok || len(verts) < 3 {
				return bad("hatch loop needs at least three valid vertices")
			}
			loops = append(loops, verts)
		}
		return Hatch{Base: base, Loops: loops}

	case "INSERT":
		pos, ok := vec(re.Position)
		if !ok {
			return bad("insert needs a position")
		}
		ins := Insert{Base: base, Block: re.Block, Position: pos, ScaleX: 1, ScaleY: 1, Rotation: re.Rotation}
		if re.ScaleX != nil {
			ins.ScaleX = *re.ScaleX
		}
		if re.ScaleY != nil {
			ins.ScaleY = *re.ScaleY
		}
		return ins

	case "TEXT", "MTEXT":
		pos, ok := vec(re.Position)
		if !ok {
			return bad("text needs a position")
		}
		return Text{Base: base, Content: re.Text, Position: pos, Multiline: typ == "MTEXT"}
	}

	if typ == "" {
		return bad("missing type")
	}
	return bad("unsupported entity type")
}

func vec(c []float64) (Vec, bool) {
	if len(c) < 2 {
		return Vec{}, false
	}
	v := Vec{X: c[0], Y: c[1]}
	return v, v.Finite()
}

func vecs(cs [][]float64) ([]Vec, bool) {
	out := make([]Vec, 0, len(cs))
	for _, c := range cs {
		v, ok := vec(c)
		if !ok {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
