// Package normalize converts raw CAD entities into measurable items with
// SI values.
package normalize

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/takeoff/internal/aggregate"
	"github.com/sells-group/takeoff/internal/cad"
	"github.com/sells-group/takeoff/internal/model"
)

const (
	defaultWorkers  = 8
	defaultMaxDepth = 8
)

// Options controls one normalization pass.
type Options struct {
	// Workers bounds the entity fan-out. Zero means 8.
	Workers int
	// ExpandBlocks emits the geometry found inside block definitions in
	// addition to the one block item per insert.
	ExpandBlocks bool
	// UnitOverride forces the native unit ("mm", "cm", "m", "in", "ft").
	UnitOverride string
	// IDPrefix is prepended to every item id. Runs over several drawings
	// set it per drawing so ids stay unique.
	IDPrefix string
	// MaxBlockDepth bounds nested block expansion. Zero means 8.
	MaxBlockDepth int
}

// Result is the output of normalizing one drawing.
type Result struct {
	Drawing  string                 `json:"drawing"`
	Items    []model.MeasurableItem `json:"items"`
	Scale    model.Scale            `json:"scale"`
	// Bounds covers the drawing's top-level geometry in meters.
	Bounds   *geom.Bounds           `json:"-"`
	Warnings []string               `json:"warnings,omitempty"`
	Skipped  int                    `json:"skipped"`
}

type entityOutput struct {
	items    []model.MeasurableItem
	warnings []string
	skipped  bool
}

// Drawing normalizes every entity of d. Unparseable entities are skipped
// with a warning; a drawing whose entities are all unparseable returns a
// *cad.ParseError.
func Drawing(ctx context.Context, d *cad.Drawing, opts Options) (*Result, error) {
	if d == nil {
		return nil, eris.New("normalize: nil drawing")
	}

	bounds := DrawingBounds(d)
	scale, err := InferScale(bounds, d.Units, opts.UnitOverride)
	if err != nil {
		return nil, err
	}
	logScale(d.Name, scale, Diagonal(bounds))

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	depth := opts.MaxBlockDepth
	if depth <= 0 {
		depth = defaultMaxDepth
	}
	n := &normalizer{drawing: d, scale: scale, opts: opts, maxDepth: depth}

	outputs := make([]entityOutput, len(d.Entities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, e := range d.Entities {
		i, e := i, e
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outputs[i] = n.entity(e)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "normalize: entity fan-out")
	}

	res := &Result{Drawing: d.Name, Scale: scale, Bounds: ScaleBounds(bounds, scale.Factor)}
	if scale.Source == model.ScaleHeuristic {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"unit scale inferred as %s from bounding box; set an explicit unit if quantities look off", scale.Unit))
	}
	for _, out := range outputs {
		res.Items = append(res.Items, out.items...)
		res.Warnings = append(res.Warnings, out.warnings...)
		if out.skipped {
			res.Skipped++
		}
	}

	if len(d.Entities) > 0 && res.Skipped == len(d.Entities) {
		return nil, &cad.ParseError{
			File: d.Name,
			Err:  eris.Errorf("all %d entities are unparseable", len(d.Entities)),
		}
	}
	if res.Skipped > 0 {
		zap.L().Warn("normalize: skipped entities",
			zap.String("drawing", d.Name),
			zap.Int("skipped", res.Skipped),
			zap.Int("total", len(d.Entities)),
		)
	}
	return res, nil
}

func logScale(name string, s model.Scale, diagonal float64) {
	switch s.Source {
	case model.ScaleHeuristic:
		zap.L().Warn("normalize: unit scale inferred from bounding box",
			zap.String("drawing", name),
			zap.String("unit", s.Unit),
			zap.Float64("diagonal", diagonal),
		)
	case model.ScaleOverride:
		zap.L().Info("normalize: unit scale overridden",
			zap.String("drawing", name),
			zap.String("unit", s.Unit),
		)
	}
}

type normalizer struct {
	drawing  *cad.Drawing
	scale    model.Scale
	opts     Options
	maxDepth int
}

func (n *normalizer) id(handle, suffix string) string {
	if n.opts.IDPrefix != "" {
		return n.opts.IDPrefix + ":" + handle + suffix
	}
	return handle + suffix
}

func (n *normalizer) entity(e cad.Entity) entityOutput {
	var out entityOutput
	switch ent := e.(type) {
	case cad.Unknown:
		out.skipped = true
		out.warnings = append(out.warnings, fmt.Sprintf("skipped entity %s (%s): %s", ent.Handle(), ent.Type(), ent.Reason))
	case cad.Insert:
		out.items = append(out.items, n.blockItem(ent))
		if n.opts.ExpandBlocks {
			n.expand(&out, ent, identity, 0, nil)
		}
	default:
		n.emit(&out, e)
	}
	return out
}

// emit appends the items of one non-insert entity in world coordinates.
func (n *normalizer) emit(out *entityOutput, e cad.Entity) {
	switch ent := e.(type) {
	case cad.Line:
		verts := []cad.Vec{ent.Start, ent.End}
		out.items = append(out.items, n.lengthItem(ent.Base, verts, false, "line"))

	case cad.Polyline:
		verts, closed := ent.Vertices, ent.Closed
		if !closed && len(verts) >= 4 && verts[0] == verts[len(verts)-1] {
			verts, closed = verts[:len(verts)-1], true
		}
		if closed {
			out.items = append(out.items, n.lengthItem(ent.Base, verts, true, "closed polyline perimeter"))
			out.items = append(out.items, n.areaItem(ent.Base, [][]cad.Vec{verts}, "closed polyline"))
		} else {
			out.items = append(out.items, n.lengthItem(ent.Base, verts, false, "open polyline"))
		}

	case cad.Hatch:
		out.items = append(out.items, n.areaItem(ent.Base, ent.Loops, "hatch"))

	case cad.Text:
		out.items = append(out.items, n.textItem(ent))

	case cad.Unknown:
		out.warnings = append(out.warnings, fmt.Sprintf("skipped block entity %s (%s): %s", ent.Handle(), ent.Type(), ent.Reason))
	}
}

// expand emits the geometry owned by the block definition ins refers to.
// ins is expressed in the coordinate space that parent maps to the world.
// Entities on layer "0" inherit the insert's layer. stack holds the block
// names being expanded, for cycle detection.
func (n *normalizer) expand(out *entityOutput, ins cad.Insert, parent affine, depth int, stack []string) {
	if ins.Block == "" {
		return
	}
	defs, ok := n.drawing.Blocks[ins.Block]
	if !ok {
		out.warnings = append(out.warnings, fmt.Sprintf("insert %s references undefined block %q", ins.Handle(), ins.Block))
		return
	}
	for _, name := range stack {
		if name == ins.Block {
			out.warnings = append(out.warnings, fmt.Sprintf("insert %s: block %q references itself; expansion stopped", ins.Handle(), ins.Block))
			return
		}
	}
	if depth >= n.maxDepth {
		out.warnings = append(out.warnings, fmt.Sprintf("insert %s: block nesting deeper than %d; expansion stopped", ins.Handle(), n.maxDepth))
		return
	}

	world := insertTransform(ins).then(parent)
	next := append(append([]string(nil), stack...), ins.Block)
	for _, child := range defs {
		layer := child.Layer()
		if layer == "" || layer == "0" {
			layer = ins.Layer()
		}
		base := cad.Base{ID: ins.Handle() + "/" + child.Handle(), LayerName: layer}

		if nested, ok := child.(cad.Insert); ok {
			local := nested
			local.Base = base
			out.items = append(out.items, n.blockItem(transformEntity(local, world, base).(cad.Insert)))
			n.expand(out, local, world, depth+1, next)
			continue
		}
		n.emit(out, transformEntity(child, world, base))
	}
}

var mtextCodes = regexp.MustCompile(`\\[A-Za-z][^;\\{}]*;|[{}]`)

// cleanText strips MTEXT inline formatting and paragraph codes.
func cleanText(s string) string {
	s = strings.NewReplacer(`\P`, " ", `\p`, " ", `\~`, " ", `\N`, " ").Replace(s)
	s = mtextCodes.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

func (n *normalizer) item(base cad.Base, kind model.Kind, raw float64, unit string, si float64, evidence string) model.MeasurableItem {
	return model.MeasurableItem{
		ID:         base.ID,
		Layer:      base.LayerName,
		LayerNorm:  aggregate.NormalizeLayer(base.LayerName),
		Discipline: InferDiscipline(base.LayerName),
		Kind:       kind,
		ValueRaw:   raw,
		UnitRaw:    unit,
		ValueSI:    si,
		Evidence:   evidence,
		Source:     n.drawing.Name,
	}
}

func (n *normalizer) toMeters(v cad.Vec) *model.Point {
	return &model.Point{X: v.X * n.scale.Factor, Y: v.Y * n.scale.Factor}
}

func (n *normalizer) lengthItem(base cad.Base, verts []cad.Vec, closed bool, evidence string) model.MeasurableItem {
	raw := PathLength(verts, closed)
	base.ID = n.id(base.ID, "#len")
	it := n.item(base, model.KindLength, raw, n.scale.Unit, raw*n.scale.Factor, evidence)
	it.Position = n.toMeters(centroid(verts))
	return it
}

func (n *normalizer) areaItem(base cad.Base, loops [][]cad.Vec, evidence string) model.MeasurableItem {
	var raw float64
	for _, l := range loops {
		raw += ShoelaceArea(l)
	}
	base.ID = n.id(base.ID, "#area")
	it := n.item(base, model.KindArea, raw, n.scale.Unit+"2", raw*n.scale.Factor*n.scale.Factor, evidence)
	if len(loops) > 0 {
		it.Position = n.toMeters(centroid(loops[0]))
	}
	if len(loops) > 1 {
		it.Warnings = append(it.Warnings, fmt.Sprintf("%d boundary loops summed; holes are not subtracted", len(loops)))
	}
	return it
}

func (n *normalizer) blockItem(ins cad.Insert) model.MeasurableItem {
	base := ins.Base
	base.ID = n.id(base.ID, "#block")
	it := n.item(base, model.KindBlock, 1, "u", 1, "insert count")
	it.Label = ins.Block
	it.Position = n.toMeters(ins.Position)
	return it
}

func (n *normalizer) textItem(t cad.Text) model.MeasurableItem {
	base := t.Base
	base.ID = n.id(base.ID, "#text")
	evidence := "text label"
	if t.Multiline {
		evidence = "mtext label"
	}
	it := n.item(base, model.KindText, 1, "u", 1, evidence)
	it.Label = cleanText(t.Content)
	it.Position = n.toMeters(t.Position)
	return it
}
