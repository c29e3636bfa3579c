package spatial

import (
	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/textutil"
)

// DefaultRadius is the label search radius in meters.
const DefaultRadius = 2.5

// Index builds a grid over the text items that carry a label and a position.
func Index(items []model.MeasurableItem, cellSize float64) *Grid {
	g := NewGrid(cellSize)
	for _, it := range items {
		if it.Kind != model.KindText || it.Position == nil || it.Label == "" {
			continue
		}
		g.Insert(it.Label, *it.Position)
	}
	return g
}

// Enrich returns a copy of items where every positioned non-text item
// carries the tokens of the labels within radius. The closest label is
// cited in the evidence string. Input items are not modified.
func Enrich(items []model.MeasurableItem, cellSize, radius float64) []model.MeasurableItem {
	if radius <= 0 {
		radius = DefaultRadius
	}
	g := Index(items, cellSize)

	out := make([]model.MeasurableItem, len(items))
	for i, it := range items {
		out[i] = it
		if g.Len() == 0 || it.Kind == model.KindText || it.Position == nil {
			continue
		}
		hits := g.QueryNearby(*it.Position, radius)
		if len(hits) == 0 {
			continue
		}

		seen := map[string]bool{}
		var tokens []string
		for _, h := range hits {
			for _, tok := range textutil.Tokens(h.Text) {
				if !seen[tok] {
					seen[tok] = true
					tokens = append(tokens, tok)
				}
			}
		}
		if len(tokens) == 0 {
			continue
		}
		out[i] = it.WithNearbyText(tokens, "nearby label: "+hits[0].Text)
	}
	return out
}
