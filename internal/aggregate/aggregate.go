// Package aggregate groups measurable items per (layer, kind).
package aggregate

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/takeoff/internal/model"
)

// NormalizeLayer lower-cases a layer name, trims it and collapses inner
// whitespace. NormalizeLayer(NormalizeLayer(s)) == NormalizeLayer(s).
func NormalizeLayer(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

type key struct {
	layer string
	kind  model.Kind
}

type bucket struct {
	items []model.MeasurableItem
	names map[string]int
}

// Build groups items by normalized layer and kind. Items sharing an id are
// counted once: the one lowest by (layer, kind, value, source) is kept, so
// conflicting duplicates resolve the same way in any input order. Each
// bucket is summed over its items sorted by id. Output is sorted by layer,
// then kind.
func Build(items []model.MeasurableItem) []model.LayerAggregate {
	kept, dups := dedup(items)
	buckets := make(map[key]*bucket)

	for _, it := range kept {
		layer := it.LayerNorm
		if layer == "" {
			layer = NormalizeLayer(it.Layer)
		}
		k := key{layer: layer, kind: it.Kind}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{names: map[string]int{}}
			buckets[k] = b
		}
		b.items = append(b.items, it)
		b.names[it.Layer]++
	}
	if dups > 0 {
		zap.L().Warn("aggregate: duplicate item ids ignored", zap.Int("duplicates", dups))
	}

	out := make([]model.LayerAggregate, 0, len(buckets))
	for k, b := range buckets {
		out = append(out, b.aggregate(k))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// dedup keeps one item per id, choosing the lowest by (layer, kind, value,
// source), and reports how many were dropped.
func dedup(items []model.MeasurableItem) ([]model.MeasurableItem, int) {
	sorted := append([]model.MeasurableItem(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch {
		case a.ID != b.ID:
			return a.ID < b.ID
		case a.Layer != b.Layer:
			return a.Layer < b.Layer
		case a.Kind != b.Kind:
			return a.Kind < b.Kind
		case a.ValueSI != b.ValueSI:
			return a.ValueSI < b.ValueSI
		}
		return a.Source < b.Source
	})

	kept := sorted[:0]
	for i, it := range sorted {
		if i > 0 && it.ID == sorted[i-1].ID {
			continue
		}
		kept = append(kept, it)
	}
	return kept, len(sorted) - len(kept)
}

func (b *bucket) aggregate(k key) model.LayerAggregate {
	sort.Slice(b.items, func(i, j int) bool { return b.items[i].ID < b.items[j].ID })

	agg := model.LayerAggregate{
		Layer:       k.layer,
		DisplayName: displayName(b.names),
		Kind:        k.kind,
		ItemIDs:     make([]string, 0, len(b.items)),
	}
	disciplines := map[model.Discipline]int{}
	tokens := map[string]bool{}
	for _, it := range b.items {
		switch it.Kind {
		case model.KindLength:
			agg.Length += it.ValueSI
		case model.KindArea:
			agg.Area += it.ValueSI
		}
		agg.Count++
		agg.ItemIDs = append(agg.ItemIDs, it.ID)
		disciplines[it.Discipline]++
		for _, t := range it.NearbyText {
			tokens[t] = true
		}
	}
	agg.Discipline = majorityDiscipline(disciplines)
	if len(tokens) > 0 {
		agg.NearbyTokens = make([]string, 0, len(tokens))
		for t := range tokens {
			agg.NearbyTokens = append(agg.NearbyTokens, t)
		}
		sort.Strings(agg.NearbyTokens)
	}
	return agg
}

// displayName picks the most frequent raw spelling, ties broken lexically.
func displayName(names map[string]int) string {
	best, bestN := "", -1
	for name, n := range names {
		if n > bestN || (n == bestN && name < best) {
			best, bestN = name, n
		}
	}
	return strings.TrimSpace(best)
}

func majorityDiscipline(counts map[model.Discipline]int) model.Discipline {
	best, bestN := model.DisciplineUnknown, 0
	for d, n := range counts {
		if d == "" || d == model.DisciplineUnknown {
			continue
		}
		if n > bestN || (n == bestN && d < best) {
			best, bestN = d, n
		}
	}
	return best
}

// Find returns the aggregate for a layer and kind.
func Find(aggs []model.LayerAggregate, layer string, kind model.Kind) (model.LayerAggregate, bool) {
	layer = NormalizeLayer(layer)
	for _, a := range aggs {
		if a.Layer == layer && a.Kind == kind {
			return a, true
		}
	}
	return model.LayerAggregate{}, false
}
