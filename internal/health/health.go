// Package health runs global plausibility checks over aggregated geometry
// and decides whether a dataset may feed automated matching.
package health

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/takeoff/internal/model"
)

// Thresholds configures the health rules. Values are in meters and square
// meters.
type Thresholds struct {
	MinDiagonal   float64 `mapstructure:"min_diagonal_m" yaml:"min_diagonal_m"`
	MaxDiagonal   float64 `mapstructure:"max_diagonal_m" yaml:"max_diagonal_m"`
	MinFootprint  float64 `mapstructure:"min_footprint_m2" yaml:"min_footprint_m2"`
	SmokeArea     float64 `mapstructure:"smoke_area_m2" yaml:"smoke_area_m2"`
	SmokeLength   float64 `mapstructure:"smoke_length_m" yaml:"smoke_length_m"`
	ExplosionArea float64 `mapstructure:"explosion_area_m2" yaml:"explosion_area_m2"`
	TopN          int     `mapstructure:"top_n" yaml:"top_n"`
}

// DefaultThresholds returns the standard rule set.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDiagonal:   1,
		MaxDiagonal:   5000,
		MinFootprint:  5,
		SmokeArea:     10,
		SmokeLength:   20,
		ExplosionArea: 1_000_000,
		TopN:          3,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MinDiagonal <= 0 {
		t.MinDiagonal = d.MinDiagonal
	}
	if t.MaxDiagonal <= 0 {
		t.MaxDiagonal = d.MaxDiagonal
	}
	if t.MinFootprint <= 0 {
		t.MinFootprint = d.MinFootprint
	}
	if t.SmokeArea <= 0 {
		t.SmokeArea = d.SmokeArea
	}
	if t.SmokeLength <= 0 {
		t.SmokeLength = d.SmokeLength
	}
	if t.ExplosionArea <= 0 {
		t.ExplosionArea = d.ExplosionArea
	}
	if t.TopN <= 0 {
		t.TopN = d.TopN
	}
	return t
}

// Issue codes.
const (
	CodeScaleTiny       = "scale_too_small"
	CodeScaleHuge       = "scale_too_large"
	CodeFootprintTiny   = "footprint_too_small"
	CodeNoGeometry      = "no_measurable_geometry"
	CodeSmokeTestFailed = "smoke_test_failed"
	CodeAreaExplosion   = "area_explosion"
)

// Check evaluates the aggregated dataset. diagonal is the bounding-box
// diagonal of all geometry in meters; items provide the largest single
// area. Any critical issue marks the dataset invalid for takeoff.
func Check(aggs []model.LayerAggregate, items []model.MeasurableItem, diagonal float64, t Thresholds) model.HealthReport {
	t = t.withDefaults()
	r := model.HealthReport{BBoxDiagonalM: diagonal}

	var areaLayers, lengthLayers []model.LayerStat
	for _, a := range aggs {
		switch a.Kind {
		case model.KindArea:
			r.TotalAreaM2 += a.Area
			areaLayers = append(areaLayers, model.LayerStat{Layer: a.Layer, Value: a.Area})
		case model.KindLength:
			r.TotalLengthM += a.Length
			lengthLayers = append(lengthLayers, model.LayerStat{Layer: a.Layer, Value: a.Length})
		}
	}
	for _, it := range items {
		if it.Kind == model.KindArea && it.ValueSI > r.LargestAreaM2 {
			r.LargestAreaM2 = it.ValueSI
		}
	}
	r.TopByArea = top(areaLayers, t.TopN)
	r.TopByLength = top(lengthLayers, t.TopN)

	add := func(code string, sev model.Severity, format string, args ...any) {
		r.Issues = append(r.Issues, model.HealthIssue{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	hasArea, hasLength := len(areaLayers) > 0, len(lengthLayers) > 0

	// Scale.
	switch {
	case diagonal < t.MinDiagonal:
		add(CodeScaleTiny, model.SeverityCritical,
			"bounding box diagonal %.3f m is below %.0f m: units likely wrong", diagonal, t.MinDiagonal)
	case diagonal > t.MaxDiagonal:
		add(CodeScaleHuge, model.SeverityWarning,
			"bounding box diagonal %.0f m exceeds %.0f m: check outliers", diagonal, t.MaxDiagonal)
	}

	// Footprint.
	if !hasArea && !hasLength {
		add(CodeNoGeometry, model.SeverityCritical, "no area or length geometry: no measurable geometry")
	} else if hasArea && r.LargestAreaM2 < t.MinFootprint && r.TotalAreaM2 < t.MinFootprint {
		add(CodeFootprintTiny, model.SeverityCritical,
			"largest area %.2f m² and total area %.2f m² are below %.0f m²: check units/scale",
			r.LargestAreaM2, r.TotalAreaM2, t.MinFootprint)
	}

	// Smoke test.
	if hasArea || hasLength {
		passed := false
		for _, s := range areaLayers {
			if s.Value > t.SmokeArea {
				passed = true
			}
		}
		for _, s := range lengthLayers {
			if s.Value > t.SmokeLength {
				passed = true
			}
		}
		if !passed {
			add(CodeSmokeTestFailed, model.SeverityCritical,
				"no layer exceeds %.0f m² of area or %.0f m of length", t.SmokeArea, t.SmokeLength)
		}
	}

	// Explosion.
	if r.TotalAreaM2 > t.ExplosionArea {
		add(CodeAreaExplosion, model.SeverityWarning,
			"total area %.0f m² exceeds %.0f m²: possible deduplication failure", r.TotalAreaM2, t.ExplosionArea)
	}

	r.Status = model.HealthHealthy
	for _, is := range r.Issues {
		if is.Severity == model.SeverityCritical {
			r.Status = model.HealthCritical
			r.DatasetStatus = model.DatasetInvalidForTakeoff
			break
		}
		r.Status = model.HealthWarning
	}
	if r.Issues == nil {
		r.Issues = []model.HealthIssue{}
	}

	if r.Status != model.HealthHealthy {
		zap.L().Warn("health: dataset issues",
			zap.String("status", string(r.Status)),
			zap.Int("issues", len(r.Issues)),
			zap.Float64("diagonal_m", diagonal),
		)
	}
	return r
}

func top(stats []model.LayerStat, n int) []model.LayerStat {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Value != stats[j].Value {
			return stats[i].Value > stats[j].Value
		}
		return stats[i].Layer < stats[j].Layer
	})
	if len(stats) > n {
		stats = stats[:n]
	}
	if stats == nil {
		return []model.LayerStat{}
	}
	return stats
}
