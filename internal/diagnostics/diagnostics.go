// Package diagnostics compares computed takeoff quantities against the
// expected BoQ quantities after a run. It is read-only: reports are pure
// summaries of a result set.
package diagnostics

import (
	"math"
	"sort"

	"github.com/sells-group/takeoff/internal/model"
)

// Thresholds bound the computed quantities of rows that carry no expected
// value, and define what counts as a large error.
type Thresholds struct {
	Area          float64 `mapstructure:"area" yaml:"area"`
	Length        float64 `mapstructure:"length" yaml:"length"`
	Count         float64 `mapstructure:"count" yaml:"count"`
	LargeErrorPct float64 `mapstructure:"large_error_pct" yaml:"large_error_pct"`
}

// DefaultThresholds flags areas above 50 m², lengths above 20 m, counts
// above 5 and errors above 50%.
func DefaultThresholds() Thresholds {
	return Thresholds{Area: 50, Length: 20, Count: 5, LargeErrorPct: 50}
}

// RowError is the deviation of one row with both quantities present.
type RowError struct {
	ResultID    string            `json:"result_id"`
	RowIndex    int               `json:"row_index"`
	Description string            `json:"description"`
	Unit        string            `json:"unit"`
	MeasureKind model.MeasureKind `json:"measure_kind"`
	SourceLayer string            `json:"source_layer,omitempty"`
	Expected    float64           `json:"expected"`
	Computed    float64           `json:"computed"`
	AbsError    float64           `json:"abs_error"`
	// PctError is nil when the expected quantity is zero.
	PctError *float64          `json:"pct_error"`
	Status   model.MatchStatus `json:"status"`
}

// Outlier is a row without an expected value whose computed quantity
// exceeds the threshold for its measure kind.
type Outlier struct {
	ResultID    string            `json:"result_id"`
	RowIndex    int               `json:"row_index"`
	Description string            `json:"description"`
	MeasureKind model.MeasureKind `json:"measure_kind"`
	Computed    float64           `json:"computed"`
	Threshold   float64           `json:"threshold"`
}

// Suspect is an area row backed by evidence that cannot carry an area.
type Suspect struct {
	ResultID     string     `json:"result_id"`
	RowIndex     int        `json:"row_index"`
	Description  string     `json:"description"`
	Unit         string     `json:"unit"`
	EvidenceKind model.Kind `json:"evidence_kind"`
	SourceLayer  string     `json:"source_layer,omitempty"`
}

// Summary aggregates a report.
type Summary struct {
	Rows        int     `json:"rows"`
	Compared    int     `json:"compared"`
	AvgAbsError float64 `json:"avg_abs_error"`
	AvgPctError float64 `json:"avg_pct_error"`
	LargeErrors int     `json:"large_errors"`
	NoComputed  int     `json:"no_computed"`
	NoExpected  int     `json:"no_expected"`
	Outliers    int     `json:"outliers"`
	Suspects    int     `json:"suspects"`
}

// Report is the regression report of one result set.
type Report struct {
	RunID    string     `json:"run_id,omitempty"`
	Errors   []RowError `json:"errors"`
	Outliers []Outlier  `json:"outliers"`
	Suspects []Suspect  `json:"suspects"`
	Summary  Summary    `json:"summary"`
}

// Build produces the regression report. Section headers and notes are not
// measurable and are left out. A null computed quantity means unmeasured
// and is counted as such, never as zero.
func Build(results []model.MatchResult, t Thresholds) Report {
	t = t.withDefaults()
	rep := Report{
		Errors:   []RowError{},
		Outliers: []Outlier{},
		Suspects: []Suspect{},
	}

	var sumAbs, sumPct float64
	var pctRows int
	for _, r := range results {
		if r.Status == model.StatusTitle || r.Status == model.StatusIgnored ||
			r.RowType == model.RowHeader || r.RowType == model.RowNote {
			continue
		}
		if rep.RunID == "" {
			rep.RunID = r.RunID
		}
		rep.Summary.Rows++

		if r.MeasureKind == model.MeasureArea && (r.EvidenceKind == model.KindText || r.EvidenceKind == model.KindBlock) {
			rep.Suspects = append(rep.Suspects, Suspect{
				ResultID:     r.ID,
				RowIndex:     r.RowIndex,
				Description:  r.Description,
				Unit:         r.Unit,
				EvidenceKind: r.EvidenceKind,
				SourceLayer:  r.SourceLayer,
			})
		}

		if r.QtyFinal == nil {
			rep.Summary.NoComputed++
		}
		if r.ExpectedQty == nil {
			rep.Summary.NoExpected++
			if r.QtyFinal != nil {
				if limit, ok := t.limit(r.MeasureKind); ok && *r.QtyFinal > limit {
					rep.Outliers = append(rep.Outliers, Outlier{
						ResultID:    r.ID,
						RowIndex:    r.RowIndex,
						Description: r.Description,
						MeasureKind: r.MeasureKind,
						Computed:    *r.QtyFinal,
						Threshold:   limit,
					})
				}
			}
		}
		if r.QtyFinal == nil || r.ExpectedQty == nil {
			continue
		}

		e := RowError{
			ResultID:    r.ID,
			RowIndex:    r.RowIndex,
			Description: r.Description,
			Unit:        r.Unit,
			MeasureKind: r.MeasureKind,
			SourceLayer: r.SourceLayer,
			Expected:    *r.ExpectedQty,
			Computed:    *r.QtyFinal,
			AbsError:    math.Abs(*r.QtyFinal - *r.ExpectedQty),
			Status:      r.Status,
		}
		sumAbs += e.AbsError
		if *r.ExpectedQty != 0 {
			pct := e.AbsError / math.Abs(*r.ExpectedQty) * 100
			e.PctError = &pct
			sumPct += pct
			pctRows++
			if pct > t.LargeErrorPct {
				rep.Summary.LargeErrors++
			}
		}
		rep.Errors = append(rep.Errors, e)
	}

	sort.SliceStable(rep.Errors, func(i, j int) bool {
		if rep.Errors[i].AbsError != rep.Errors[j].AbsError {
			return rep.Errors[i].AbsError > rep.Errors[j].AbsError
		}
		return rep.Errors[i].RowIndex < rep.Errors[j].RowIndex
	})
	sort.SliceStable(rep.Outliers, func(i, j int) bool {
		return rep.Outliers[i].Computed > rep.Outliers[j].Computed
	})

	rep.Summary.Compared = len(rep.Errors)
	if n := len(rep.Errors); n > 0 {
		rep.Summary.AvgAbsError = sumAbs / float64(n)
	}
	if pctRows > 0 {
		rep.Summary.AvgPctError = sumPct / float64(pctRows)
	}
	rep.Summary.Outliers = len(rep.Outliers)
	rep.Summary.Suspects = len(rep.Suspects)
	return rep
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.Area <= 0 {
		t.Area = d.Area
	}
	if t.Length <= 0 {
		t.Length = d.Length
	}
	if t.Count <= 0 {
		t.Count = d.Count
	}
	if t.LargeErrorPct <= 0 {
		t.LargeErrorPct = d.LargeErrorPct
	}
	return t
}

func (t Thresholds) limit(mk model.MeasureKind) (float64, bool) {
	switch mk {
	case model.MeasureArea:
		return t.Area, true
	case model.MeasureLength:
		return t.Length, true
	case model.MeasureCount:
		return t.Count, true
	}
	return 0, false
}
