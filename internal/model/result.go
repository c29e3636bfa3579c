package model

import "time"

// CalcMethod names how a final quantity was derived.
type CalcMethod string

const (
	CalcCount  CalcMethod = "COUNT"
	CalcLength CalcMethod = "LENGTH"
	CalcArea   CalcMethod = "AREA"
	CalcVolume CalcMethod = "VOLUME"
	CalcGlobal CalcMethod = "GLOBAL"
)

// MatchStatus is the closed set of match result states. The string values
// are shared with review tooling and must not change.
type MatchStatus string

const (
	StatusPending               MatchStatus = "pending"
	StatusApproved              MatchStatus = "approved"
	StatusPendingNoGeometry     MatchStatus = "pending_no_geometry"
	StatusPendingNoMatch        MatchStatus = "pending_no_match"
	StatusPendingSemantics      MatchStatus = "pending_semantics"
	StatusPendingNeedsLayerPick MatchStatus = "pending_needs_layer_pick"
	StatusPendingNeedsHeight    MatchStatus = "pending_needs_height"
	StatusPendingTypeMismatch   MatchStatus = "pending_type_mismatch"
	StatusPendingSanityCheck    MatchStatus = "pending_sanity_check"
	StatusIgnored               MatchStatus = "ignored"
	StatusTitle                 MatchStatus = "title"
)

// AllStatuses lists every status in a stable order.
var AllStatuses = []MatchStatus{
	StatusPending,
	StatusApproved,
	StatusPendingNoGeometry,
	StatusPendingNoMatch,
	StatusPendingSemantics,
	StatusPendingNeedsLayerPick,
	StatusPendingNeedsHeight,
	StatusPendingTypeMismatch,
	StatusPendingSanityCheck,
	StatusIgnored,
	StatusTitle,
}

// Valid reports whether s belongs to the closed status set.
func (s MatchStatus) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Tier is the discretized confidence used for human triage.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// SanityLevel is the outcome of a quantity plausibility check.
type SanityLevel string

const (
	SanityOK         SanityLevel = "ok"
	SanityWarning    SanityLevel = "warning"
	SanityError      SanityLevel = "error"
	SanityImpossible SanityLevel = "impossible"
)

// Candidate is a ranked alternative layer with its score breakdown.
type Candidate struct {
	Layer         string     `json:"layer"`
	DisplayName   string     `json:"display_name"`
	Kind          Kind       `json:"kind"`
	Value         float64    `json:"value"`
	Score         float64    `json:"score"`
	Semantic      float64    `json:"semantic"`
	NearbyBonus   float64    `json:"nearby_bonus"`
	LearnedBonus  float64    `json:"learned_bonus"`
	TypeFit       float64    `json:"type_fit"`
	Penalty       float64    `json:"penalty"`
	Fallback      bool       `json:"fallback"`
	LearnedUsage  int        `json:"learned_usage,omitempty"`
	Discipline    Discipline `json:"discipline,omitempty"`
	ExternalScore *float64   `json:"external_score,omitempty"`
	ItemIDs       []string   `json:"item_ids,omitempty"` // items behind Value
}

// MatchResult is the staging row produced for one BoQ line item.
//
// QtyFinal nil means "could not measure" and is distinct from zero.
type MatchResult struct {
	ID             string      `json:"id"`
	RunID          string      `json:"run_id"`
	RowIndex       int         `json:"row_index"`
	Description    string      `json:"description"`
	Unit           string      `json:"unit"`
	RowType        RowType     `json:"row_type"`
	MeasureKind    MeasureKind `json:"measure_kind"`
	ExpectedQty    *float64    `json:"expected_qty,omitempty"`
	SourceItems    []string    `json:"source_items"`
	SourceLayer    string      `json:"source_layer,omitempty"`
	EvidenceKind   Kind        `json:"evidence_kind,omitempty"`
	QtyFinal       *float64    `json:"qty_final"`
	CalcMethod     CalcMethod  `json:"calc_method,omitempty"`
	MethodDetail   string      `json:"method_detail,omitempty"`
	Confidence     float64     `json:"confidence"`
	ConfidenceTier Tier        `json:"confidence_tier"`
	MatchReason    string      `json:"match_reason"`
	Status         MatchStatus `json:"status"`
	TopCandidates  []Candidate `json:"top_candidates"`
	Warnings       []string    `json:"warnings,omitempty"`
	Sanity         SanityLevel `json:"sanity,omitempty"`
	OwnerID        string      `json:"owner_id,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Measured reports whether the row carries a computed quantity.
func (r MatchResult) Measured() bool {
	return r.QtyFinal != nil
}

// CandidateFor returns the top candidate with the given layer name.
func (r MatchResult) CandidateFor(layer string) (Candidate, bool) {
	for _, c := range r.TopCandidates {
		if c.Layer == layer {
			return c, true
		}
	}
	return Candidate{}, false
}

// Float returns a pointer to v. Used to build nullable quantities.
func Float(v float64) *float64 {
	return &v
}
