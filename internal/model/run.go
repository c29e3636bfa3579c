package model

import "time"

// RunStatus represents the current state of a takeoff run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusNormalizing RunStatus = "normalizing"
	RunStatusMatching    RunStatus = "matching"
	RunStatusComplete    RunStatus = "complete"
	RunStatusBlocked     RunStatus = "blocked" // dataset health critical
	RunStatusCancelled   RunStatus = "cancelled"
	RunStatusFailed      RunStatus = "failed"
)

// ScaleSource records where a drawing's unit scale came from.
type ScaleSource string

const (
	ScaleOverride  ScaleSource = "override"
	ScaleHeader    ScaleSource = "header"
	ScaleHeuristic ScaleSource = "heuristic"
)

// Scale converts native drawing units to meters.
type Scale struct {
	Factor    float64     `json:"factor"`
	Unit      string      `json:"unit"`
	Source    ScaleSource `json:"source"`
	Confident bool        `json:"confident"`
}

// Run is one processing of a drawing set against a BoQ.
type Run struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id"`
	Drawings  []string      `json:"drawings"`
	BoQ       string        `json:"boq"`
	Status    RunStatus     `json:"status"`
	Health    *HealthReport `json:"health,omitempty"`
	Summary   *RunSummary   `json:"summary,omitempty"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// RunSummary holds aggregate counters of a finished run.
type RunSummary struct {
	Items      int                 `json:"items"`
	Aggregates int                 `json:"aggregates"`
	Rows       int                 `json:"rows"`
	ByStatus   map[MatchStatus]int `json:"by_status"`
	Warnings   []string            `json:"warnings,omitempty"`
}
