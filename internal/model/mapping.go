package model

import "time"

// LearnedMapping records a user-approved description to layer association.
// One row exists per (owner, normalized description, layer); re-approval
// increments UsageCount.
type LearnedMapping struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	Description     string     `json:"description"`
	DescriptionNorm string     `json:"description_norm"`
	Unit            string     `json:"unit"`
	Layer           string     `json:"layer"`
	Kind            Kind       `json:"kind"`
	Discipline      Discipline `json:"discipline,omitempty"`
	Confidence      float64    `json:"confidence"`
	UsageCount      int        `json:"usage_count"`
	LastUsedAt      time.Time  `json:"last_used_at"`
	CreatedAt       time.Time  `json:"created_at"`
}
