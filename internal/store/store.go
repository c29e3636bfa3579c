// Package store persists takeoff runs, match results and learned
// description → layer mappings in SQLite or Postgres.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff/internal/model"
)

// ErrNotFound is returned when a run, result or mapping does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	OwnerID string          `json:"owner_id,omitempty"`
	// CreatedAfter keeps runs created strictly after it when non-zero.
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// MappingQuery selects learned mappings. DescriptionNorm must already be
// normalized; a stored mapping matches when either normalized description
// contains the other.
type MappingQuery struct {
	OwnerID         string
	DescriptionNorm string
	Discipline      string
	Limit           int
}

// Store defines the persistence interface of the takeoff engine.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Match results
	SaveResults(ctx context.Context, results []model.MatchResult) error
	ListResults(ctx context.Context, runID string) ([]model.MatchResult, error)
	GetResult(ctx context.Context, resultID string) (*model.MatchResult, error)
	UpdateResult(ctx context.Context, result *model.MatchResult) error

	// Learned mappings. SaveMapping upserts on (owner, normalized
	// description, layer): a repeated key increments the usage count.
	SaveMapping(ctx context.Context, m model.LearnedMapping) (*model.LearnedMapping, error)
	FindMappings(ctx context.Context, q MappingQuery) ([]model.LearnedMapping, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

func limitOr(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
