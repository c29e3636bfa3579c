// Package learning records user-approved description → layer associations
// and serves them back to the matching engine as a ranking bonus.
//
// Every store call is bounded by a timeout and guarded by a circuit breaker.
// A failing store never blocks matching: lookups return no mappings and
// matching proceeds on text and type evidence alone.
package learning

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/resilience"
	"github.com/sells-group/takeoff/internal/store"
	"github.com/sells-group/takeoff/internal/textutil"
)

// Repository is the subset of store.Store the service needs.
type Repository interface {
	SaveMapping(ctx context.Context, m model.LearnedMapping) (*model.LearnedMapping, error)
	FindMappings(ctx context.Context, q store.MappingQuery) ([]model.LearnedMapping, error)
}

// Config tunes the service.
type Config struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	LookupLimit      int           `mapstructure:"lookup_limit"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          2 * time.Second,
		LookupLimit:      20,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Service is the learning feedback store.
type Service struct {
	repo    Repository
	cfg     Config
	breaker *resilience.CircuitBreaker
}

// NewService wraps repo. Zero config fields take the defaults.
func NewService(repo Repository, cfg Config) *Service {
	d := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.LookupLimit <= 0 {
		cfg.LookupLimit = d.LookupLimit
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = d.ResetTimeout
	}
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureThreshold,
		ResetTimeout:     cfg.ResetTimeout,
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("learning: store circuit changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Service{repo: repo, cfg: cfg, breaker: cb}
}

// Normalize returns the lookup key for a description: lowercased, without
// diacritics or punctuation, whitespace collapsed. It is idempotent.
func Normalize(description string) string {
	return textutil.Normalize(description)
}

// Feedback is one approved association.
type Feedback struct {
	OwnerID     string
	Description string
	Unit        string
	Layer       string
	Kind        model.Kind
	Discipline  model.Discipline
	Confidence  float64
}

// Save upserts the mapping for fb. Repeating the same (owner, description,
// layer) increments its usage count.
func (s *Service) Save(ctx context.Context, fb Feedback) (*model.LearnedMapping, error) {
	norm := Normalize(fb.Description)
	if norm == "" {
		return nil, eris.New("learning: empty description")
	}
	layer := strings.TrimSpace(fb.Layer)
	if layer == "" {
		return nil, eris.New("learning: empty layer")
	}

	m := model.LearnedMapping{
		OwnerID:         fb.OwnerID,
		Description:     strings.TrimSpace(fb.Description),
		DescriptionNorm: norm,
		Unit:            strings.TrimSpace(fb.Unit),
		Layer:           layer,
		Kind:            fb.Kind,
		Discipline:      fb.Discipline,
		Confidence:      fb.Confidence,
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	saved, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*model.LearnedMapping, error) {
		return s.repo.SaveMapping(ctx, m)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "learning: save mapping %q -> %s", norm, layer)
	}
	zap.L().Debug("learning: mapping saved",
		zap.String("owner", fb.OwnerID),
		zap.String("description", norm),
		zap.String("layer", layer),
		zap.Int("usage", saved.UsageCount),
	)
	return saved, nil
}

// Mappings returns the owner's mappings whose normalized description equals
// or contains (or is contained in) the normalized description, ranked by
// usage count then confidence. An empty discipline does not filter.
func (s *Service) Mappings(ctx context.Context, ownerID, description, discipline string) ([]model.LearnedMapping, error) {
	norm := Normalize(description)
	if norm == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	q := store.MappingQuery{OwnerID: ownerID, DescriptionNorm: norm, Discipline: discipline, Limit: s.cfg.LookupLimit}
	out, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) ([]model.LearnedMapping, error) {
		return s.repo.FindMappings(ctx, q)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "learning: find mappings %q", norm)
	}
	return out, nil
}

// Lookup is Mappings for the matching engine: failures are logged and
// yield no mappings.
func (s *Service) Lookup(ctx context.Context, ownerID, description, discipline string) []model.LearnedMapping {
	out, err := s.Mappings(ctx, ownerID, description, discipline)
	if err != nil {
		zap.L().Warn("learning: lookup failed, matching without learned mappings",
			zap.String("owner", ownerID),
			zap.Error(err),
		)
		return nil
	}
	return out
}
