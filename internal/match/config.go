package match

import (
	"time"

	"github.com/sells-group/takeoff/internal/model"
)

// Config tunes scoring, quantity derivation and status policy.
type Config struct {
	HeightDefault    float64 `mapstructure:"height_default" yaml:"height_default"`
	ThicknessDefault float64 `mapstructure:"thickness_default" yaml:"thickness_default"`
	SidesDefault     float64 `mapstructure:"sides_default" yaml:"sides_default"`
	TopN             int     `mapstructure:"top_n" yaml:"top_n"`
	MinSemantic      float64 `mapstructure:"min_semantic" yaml:"min_semantic"`
	AmbiguityMargin  float64 `mapstructure:"ambiguity_margin" yaml:"ambiguity_margin"`
	SemanticsMargin  float64 `mapstructure:"semantics_margin" yaml:"semantics_margin"`
	FallbackPenalty  float64 `mapstructure:"fallback_penalty" yaml:"fallback_penalty"`
	NearbyWeight     float64 `mapstructure:"nearby_weight" yaml:"nearby_weight"`
	LearnedWeight    float64 `mapstructure:"learned_weight" yaml:"learned_weight"`
	AutoApprove      bool    `mapstructure:"auto_approve" yaml:"auto_approve"`
	AutoApproveFloor float64 `mapstructure:"auto_approve_floor" yaml:"auto_approve_floor"`
	TierHigh         float64 `mapstructure:"tier_high" yaml:"tier_high"`
	TierMedium       float64 `mapstructure:"tier_medium" yaml:"tier_medium"`
	Workers          int     `mapstructure:"workers" yaml:"workers"`
	ScorerTimeoutMs  int     `mapstructure:"scorer_timeout_ms" yaml:"scorer_timeout_ms"`
	ScorerWeight     float64 `mapstructure:"scorer_weight" yaml:"scorer_weight"`
	SynonymsFile     string  `mapstructure:"synonyms_file" yaml:"synonyms_file"`
}

// DefaultConfig returns the project defaults: 2.4 m wall height, one side,
// top five candidates, high tier at 0.8 and medium at 0.4.
func DefaultConfig() Config {
	return Config{
		HeightDefault:    2.4,
		SidesDefault:     1,
		TopN:             5,
		MinSemantic:      0.2,
		AmbiguityMargin:  0.05,
		SemanticsMargin:  0.2,
		FallbackPenalty:  0.4,
		NearbyWeight:     0.1,
		LearnedWeight:    0.3,
		AutoApproveFloor: 0.9,
		TierHigh:         0.8,
		TierMedium:       0.4,
		Workers:          8,
		ScorerTimeoutMs:  2000,
		ScorerWeight:     0.5,
	}
}

// sanitized fills structural fields that cannot be zero.
func (c Config) sanitized() Config {
	d := DefaultConfig()
	if c.TopN <= 0 {
		c.TopN = d.TopN
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.TierHigh <= 0 {
		c.TierHigh = d.TierHigh
	}
	if c.TierMedium <= 0 {
		c.TierMedium = d.TierMedium
	}
	if c.SidesDefault <= 0 {
		c.SidesDefault = 1
	}
	if c.ScorerTimeoutMs <= 0 {
		c.ScorerTimeoutMs = d.ScorerTimeoutMs
	}
	if c.ScorerWeight < 0 || c.ScorerWeight > 1 {
		c.ScorerWeight = d.ScorerWeight
	}
	return c
}

func (c Config) scorerTimeout() time.Duration {
	return time.Duration(c.ScorerTimeoutMs) * time.Millisecond
}

func (c Config) tier(score float64) model.Tier {
	switch {
	case score >= c.TierHigh:
		return model.TierHigh
	case score >= c.TierMedium:
		return model.TierMedium
	}
	return model.TierLow
}
