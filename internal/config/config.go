package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/takeoff/internal/diagnostics"
	"github.com/sells-group/takeoff/internal/health"
	"github.com/sells-group/takeoff/internal/learning"
	"github.com/sells-group/takeoff/internal/match"
	"github.com/sells-group/takeoff/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig            `yaml:"store" mapstructure:"store"`
	Log         LogConfig              `yaml:"log" mapstructure:"log"`
	Server      ServerConfig           `yaml:"server" mapstructure:"server"`
	Normalize   NormalizeConfig        `yaml:"normalize" mapstructure:"normalize"`
	Spatial     SpatialConfig          `yaml:"spatial" mapstructure:"spatial"`
	Health      health.Thresholds      `yaml:"health" mapstructure:"health"`
	Match       match.Config           `yaml:"match" mapstructure:"match"`
	Learning    learning.Config        `yaml:"learning" mapstructure:"learning"`
	Diagnostics diagnostics.Thresholds `yaml:"diagnostics" mapstructure:"diagnostics"`
	Semantic    ServiceConfig          `yaml:"semantic" mapstructure:"semantic"`
	Extract     ServiceConfig          `yaml:"extract" mapstructure:"extract"`
	Monitoring  MonitoringConfig       `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend. For sqlite, DatabaseURL is
// a file path or DSN.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ServerConfig configures the review API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// NormalizeConfig controls drawing normalization.
type NormalizeConfig struct {
	Unit         string `yaml:"unit" mapstructure:"unit"`
	ExpandBlocks bool   `yaml:"expand_blocks" mapstructure:"expand_blocks"`
	Workers      int    `yaml:"workers" mapstructure:"workers"`
}

// SpatialConfig controls nearby-label enrichment. Values are in meters.
type SpatialConfig struct {
	CellSize float64 `yaml:"cell_size_m" mapstructure:"cell_size_m"`
	Radius   float64 `yaml:"radius_m" mapstructure:"radius_m"`
}

// ServiceConfig holds the settings of an optional HTTP collaborator. An
// empty URL disables it.
type ServiceConfig struct {
	URL       string  `yaml:"url" mapstructure:"url"`
	Key       string  `yaml:"key" mapstructure:"key"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// MonitoringConfig configures run health alerting in the review server.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	MinRuns               int     `yaml:"min_runs" mapstructure:"min_runs"`
	FailureRateThreshold  float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	BlockedRateThreshold  float64 `yaml:"blocked_rate_threshold" mapstructure:"blocked_rate_threshold"`
	PendingShareThreshold float64 `yaml:"pending_share_threshold" mapstructure:"pending_share_threshold"`
}

// Enabled reports whether the service is configured.
func (s ServiceConfig) Enabled() bool {
	return s.URL != ""
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TAKEOFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// setDefaults registers every key so env overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "takeoff.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("normalize.unit", "")
	v.SetDefault("normalize.expand_blocks", false)
	v.SetDefault("normalize.workers", 8)
	v.SetDefault("spatial.cell_size_m", 2.0)
	v.SetDefault("spatial.radius_m", 1.5)

	h := health.DefaultThresholds()
	v.SetDefault("health.min_diagonal_m", h.MinDiagonal)
	v.SetDefault("health.max_diagonal_m", h.MaxDiagonal)
	v.SetDefault("health.min_footprint_m2", h.MinFootprint)
	v.SetDefault("health.smoke_area_m2", h.SmokeArea)
	v.SetDefault("health.smoke_length_m", h.SmokeLength)
	v.SetDefault("health.explosion_area_m2", h.ExplosionArea)
	v.SetDefault("health.top_n", h.TopN)

	m := match.DefaultConfig()
	v.SetDefault("match.height_default", m.HeightDefault)
	v.SetDefault("match.thickness_default", m.ThicknessDefault)
	v.SetDefault("match.sides_default", m.SidesDefault)
	v.SetDefault("match.top_n", m.TopN)
	v.SetDefault("match.min_semantic", m.MinSemantic)
	v.SetDefault("match.ambiguity_margin", m.AmbiguityMargin)
	v.SetDefault("match.semantics_margin", m.SemanticsMargin)
	v.SetDefault("match.fallback_penalty", m.FallbackPenalty)
	v.SetDefault("match.nearby_weight", m.NearbyWeight)
	v.SetDefault("match.learned_weight", m.LearnedWeight)
	v.SetDefault("match.auto_approve", m.AutoApprove)
	v.SetDefault("match.auto_approve_floor", m.AutoApproveFloor)
	v.SetDefault("match.tier_high", m.TierHigh)
	v.SetDefault("match.tier_medium", m.TierMedium)
	v.SetDefault("match.workers", m.Workers)
	v.SetDefault("match.scorer_timeout_ms", m.ScorerTimeoutMs)
	v.SetDefault("match.scorer_weight", m.ScorerWeight)
	v.SetDefault("match.synonyms_file", "")

	l := learning.DefaultConfig()
	v.SetDefault("learning.timeout", l.Timeout)
	v.SetDefault("learning.lookup_limit", l.LookupLimit)
	v.SetDefault("learning.failure_threshold", l.FailureThreshold)
	v.SetDefault("learning.reset_timeout", l.ResetTimeout)

	d := diagnostics.DefaultThresholds()
	v.SetDefault("diagnostics.area", d.Area)
	v.SetDefault("diagnostics.length", d.Length)
	v.SetDefault("diagnostics.count", d.Count)
	v.SetDefault("diagnostics.large_error_pct", d.LargeErrorPct)

	v.SetDefault("semantic.url", "")
	v.SetDefault("semantic.key", "")
	v.SetDefault("semantic.rate_limit", 5.0)
	v.SetDefault("extract.url", "")
	v.SetDefault("extract.key", "")
	v.SetDefault("extract.rate_limit", 2.0)

	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.min_runs", 5)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.blocked_rate_threshold", 0.25)
	v.SetDefault("monitoring.pending_share_threshold", 0.5)
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "runs", "health", "diagnose", "migrate", "mappings":
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode != "health" {
		switch c.Store.Driver {
		case "sqlite", "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
		}
	}

	if c.Match.TierMedium < 0 || c.Match.TierHigh > 1 || c.Match.TierMedium >= c.Match.TierHigh {
		errs = append(errs, "match tiers must satisfy 0 <= tier_medium < tier_high <= 1")
	}
	if c.Match.ScorerWeight < 0 || c.Match.ScorerWeight > 1 {
		errs = append(errs, "match.scorer_weight must be between 0 and 1")
	}
	if c.Normalize.Unit != "" && !validUnit(c.Normalize.Unit) {
		errs = append(errs, fmt.Sprintf("normalize.unit %q is not one of mm, cm, m, in, ft", c.Normalize.Unit))
	}
	if c.Spatial.CellSize < 0 || c.Spatial.Radius < 0 {
		errs = append(errs, "spatial values must be >= 0")
	}
	if c.Learning.Timeout < 0 || c.Learning.Timeout > time.Minute {
		errs = append(errs, "learning.timeout must be between 0 and 1m")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validUnit(u string) bool {
	switch u {
	case "mm", "cm", "m", "in", "ft":
		return true
	}
	return false
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
