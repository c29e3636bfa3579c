package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff/internal/config"
	"github.com/sells-group/takeoff/internal/learning"
	"github.com/sells-group/takeoff/internal/match"
	"github.com/sells-group/takeoff/internal/pipeline"
	"github.com/sells-group/takeoff/internal/review"
	"github.com/sells-group/takeoff/internal/store"
	"github.com/sells-group/takeoff/internal/textutil"
	"github.com/sells-group/takeoff/pkg/extractsvc"
	"github.com/sells-group/takeoff/pkg/semantic"
)

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		return store.NewSQLite(c.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &c.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// env bundles the collaborators one command needs.
type env struct {
	Store    store.Store
	Learning *learning.Service
	Engine   *match.Engine
	Pipeline *pipeline.Pipeline
	Review   *review.Service
	Extract  *extractsvc.Client
	Registry *prometheus.Registry
}

// Close releases the store.
func (e *env) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("store: close failed", zap.Error(err))
		}
	}
}

// initEnv opens and migrates the store, then wires the learning service,
// the optional external scorer, the matching engine and the pipeline.
func initEnv(ctx context.Context, c *config.Config) (*env, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	e, err := newEnv(c, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return e, nil
}

// newEnv wires services around an open store. st may be nil, in which case
// nothing is persisted and learned mappings are not consulted.
func newEnv(c *config.Config, st store.Store) (*env, error) {
	syn := textutil.DefaultSynonyms()
	if c.Match.SynonymsFile != "" {
		loaded, err := textutil.LoadSynonyms(c.Match.SynonymsFile)
		if err != nil {
			return nil, eris.Wrap(err, "load synonyms")
		}
		syn = loaded
	}

	e := &env{Store: st, Registry: prometheus.NewRegistry()}

	var opts []match.Option
	if st != nil {
		e.Learning = learning.NewService(st, c.Learning)
		opts = append(opts, match.WithMappings(e.Learning))
	}
	if c.Semantic.Enabled() {
		opts = append(opts, match.WithScorer(semantic.NewClient(c.Semantic.URL, c.Semantic.Key,
			semantic.WithRateLimit(c.Semantic.RateLimit))))
		zap.L().Info("semantic: external scorer enabled", zap.String("url", c.Semantic.URL))
	}
	if c.Extract.Enabled() {
		e.Extract = extractsvc.NewClient(c.Extract.URL, c.Extract.Key,
			extractsvc.WithRateLimit(c.Extract.RateLimit))
	}

	e.Engine = match.NewEngine(c.Match, syn, opts...)

	pcfg := pipeline.Config{
		SpatialCellSize: c.Spatial.CellSize,
		NearbyRadius:    c.Spatial.Radius,
		Health:          c.Health,
	}
	var runStore pipeline.RunStore
	if st != nil {
		runStore = st
		e.Review = review.NewService(st, e.Learning, e.Engine)
	}
	e.Pipeline = pipeline.New(pcfg, e.Engine, runStore, pipeline.NewMetrics(e.Registry))

	return e, nil
}
