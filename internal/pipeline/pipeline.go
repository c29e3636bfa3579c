// Package pipeline runs one takeoff: it loads and normalizes drawings,
// enriches and aggregates their items, checks dataset health, matches the
// BoQ and records the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	geom "github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/takeoff/internal/aggregate"
	"github.com/sells-group/takeoff/internal/health"
	"github.com/sells-group/takeoff/internal/match"
	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/normalize"
	"github.com/sells-group/takeoff/internal/spatial"
)

// RunStore persists runs and their results.
type RunStore interface {
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	UpdateRun(ctx context.Context, run *model.Run) error
	SaveResults(ctx context.Context, results []model.MatchResult) error
}

// Config tunes the stages around matching.
type Config struct {
	SpatialCellSize float64           `mapstructure:"cell_size_m"`
	NearbyRadius    float64           `mapstructure:"radius_m"`
	Health          health.Thresholds `mapstructure:"-"`
	// SourceWorkers bounds how many drawings load at once. Zero means 4.
	SourceWorkers int `mapstructure:"-"`
}

// Input is one run request.
type Input struct {
	OwnerID string
	BoQName string
	Sources []Source
	Rows    []model.BoQLineItem
}

// Output is everything a run produced. Results may be partial when the run
// was cancelled.
type Output struct {
	RunID      string                 `json:"run_id"`
	Status     model.RunStatus        `json:"status"`
	Items      []model.MeasurableItem `json:"items"`
	Aggregates []model.LayerAggregate `json:"aggregates"`
	Health     model.HealthReport     `json:"health"`
	Results    []model.MatchResult    `json:"results"`
	Scales     map[string]model.Scale `json:"scales"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// Pipeline runs takeoffs. store and metrics are optional.
type Pipeline struct {
	cfg     Config
	engine  *match.Engine
	store   RunStore
	metrics *Metrics
}

// New creates a pipeline.
func New(cfg Config, engine *match.Engine, st RunStore, metrics *Metrics) *Pipeline {
	if cfg.SourceWorkers <= 0 {
		cfg.SourceWorkers = 4
	}
	return &Pipeline{cfg: cfg, engine: engine, store: st, metrics: metrics}
}

// Run executes one takeoff. A drawing that fails to parse is skipped with a
// warning; the run fails only when no drawing loads. A critical health
// verdict does not stop matching but blocks automated quantities and marks
// the run blocked.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Output, error) {
	if len(in.Sources) == 0 {
		return nil, eris.New("pipeline: no drawings")
	}

	run := &model.Run{ID: uuid.NewString(), OwnerID: in.OwnerID, BoQ: in.BoQName, Status: model.RunStatusQueued}
	for _, s := range in.Sources {
		run.Drawings = append(run.Drawings, s.Name())
	}
	if p.store != nil {
		created, err := p.store.CreateRun(ctx, *run)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: create run")
		}
		run = created
	}

	log := zap.L().With(zap.String("run_id", run.ID), zap.String("owner", in.OwnerID))
	log.Info("pipeline: starting run", zap.Int("drawings", len(in.Sources)), zap.Int("rows", len(in.Rows)))

	out := &Output{RunID: run.ID, Scales: map[string]model.Scale{}}
	fail := func(status model.RunStatus, err error) (*Output, error) {
		out.Status = status
		run.Status = status
		run.Error = err.Error()
		p.finish(ctx, run, out, log)
		return out, err
	}

	// Normalize.
	p.setStatus(ctx, run, model.RunStatusNormalizing, log)
	start := time.Now()
	bounds, err := p.load(ctx, in.Sources, out, log)
	if err != nil {
		if ctx.Err() != nil {
			return fail(model.RunStatusCancelled, eris.Wrap(err, "pipeline: cancelled while loading"))
		}
		return fail(model.RunStatusFailed, err)
	}
	p.metrics.stage("normalize", time.Since(start).Seconds())

	// Enrich, aggregate, check.
	start = time.Now()
	out.Items = spatial.Enrich(out.Items, p.cfg.SpatialCellSize, p.cfg.NearbyRadius)
	out.Aggregates = aggregate.Build(out.Items)
	out.Health = health.Check(out.Aggregates, out.Items, normalize.Diagonal(bounds), p.cfg.Health)
	p.metrics.stage("aggregate", time.Since(start).Seconds())
	if out.Health.Invalid() {
		log.Warn("pipeline: dataset invalid for takeoff, quantities will not be trusted",
			zap.Int("issues", len(out.Health.Issues)))
	}

	// Match.
	p.setStatus(ctx, run, model.RunStatusMatching, log)
	start = time.Now()
	results, err := p.engine.Match(ctx, match.Input{
		RunID:      run.ID,
		OwnerID:    in.OwnerID,
		Rows:       in.Rows,
		Aggregates: out.Aggregates,
		Health:     &out.Health,
	})
	p.metrics.stage("match", time.Since(start).Seconds())
	out.Results = results
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fail(model.RunStatusCancelled, err)
		}
		return fail(model.RunStatusFailed, err)
	}

	out.Status = model.RunStatusComplete
	if out.Health.Invalid() {
		out.Status = model.RunStatusBlocked
	}
	run.Status = out.Status
	p.finish(ctx, run, out, log)
	return out, nil
}

// load reads every source concurrently. Items keep source order. It returns
// the union of the loaded drawings' bounds in meters.
func (p *Pipeline) load(ctx context.Context, sources []Source, out *Output, log *zap.Logger) (*geom.Bounds, error) {
	results := make([]*normalize.Result, len(sources))
	errs := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.SourceWorkers)
	for i, s := range sources {
		i, s := i, s
		prefix := ""
		if len(sources) > 1 {
			prefix = fmt.Sprintf("d%d:", i+1)
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = s.Load(gctx, prefix)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: load drawings")
	}

	bounds := geom.NewBounds(geom.XY)
	loaded := 0
	for i, res := range results {
		name := sources[i].Name()
		if errs[i] != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "pipeline: load drawings")
			}
			log.Error("pipeline: drawing skipped", zap.String("drawing", name), zap.Error(errs[i]))
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", name, errs[i]))
			continue
		}
		loaded++
		out.Items = append(out.Items, res.Items...)
		out.Scales[name] = res.Scale
		if res.Bounds != nil {
			normalize.UnionBounds(bounds, res.Bounds)
		} else {
			normalize.UnionBounds(bounds, normalize.PositionBounds(res.Items))
		}
		for _, w := range res.Warnings {
			out.Warnings = append(out.Warnings, name+": "+w)
		}
	}
	if loaded == 0 {
		return nil, eris.Errorf("pipeline: none of %d drawings could be loaded", len(sources))
	}
	return bounds, nil
}

func (p *Pipeline) setStatus(ctx context.Context, run *model.Run, status model.RunStatus, log *zap.Logger) {
	run.Status = status
	if p.store == nil {
		return
	}
	if err := p.store.UpdateRun(ctx, run); err != nil {
		log.Warn("pipeline: failed to update status", zap.String("status", string(status)), zap.Error(err))
	}
}

// finish persists results and the final run record. It uses a fresh
// context so a cancelled run still records what it computed.
func (p *Pipeline) finish(ctx context.Context, run *model.Run, out *Output, log *zap.Logger) {
	if out.Health.Status != "" {
		run.Health = &out.Health
	}
	run.Summary = summarize(out)

	p.metrics.observe(out)
	log.Info("pipeline: run finished",
		zap.String("status", string(out.Status)),
		zap.Int("items", len(out.Items)),
		zap.Int("results", len(out.Results)),
	)
	if p.store == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if len(out.Results) > 0 {
		if err := p.store.SaveResults(saveCtx, out.Results); err != nil {
			log.Error("pipeline: failed to save results", zap.Error(err))
			run.Summary.Warnings = append(run.Summary.Warnings, "results not saved: "+err.Error())
		}
	}
	if err := p.store.UpdateRun(saveCtx, run); err != nil {
		log.Error("pipeline: failed to update run", zap.Error(err))
	}
}

func summarize(out *Output) *model.RunSummary {
	s := &model.RunSummary{
		Items:      len(out.Items),
		Aggregates: len(out.Aggregates),
		Rows:       len(out.Results),
		ByStatus:   map[model.MatchStatus]int{},
		Warnings:   append([]string(nil), out.Warnings...),
	}
	for _, r := range out.Results {
		s.ByStatus[r.Status]++
	}
	return s
}
