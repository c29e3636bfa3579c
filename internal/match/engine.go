// Package match reconciles BoQ line items with layer aggregates: it filters
// candidates by dimensional compatibility, scores them, derives the final
// quantity and assigns a confidence tier and review status.
package match

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/takeoff/internal/aggregate"
	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/textutil"
)

// serviceConfidence is the fixed confidence of lump-sum rows.
const serviceConfidence = 0.6

// MappingSource returns the learned mappings relevant to a description.
// Implementations absorb their own failures and return nil; learned
// mappings only bias scoring.
type MappingSource interface {
	Lookup(ctx context.Context, ownerID, description, discipline string) []model.LearnedMapping
}

// Scorer is an optional external semantic scorer returning a score in
// [0,1] per layer name.
type Scorer interface {
	Score(ctx context.Context, description string, layers []string) (map[string]float64, error)
}

// Engine matches BoQ rows against layer aggregates. It holds no per-run
// state and is safe for concurrent use.
type Engine struct {
	cfg      Config
	synonyms *textutil.Synonyms
	mappings MappingSource
	scorer   Scorer
	now      func() time.Time
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithMappings wires the learning feedback store.
func WithMappings(m MappingSource) Option {
	return func(e *Engine) { e.mappings = m }
}

// WithScorer wires an external semantic scorer.
func WithScorer(s Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDs overrides the result id generator.
func WithIDs(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates an Engine. A nil synonyms dictionary falls back to the
// embedded default.
func NewEngine(cfg Config, syn *textutil.Synonyms, opts ...Option) *Engine {
	if syn == nil {
		syn = textutil.DefaultSynonyms()
	}
	e := &Engine{
		cfg:      cfg.sanitized(),
		synonyms: syn,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Input is everything one matching pass needs.
type Input struct {
	RunID      string
	OwnerID    string
	Rows       []model.BoQLineItem
	Aggregates []model.LayerAggregate
	Health     *model.HealthReport
}

// Match scores every row in parallel. When ctx is cancelled the rows
// already computed are returned, in row order, together with the error.
func (e *Engine) Match(ctx context.Context, in Input) ([]model.MatchResult, error) {
	results := make([]*model.MatchResult, len(in.Rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, row := range in.Rows {
		i, row := i, row
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := e.Row(gctx, in, row)
			results[i] = &r
			return nil
		})
	}
	err := g.Wait()

	out := make([]model.MatchResult, 0, len(in.Rows))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	if err != nil {
		zap.L().Warn("match: run interrupted",
			zap.String("run_id", in.RunID),
			zap.Int("completed", len(out)),
			zap.Int("rows", len(in.Rows)),
		)
		return out, eris.Wrap(err, "match: interrupted")
	}
	return out, nil
}

type scored struct {
	cand       model.Candidate
	agg        model.LayerAggregate
	compatible bool
}

// Row matches a single BoQ row. Rows never see each other's state.
func (e *Engine) Row(ctx context.Context, in Input, row model.BoQLineItem) model.MatchResult {
	res := model.MatchResult{
		ID:             e.newID(),
		RunID:          in.RunID,
		RowIndex:       row.Index,
		Description:    row.Description,
		Unit:           row.Unit,
		ExpectedQty:    row.ExpectedQty,
		SourceItems:    []string{},
		TopCandidates:  []model.Candidate{},
		ConfidenceTier: model.TierLow,
		OwnerID:        in.OwnerID,
		UpdatedAt:      e.now(),
	}

	rt := row.RowType
	if rt == "" {
		rt = ClassifyRow(row)
	}
	res.RowType = rt
	mk := ClassifyUnit(row.Unit)
	res.MeasureKind = mk

	switch {
	case rt == model.RowHeader:
		res.Status = model.StatusTitle
		res.MatchReason = "section header: not matched"
		return res
	case rt == model.RowNote:
		res.Status = model.StatusIgnored
		res.MatchReason = "note row: not matched"
		return res
	case rt == model.RowService || mk == model.MeasureService:
		res.MeasureKind = model.MeasureService
		res.QtyFinal = model.Float(1)
		res.CalcMethod = model.CalcGlobal
		res.MethodDetail = "lump sum"
		res.Confidence = serviceConfidence
		res.ConfidenceTier = e.cfg.tier(serviceConfidence)
		res.Status = model.StatusPending
		res.MatchReason = fmt.Sprintf("unit %q is a lump-sum service: quantity defaults to 1", row.Unit)
		return res
	case len(in.Aggregates) == 0:
		res.Status = model.StatusPendingNoGeometry
		res.MatchReason = "no measurable geometry in the drawing set"
		return res
	}

	descTokens := textutil.Tokens(row.Description)
	all := e.score(ctx, in.OwnerID, row, descTokens, in.Aggregates)

	var pool []scored
	for _, s := range all {
		if s.compatible {
			pool = append(pool, s)
		}
	}
	fallback := len(pool) == 0
	if fallback {
		pool = all
	}
	wallLike := e.synonyms.WallLike(descTokens)
	for i := range pool {
		e.applyTypeFit(&pool[i], mk, wallLike, fallback)
	}

	cands := make([]model.Candidate, len(pool))
	byLayer := make(map[string]scored, len(pool))
	for i, s := range pool {
		cands[i] = s.cand
		byLayer[key(s.cand.Layer, s.cand.Kind)] = s
	}
	rank(cands)
	top := cands
	if len(top) > e.cfg.TopN {
		top = top[:e.cfg.TopN]
	}
	res.TopCandidates = append([]model.Candidate(nil), top...)

	best := cands[0]
	bestAgg := byLayer[key(best.Layer, best.Kind)].agg
	res.Confidence = best.Score
	res.ConfidenceTier = e.cfg.tier(best.Score)

	if textual(best) < e.cfg.MinSemantic {
		res.Status = model.StatusPendingNoMatch
		res.MatchReason = fmt.Sprintf("no layer name resembles the description (best %q scored %.2f)", displayName(best), textual(best))
		return res
	}

	res.SourceLayer = best.Layer
	res.EvidenceKind = best.Kind
	res.SourceItems = append([]string(nil), bestAgg.ItemIDs...)

	if mk == model.MeasureUnknown {
		res.Status = model.StatusPendingTypeMismatch
		res.MatchReason = fmt.Sprintf("unit %q is not recognized: %q ranked by name only, quantity not derived", row.Unit, displayName(best))
		return res
	}

	q := e.quantity(row, mk, bestAgg, fallback, wallLike)
	res.QtyFinal = q.qty
	res.CalcMethod = q.method
	res.MethodDetail = q.detail

	reason := fmt.Sprintf("%q: semantic %.2f, nearby %.2f, learned %.2f, type fit %.2f (%s from %s layer); %s",
		displayName(best), best.Semantic, best.NearbyBonus, best.LearnedBonus, best.TypeFit, mk, best.Kind, q.explain)

	if in.Health.Invalid() {
		res.QtyFinal = nil
		res.Status = model.StatusPendingSanityCheck
		res.MatchReason = fmt.Sprintf("dataset flagged %s: quantity withheld; best candidate %s", model.DatasetInvalidForTakeoff, reason)
		return res
	}

	if fallback {
		res.Status = model.StatusPendingTypeMismatch
		res.MatchReason = fmt.Sprintf("no %s-compatible layer exists: last-resort fallback to %s", mk, reason)
		return res
	}

	if res.QtyFinal != nil {
		level, msg := CheckQuantity(measureOf(res.CalcMethod), *res.QtyFinal)
		res.Sanity = level
		switch level {
		case model.SanityImpossible:
			res.QtyFinal = nil
			res.Warnings = append(res.Warnings, msg)
			res.Status = model.StatusPendingSanityCheck
			res.MatchReason = "implausible quantity discarded (" + msg + "); " + reason
			return res
		case model.SanityError:
			res.Confidence *= 0.5
			res.ConfidenceTier = e.cfg.tier(res.Confidence)
			res.Warnings = append(res.Warnings, msg)
			res.Status = model.StatusPendingSanityCheck
			res.MatchReason = "quantity failed sanity check (" + msg + "); " + reason
			return res
		case model.SanityWarning:
			res.Confidence *= 0.85
			res.ConfidenceTier = e.cfg.tier(res.Confidence)
			res.Warnings = append(res.Warnings, msg)
		}
	}

	if q.needs != "" {
		res.Status = model.StatusPendingNeedsHeight
		res.MatchReason = q.needs + "; " + reason
		return res
	}

	if alt, ok := e.betterNamed(all, best); ok {
		res.Status = model.StatusPendingSemantics
		res.MatchReason = fmt.Sprintf("layer %q names this item better (%.2f) but holds %s geometry while unit %q asks for %s; selected %s",
			displayName(alt.cand), textual(alt.cand), alt.cand.Kind, row.Unit, mk, reason)
		return res
	}

	if len(cands) > 1 {
		second := cands[1]
		if second.Layer != best.Layer && best.Score-second.Score < e.cfg.AmbiguityMargin {
			res.Status = model.StatusPendingNeedsLayerPick
			res.MatchReason = fmt.Sprintf("%q and %q score within %.2f: pick a layer; %s",
				displayName(best), displayName(second), e.cfg.AmbiguityMargin, reason)
			return res
		}
	}

	res.Status = model.StatusPending
	res.MatchReason = reason
	if e.cfg.AutoApprove && res.QtyFinal != nil && res.Confidence >= e.cfg.AutoApproveFloor {
		res.Status = model.StatusApproved
		res.MatchReason = fmt.Sprintf("auto-approved at %.2f ≥ %.2f; %s", res.Confidence, e.cfg.AutoApproveFloor, reason)
	}
	return res
}

func key(layer string, kind model.Kind) string {
	return layer + "\x00" + string(kind)
}

func displayName(c model.Candidate) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Layer
}

// score computes the name-based evidence of every aggregate.
func (e *Engine) score(ctx context.Context, ownerID string, row model.BoQLineItem, descTokens []string, aggs []model.LayerAggregate) []scored {
	usage := e.learnedUsage(ctx, ownerID, row)
	external := e.external(ctx, row.Description, aggs)

	out := make([]scored, 0, len(aggs))
	for _, a := range aggs {
		name := a.DisplayName
		if name == "" {
			name = a.Layer
		}
		sem := Semantic(e.synonyms, descTokens, layerTokens(name))
		c := model.Candidate{
			Layer:       a.Layer,
			DisplayName: a.DisplayName,
			Kind:        a.Kind,
			Value:       a.Value(),
			Discipline:  a.Discipline,
			TypeFit:     1,
			NearbyBonus: e.cfg.NearbyWeight * nearbyShare(e.synonyms, descTokens, a.NearbyTokens),
			ItemIDs:     append([]string(nil), a.ItemIDs...),
		}
		if ext, ok := external[name]; ok {
			ext = clamp01(ext)
			c.ExternalScore = &ext
			sem = (1-e.cfg.ScorerWeight)*sem + e.cfg.ScorerWeight*ext
		}
		c.Semantic = sem
		for _, u := range usage {
			if u.layer == a.Layer && (u.kind == "" || u.kind == a.Kind) && u.count > c.LearnedUsage {
				c.LearnedUsage = u.count
			}
		}
		c.LearnedBonus = learnedBonus(e.cfg.LearnedWeight, c.LearnedUsage)
		c.Score = textual(c)
		out = append(out, scored{cand: c, agg: a, compatible: a.Kind != model.KindText && compatible(ClassifyUnit(row.Unit), a.Kind)})
	}
	return out
}

func (e *Engine) applyTypeFit(s *scored, mk model.MeasureKind, wallLike, fallback bool) {
	c := &s.cand
	switch {
	case fallback:
		c.Fallback = true
		c.TypeFit = 1
		c.Penalty = e.cfg.FallbackPenalty
	case mk == model.MeasureArea && c.Kind == model.KindLength:
		c.TypeFit = 0.7
		if wallLike {
			c.TypeFit = 0.9
		}
	case mk == model.MeasureVolume && c.Kind == model.KindArea:
		c.TypeFit = 0.85
	default:
		c.TypeFit = 1
	}
	c.Score = math.Max(0, textual(*c)*c.TypeFit-c.Penalty)
	if fallback {
		// Fallback candidates never leave the low tier.
		c.Score = math.Min(c.Score, math.Nextafter(e.cfg.TierMedium, 0))
	}
}

// betterNamed finds an incompatible aggregate whose name evidence beats
// the selected candidate by the semantics margin.
func (e *Engine) betterNamed(all []scored, best model.Candidate) (scored, bool) {
	var top scored
	found := false
	for _, s := range all {
		if s.compatible || s.cand.Kind == model.KindText {
			continue
		}
		if !found || textual(s.cand) > textual(top.cand) {
			top, found = s, true
		}
	}
	if !found || textual(top.cand) < textual(best)+e.cfg.SemanticsMargin {
		return scored{}, false
	}
	return top, true
}

type learnedEntry struct {
	layer string
	kind  model.Kind
	count int
}

func (e *Engine) learnedUsage(ctx context.Context, ownerID string, row model.BoQLineItem) []learnedEntry {
	if e.mappings == nil {
		return nil
	}
	maps := e.mappings.Lookup(ctx, ownerID, row.Description, row.Discipline)
	out := make([]learnedEntry, 0, len(maps))
	for _, m := range maps {
		out = append(out, learnedEntry{layer: aggregate.NormalizeLayer(m.Layer), kind: m.Kind, count: m.UsageCount})
	}
	return out
}

// external consults the optional scorer under a timeout. Any failure
// leaves local scoring in charge.
func (e *Engine) external(ctx context.Context, description string, aggs []model.LayerAggregate) map[string]float64 {
	if e.scorer == nil {
		return nil
	}
	seen := map[string]bool{}
	var layers []string
	for _, a := range aggs {
		name := a.DisplayName
		if name == "" {
			name = a.Layer
		}
		if !seen[name] {
			seen[name] = true
			layers = append(layers, name)
		}
	}

	sctx, cancel := context.WithTimeout(ctx, e.cfg.scorerTimeout())
	defer cancel()
	scores, err := e.scorer.Score(sctx, description, layers)
	if err != nil {
		zap.L().Debug("match: external scorer unavailable, using local scoring",
			zap.String("description", description),
			zap.Error(err),
		)
		return nil
	}
	return scores
}

type quantity struct {
	qty     *float64
	method  model.CalcMethod
	detail  string
	explain string
	needs   string
}

func (e *Engine) quantity(row model.BoQLineItem, mk model.MeasureKind, a model.LayerAggregate, fallback, wallLike bool) quantity {
	if fallback {
		return quantity{
			qty:     model.Float(a.Value()),
			method:  calcMethodFor(a.Kind),
			detail:  fmt.Sprintf("fallback: %s layer value", a.Kind),
			explain: fmt.Sprintf("passes through %s value %.2f", a.Kind, a.Value()),
		}
	}

	switch {
	case mk == model.MeasureLength:
		return quantity{qty: model.Float(a.Length), method: model.CalcLength, detail: "layer length",
			explain: fmt.Sprintf("length %.2f m", a.Length)}

	case mk == model.MeasureArea && a.Kind == model.KindArea:
		return quantity{qty: model.Float(a.Area), method: model.CalcArea, detail: "layer area",
			explain: fmt.Sprintf("area %.2f m²", a.Area)}

	case mk == model.MeasureArea && a.Kind == model.KindLength:
		h := e.cfg.HeightDefault
		if row.HeightFactor != nil {
			h = *row.HeightFactor
		}
		sides := e.cfg.SidesDefault
		if row.SidesMultiplier != nil && *row.SidesMultiplier > 0 {
			sides = *row.SidesMultiplier
		}
		detail := "length×height"
		if sides != 1 {
			detail = "length×height×sides"
		}
		if h <= 0 {
			return quantity{method: model.CalcArea, detail: detail,
				explain: "wall area needs a height", needs: "no wall height available to derive area from length"}
		}
		q := quantity{
			qty:     model.Float(a.Length * h * sides),
			method:  model.CalcArea,
			detail:  detail,
			explain: fmt.Sprintf("wall area = length %.2f m × height %.2f m × sides %g", a.Length, h, sides),
		}
		if !wallLike && row.HeightFactor == nil {
			q.needs = fmt.Sprintf("area derived from a length layer with the default height %.2f m: confirm the height", h)
		}
		return q

	case mk == model.MeasureVolume && a.Kind == model.KindArea:
		th := e.cfg.ThicknessDefault
		if row.Thickness != nil {
			th = *row.Thickness
		}
		if th <= 0 {
			return quantity{method: model.CalcVolume, detail: "area×thickness",
				explain: "volume needs a thickness", needs: "no thickness available to derive volume from area"}
		}
		return quantity{
			qty:     model.Float(a.Area * th),
			method:  model.CalcVolume,
			detail:  "area×thickness",
			explain: fmt.Sprintf("volume = area %.2f m² × thickness %.3f m", a.Area, th),
		}

	case mk == model.MeasureCount:
		return quantity{qty: model.Float(float64(a.Count)), method: model.CalcCount, detail: "insert count",
			explain: fmt.Sprintf("%d inserts", a.Count)}
	}

	return quantity{explain: strings.TrimSpace(fmt.Sprintf("no derivation for %s from %s", mk, a.Kind))}
}

// Requantify recomputes res from its alternative c, as when a reviewer
// picks a different layer. The matching aggregate in aggs is preferred;
// without one the candidate's own value and item ids are used. Row-level
// height, sides and thickness overrides are not carried on results, so the
// project defaults apply.
func (e *Engine) Requantify(res model.MatchResult, c model.Candidate, aggs []model.LayerAggregate) model.MatchResult {
	a, ok := aggregate.Find(aggs, c.Layer, c.Kind)
	if !ok {
		a = model.LayerAggregate{Layer: c.Layer, DisplayName: c.DisplayName, Kind: c.Kind, Discipline: c.Discipline, ItemIDs: c.ItemIDs}
		switch c.Kind {
		case model.KindLength:
			a.Length = c.Value
		case model.KindArea:
			a.Area = c.Value
		default:
			a.Count = int(math.Round(c.Value))
		}
	}

	row := model.BoQLineItem{Index: res.RowIndex, Description: res.Description, Unit: res.Unit, RowType: res.RowType}
	q := e.quantity(row, res.MeasureKind, a, c.Fallback, e.synonyms.WallLike(textutil.Tokens(res.Description)))

	out := res
	out.SourceLayer = c.Layer
	out.EvidenceKind = c.Kind
	out.SourceItems = append([]string{}, a.ItemIDs...)
	out.QtyFinal = q.qty
	out.CalcMethod = q.method
	out.MethodDetail = q.detail
	out.Confidence = c.Score
	out.ConfidenceTier = e.cfg.tier(c.Score)
	out.Sanity = ""
	out.Warnings = nil
	if q.needs != "" {
		out.Warnings = append(out.Warnings, q.needs)
	}
	if q.qty != nil {
		lvl, msg := CheckQuantity(res.MeasureKind, *q.qty)
		out.Sanity = lvl
		if lvl != model.SanityOK {
			out.Warnings = append(out.Warnings, msg)
		}
		if lvl == model.SanityImpossible {
			out.QtyFinal = nil
		}
	}
	out.MatchReason = fmt.Sprintf("%q selected by reviewer; %s", displayName(c), q.explain)
	out.UpdatedAt = e.now()
	return out
}
