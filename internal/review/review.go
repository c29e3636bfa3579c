// Package review applies reviewer decisions to match results and feeds
// approvals back into the learning store.
package review

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/takeoff/internal/learning"
	"github.com/sells-group/takeoff/internal/model"
)

// ErrInvalidTransition is returned when an action does not apply to a
// result in its current state.
var ErrInvalidTransition = eris.New("review: invalid transition")

// ActionType names a reviewer decision.
type ActionType string

const (
	ActionApprove           ActionType = "approve"
	ActionSelectAlternative ActionType = "select_alternative"
	ActionMarkManual        ActionType = "mark_manual"
	ActionIgnore            ActionType = "ignore"
)

// Action is one reviewer decision on a result.
type Action struct {
	Type     ActionType `json:"action"`
	Layer    string     `json:"layer,omitempty"`
	Quantity *float64   `json:"quantity,omitempty"`
	Note     string     `json:"note,omitempty"`
}

// Results loads and saves match results.
type Results interface {
	GetResult(ctx context.Context, resultID string) (*model.MatchResult, error)
	UpdateResult(ctx context.Context, result *model.MatchResult) error
}

// Learner records approved associations.
type Learner interface {
	Save(ctx context.Context, fb learning.Feedback) (*model.LearnedMapping, error)
}

// Requantifier recomputes a result from one of its alternatives.
type Requantifier interface {
	Requantify(res model.MatchResult, c model.Candidate, aggs []model.LayerAggregate) model.MatchResult
}

// Service applies actions.
type Service struct {
	results Results
	learner Learner
	engine  Requantifier
	now     func() time.Time
}

// NewService creates a review service. learner may be nil.
func NewService(results Results, learner Learner, engine Requantifier) *Service {
	return &Service{results: results, learner: learner, engine: engine, now: time.Now}
}

// Apply loads the result, applies the action, persists it and returns the
// updated result.
func (s *Service) Apply(ctx context.Context, resultID string, a Action) (*model.MatchResult, error) {
	res, err := s.results.GetResult(ctx, resultID)
	if err != nil {
		return nil, eris.Wrapf(err, "review: load result %s", resultID)
	}
	updated, err := s.apply(*res, a)
	if err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now().UTC()
	if err := s.results.UpdateResult(ctx, &updated); err != nil {
		return nil, eris.Wrapf(err, "review: save result %s", resultID)
	}

	zap.L().Info("review: action applied",
		zap.String("result_id", resultID),
		zap.String("action", string(a.Type)),
		zap.String("status", string(updated.Status)),
	)

	if a.Type == ActionApprove || a.Type == ActionSelectAlternative {
		s.learn(ctx, updated)
	}
	return &updated, nil
}

func (s *Service) apply(res model.MatchResult, a Action) (model.MatchResult, error) {
	if res.Status == model.StatusTitle {
		return res, eris.Wrapf(ErrInvalidTransition, "%s on a section header", a.Type)
	}

	switch a.Type {
	case ActionApprove:
		if res.QtyFinal == nil {
			return res, eris.Wrap(ErrInvalidTransition, "approve needs a computed quantity: use mark_manual")
		}
		res.Status = model.StatusApproved
		res.MatchReason = appendNote(res.MatchReason, "approved by reviewer", a.Note)

	case ActionSelectAlternative:
		c, ok := res.CandidateFor(a.Layer)
		if !ok {
			return res, eris.Wrapf(ErrInvalidTransition, "layer %q is not among the candidates", a.Layer)
		}
		if s.engine == nil {
			return res, eris.New("review: no engine to requantify alternative")
		}
		res = s.engine.Requantify(res, c, nil)
		if res.QtyFinal == nil {
			res.Status = model.StatusPendingNeedsHeight
		} else {
			res.Status = model.StatusApproved
		}
		res.MatchReason = appendNote(res.MatchReason, "", a.Note)

	case ActionMarkManual:
		if a.Quantity == nil || math.IsNaN(*a.Quantity) || math.IsInf(*a.Quantity, 0) || *a.Quantity < 0 {
			return res, eris.Wrap(ErrInvalidTransition, "mark_manual needs a non-negative quantity")
		}
		res.QtyFinal = model.Float(*a.Quantity)
		res.MethodDetail = "manual"
		res.Confidence = 1
		res.ConfidenceTier = model.TierHigh
		res.Sanity = model.SanityOK
		res.Status = model.StatusApproved
		res.MatchReason = appendNote(fmt.Sprintf("manual quantity %g", *a.Quantity), "", a.Note)

	case ActionIgnore:
		res.Status = model.StatusIgnored
		res.MatchReason = appendNote(res.MatchReason, "ignored by reviewer", a.Note)

	default:
		return res, eris.Wrapf(ErrInvalidTransition, "unknown action %q", a.Type)
	}
	return res, nil
}

// learn never fails the action; the review has already been persisted.
func (s *Service) learn(ctx context.Context, res model.MatchResult) {
	if s.learner == nil || res.SourceLayer == "" || res.Status != model.StatusApproved {
		return
	}
	_, err := s.learner.Save(ctx, learning.Feedback{
		OwnerID:     res.OwnerID,
		Description: res.Description,
		Unit:        res.Unit,
		Layer:       res.SourceLayer,
		Kind:        res.EvidenceKind,
		Discipline:  disciplineOf(res),
		Confidence:  res.Confidence,
	})
	if err != nil {
		zap.L().Warn("review: learning update failed",
			zap.String("result_id", res.ID),
			zap.String("layer", res.SourceLayer),
			zap.Error(err),
		)
	}
}

func disciplineOf(res model.MatchResult) model.Discipline {
	if c, ok := res.CandidateFor(res.SourceLayer); ok {
		return c.Discipline
	}
	return ""
}

func appendNote(reason, event, note string) string {
	out := reason
	for _, s := range []string{event, note} {
		if s == "" {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += s
	}
	return out
}
