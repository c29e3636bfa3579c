package review

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff/internal/learning"
	"github.com/sells-group/takeoff/internal/match"
	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/store"
)

type memResults struct {
	rows    map[string]model.MatchResult
	updates int
}

func (m *memResults) GetResult(_ context.Context, id string) (*model.MatchResult, error) {
	r, ok := m.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (m *memResults) UpdateResult(_ context.Context, r *model.MatchResult) error {
	m.rows[r.ID] = *r
	m.updates++
	return nil
}

type mockLearner struct {
	mock.Mock
}

func (m *mockLearner) Save(ctx context.Context, fb learning.Feedback) (*model.LearnedMapping, error) {
	args := m.Called(ctx, fb)
	if v := args.Get(0); v != nil {
		return v.(*model.LearnedMapping), args.Error(1)
	}
	return nil, args.Error(1)
}

func canaletaResult() model.MatchResult {
	return model.MatchResult{
		ID: "res-1", RunID: "run-1", RowIndex: 3, OwnerID: "acme",
		Description: "Canaleta", Unit: "m", RowType: model.RowItem, MeasureKind: model.MeasureLength,
		SourceLayer: "canaleta_b", EvidenceKind: model.KindLength, QtyFinal: model.Float(20),
		SourceItems: []string{"10#len", "11#len"},
		CalcMethod: model.CalcLength, Confidence: 0.85, ConfidenceTier: model.TierHigh,
		Status: model.StatusPendingNeedsLayerPick,
		TopCandidates: []model.Candidate{
			{Layer: "canaleta_b", DisplayName: "CANALETA_B", Kind: model.KindLength, Value: 20, Score: 0.85, Discipline: model.DisciplineElectrical,
				ItemIDs: []string{"10#len", "11#len"}},
			{Layer: "canaleta_a", DisplayName: "CANALETA_A", Kind: model.KindLength, Value: 10, Score: 0.85, Discipline: model.DisciplineElectrical,
				ItemIDs: []string{"12#len"}},
		},
	}
}

func newTestService(t *testing.T, learner Learner, rows ...model.MatchResult) (*Service, *memResults) {
	t.Helper()
	m := &memResults{rows: map[string]model.MatchResult{}}
	for _, r := range rows {
		m.rows[r.ID] = r
	}
	return NewService(m, learner, match.NewEngine(match.DefaultConfig(), nil)), m
}

func TestApply_Approve(t *testing.T) {
	l := &mockLearner{}
	l.On("Save", mock.Anything, learning.Feedback{
		OwnerID: "acme", Description: "Canaleta", Unit: "m", Layer: "canaleta_b",
		Kind: model.KindLength, Discipline: model.DisciplineElectrical, Confidence: 0.85,
	}).Return(&model.LearnedMapping{UsageCount: 1}, nil)

	svc, m := newTestService(t, l, canaletaResult())
	got, err := svc.Apply(context.Background(), "res-1", Action{Type: ActionApprove, Note: "checked on A-101"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Contains(t, got.MatchReason, "checked on A-101")
	assert.Equal(t, 1, m.updates)
	l.AssertExpectations(t)
}

func TestApply_SelectAlternative(t *testing.T) {
	l := &mockLearner{}
	l.On("Save", mock.Anything, mock.MatchedBy(func(fb learning.Feedback) bool {
		return fb.Layer == "canaleta_a" && fb.Kind == model.KindLength
	})).Return(&model.LearnedMapping{UsageCount: 1}, nil)

	svc, _ := newTestService(t, l, canaletaResult())
	got, err := svc.Apply(context.Background(), "res-1", Action{Type: ActionSelectAlternative, Layer: "canaleta_a"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, "canaleta_a", got.SourceLayer)
	require.NotNil(t, got.QtyFinal)
	assert.Equal(t, 10.0, *got.QtyFinal)
	assert.Equal(t, []string{"12#len"}, got.SourceItems)
	l.AssertExpectations(t)
}

func TestApply_SelectAlternativeUnknownLayer(t *testing.T) {
	l := &mockLearner{}
	svc, m := newTestService(t, l, canaletaResult())
	_, err := svc.Apply(context.Background(), "res-1", Action{Type: ActionSelectAlternative, Layer: "muros"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Zero(t, m.updates)
	l.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestApply_MarkManual(t *testing.T) {
	r := canaletaResult()
	r.QtyFinal = nil
	r.Status = model.StatusPendingNoMatch
	svc, _ := newTestService(t, nil, r)

	got, err := svc.Apply(context.Background(), "res-1", Action{Type: ActionMarkManual, Quantity: model.Float(0)})
	require.NoError(t, err)
	require.NotNil(t, got.QtyFinal)
	assert.Zero(t, *got.QtyFinal)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, "manual", got.MethodDetail)

	_, err = svc.Apply(context.Background(), "res-1", Action{Type: ActionMarkManual})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Apply(context.Background(), "res-1", Action{Type: ActionMarkManual, Quantity: model.Float(-1)})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApply_Ignore(t *testing.T) {
	svc, _ := newTestService(t, nil, canaletaResult())
	got, err := svc.Apply(context.Background(), "res-1", Action{Type: ActionIgnore})
	require.NoError(t, err)
	assert.Equal(t, model.StatusIgnored, got.Status)
}

func TestApply_InvalidTransitions(t *testing.T) {
	title := model.MatchResult{ID: "t", Status: model.StatusTitle, Description: "OBRA GRUESA"}
	noQty := canaletaResult()
	noQty.ID = "nq"
	noQty.QtyFinal = nil

	svc, _ := newTestService(t, nil, title, noQty)
	tests := []struct {
		name string
		id   string
		act  Action
	}{
		{"approve title", "t", Action{Type: ActionApprove}},
		{"ignore title", "t", Action{Type: ActionIgnore}},
		{"approve without quantity", "nq", Action{Type: ActionApprove}},
		{"unknown action", "nq", Action{Type: "delete"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Apply(context.Background(), tt.id, tt.act)
			assert.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestApply_NotFound(t *testing.T) {
	svc, _ := newTestService(t, nil)
	_, err := svc.Apply(context.Background(), "missing", Action{Type: ActionApprove})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApply_LearningFailureKeepsAction(t *testing.T) {
	l := &mockLearner{}
	l.On("Save", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	svc, m := newTestService(t, l, canaletaResult())
	got, err := svc.Apply(context.Background(), "res-1", Action{Type: ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, got.Status)
	assert.Equal(t, model.StatusApproved, m.rows["res-1"].Status)
	l.AssertExpectations(t)
}
