package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff/internal/model"
	"github.com/sells-group/takeoff/internal/store"
)

type mockRuns struct {
	runs    []model.Run
	listErr error
	filter  store.RunFilter
}

func (m *mockRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	m.filter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && !r.CreatedAt.After(filter.CreatedAfter) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestCollector(st RunLister) *Collector {
	c := NewCollector(st)
	c.now = func() time.Time { return fixedNow }
	return c
}

func run(status model.RunStatus, age time.Duration, byStatus map[model.MatchStatus]int) model.Run {
	r := model.Run{ID: string(status), Status: status, CreatedAt: fixedNow.Add(-age)}
	if byStatus != nil {
		r.Summary = &model.RunSummary{ByStatus: byStatus}
	}
	return r
}

func TestCollect_CountsRunsAndRows(t *testing.T) {
	st := &mockRuns{runs: []model.Run{
		run(model.RunStatusComplete, time.Hour, map[model.MatchStatus]int{
			model.StatusTitle:                 2,
			model.StatusApproved:              3,
			model.StatusPendingNoMatch:        1,
			model.StatusPendingNeedsLayerPick: 2,
			model.StatusPendingSanityCheck:    1,
			model.StatusIgnored:               4,
		}),
		run(model.RunStatusComplete, 2*time.Hour, map[model.MatchStatus]int{model.StatusApproved: 1}),
		run(model.RunStatusBlocked, 3*time.Hour, nil),
		run(model.RunStatusFailed, 4*time.Hour, nil),
		run(model.RunStatusCancelled, 5*time.Hour, nil),
		run(model.RunStatusMatching, 10*time.Minute, nil),
		// Outside the window.
		run(model.RunStatusFailed, 48*time.Hour, nil),
	}}

	snap, err := newTestCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, fixedNow.Add(-24*time.Hour), st.filter.CreatedAfter)
	assert.Equal(t, 6, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsBlocked)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsCancelled)
	assert.Equal(t, 1, snap.RunsActive)
	assert.InDelta(t, 0.25, snap.FailRate, 1e-9)
	assert.InDelta(t, 0.25, snap.BlockedRate, 1e-9)

	assert.Equal(t, 8, snap.RowsTotal)
	assert.Equal(t, 4, snap.RowsApproved)
	assert.Equal(t, 4, snap.RowsPending)
	assert.InDelta(t, 0.5, snap.PendingShare, 1e-9)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, fixedNow, snap.CollectedAt)
}

func TestCollect_Empty(t *testing.T) {
	snap, err := newTestCollector(&mockRuns{}).Collect(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.PendingShare)
}

func TestCollect_StoreError(t *testing.T) {
	_, err := newTestCollector(&mockRuns{listErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")
}

func TestCollect_SQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	_, err = st.CreateRun(ctx, model.Run{OwnerID: "acme", BoQ: "boq.csv", Status: model.RunStatusFailed})
	require.NoError(t, err)

	snap, err := NewCollector(st).Collect(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.InDelta(t, 1.0, snap.FailRate, 1e-9)
}
