package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/takeoff/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var runCols = []string{"id", "owner_id", "boq", "drawings", "status", "health", "summary", "error", "created_at", "updated_at"}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "acme", "boq.csv", []byte(`["a.dxf"]`), "queued", pgxmock.AnyArg(), pgxmock.AnyArg(), "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), model.Run{OwnerID: "acme", BoQ: "boq.csv", Drawings: []string{"a.dxf"}})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, model.RunStatusQueued, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, owner_id, boq, drawings, status, health, summary, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runCols).AddRow(
			"run-1", "acme", "boq.csv", []byte(`["a.dxf"]`), model.RunStatusComplete,
			[]byte(`{"status":"healthy","issues":[]}`), []byte(`{"rows":2,"by_status":{"pending":2}}`), "", now, now,
		))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.dxf"}, run.Drawings)
	require.NotNil(t, run.Health)
	assert.Equal(t, model.HealthHealthy, run.Health.Status)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 2, run.Summary.ByStatus[model.StatusPending])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg(), "boom", pgxmock.AnyArg(), "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRun(context.Background(), &model.Run{ID: "gone", Status: model.RunStatusFailed, Error: "boom"})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM runs WHERE true AND status = \$1 AND owner_id = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("complete", "acme", 10, 20).
		WillReturnRows(pgxmock.NewRows(runCols))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusComplete, OwnerID: "acme", Limit: 10, Offset: 20})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_CreatedAfter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM runs WHERE true AND created_at > \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs(cutoff, 100).
		WillReturnRows(pgxmock.NewRows(runCols))

	runs, err := s.ListRuns(context.Background(), RunFilter{CreatedAfter: cutoff})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveResults(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_results"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_results"}, resultsUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "results" .* ON CONFLICT \("id"\) DO UPDATE SET "status" = EXCLUDED."status"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	err := s.SaveResults(context.Background(), testResults("run-1"))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetResult_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM results WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetResult(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListResults(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM results WHERE run_id = \$1 ORDER BY row_index`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).
			AddRow([]byte(`{"id":"r1","row_index":1,"qty_final":null,"status":"pending_no_match"}`)).
			AddRow([]byte(`{"id":"r2","row_index":2,"qty_final":0,"status":"pending"}`)))

	got, err := s.ListResults(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].QtyFinal)
	require.NotNil(t, got[1].QtyFinal)
	assert.Zero(t, *got[1].QtyFinal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMapping_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Now().UTC().Add(-time.Hour)

	mock.ExpectQuery(`ON CONFLICT \(owner_id, description_norm, layer\) DO UPDATE SET\s+usage_count\s+= mappings.usage_count \+ 1`).
		WithArgs(pgxmock.AnyArg(), "acme", "Muro", "muro", "m2", "fa_tabiques", "length", "", 0.8, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "usage_count", "discipline", "created_at"}).
			AddRow("map-1", 2, model.DisciplineArchitecture, created))

	m, err := s.SaveMapping(context.Background(), model.LearnedMapping{
		OwnerID: "acme", Description: "Muro", DescriptionNorm: "muro", Unit: "m2",
		Layer: "fa_tabiques", Kind: model.KindLength, Confidence: 0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, "map-1", m.ID)
	assert.Equal(t, 2, m.UsageCount)
	assert.Equal(t, model.DisciplineArchitecture, m.Discipline)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindMappings(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`strpos\(\$2, description_norm\) > 0 .* AND discipline = \$3 ORDER BY usage_count DESC, confidence DESC, layer LIMIT \$4`).
		WithArgs("acme", "muro tabique", "architecture", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id", "description", "description_norm", "unit", "layer", "kind", "discipline", "confidence", "usage_count", "last_used_at", "created_at"}).
			AddRow("m1", "acme", "Muro", "muro", "m2", "fa_tabiques", model.KindLength, model.DisciplineArchitecture, 0.9, 3, now, now))

	got, err := s.FindMappings(context.Background(), MappingQuery{OwnerID: "acme", DescriptionNorm: "muro tabique", Discipline: "architecture", Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].UsageCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS mappings`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
