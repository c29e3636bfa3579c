package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/takeoff/internal/db"
	"github.com/sells-group/takeoff/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"get_run":        `SELECT ` + pgRunColumns + ` FROM runs WHERE id = $1`,
	"get_result":     `SELECT data FROM results WHERE id = $1`,
	"list_results":   `SELECT data FROM results WHERE run_id = $1 ORDER BY row_index, id`,
	"update_result":  `UPDATE results SET status = $1, data = $2, updated_at = $3 WHERE id = $4`,
	"upsert_mapping": upsertMappingSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner_id   TEXT NOT NULL DEFAULT '',
	boq        TEXT NOT NULL DEFAULT '',
	drawings   JSONB NOT NULL DEFAULT '[]',
	status     TEXT NOT NULL DEFAULT 'queued',
	health     JSONB,
	summary    JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS results (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	row_index  INTEGER NOT NULL,
	status     TEXT NOT NULL,
	owner_id   TEXT NOT NULL DEFAULT '',
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS mappings (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	owner_id         TEXT NOT NULL,
	description      TEXT NOT NULL,
	description_norm TEXT NOT NULL,
	unit             TEXT NOT NULL DEFAULT '',
	layer            TEXT NOT NULL,
	kind             TEXT NOT NULL DEFAULT '',
	discipline       TEXT NOT NULL DEFAULT '',
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	usage_count      INTEGER NOT NULL DEFAULT 1,
	last_used_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (owner_id, description_norm, layer)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_owner ON runs(owner_id);
CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id, row_index);
CREATE INDEX IF NOT EXISTS idx_mappings_owner ON mappings(owner_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgRunColumns = `id, owner_id, boq, drawings, status, health, summary, error, created_at, updated_at`

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = model.RunStatusQueued
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now

	cols, err := encodeRun(&run)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode run")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (`+pgRunColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.OwnerID, run.BoQ, cols.drawings, string(run.Status), cols.health, cols.summary, run.Error, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &run, nil
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.Run) error {
	run.UpdatedAt = time.Now().UTC()
	cols, err := encodeRun(run)
	if err != nil {
		return eris.Wrap(err, "postgres: encode run")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, health = $2, summary = $3, error = $4, updated_at = $5 WHERE id = $6`,
		string(run.Status), cols.health, cols.summary, run.Error, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: run %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.OwnerID != "" {
		query += fmt.Sprintf(` AND owner_id = $%d`, argIdx)
		args = append(args, filter.OwnerID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at > $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOr(filter.Limit, defaultListLimit))
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

var resultsUpsert = db.UpsertConfig{
	Table:        "results",
	Columns:      []string{"id", "run_id", "row_index", "status", "owner_id", "data", "updated_at"},
	ConflictKeys: []string{"id"},
	UpdateCols:   []string{"status", "data", "updated_at"},
}

func (s *PostgresStore) SaveResults(ctx context.Context, results []model.MatchResult) error {
	rows := make([][]any, 0, len(results))
	for i := range results {
		r := &results[i]
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal result %s", r.ID)
		}
		rows = append(rows, []any{r.ID, r.RunID, r.RowIndex, string(r.Status), r.OwnerID, data, r.UpdatedAt})
	}
	_, err := db.BulkUpsert(ctx, s.pool, resultsUpsert, rows)
	return eris.Wrap(err, "postgres: save results")
}

func (s *PostgresStore) ListResults(ctx context.Context, runID string) ([]model.MatchResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM results WHERE run_id = $1 ORDER BY row_index, id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results %s", runID)
	}
	defer rows.Close()

	out := []model.MatchResult{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		var r model.MatchResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

func (s *PostgresStore) GetResult(ctx context.Context, resultID string) (*model.MatchResult, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM results WHERE id = $1`, resultID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get result %s", resultID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get result %s", resultID)
	}
	var r model.MatchResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal result")
	}
	return &r, nil
}

func (s *PostgresStore) UpdateResult(ctx context.Context, result *model.MatchResult) error {
	result.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal result %s", result.ID)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE results SET status = $1, data = $2, updated_at = $3 WHERE id = $4`,
		string(result.Status), data, result.UpdatedAt, result.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update result %s", result.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: result %s", result.ID)
	}
	return nil
}

const upsertMappingSQL = `INSERT INTO mappings (id, owner_id, description, description_norm, unit, layer, kind, discipline, confidence, usage_count, last_used_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10)
ON CONFLICT (owner_id, description_norm, layer) DO UPDATE SET
	usage_count  = mappings.usage_count + 1,
	last_used_at = EXCLUDED.last_used_at,
	confidence   = EXCLUDED.confidence,
	kind         = EXCLUDED.kind,
	unit         = EXCLUDED.unit,
	discipline   = COALESCE(NULLIF(EXCLUDED.discipline, ''), mappings.discipline)
RETURNING id, usage_count, discipline, created_at`

func (s *PostgresStore) SaveMapping(ctx context.Context, m model.LearnedMapping) (*model.LearnedMapping, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.LastUsedAt = time.Now().UTC()

	err := s.pool.QueryRow(ctx, upsertMappingSQL,
		m.ID, m.OwnerID, m.Description, m.DescriptionNorm, m.Unit, m.Layer, string(m.Kind), string(m.Discipline),
		m.Confidence, m.LastUsedAt,
	).Scan(&m.ID, &m.UsageCount, &m.Discipline, &m.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert mapping")
	}
	return &m, nil
}

func (s *PostgresStore) FindMappings(ctx context.Context, q MappingQuery) ([]model.LearnedMapping, error) {
	query := `SELECT id, owner_id, description, description_norm, unit, layer, kind, discipline, confidence, usage_count, last_used_at, created_at
		FROM mappings
		WHERE owner_id = $1 AND (description_norm = $2 OR strpos($2, description_norm) > 0 OR strpos(description_norm, $2) > 0)`
	args := []any{q.OwnerID, q.DescriptionNorm}
	if q.Discipline != "" {
		query += ` AND discipline = $3`
		args = append(args, q.Discipline)
	}
	query += fmt.Sprintf(` ORDER BY usage_count DESC, confidence DESC, layer LIMIT $%d`, len(args)+1)
	args = append(args, limitOr(q.Limit, defaultListLimit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find mappings")
	}
	defer rows.Close()

	var out []model.LearnedMapping
	for rows.Next() {
		var m model.LearnedMapping
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Description, &m.DescriptionNorm, &m.Unit, &m.Layer,
			&m.Kind, &m.Discipline, &m.Confidence, &m.UsageCount, &m.LastUsedAt, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mapping")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find mappings iterate")
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var c runColumns
	if err := row.Scan(&r.ID, &r.OwnerID, &r.BoQ, &c.drawings, &r.Status, &c.health, &c.summary, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := decodeRun(&r, c); err != nil {
		return nil, eris.Wrap(err, "postgres: decode run")
	}
	return &r, nil
}
