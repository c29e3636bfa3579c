package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/takeoff/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL DEFAULT '',
	boq        TEXT NOT NULL DEFAULT '',
	drawings   TEXT NOT NULL DEFAULT '[]',
	status     TEXT NOT NULL DEFAULT 'queued',
	health     TEXT,
	summary    TEXT,
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS results (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	row_index  INTEGER NOT NULL,
	status     TEXT NOT NULL,
	owner_id   TEXT NOT NULL DEFAULT '',
	data       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS mappings (
	id               TEXT PRIMARY KEY,
	owner_id         TEXT NOT NULL,
	description      TEXT NOT NULL,
	description_norm TEXT NOT NULL,
	unit             TEXT NOT NULL DEFAULT '',
	layer            TEXT NOT NULL,
	kind             TEXT NOT NULL DEFAULT '',
	discipline       TEXT NOT NULL DEFAULT '',
	confidence       REAL NOT NULL DEFAULT 0,
	usage_count      INTEGER NOT NULL DEFAULT 1,
	last_used_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (owner_id, description_norm, layer)
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_owner ON runs(owner_id);
CREATE INDEX IF NOT EXISTS idx_results_run_id ON results(run_id, row_index);
CREATE INDEX IF NOT EXISTS idx_mappings_owner ON mappings(owner_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
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
		return nil, eris.Wrap(err, "sqlite: encode run")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, owner_id, boq, drawings, status, health, summary, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.OwnerID, run.BoQ, string(cols.drawings), string(run.Status),
		nullString(cols.health), nullString(cols.summary), run.Error, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &run, nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	run.UpdatedAt = time.Now().UTC()
	cols, err := encodeRun(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: encode run")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, health = ?, summary = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(run.Status), nullString(cols.health), nullString(cols.summary), run.Error, run.UpdatedAt, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

const sqliteRunColumns = `id, owner_id, boq, drawings, status, health, summary, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, filter.OwnerID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at > ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit, defaultListLimit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveResults(ctx context.Context, results []model.MatchResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save results")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results (id, run_id, row_index, status, owner_id, data, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET status = excluded.status, data = excluded.data, updated_at = excluded.updated_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save results")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range results {
		r := &results[i]
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal result %s", r.ID)
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.RunID, r.RowIndex, string(r.Status), r.OwnerID, string(data), r.UpdatedAt); err != nil {
			return eris.Wrapf(err, "sqlite: save result %s", r.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save results")
}

func (s *SQLiteStore) ListResults(ctx context.Context, runID string) ([]model.MatchResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM results WHERE run_id = ? ORDER BY row_index, id`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	out := []model.MatchResult{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		var r model.MatchResult
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

func (s *SQLiteStore) GetResult(ctx context.Context, resultID string) (*model.MatchResult, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM results WHERE id = ?`, resultID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: result %s", resultID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result %s", resultID)
	}
	var r model.MatchResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal result")
	}
	return &r, nil
}

func (s *SQLiteStore) UpdateResult(ctx context.Context, result *model.MatchResult) error {
	result.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(result)
	if err != nil {
		return eris.Wrapf(err, "sqlite: marshal result %s", result.ID)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE results SET status = ?, data = ?, updated_at = ? WHERE id = ?`,
		string(result.Status), string(data), result.UpdatedAt, result.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update result %s", result.ID)
	}
	return checkRowsAffected(res, "result", result.ID)
}

func (s *SQLiteStore) SaveMapping(ctx context.Context, m model.LearnedMapping) (*model.LearnedMapping, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.LastUsedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin upsert mapping")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO mappings (id, owner_id, description, description_norm, unit, layer, kind, discipline, confidence, usage_count, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT (owner_id, description_norm, layer) DO UPDATE SET
			usage_count  = mappings.usage_count + 1,
			last_used_at = excluded.last_used_at,
			confidence   = excluded.confidence,
			kind         = excluded.kind,
			unit         = excluded.unit,
			discipline   = CASE WHEN excluded.discipline = '' THEN mappings.discipline ELSE excluded.discipline END`,
		m.ID, m.OwnerID, m.Description, m.DescriptionNorm, m.Unit, m.Layer, string(m.Kind), string(m.Discipline),
		m.Confidence, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert mapping")
	}
	err = tx.QueryRowContext(ctx,
		`SELECT id, usage_count, discipline, created_at FROM mappings WHERE owner_id = ? AND description_norm = ? AND layer = ?`,
		m.OwnerID, m.DescriptionNorm, m.Layer,
	).Scan(&m.ID, &m.UsageCount, &m.Discipline, &m.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read back mapping")
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit upsert mapping")
	}
	return &m, nil
}

func (s *SQLiteStore) FindMappings(ctx context.Context, q MappingQuery) ([]model.LearnedMapping, error) {
	query := `SELECT id, owner_id, description, description_norm, unit, layer, kind, discipline, confidence, usage_count, last_used_at, created_at
		FROM mappings
		WHERE owner_id = ? AND (description_norm = ? OR instr(?, description_norm) > 0 OR instr(description_norm, ?) > 0)`
	args := []any{q.OwnerID, q.DescriptionNorm, q.DescriptionNorm, q.DescriptionNorm}
	if q.Discipline != "" {
		query += ` AND discipline = ?`
		args = append(args, q.Discipline)
	}
	query += ` ORDER BY usage_count DESC, confidence DESC, layer LIMIT ?`
	args = append(args, limitOr(q.Limit, defaultListLimit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find mappings")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LearnedMapping
	for rows.Next() {
		var m model.LearnedMapping
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Description, &m.DescriptionNorm, &m.Unit, &m.Layer,
			&m.Kind, &m.Discipline, &m.Confidence, &m.UsageCount, &m.LastUsedAt, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mapping")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find mappings iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var drawings string
	var health, summary sql.NullString

	err := row.Scan(&r.ID, &r.OwnerID, &r.BoQ, &drawings, &r.Status, &health, &summary, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	var h, sm []byte
	if health.Valid {
		h = []byte(health.String)
	}
	if summary.Valid {
		sm = []byte(summary.String)
	}
	if err := decodeRun(&r, runColumns{drawings: []byte(drawings), health: h, summary: sm}); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode run")
	}
	return &r, nil
}
