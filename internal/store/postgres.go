package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/drawsync/internal/db"
	"github.com/sells-group/drawsync/internal/model"
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

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS draws (
	id         TEXT PRIMARY KEY,
	draw_date  DATE NOT NULL,
	numbers    TEXT NOT NULL,
	stars      TEXT NOT NULL,
	source_id  TEXT NOT NULL DEFAULT '',
	breakdown  JSONB NOT NULL DEFAULT '[]',
	provenance JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (draw_date, numbers, stars)
);

CREATE INDEX IF NOT EXISTS idx_draws_date ON draws(draw_date DESC);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	draw_date   DATE NOT NULL,
	status      TEXT NOT NULL,
	source_id   TEXT NOT NULL DEFAULT '',
	draw_id     TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	error_code  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	forced      BOOLEAN NOT NULL DEFAULT false,
	duration_ns BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scrape_runs_created ON scrape_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_status ON scrape_runs(status);
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

const postgresUpsertDraw = `INSERT INTO draws (id, draw_date, numbers, stars, source_id, breakdown, provenance, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	source_id = EXCLUDED.source_id,
	breakdown = EXCLUDED.breakdown,
	provenance = EXCLUDED.provenance,
	updated_at = EXCLUDED.updated_at
WHERE draws.breakdown IS DISTINCT FROM EXCLUDED.breakdown OR draws.source_id IS DISTINCT FROM EXCLUDED.source_id`

// Save upserts d. It reports false when an identical record was already
// stored.
func (s *PostgresStore) Save(ctx context.Context, d *model.Draw) (bool, error) {
	row, err := encodeDraw(d)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, postgresUpsertDraw,
		row.ID, row.Date, row.Numbers, row.Stars, row.SourceID,
		string(row.Breakdown), string(row.Provenance), nowUTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert draw %s", row.ID)
	}
	return tag.RowsAffected() > 0, nil
}

var drawUpsertColumns = []string{"id", "draw_date", "numbers", "stars", "source_id", "breakdown", "provenance", "updated_at"}

// SaveMany bulk-upserts draws through a COPY'd temp table. Like Save, rows
// already stored with the same breakdown and source are left alone and not
// counted.
func (s *PostgresStore) SaveMany(ctx context.Context, draws []*model.Draw) (int64, error) {
	now := nowUTC()
	rows := make([][]any, 0, len(draws))
	seen := make(map[string]bool, len(draws))
	for _, d := range draws {
		row, err := encodeDraw(d)
		if err != nil {
			return 0, err
		}
		// ON CONFLICT cannot touch the same row twice in one statement.
		if seen[row.ID] {
			continue
		}
		seen[row.ID] = true
		day, err := model.ParseDate(row.Date)
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{row.ID, day, row.Numbers, row.Stars, row.SourceID,
			string(row.Breakdown), string(row.Provenance), now})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "draws",
		Columns:      drawUpsertColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"source_id", "breakdown", "provenance", "updated_at"},
		ChangedCols:  []string{"breakdown", "source_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: save many")
}

const postgresDrawColumns = `draw_date::text, numbers, stars, breakdown, provenance`

func (s *PostgresStore) GetByID(ctx context.Context, id string) (*model.Draw, error) {
	d, err := scanPostgresDraw(s.pool.QueryRow(ctx,
		`SELECT `+postgresDrawColumns+` FROM draws WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get draw %s", id)
	}
	return d, nil
}

func (s *PostgresStore) GetByDate(ctx context.Context, date time.Time) (*model.Draw, error) {
	day := model.DateKey(date)
	d, err := scanPostgresDraw(s.pool.QueryRow(ctx,
		`SELECT `+postgresDrawColumns+` FROM draws WHERE draw_date = $1 ORDER BY updated_at DESC LIMIT 1`, day))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get draw for %s", day)
	}
	return d, nil
}

func (s *PostgresStore) GetLatest(ctx context.Context, limit, offset int) ([]*model.Draw, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresDrawColumns+` FROM draws ORDER BY draw_date DESC, updated_at DESC LIMIT $1 OFFSET $2`,
		listLimit(limit), max(offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get latest")
	}
	defer rows.Close()

	draws := []*model.Draw{}
	for rows.Next() {
		d, err := scanPostgresDraw(rows)
		if err != nil {
			return nil, err
		}
		draws = append(draws, d)
	}
	return draws, eris.Wrap(rows.Err(), "postgres: get latest iterate")
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM draws`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count draws")
}

func (s *PostgresStore) RecordRun(ctx context.Context, run *model.ScrapeRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = nowUTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_runs (id, draw_date, status, source_id, draw_id, attempts, skipped, error_code, error, forced, duration_ns, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		run.ID, runDate(run), string(run.Status), run.SourceID, run.DrawID,
		run.Attempts, run.Skipped, run.ErrorCode, run.Error, run.Forced,
		int64(run.Duration), run.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: record run %s", run.ID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ScrapeRun, error) {
	query := `SELECT id, draw_date::text, status, source_id, draw_id, attempts, skipped, error_code, error, forced, duration_ns, created_at
		FROM scrape_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Date != "" {
		query += fmt.Sprintf(` AND draw_date = $%d`, argIdx)
		args = append(args, filter.Date)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
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

	var runs []model.ScrapeRun
	for rows.Next() {
		var (
			r        model.ScrapeRun
			day      string
			status   string
			duration int64
		)
		if err := rows.Scan(&r.ID, &day, &status, &r.SourceID, &r.DrawID, &r.Attempts, &r.Skipped,
			&r.ErrorCode, &r.Error, &r.Forced, &duration, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if r.DrawDate, err = model.ParseDate(day); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run date")
		}
		r.Status = model.RunStatus(status)
		r.Duration = time.Duration(duration)
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) RunStats(ctx context.Context, since time.Time) (RunStats, error) {
	var st RunStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2)
		 FROM scrape_runs WHERE created_at >= $3`,
		string(model.RunStatusComplete), string(model.RunStatusFailed), since,
	).Scan(&st.Total, &st.Complete, &st.Failed)
	return st, eris.Wrap(err, "postgres: run stats")
}

// scanPostgresDraw returns nil, nil when the row does not exist.
func scanPostgresDraw(row pgx.Row) (*model.Draw, error) {
	var (
		date, numbers, stars  string
		breakdown, provenance []byte
	)
	err := row.Scan(&date, &numbers, &stars, &breakdown, &provenance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan draw")
	}
	return decodeDraw(date, numbers, stars, breakdown, provenance)
}
