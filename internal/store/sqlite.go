package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/drawsync/internal/model"
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

// Timestamps are stored as unix nanoseconds so ordering and range filters
// compare integers.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS draws (
	id         TEXT PRIMARY KEY,
	draw_date  TEXT NOT NULL,
	numbers    TEXT NOT NULL,
	stars      TEXT NOT NULL,
	source_id  TEXT NOT NULL DEFAULT '',
	breakdown  TEXT NOT NULL DEFAULT '[]',
	provenance TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (draw_date, numbers, stars)
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id          TEXT PRIMARY KEY,
	draw_date   TEXT NOT NULL,
	status      TEXT NOT NULL,
	source_id   TEXT NOT NULL DEFAULT '',
	draw_id     TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	error_code  TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	forced      INTEGER NOT NULL DEFAULT 0,
	duration_ns INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_draws_date ON draws(draw_date DESC);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_created ON scrape_runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_status ON scrape_runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsertDraw = `
INSERT INTO draws (id, draw_date, numbers, stars, source_id, breakdown, provenance, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	source_id  = excluded.source_id,
	breakdown  = excluded.breakdown,
	provenance = excluded.provenance,
	updated_at = excluded.updated_at
WHERE draws.breakdown <> excluded.breakdown OR draws.source_id <> excluded.source_id`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSQLite(ctx context.Context, ex execer, d *model.Draw) (bool, error) {
	row, err := encodeDraw(d)
	if err != nil {
		return false, err
	}
	now := nowUTC().UnixNano()
	res, err := ex.ExecContext(ctx, sqliteUpsertDraw,
		row.ID, row.Date, row.Numbers, row.Stars, row.SourceID,
		string(row.Breakdown), string(row.Provenance), now, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert draw %s", row.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

// Save upserts d. It reports false when an identical record was already
// stored.
func (s *SQLiteStore) Save(ctx context.Context, d *model.Draw) (bool, error) {
	return upsertSQLite(ctx, s.db, d)
}

// SaveMany upserts draws in one transaction and returns how many were
// written.
func (s *SQLiteStore) SaveMany(ctx context.Context, draws []*model.Draw) (int64, error) {
	if len(draws) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var written int64
	for _, d := range draws {
		ok, err := upsertSQLite(ctx, tx, d)
		if err != nil {
			return 0, err
		}
		if ok {
			written++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit tx")
	}
	return written, nil
}

const sqliteDrawColumns = `draw_date, numbers, stars, breakdown, provenance`

func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*model.Draw, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDrawColumns+` FROM draws WHERE id = ?`, id)
	d, err := scanSQLiteDraw(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get draw %s", id)
	}
	return d, nil
}

func (s *SQLiteStore) GetByDate(ctx context.Context, date time.Time) (*model.Draw, error) {
	day := model.DateKey(date)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteDrawColumns+` FROM draws WHERE draw_date = ? ORDER BY updated_at DESC LIMIT 1`, day)
	d, err := scanSQLiteDraw(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get draw for %s", day)
	}
	return d, nil
}

func (s *SQLiteStore) GetLatest(ctx context.Context, limit, offset int) ([]*model.Draw, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteDrawColumns+` FROM draws ORDER BY draw_date DESC, updated_at DESC LIMIT ? OFFSET ?`,
		listLimit(limit), max(offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get latest")
	}
	defer rows.Close() //nolint:errcheck

	draws := []*model.Draw{}
	for rows.Next() {
		d, err := scanSQLiteDraw(rows)
		if err != nil {
			return nil, err
		}
		draws = append(draws, d)
	}
	return draws, eris.Wrap(rows.Err(), "sqlite: get latest iterate")
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM draws`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count draws")
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run *model.ScrapeRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = nowUTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, draw_date, status, source_id, draw_id, attempts, skipped, error_code, error, forced, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, runDate(run), string(run.Status), run.SourceID, run.DrawID,
		run.Attempts, run.Skipped, run.ErrorCode, run.Error, run.Forced,
		int64(run.Duration), run.CreatedAt.UTC().UnixNano(),
	)
	return eris.Wrapf(err, "sqlite: record run %s", run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.ScrapeRun, error) {
	query := `SELECT id, draw_date, status, source_id, draw_id, attempts, skipped, error_code, error, forced, duration_ns, created_at
		FROM scrape_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Date != "" {
		query += ` AND draw_date = ?`
		args = append(args, filter.Date)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC().UnixNano())
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.ScrapeRun
	for rows.Next() {
		var (
			r        model.ScrapeRun
			day      string
			duration int64
			created  int64
		)
		if err := rows.Scan(&r.ID, &day, &r.Status, &r.SourceID, &r.DrawID, &r.Attempts, &r.Skipped,
			&r.ErrorCode, &r.Error, &r.Forced, &duration, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if r.DrawDate, err = model.ParseDate(day); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run date")
		}
		r.Duration = time.Duration(duration)
		r.CreatedAt = time.Unix(0, created).UTC()
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) RunStats(ctx context.Context, since time.Time) (RunStats, error) {
	var st RunStats
	var cutoff int64
	if !since.IsZero() {
		cutoff = since.UTC().UnixNano()
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		 FROM scrape_runs WHERE created_at >= ?`,
		string(model.RunStatusComplete), string(model.RunStatusFailed), cutoff,
	).Scan(&st.Total, &st.Complete, &st.Failed)
	return st, eris.Wrap(err, "sqlite: run stats")
}

type scannable interface {
	Scan(dest ...any) error
}

// scanSQLiteDraw returns nil, nil when the row does not exist.
func scanSQLiteDraw(row scannable) (*model.Draw, error) {
	var date, numbers, stars, breakdown, provenance string
	err := row.Scan(&date, &numbers, &stars, &breakdown, &provenance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan draw")
	}
	return decodeDraw(date, numbers, stars, []byte(breakdown), []byte(provenance))
}
