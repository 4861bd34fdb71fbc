package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/drawsync/internal/model"
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

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_Save(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	d := testDraw(t, "2025-08-08", []int{7, 12, 25, 34, 48}, []int{3, 9}, "fdj")

	mock.ExpectExec(`(?s)INSERT INTO draws .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs(d.ID, "2025-08-08", "7-12-25-34-48", "3-9", "fdj", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	written, err := s.Save(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveUnchanged(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	d := testDraw(t, "2025-08-08", []int{7, 12, 25, 34, 48}, []int{3, 9}, "fdj")

	mock.ExpectExec(`INSERT INTO draws`).
		WithArgs(anyArgs(8)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	written, err := s.Save(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, written)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveError(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	d := testDraw(t, "2025-08-08", []int{7, 12, 25, 34, 48}, []int{3, 9}, "fdj")

	mock.ExpectExec(`INSERT INTO draws`).WithArgs(anyArgs(8)...).WillReturnError(errors.New("connection reset"))

	_, err := s.Save(context.Background(), d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: upsert draw")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveMany_BulkUpsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	a := testDraw(t, "2025-08-08", []int{7, 12, 25, 34, 48}, []int{3, 9}, "fdj")
	b := testDraw(t, "2025-08-05", []int{1, 2, 3, 4, 5}, []int{1, 2}, "fdj")

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_draws"}, drawUpsertColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "draws" .* WHERE "draws"."breakdown" IS DISTINCT FROM EXCLUDED."breakdown" OR "draws"."source_id" IS DISTINCT FROM EXCLUDED."source_id"$`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.SaveMany(context.Background(), []*model.Draw{a, b, a})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByID(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	id := "2025-08-08|7-12-25-34-48|3-9"

	mock.ExpectQuery(`SELECT draw_date::text, numbers, stars, breakdown, provenance FROM draws WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"draw_date", "numbers", "stars", "breakdown", "provenance"}).
			AddRow("2025-08-08", "7-12-25-34-48", "3-9",
				[]byte(`[{"rankLabel":"5+2","winnerCount":0,"unitAmount":"17000000","currency":"EUR"}]`),
				[]byte(`{"sourceId":"fdj","fetchedAt":"2025-08-08T21:30:00Z","method":"scraped","parseWarnings":[]}`)))

	d, err := s.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, id, d.ID)
	assert.Equal(t, "fdj", d.Provenance.SourceID)
	require.Len(t, d.Breakdown, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByID_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM draws WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	d, err := s.GetByID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetByID_CorruptRow(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .* FROM draws WHERE id = \$1`).
		WithArgs("bad").
		WillReturnRows(pgxmock.NewRows([]string{"draw_date", "numbers", "stars", "breakdown", "provenance"}).
			AddRow("2025-08-08", "1-1-2-3-4", "3-9", []byte(`[]`), []byte(`{}`)))

	_, err := s.GetByID(context.Background(), "bad")
	require.Error(t, err)
	var ve *model.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestPostgresStore_GetByDate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM draws WHERE draw_date = \$1 ORDER BY updated_at DESC LIMIT 1`).
		WithArgs("2025-08-05").
		WillReturnError(pgx.ErrNoRows)

	d, err := s.GetByDate(context.Background(), time.Date(2025, 8, 5, 21, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLatest(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM draws ORDER BY draw_date DESC, updated_at DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(100, 0).
		WillReturnRows(pgxmock.NewRows([]string{"draw_date", "numbers", "stars", "breakdown", "provenance"}).
			AddRow("2025-08-08", "7-12-25-34-48", "3-9", []byte(`[]`), []byte(`{"sourceId":"fdj"}`)).
			AddRow("2025-08-05", "1-2-3-4-5", "1-2", []byte(`[]`), []byte(`{"sourceId":"fdj"}`)))

	draws, err := s.GetLatest(context.Background(), 0, -5)
	require.NoError(t, err)
	require.Len(t, draws, 2)
	assert.Equal(t, "2025-08-08", draws[0].DateKey())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM draws`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(42))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	run := &model.ScrapeRun{
		ID:       "run-1",
		DrawDate: day("2025-08-08"),
		Status:   model.RunStatusComplete,
		SourceID: "fdj",
		Attempts: 1,
		Duration: 2 * time.Second,
	}

	mock.ExpectExec(`INSERT INTO scrape_runs`).
		WithArgs("run-1", "2025-08-08", "complete", "fdj", "", 1, 0, "", "", false, int64(2*time.Second), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.RecordRun(context.Background(), run))
	assert.False(t, run.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_Filters(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC)
	created := since.Add(time.Hour)

	mock.ExpectQuery(`FROM scrape_runs WHERE true AND status = \$1 AND draw_date = \$2 AND created_at >= \$3 ORDER BY created_at DESC LIMIT \$4 OFFSET \$5`).
		WithArgs("failed", "2025-08-08", since, 5, 10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "draw_date", "status", "source_id", "draw_id", "attempts", "skipped", "error_code", "error", "forced", "duration_ns", "created_at"}).
			AddRow("r1", "2025-08-08", "failed", "", "", 3, 0, "ALL_SOURCES_FAILED", "boom", true, int64(time.Second), created))

	runs, err := s.ListRuns(context.Background(), RunFilter{
		Status: model.RunStatusFailed,
		Date:   "2025-08-08",
		Since:  since,
		Limit:  5,
		Offset: 10,
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Equal(t, time.Second, runs[0].Duration)
	assert.Equal(t, created, runs[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RunStats(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	since := time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`COUNT\(\*\) FILTER`).
		WithArgs("complete", "failed", since).
		WillReturnRows(pgxmock.NewRows([]string{"total", "complete", "failed"}).AddRow(10, 7, 3))

	st, err := s.RunStats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, RunStats{Total: 10, Complete: 7, Failed: 3}, st)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MigrateAndPing(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS draws`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
