package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/drawsync/internal/model"
)

// Supported values of the store.driver setting.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RunFilter specifies criteria for listing scrape runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Date   string          `json:"date,omitempty"`
	Since  time.Time       `json:"since,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// RunStats summarises scrape runs over a window.
type RunStats struct {
	Total    int `json:"total"`
	Complete int `json:"complete"`
	Failed   int `json:"failed"`
}

// FailureRate is Failed/Total, or 0 with no runs.
func (s RunStats) FailureRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Total)
}

// Store persists draws and the scrape run log. A draw is unique on
// (date, numbers, stars), which is exactly its ID, so re-saving is an upsert.
type Store interface {
	// Draws
	Save(ctx context.Context, d *model.Draw) (bool, error)
	SaveMany(ctx context.Context, draws []*model.Draw) (int64, error)
	GetByID(ctx context.Context, id string) (*model.Draw, error)
	GetByDate(ctx context.Context, date time.Time) (*model.Draw, error)
	GetLatest(ctx context.Context, limit, offset int) ([]*model.Draw, error)
	Count(ctx context.Context) (int, error)

	// Scrape runs
	RecordRun(ctx context.Context, run *model.ScrapeRun) error
	ListRuns(ctx context.Context, filter RunFilter) ([]model.ScrapeRun, error)
	RunStats(ctx context.Context, since time.Time) (RunStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Open connects to the store named by driver.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLite(dsn)
	case DriverPostgres:
		return NewPostgres(ctx, dsn, poolCfg)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
