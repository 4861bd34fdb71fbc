package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/drawsync/internal/model"
	"github.com/sells-group/drawsync/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Source metrics.
	SourcesTotal    int                  `json:"sources_total"`
	SourcesUsable   int                  `json:"sources_usable"`
	SourcesCritical int                  `json:"sources_critical"`
	Sources         []model.SourceHealth `json:"sources"`

	// Scrape run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsFailRate float64 `json:"runs_fail_rate"`

	// Storage.
	DrawsStored int `json:"draws_stored"`
	CacheSize   int `json:"cache_size"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// HealthReporter exposes per-source health.
type HealthReporter interface {
	Snapshot() []model.SourceHealth
}

// RunCounter is the store subset the collector reads.
type RunCounter interface {
	RunStats(ctx context.Context, since time.Time) (store.RunStats, error)
	Count(ctx context.Context) (int, error)
}

// Sizer reports how many entries a cache holds.
type Sizer interface {
	Len() int
}

// Collector gathers metrics from the registry, the store and the cache.
type Collector struct {
	sources HealthReporter
	runs    RunCounter
	cache   Sizer
	now     func() time.Time
}

// NewCollector creates a new metrics collector. runs and cache may be nil.
func NewCollector(sources HealthReporter, runs RunCounter, cache Sizer) *Collector {
	return &Collector{sources: sources, runs: runs, cache: cache, now: time.Now}
}

// WithClock replaces the time source.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
		Sources:       c.sources.Snapshot(),
	}

	snap.SourcesTotal = len(snap.Sources)
	for _, s := range snap.Sources {
		if s.Usable {
			snap.SourcesUsable++
		}
		if s.Status == model.HealthCritical {
			snap.SourcesCritical++
		}
	}

	if c.runs != nil {
		cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
		stats, err := c.runs.RunStats(ctx, cutoff)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: run stats")
		}
		snap.RunsTotal = stats.Total
		snap.RunsComplete = stats.Complete
		snap.RunsFailed = stats.Failed
		snap.RunsFailRate = stats.FailureRate()

		n, err := c.runs.Count(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: count draws")
		}
		snap.DrawsStored = n
	}

	if c.cache != nil {
		snap.CacheSize = c.cache.Len()
	}

	return snap, nil
}
