// Package resolver answers draw requests from the cache, the store and, as
// a last resort, the scrape orchestrator.
package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/drawsync/internal/cache"
	"github.com/sells-group/drawsync/internal/model"
	"github.com/sells-group/drawsync/internal/scrape"
	"github.com/sells-group/drawsync/internal/store"
)

// Options controls how far a resolution may go.
type Options struct {
	// AllowScrape permits falling back to external sources.
	AllowScrape bool
	// ForceRefresh skips the cache and the store and always scrapes.
	ForceRefresh bool
	// SkipPersisted skips the store lookup.
	SkipPersisted bool
}

func (o Options) key(day string) string {
	return fmt.Sprintf("%s|%t|%t|%t", day, o.AllowScrape, o.ForceRefresh, o.SkipPersisted)
}

// Scraper resolves a draw from external sources.
type Scraper interface {
	Scrape(ctx context.Context, date time.Time) (*scrape.Result, error)
}

// Draws is the store subset the resolver reads and writes.
type Draws interface {
	Save(ctx context.Context, d *model.Draw) (bool, error)
	GetByDate(ctx context.Context, date time.Time) (*model.Draw, error)
	GetLatest(ctx context.Context, limit, offset int) ([]*model.Draw, error)
	Count(ctx context.Context) (int, error)
	RecordRun(ctx context.Context, run *model.ScrapeRun) error
}

var _ Draws = (store.Store)(nil)

// Resolver implements the cache, store, scrape lookup order.
type Resolver struct {
	cache    *cache.DrawCache
	draws    Draws
	scraper  Scraper
	coalesce bool
	group    singleflight.Group
	now      func() time.Time
	newID    func() string
}

// New builds a Resolver. draws may be nil, in which case nothing is persisted
// and history queries fail.
func New(c *cache.DrawCache, draws Draws, s Scraper) *Resolver {
	if c == nil {
		c = cache.New(cache.DefaultTTL)
	}
	return &Resolver{
		cache:    c,
		draws:    draws,
		scraper:  s,
		coalesce: true,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// WithCoalescing toggles sharing one in-flight resolution between concurrent
// callers asking for the same date and options.
func (r *Resolver) WithCoalescing(on bool) *Resolver {
	r.coalesce = on
	return r
}

// WithClock replaces the time source.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Cache exposes the draw cache for metrics.
func (r *Resolver) Cache() *cache.DrawCache {
	return r.cache
}

// Resolve returns the draw of date.
func (r *Resolver) Resolve(ctx context.Context, date time.Time, opts Options) (*model.Draw, error) {
	if date.IsZero() {
		return nil, &model.ValidationError{Kind: model.ValidationMissingDate, Field: "date", Message: "draw date is required"}
	}
	date = model.NormalizeDate(date)
	if opts.ForceRefresh {
		opts.AllowScrape = true
	}
	if !r.coalesce {
		return r.resolve(ctx, date, opts)
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "resolver: cancelled")
	}

	// Detached: a caller that cancels stops waiting, the shared call goes on
	// for the others. Fetch attempts keep their own timeouts.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(opts.key(model.DateKey(date)), func() (any, error) {
		return r.resolve(shared, date, opts)
	})
	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "resolver: cancelled")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Draw), nil
	}
}

func (r *Resolver) resolve(ctx context.Context, date time.Time, opts Options) (*model.Draw, error) {
	day := model.DateKey(date)

	if !opts.ForceRefresh {
		if d, ok := r.cache.Get(day); ok {
			zap.L().Debug("resolver: cache hit", zap.String("date", day))
			return d, nil
		}
	}

	if !opts.ForceRefresh && !opts.SkipPersisted && r.draws != nil {
		d, err := r.draws.GetByDate(ctx, date)
		if err != nil {
			// A broken store only costs a scrape.
			zap.L().Warn("resolver: store lookup failed", zap.String("date", day), zap.Error(err))
		}
		if d != nil {
			prov := d.Provenance
			prov.Method = model.MethodPersisted
			d = d.WithProvenance(prov)
			r.cache.Put(day, d)
			return d, nil
		}
	}

	if !opts.AllowScrape {
		return nil, &scrape.ResolutionError{Kind: scrape.NotFound, Date: date}
	}
	return r.scrapeAndStore(ctx, date, opts)
}

func (r *Resolver) scrapeAndStore(ctx context.Context, date time.Time, opts Options) (*model.Draw, error) {
	day := model.DateKey(date)
	start := r.now()

	res, err := r.scraper.Scrape(ctx, date)
	r.logRun(ctx, date, opts, res, err, r.now().Sub(start))
	if err != nil {
		return nil, err
	}

	d := res.Draw
	r.cache.Put(day, d)
	if r.draws != nil {
		if _, err := r.draws.Save(ctx, d); err != nil {
			zap.L().Error("resolver: persist scraped draw", zap.String("draw_id", d.ID), zap.Error(err))
		}
	}
	return d, nil
}

// logRun records a scrape-backed resolution. Cancelled resolutions are not
// logged.
func (r *Resolver) logRun(ctx context.Context, date time.Time, opts Options, res *scrape.Result, err error, elapsed time.Duration) {
	if r.draws == nil || ctx.Err() != nil {
		return
	}
	run := &model.ScrapeRun{
		ID:        r.newID(),
		DrawDate:  date,
		Forced:    opts.ForceRefresh,
		Duration:  elapsed,
		CreatedAt: r.now().UTC(),
	}
	if err != nil {
		run.Status = model.RunStatusFailed
		run.Error = err.Error()
		run.ErrorCode = "INTERNAL"
		if re, ok := scrape.AsResolutionError(err); ok {
			run.ErrorCode = re.Code()
			run.Attempts = len(re.Attempts)
			run.Skipped = len(re.Skipped)
		}
	} else {
		run.Status = model.RunStatusComplete
		run.SourceID = res.SourceID
		run.DrawID = res.Draw.ID
		run.Attempts = len(res.Attempts) + 1
		run.Skipped = len(res.Skipped)
	}
	if err := r.draws.RecordRun(ctx, run); err != nil {
		zap.L().Warn("resolver: record scrape run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

var errNoStore = eris.New("resolver: no store configured")

// Latest returns stored draws, most recent first.
func (r *Resolver) Latest(ctx context.Context, limit, offset int) ([]*model.Draw, error) {
	if r.draws == nil {
		return nil, errNoStore
	}
	draws, err := r.draws.GetLatest(ctx, limit, offset)
	if err != nil {
		return nil, eris.Wrap(err, "resolver: latest")
	}
	model.SortByDateDesc(draws)
	return draws, nil
}

// LatestOne returns the most recent stored draw. When nothing is stored and
// allowScrape is set, the most recent draw day is scraped instead.
func (r *Resolver) LatestOne(ctx context.Context, allowScrape bool) (*model.Draw, error) {
	if r.draws != nil {
		draws, err := r.Latest(ctx, 1, 0)
		if err != nil {
			return nil, err
		}
		if len(draws) > 0 {
			return draws[0], nil
		}
	}
	if !allowScrape {
		return nil, &scrape.ResolutionError{Kind: scrape.NotFound}
	}
	return r.Resolve(ctx, PreviousDrawDay(r.now()), Options{AllowScrape: true})
}

// History returns a page of stored draws and the total stored.
func (r *Resolver) History(ctx context.Context, limit, offset int) ([]*model.Draw, int, error) {
	draws, err := r.Latest(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.draws.Count(ctx)
	if err != nil {
		return nil, 0, eris.Wrap(err, "resolver: count")
	}
	return draws, total, nil
}

// IsNotFound reports whether err means no draw exists for the request.
func IsNotFound(err error) bool {
	return scrape.IsResolutionKind(err, scrape.NotFound)
}
