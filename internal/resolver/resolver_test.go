package resolver

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/drawsync/internal/cache"
	"github.com/sells-group/drawsync/internal/model"
	"github.com/sells-group/drawsync/internal/scrape"
)

var drawDate = time.Date(2025, 8, 8, 0, 0, 0, 0, time.UTC)

func newDraw(t *testing.T, date time.Time, source string) *model.Draw {
	t.Helper()
	d, err := model.NewDraw(date, []int{7, 12, 25, 34, 48}, []int{3, 9}, nil, &model.Provenance{
		SourceID:  source,
		FetchedAt: date.Add(21 * time.Hour),
		Method:    model.MethodScraped,
	})
	require.NoError(t, err)
	return d
}

type fakeScraper struct {
	calls   atomic.Int32
	gate    chan struct{}
	scrapeF func(date time.Time) (*scrape.Result, error)
}

func (f *fakeScraper) Scrape(ctx context.Context, date time.Time) (*scrape.Result, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.scrapeF(date)
}

func scrapesOK(t *testing.T, source string) func(time.Time) (*scrape.Result, error) {
	return func(date time.Time) (*scrape.Result, error) {
		return &scrape.Result{
			Draw:     newDraw(t, date, source),
			SourceID: source,
			Attempts: []scrape.SourceAttempt{{SourceID: "down", Err: errors.New("x")}},
		}, nil
	}
}

type memDraws struct {
	mu      sync.Mutex
	byDate  map[string]*model.Draw
	runs    []*model.ScrapeRun
	saves   int
	lookups int
	getErr  error
}

func newMemDraws() *memDraws {
	return &memDraws{byDate: map[string]*model.Draw{}}
}

func (m *memDraws) Save(_ context.Context, d *model.Draw) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.byDate[d.DateKey()] = d
	return true, nil
}

func (m *memDraws) GetByDate(_ context.Context, date time.Time) (*model.Draw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.byDate[model.DateKey(date)], nil
}

// GetLatest pages newest first like a real store but hands the page back
// oldest first, so Latest has to sort on its own.
func (m *memDraws) GetLatest(_ context.Context, limit, offset int) ([]*model.Draw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Draw, 0, len(m.byDate))
	for _, d := range m.byDate {
		out = append(out, d)
	}
	model.SortByDateDesc(out)
	if offset >= len(out) {
		return []*model.Draw{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	slices.Reverse(out)
	return out, nil
}

func (m *memDraws) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byDate), nil
}

func (m *memDraws) RecordRun(_ context.Context, run *model.ScrapeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func TestResolve_CacheHit(t *testing.T) {
	t.Parallel()

	c := cache.New(time.Hour)
	cached := newDraw(t, drawDate, "fdj")
	c.Put("2025-08-08", cached)
	sc := &fakeScraper{scrapeF: scrapesOK(t, "fdj")}
	st := newMemDraws()

	d, err := New(c, st, sc).Resolve(context.Background(), drawDate, Options{AllowScrape: true})
	require.NoError(t, err)
	assert.Same(t, cached, d)
	assert.Zero(t, sc.calls.Load())
	assert.Zero(t, st.lookups)
}

func TestResolve_PersistedTakesPrecedence(t *testing.T) {
	t.Parallel()

	st := newMemDraws()
	st.byDate["2025-08-08"] = newDraw(t, drawDate, "fdj")
	sc := &fakeScraper{scrapeF: scrapesOK(t, "other")}
	r := New(cache.New(time.Hour), st, sc)

	d, err := r.Resolve(context.Background(), drawDate.Add(20*time.Hour), Options{AllowScrape: true})
	require.NoError(t, err)
	assert.Equal(t, model.MethodPersisted, d.Provenance.Method)
	assert.Equal(t, "fdj", d.Provenance.SourceID)
	assert.Zero(t, sc.calls.Load())

	cached, ok := r.Cache().Get("2025-08-08")
	require.True(t, ok)
	assert.Equal(t, d.ID, cached.ID)
}

func TestResolve_NotFoundWithoutScrape(t *testing.T) {
	t.Parallel()

	sc := &fakeScraper{scrapeF: scrapesOK(t, "fdj")}
	_, err := New(nil, newMemDraws(), sc).Resolve(context.Background(), drawDate, Options{})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	re, ok := scrape.AsResolutionError(err)
	require.True(t, ok)
	assert.Equal(t, 404, re.HTTPStatus())
	assert.Zero(t, sc.calls.Load())
}

func TestResolve_ScrapesPersistsAndLogs(t *testing.T) {
	t.Parallel()

	st := newMemDraws()
	sc := &fakeScraper{scrapeF: scrapesOK(t, "lotteryextreme")}
	r := New(cache.New(time.Hour), st, sc)
	r.newID = func() string { return "run-1" }

	d, err := r.Resolve(context.Background(), drawDate, Options{AllowScrape: true})
	require.NoError(t, err)
	assert.Equal(t, "lotteryextreme", d.Provenance.SourceID)
	assert.Equal(t, 1, st.saves)

	require.Len(t, st.runs, 1)
	run := st.runs[0]
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "lotteryextreme", run.SourceID)
	assert.Equal(t, d.ID, run.DrawID)
	assert.Equal(t, 2, run.Attempts)
	assert.False(t, run.Forced)

	again, err := r.Resolve(context.Background(), drawDate, Options{AllowScrape: true})
	require.NoError(t, err)
	assert.Same(t, d, again)
	assert.Equal(t, int32(1), sc.calls.Load())
}

func TestResolve_ForceRefreshBypassesCacheAndStore(t *testing.T) {
	t.Parallel()

	c := cache.New(time.Hour)
	c.Put("2025-08-08", newDraw(t, drawDate, "stale"))
	st := newMemDraws()
	st.byDate["2025-08-08"] = newDraw(t, drawDate, "stale")
	sc := &fakeScraper{scrapeF: scrapesOK(t, "fdj")}

	d, err := New(c, st, sc).Resolve(context.Background(), drawDate, Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, "fdj", d.Provenance.SourceID)
	assert.Equal(t, int32(1), sc.calls.Load())
	assert.Zero(t, st.lookups)

	cached, _ := c.Get("2025-08-08")
	assert.Equal(t, "fdj", cached.Provenance.SourceID)
	require.Len(t, st.runs, 1)
	assert.True(t, st.runs[0].Forced)
}

func TestResolve_SkipPersisted(t *testing.T) {
	t.Parallel()

	st := newMemDraws()
	st.byDate["2025-08-08"] = newDraw(t, drawDate, "stored")
	sc := &fakeScraper{scrapeF: scrapesOK(t, "fdj")}

	d, err := New(nil, st, sc).Resolve(context.Background(), drawDate, Options{AllowScrape: true, SkipPersisted: true})
	require.NoError(t, err)
	assert.Equal(t, "fdj", d.Provenance.SourceID)
	assert.Zero(t, st.lookups)
}

func TestResolve_StoreErrorFallsThroughToScrape(t *testing.T) {
	t.Parallel()

	st := newMemDraws()
	st.getErr = errors.New("database is locked")
	sc := &fakeScraper{scrapeF: scrapesOK(t, "fdj")}

	d, err := New(nil, st, sc).Resolve(context.Background(), drawDate, Options{AllowScrape: true})
	require.NoError(t, err)
	assert.Equal(t, "fdj", d.Provenance.SourceID)
}

func TestResolve_ScrapeFailureLogged(t *testing.T) {
	t.Parallel()

	st := newMemDraws()
	sc := &fakeScraper{scrapeF: func(date time.Time) (*scrape.Result, error) {
		return nil, &scrape.ResolutionError{
			Kind:     scrape.AllSourcesFailed,
			Date:     date,
			Attempts: []scrape.SourceAttempt{{SourceID: "a"}, {SourceID: "b"}},
			Skipped:  []string{"c"},
		}
	}}

	_, err := New(nil, st, sc).Resolve(context.Background(), drawDate, Options{AllowScrape: true})
	re, ok := scrape.AsResolutionError(err)
	require.True(t, ok)
	assert.Equal(t, scrape.AllSourcesFailed, re.Kind)

	require.Len(t, st.runs, 1)
	run := st.runs[0]
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, "ALL_SOURCES_FAILED", run.ErrorCode)
	assert.Equal(t, 2, run.Attempts)
	assert.Equal(t, 1, run.Skipped)
	assert.Zero(t, st.saves)
}

func TestResolve_CoalescesConcurrentCallers(t *testing.T) {
	t.Parallel()

	sc := &fakeScraper{gate: make(chan struct{}), scrapeF: scrapesOK(t, "fdj")}
	r := New(nil, newMemDraws(), sc)

	var wg sync.WaitGroup
	results := make([]*model.Draw, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := r.Resolve(context.Background(), drawDate, Options{AllowScrape: true})
			assert.NoError(t, err)
			results[i] = d
		}()
	}

	require.Eventually(t, func() bool { return sc.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(sc.gate)
	wg.Wait()

	assert.Equal(t, int32(1), sc.calls.Load())
	for _, d := range results {
		assert.Same(t, results[0], d)
	}
}

func TestResolve_WithoutCoalescing(t *testing.T) {
	t.Parallel()

	sc := &fakeScraper{scrapeF: scrapesOK(t, "fdj")}
	r := New(nil, nil, sc).WithCoalescing(false)

	_, err := r.Resolve(context.Background(), drawDate, Options{ForceRefresh: true})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), drawDate, Options{ForceRefresh: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), sc.calls.Load())
}

func TestResolve_Cancelled(t *testing.T) {
	t.Parallel()

	st := newMemDraws()
	sc := &fakeScraper{gate: make(chan struct{}), scrapeF: scrapesOK(t, "fdj")}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for sc.calls.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := New(nil, st, sc).Resolve(ctx, drawDate, Options{AllowScrape: true})
	require.ErrorIs(t, err, context.Canceled)
	close(sc.gate)
}

func TestResolve_CancelledCallerDoesNotFailCoalescedCaller(t *testing.T) {
	t.Parallel()

	st := newMemDraws()
	sc := &fakeScraper{gate: make(chan struct{}), scrapeF: scrapesOK(t, "fdj")}
	r := New(nil, st, sc)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctx, drawDate, Options{AllowScrape: true})
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return sc.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		d   *model.Draw
		err error
	}
	second := make(chan result, 1)
	go func() {
		d, err := r.Resolve(context.Background(), drawDate, Options{AllowScrape: true})
		second <- result{d, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(sc.gate)

	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "fdj", res.d.Provenance.SourceID)
	assert.Equal(t, int32(1), sc.calls.Load())

	d, err := st.GetByDate(context.Background(), drawDate)
	require.NoError(t, err)
	assert.NotNil(t, d)
}

func TestResolve_ZeroDate(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, &fakeScraper{}).Resolve(context.Background(), time.Time{}, Options{})
	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, model.ValidationMissingDate, ve.Kind)
}

func TestLatest_SortsAndPages(t *testing.T) {
	t.Parallel()

	st := newMemDraws()
	for _, s := range []string{"2025-08-01", "2025-08-08", "2025-08-05"} {
		d, _ := model.ParseDate(s)
		st.byDate[s] = newDraw(t, d, "fdj")
	}
	r := New(nil, st, &fakeScraper{})

	draws, err := r.Latest(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, draws, 3)
	assert.Equal(t, "2025-08-08", draws[0].DateKey())
	assert.Equal(t, "2025-08-01", draws[2].DateKey())

	page, total, err := r.History(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "2025-08-05", page[0].DateKey())

	one, err := r.LatestOne(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "2025-08-08", one.DateKey())
}

func TestLatestOne_Empty(t *testing.T) {
	t.Parallel()

	sc := &fakeScraper{scrapeF: scrapesOK(t, "fdj")}
	sunday := time.Date(2025, 8, 10, 12, 0, 0, 0, time.UTC)
	r := New(nil, newMemDraws(), sc).WithClock(func() time.Time { return sunday })

	_, err := r.LatestOne(context.Background(), false)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "resolve latest: no draw found", err.Error())

	d, err := r.LatestOne(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "2025-08-08", d.DateKey())
}

func TestLatest_NoStore(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, &fakeScraper{}).Latest(context.Background(), 10, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no store configured")
}
