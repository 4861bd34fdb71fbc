package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/drawsync/internal/model"
	"github.com/sells-group/drawsync/internal/scrape"
)

// EuroMillions is drawn on Tuesdays and Fridays.
var drawDays = map[time.Weekday]bool{time.Tuesday: true, time.Friday: true}

// IsDrawDay reports whether a draw takes place on t's calendar day.
func IsDrawDay(t time.Time) bool {
	return drawDays[t.Weekday()]
}

// PreviousDrawDay returns the most recent draw day on or before t.
func PreviousDrawDay(t time.Time) time.Time {
	d := model.NormalizeDate(t)
	for !IsDrawDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// DrawDays lists the draw days in [from, to], oldest first.
func DrawDays(from, to time.Time) []time.Time {
	from, to = model.NormalizeDate(from), model.NormalizeDate(to)
	var out []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if IsDrawDay(d) {
			out = append(out, d)
		}
	}
	return out
}

// BackfillResult is the outcome for one date.
type BackfillResult struct {
	Date   string       `json:"date"`
	DrawID string       `json:"drawId,omitempty"`
	Method model.Method `json:"method,omitempty"`
	Code   string       `json:"code,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// BackfillReport summarises a backfill.
type BackfillReport struct {
	Requested int              `json:"requested"`
	Resolved  int              `json:"resolved"`
	Failed    int              `json:"failed"`
	Results   []BackfillResult `json:"results"`
}

// Backfill resolves every draw day in [from, to] with at most concurrency
// resolutions in flight. Per-date failures are reported, not returned; only
// cancellation aborts the run.
func (r *Resolver) Backfill(ctx context.Context, from, to time.Time, concurrency int) (*BackfillReport, error) {
	if to.Before(from) {
		return nil, eris.Errorf("resolver: backfill range ends before it starts (%s > %s)", model.DateKey(from), model.DateKey(to))
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	days := DrawDays(from, to)
	results := make([]BackfillResult, len(days))

	var mu sync.Mutex
	report := &BackfillReport{Requested: len(days)}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, d := range days {
		g.Go(func() error {
			res := BackfillResult{Date: model.DateKey(d)}
			draw, err := r.Resolve(gCtx, d, Options{AllowScrape: true})
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				res.Error = err.Error()
				res.Code = "INTERNAL"
				if re, ok := scrape.AsResolutionError(err); ok {
					res.Code = re.Code()
				}
				zap.L().Warn("resolver: backfill date failed", zap.String("date", res.Date), zap.Error(err))
			} else {
				res.DrawID = draw.ID
				res.Method = draw.Provenance.Method
			}

			mu.Lock()
			results[i] = res
			if err != nil {
				report.Failed++
			} else {
				report.Resolved++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "resolver: backfill cancelled")
	}

	report.Results = results
	zap.L().Info("resolver: backfill complete",
		zap.Int("requested", report.Requested),
		zap.Int("resolved", report.Resolved),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}
