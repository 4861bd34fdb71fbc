// Package scrape resolves a draw from external sources, trying them one at
// a time in priority order.
package scrape

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/drawsync/internal/fetcher"
	"github.com/sells-group/drawsync/internal/model"
	"github.com/sells-group/drawsync/internal/registry"
)

// Sources supplies candidate sources and receives attempt outcomes.
type Sources interface {
	ActiveSourcesByPriority() []model.SourceDescriptor
	RecordOutcome(sourceID string, o registry.Outcome) error
}

// Limiter admits or denies a request to a source without blocking.
type Limiter interface {
	CanRequest(sourceID string, limit model.RateLimit) bool
	Record(sourceID string, limit model.RateLimit)
}

// Parser extracts a draw from a raw payload.
type Parser interface {
	Parse(raw []byte, desc model.SourceDescriptor, targetDate time.Time) (*model.Draw, error)
}

// Result is a successful scrape and the failures that preceded it.
type Result struct {
	Draw     *model.Draw
	SourceID string
	Attempts []SourceAttempt
	Skipped  []string
}

// Orchestrator tries sources sequentially until one yields a valid draw.
type Orchestrator struct {
	sources Sources
	limiter Limiter
	fetcher fetcher.Fetcher
	parser  Parser
	timeout time.Duration
	now     func() time.Time
}

// NewOrchestrator wires the collaborators of a scrape.
func NewOrchestrator(sources Sources, limiter Limiter, f fetcher.Fetcher, p Parser) *Orchestrator {
	return &Orchestrator{
		sources: sources,
		limiter: limiter,
		fetcher: f,
		parser:  p,
		now:     time.Now,
	}
}

// WithTimeout sets the per-attempt fetch timeout. Zero keeps the fetcher's
// default.
func (o *Orchestrator) WithTimeout(d time.Duration) *Orchestrator {
	o.timeout = d
	return o
}

// Scrape resolves the draw of date from the active sources. A source denied
// by the limiter is skipped without counting as a failure. Every attempted
// source has its outcome recorded. If ctx is cancelled the loop stops and
// the in-flight attempt is not recorded.
func (o *Orchestrator) Scrape(ctx context.Context, date time.Time) (*Result, error) {
	date = model.NormalizeDate(date)
	day := model.DateKey(date)

	candidates := o.sources.ActiveSourcesByPriority()
	if len(candidates) == 0 {
		return nil, &ResolutionError{Kind: NoSourcesAvailable, Date: date}
	}

	var (
		attempts []SourceAttempt
		skipped  []string
	)
	for _, src := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrapf(err, "scrape: %s cancelled", day)
		}

		if !o.limiter.CanRequest(src.ID, src.RateLimit) {
			zap.L().Debug("scrape: source rate limited, skipping",
				zap.String("source", src.ID),
				zap.String("date", day),
			)
			skipped = append(skipped, src.ID)
			continue
		}
		o.limiter.Record(src.ID, src.RateLimit)

		zap.L().Debug("scrape: trying source",
			zap.String("source", src.ID),
			zap.String("kind", string(src.Kind)),
			zap.String("date", day),
		)

		start := o.now()
		draw, target, latency, err := o.try(ctx, src, date)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrapf(ctx.Err(), "scrape: %s cancelled during %s", day, src.ID)
			}
			o.record(src.ID, registry.Outcome{Success: false, Err: err})
			attempts = append(attempts, SourceAttempt{
				SourceID: src.ID,
				URL:      target,
				Err:      err,
				Duration: o.now().Sub(start),
			})
			zap.L().Warn("scrape: source failed, trying next",
				zap.String("source", src.ID),
				zap.String("date", day),
				zap.Error(err),
			)
			continue
		}

		o.record(src.ID, registry.Outcome{Success: true, Latency: latency})
		zap.L().Info("scrape: draw resolved",
			zap.String("source", src.ID),
			zap.String("date", day),
			zap.String("draw_id", draw.ID),
			zap.Int("failed_before", len(attempts)),
		)
		return &Result{Draw: draw, SourceID: src.ID, Attempts: attempts, Skipped: skipped}, nil
	}

	return nil, &ResolutionError{
		Kind:     AllSourcesFailed,
		Date:     date,
		Attempts: attempts,
		Skipped:  skipped,
	}
}

func (o *Orchestrator) try(ctx context.Context, src model.SourceDescriptor, date time.Time) (*model.Draw, string, time.Duration, error) {
	target, err := src.BuildURL(date)
	if err != nil {
		return nil, "", 0, err
	}

	resp, err := o.fetcher.Fetch(ctx, target, fetcher.Options{
		Timeout: o.timeout,
		Headers: src.Headers,
	})
	if err != nil {
		var he *fetcher.HTTPError
		if src.Kind != model.SourceAPI && errors.As(err, &he) {
			if blocked, bt := DetectBlock(he.Status, he.Header, nil); blocked {
				return nil, target, 0, &BlockedError{SourceID: src.ID, Type: bt, Err: err}
			}
		}
		return nil, target, 0, err
	}

	draw, err := o.parser.Parse(resp.Body, src, date)
	if err != nil {
		if src.Kind != model.SourceAPI {
			if blocked, bt := DetectBlock(resp.Status, resp.Header, resp.Body); blocked {
				return nil, target, resp.Latency, &BlockedError{SourceID: src.ID, Type: bt, Err: err}
			}
		}
		return nil, target, resp.Latency, err
	}
	if resp.Truncated {
		draw = draw.WithProvenance(withWarning(draw.Provenance, "response body truncated"))
	}
	return draw, target, resp.Latency, nil
}

func withWarning(p model.Provenance, w string) model.Provenance {
	p.ParseWarnings = append(append([]string(nil), p.ParseWarnings...), w)
	return p
}

func (o *Orchestrator) record(sourceID string, outcome registry.Outcome) {
	if err := o.sources.RecordOutcome(sourceID, outcome); err != nil {
		zap.L().Warn("scrape: record outcome", zap.String("source", sourceID), zap.Error(err))
	}
}

// IsResolutionKind reports whether err is a ResolutionError of kind k.
func IsResolutionKind(err error, k ResolutionKind) bool {
	var re *ResolutionError
	return errors.As(err, &re) && re.Kind == k
}
