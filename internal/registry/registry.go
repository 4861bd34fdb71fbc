// Package registry tracks the configured draw sources and their health.
package registry

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/drawsync/internal/model"
)

const (
	// UsableThreshold is the availability a source must exceed to be tried.
	UsableThreshold = 0.5
	// RecentFailurePenalty is subtracted from availability while the last
	// failure is within model.RecentFailureWindow.
	RecentFailurePenalty = 0.2
)

// Outcome is the result of one attempt against a source.
type Outcome struct {
	Success bool
	Latency time.Duration
	Err     error
}

type entry struct {
	mu             sync.Mutex
	desc           model.SourceDescriptor
	metrics        model.HealthMetrics
	disabledReason string
}

func (e *entry) usable() bool {
	return e.desc.IsActive && e.metrics.AvailabilityScore > UsableThreshold
}

// SourceRegistry holds source descriptors and their health metrics. Each
// source has its own lock so concurrent outcomes for different sources do
// not contend.
type SourceRegistry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// New returns an empty registry.
func New() *SourceRegistry {
	return &SourceRegistry{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (r *SourceRegistry) WithClock(now func() time.Time) *SourceRegistry {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
	return r
}

// Register adds desc or replaces the descriptor with the same id. Existing
// health metrics survive a replacement.
func (r *SourceRegistry) Register(desc model.SourceDescriptor) error {
	if err := desc.Validate(); err != nil {
		return eris.Wrap(err, "registry: register")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[desc.ID]; ok {
		e.mu.Lock()
		e.desc = desc
		e.mu.Unlock()
		return nil
	}
	r.entries[desc.ID] = &entry{desc: desc, metrics: model.NewHealthMetrics()}
	return nil
}

// RegisterAll registers every descriptor, stopping at the first invalid one.
func (r *SourceRegistry) RegisterAll(descs []model.SourceDescriptor) error {
	for _, d := range descs {
		if err := r.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func (r *SourceRegistry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, eris.Errorf("registry: unknown source %q", id)
	}
	return e, nil
}

// Get returns the descriptor and metrics for id.
func (r *SourceRegistry) Get(id string) (model.SourceDescriptor, model.HealthMetrics, bool) {
	e, err := r.lookup(id)
	if err != nil {
		return model.SourceDescriptor{}, model.HealthMetrics{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.desc, e.metrics, true
}

// Len returns the number of registered sources.
func (r *SourceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

type ranked struct {
	desc  model.SourceDescriptor
	score float64
}

func compareRanked(a, b ranked) int {
	if c := cmp.Compare(b.desc.Kind.Priority(), a.desc.Kind.Priority()); c != 0 {
		return c
	}
	if c := cmp.Compare(b.score, a.score); c != 0 {
		return c
	}
	return cmp.Compare(a.desc.ID, b.desc.ID)
}

// ActiveSourcesByPriority returns the active sources whose availability is
// above UsableThreshold, ordered by kind (official, mirror, api), then by
// availability descending, then by id.
func (r *SourceRegistry) ActiveSourcesByPriority() []model.SourceDescriptor {
	r.mu.RLock()
	candidates := make([]ranked, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		if e.usable() {
			candidates = append(candidates, ranked{desc: e.desc, score: e.metrics.AvailabilityScore})
		}
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	slices.SortFunc(candidates, compareRanked)

	out := make([]model.SourceDescriptor, len(candidates))
	for i, c := range candidates {
		out[i] = c.desc
	}
	return out
}

// RecordOutcome updates the metrics of sourceID and recomputes its
// availability as successes over total requests, minus RecentFailurePenalty
// while the last failure is recent, floored at 0.
func (r *SourceRegistry) RecordOutcome(sourceID string, o Outcome) error {
	e, err := r.lookup(sourceID)
	if err != nil {
		return err
	}
	now := r.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	m := &e.metrics
	m.TotalRequests++
	if o.Success {
		m.SuccessCount++
		ms := float64(o.Latency) / float64(time.Millisecond)
		m.AverageLatencyMs += (ms - m.AverageLatencyMs) / float64(m.SuccessCount)
		m.LastSuccessAt = &now
	} else {
		m.FailureCount++
		m.LastFailureAt = &now
		if o.Err != nil {
			m.LastErrorMessage = o.Err.Error()
		}
	}
	m.AvailabilityScore = availability(*m, now)

	if !o.Success && m.AvailabilityScore <= UsableThreshold {
		zap.L().Warn("registry: source below availability threshold",
			zap.String("source", sourceID),
			zap.Float64("availability", m.AvailabilityScore),
			zap.Int("failures", m.FailureCount),
		)
	}
	return nil
}

func availability(m model.HealthMetrics, now time.Time) float64 {
	if m.TotalRequests == 0 {
		return 1.0
	}
	score := float64(m.SuccessCount) / float64(m.TotalRequests)
	if m.HasRecentFailure(now) {
		score -= RecentFailurePenalty
	}
	return max(score, 0)
}

// Deactivate takes a source out of rotation without removing it.
func (r *SourceRegistry) Deactivate(id, reason string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.desc.IsActive = false
	e.disabledReason = reason
	e.mu.Unlock()

	zap.L().Info("registry: source deactivated", zap.String("source", id), zap.String("reason", reason))
	return nil
}

// Activate puts a source back into rotation.
func (r *SourceRegistry) Activate(id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.desc.IsActive = true
	e.disabledReason = ""
	e.mu.Unlock()
	return nil
}

// ResetMetrics clears the health history of a source, restoring full
// availability.
func (r *SourceRegistry) ResetMetrics(id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.metrics = model.NewHealthMetrics()
	e.mu.Unlock()
	return nil
}

// Snapshot returns every source with its metrics and derived status, in
// priority order.
func (r *SourceRegistry) Snapshot() []model.SourceHealth {
	now := r.clock()

	r.mu.RLock()
	out := make([]model.SourceHealth, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		out = append(out, model.SourceHealth{
			Source:         e.desc,
			Metrics:        e.metrics,
			Status:         e.metrics.Status(now),
			Usable:         e.usable(),
			DisabledReason: e.disabledReason,
		})
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b model.SourceHealth) int {
		return compareRanked(
			ranked{desc: a.Source, score: a.Metrics.AvailabilityScore},
			ranked{desc: b.Source, score: b.Metrics.AvailabilityScore},
		)
	})
	return out
}

func (r *SourceRegistry) clock() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now()
}
