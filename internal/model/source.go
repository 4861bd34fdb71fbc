package model

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// SourceKind is the category of an external draw source.
type SourceKind string

const (
	SourceOfficial SourceKind = "official"
	SourceMirror   SourceKind = "mirror"
	SourceAPI      SourceKind = "api"
)

// Priority ranks kinds for source selection: official > mirror > api.
func (k SourceKind) Priority() int {
	switch k {
	case SourceOfficial:
		return 3
	case SourceMirror:
		return 2
	case SourceAPI:
		return 1
	default:
		return 0
	}
}

// Valid reports whether k is a known kind.
func (k SourceKind) Valid() bool {
	return k.Priority() > 0
}

// Selectors configure HTML extraction. Either Balls (7 tokens, 5 numbers then
// 2 stars) or Numbers and Stars must be set for HTML sources.
type Selectors struct {
	Balls         string `yaml:"balls" json:"balls,omitempty"`
	Numbers       string `yaml:"numbers" json:"numbers,omitempty"`
	Stars         string `yaml:"stars" json:"stars,omitempty"`
	BreakdownRows string `yaml:"breakdown_rows" json:"breakdownRows,omitempty"`
}

// RateLimit caps requests to a source within a rolling window.
type RateLimit struct {
	MaxRequests int           `yaml:"max_requests" json:"maxRequests"`
	PerWindow   time.Duration `yaml:"per_window" json:"perWindow"`
}

// DefaultRateLimit allows 10 requests per minute.
var DefaultRateLimit = RateLimit{MaxRequests: 10, PerWindow: time.Minute}

// Unlimited reports whether the limit is disabled.
func (r RateLimit) Unlimited() bool {
	return r.MaxRequests <= 0 || r.PerWindow <= 0
}

type rateLimitJSON struct {
	MaxRequests int    `json:"maxRequests"`
	PerWindow   string `json:"perWindow"`
}

// MarshalJSON renders PerWindow as a duration string ("1m0s").
func (r RateLimit) MarshalJSON() ([]byte, error) {
	return json.Marshal(rateLimitJSON{MaxRequests: r.MaxRequests, PerWindow: r.PerWindow.String()})
}

// UnmarshalJSON accepts PerWindow as a duration string.
func (r *RateLimit) UnmarshalJSON(data []byte) error {
	var raw rateLimitJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.MaxRequests = raw.MaxRequests
	r.PerWindow = 0
	if raw.PerWindow != "" {
		d, err := time.ParseDuration(raw.PerWindow)
		if err != nil {
			return eris.Wrapf(err, "rate limit: invalid perWindow %q", raw.PerWindow)
		}
		r.PerWindow = d
	}
	return nil
}

// SourceDescriptor is the static configuration of one external source.
type SourceDescriptor struct {
	ID               string            `yaml:"id" json:"id"`
	DisplayName      string            `yaml:"display_name" json:"displayName"`
	BaseURL          string            `yaml:"base_url" json:"baseUrl"`
	Kind             SourceKind        `yaml:"kind" json:"kind"`
	IsActive         bool              `yaml:"active" json:"isActive"`
	Selectors        Selectors         `yaml:"selectors" json:"selectors"`
	EndpointTemplate string            `yaml:"endpoint_template" json:"endpointTemplate,omitempty"`
	Headers          map[string]string `yaml:"headers" json:"headers,omitempty"`
	RateLimit        RateLimit         `yaml:"rate_limit" json:"rateLimit"`
	Currency         string            `yaml:"currency" json:"currency,omitempty"`
}

// Validate checks the fields every source must carry.
func (s SourceDescriptor) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return eris.New("source: id is required")
	}
	if strings.TrimSpace(s.DisplayName) == "" {
		return eris.Errorf("source %s: display name is required", s.ID)
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return eris.Errorf("source %s: invalid base url %q", s.ID, s.BaseURL)
	}
	if !s.Kind.Valid() {
		return eris.Errorf("source %s: kind must be one of official, mirror, api (got %q)", s.ID, s.Kind)
	}
	return nil
}

var weekdays = [...]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// BuildURL resolves EndpointTemplate for date against BaseURL. The template
// may use {date} (YYYY-MM-DD), {yyyy}, {mm}, {dd} and {weekday} (mon..sun).
// Without any date placeholder the date is passed as a query parameter.
func (s SourceDescriptor) BuildURL(date time.Time) (string, error) {
	day := NormalizeDate(date)
	ymd := day.Format(DateLayout)

	endpoint := strings.NewReplacer(
		"{date}", ymd,
		"{yyyy}", day.Format("2006"),
		"{mm}", day.Format("01"),
		"{dd}", day.Format("02"),
		"{weekday}", weekdays[day.Weekday()],
	).Replace(s.EndpointTemplate)

	target := s.BaseURL
	if endpoint != "" {
		target = strings.TrimRight(target, "/") + "/" + strings.TrimLeft(endpoint, "/")
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", eris.Wrapf(err, "source %s: build url", s.ID)
	}
	if endpoint == s.EndpointTemplate {
		q := u.Query()
		q.Set("date", ymd)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// HealthMetrics tracks the observed reliability of a source.
type HealthMetrics struct {
	TotalRequests     int        `json:"totalRequests"`
	SuccessCount      int        `json:"successCount"`
	FailureCount      int        `json:"failureCount"`
	AverageLatencyMs  float64    `json:"averageLatencyMs"`
	LastSuccessAt     *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt     *time.Time `json:"lastFailureAt,omitempty"`
	LastErrorMessage  string     `json:"lastErrorMessage,omitempty"`
	AvailabilityScore float64    `json:"availabilityScore"`
}

// NewHealthMetrics returns metrics for a source that has not been tried yet.
func NewHealthMetrics() HealthMetrics {
	return HealthMetrics{AvailabilityScore: 1.0}
}

// RecentFailureWindow is how long a failure keeps penalizing availability.
const RecentFailureWindow = time.Hour

// HasRecentFailure reports whether the last failure is within the window.
func (m HealthMetrics) HasRecentFailure(now time.Time) bool {
	return m.LastFailureAt != nil && now.Sub(*m.LastFailureAt) < RecentFailureWindow
}

// HealthStatus is a coarse label for a source's condition.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// Status derives a HealthStatus from availability and recent failures.
func (m HealthMetrics) Status(now time.Time) HealthStatus {
	switch {
	case m.AvailabilityScore < 0.3:
		return HealthCritical
	case m.AvailabilityScore < 0.7:
		return HealthDegraded
	case m.HasRecentFailure(now):
		return HealthWarning
	default:
		return HealthHealthy
	}
}

// SuccessRate is successes over total requests, zero when untried.
func (m HealthMetrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(m.TotalRequests)
}

// SourceHealth is a point-in-time view of a source for reporting.
type SourceHealth struct {
	Source         SourceDescriptor `json:"source"`
	Metrics        HealthMetrics    `json:"metrics"`
	Status         HealthStatus     `json:"status"`
	Usable         bool             `json:"usable"`
	DisabledReason string           `json:"disabledReason,omitempty"`
}
