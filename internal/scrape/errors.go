package scrape

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sells-group/drawsync/internal/fetcher"
	"github.com/sells-group/drawsync/internal/model"
	"github.com/sells-group/drawsync/internal/parse"
)

// ResolutionKind classifies why a draw could not be resolved.
type ResolutionKind string

const (
	NotFound           ResolutionKind = "NotFound"
	NoSourcesAvailable ResolutionKind = "NoSourcesAvailable"
	AllSourcesFailed   ResolutionKind = "AllSourcesFailed"
)

// Code is the machine-readable error code exposed to API callers.
func (k ResolutionKind) Code() string {
	switch k {
	case NotFound:
		return "NOT_FOUND"
	case NoSourcesAvailable:
		return "NO_SOURCES_AVAILABLE"
	case AllSourcesFailed:
		return "ALL_SOURCES_FAILED"
	default:
		return "INTERNAL"
	}
}

// HTTPStatus maps the kind to a response status.
func (k ResolutionKind) HTTPStatus() int {
	switch k {
	case NotFound:
		return http.StatusNotFound
	case NoSourcesAvailable, AllSourcesFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// SourceAttempt records one failed try against a source.
type SourceAttempt struct {
	SourceID string
	URL      string
	Err      error
	Duration time.Duration
}

// Reason is a short category for the failure.
func (a SourceAttempt) Reason() string {
	var (
		he *fetcher.HTTPError
		te *fetcher.TimeoutError
		ne *fetcher.NetworkError
		be *BlockedError
		pe *parse.ParseError
	)
	switch {
	case errors.As(a.Err, &be):
		return "blocked"
	case errors.As(a.Err, &he):
		return fmt.Sprintf("http_%d", he.Status)
	case errors.As(a.Err, &te):
		return "timeout"
	case errors.As(a.Err, &ne):
		return "network"
	case errors.As(a.Err, &pe):
		return "parse_" + strings.ToLower(string(pe.Kind))
	default:
		return "error"
	}
}

// MarshalJSON renders the attempt for API error bodies.
func (a SourceAttempt) MarshalJSON() ([]byte, error) {
	msg := ""
	if a.Err != nil {
		msg = a.Err.Error()
	}
	return json.Marshal(struct {
		SourceID   string `json:"sourceId"`
		URL        string `json:"url,omitempty"`
		Reason     string `json:"reason"`
		Error      string `json:"error"`
		DurationMs int64  `json:"durationMs"`
	}{a.SourceID, a.URL, a.Reason(), msg, a.Duration.Milliseconds()})
}

// ResolutionError is fatal for a whole resolution. For AllSourcesFailed it
// lists every per-source failure; sources skipped for rate limiting are
// listed separately and are not failures.
type ResolutionError struct {
	Kind     ResolutionKind
	Date     time.Time
	Attempts []SourceAttempt
	Skipped  []string
}

func (e *ResolutionError) Error() string {
	day := "latest"
	if !e.Date.IsZero() {
		day = model.DateKey(e.Date)
	}
	switch e.Kind {
	case NotFound:
		return fmt.Sprintf("resolve %s: no draw found", day)
	case NoSourcesAvailable:
		return fmt.Sprintf("resolve %s: no sources available", day)
	}

	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.SourceID, a.Err))
	}
	msg := fmt.Sprintf("resolve %s: all sources failed (%d attempted", day, len(e.Attempts))
	if len(e.Skipped) > 0 {
		msg += fmt.Sprintf(", %d rate limited", len(e.Skipped))
	}
	msg += ")"
	if len(parts) > 0 {
		msg += ": " + strings.Join(parts, "; ")
	}
	return msg
}

// Code returns the machine-readable code of the error kind.
func (e *ResolutionError) Code() string { return e.Kind.Code() }

// HTTPStatus returns the response status of the error kind.
func (e *ResolutionError) HTTPStatus() int { return e.Kind.HTTPStatus() }

// AsResolutionError extracts a ResolutionError from err's chain.
func AsResolutionError(err error) (*ResolutionError, bool) {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
