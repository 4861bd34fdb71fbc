package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Fetcher retrieves raw payloads from external sources. Implementations
// retry transport failures only and never report to the source registry.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts Options) (*RawResponse, error)
}

// Options configures a single Fetch call. Zero values use the fetcher's
// defaults.
type Options struct {
	Timeout time.Duration
	Headers map[string]string
	Method  string
}

// RawResponse is a successful (2xx) response with its body decoded to UTF-8.
type RawResponse struct {
	URL         string
	Status      int
	Header      http.Header
	ContentType string
	Body        []byte
	Truncated   bool
	Attempts    int
	Latency     time.Duration
	FetchedAt   time.Time
}

// Text returns the body as a string.
func (r *RawResponse) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *RawResponse) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return eris.Wrapf(err, "fetcher: decode json from %s", r.URL)
	}
	return nil
}
