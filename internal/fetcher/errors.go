package fetcher

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// NetworkError is a transport failure: DNS, refused or reset connection,
// broken TLS, truncated body.
type NetworkError struct {
	URL      string
	Err      error
	Attempts int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("fetch %s: network error after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError means an attempt exceeded its per-attempt deadline.
type TimeoutError struct {
	URL      string
	Timeout  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("fetch %s: timed out after %s (%d attempt(s))", e.URL, e.Timeout, e.Attempts)
}

// HTTPError is a non-2xx response. It is never retried. Header is kept so
// callers can recognise anti-bot responses.
type HTTPError struct {
	URL      string
	Status   int
	Header   http.Header
	Attempts int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch %s: http %d", e.URL, e.Status)
}

// retryable reports whether err is a transport failure.
func retryable(err error) bool {
	var ne *NetworkError
	var te *TimeoutError
	return errors.As(err, &ne) || errors.As(err, &te)
}

func setAttempts(err error, n int) {
	var ne *NetworkError
	var te *TimeoutError
	var he *HTTPError
	switch {
	case errors.As(err, &ne):
		ne.Attempts = n
	case errors.As(err, &te):
		te.Attempts = n
	case errors.As(err, &he):
		he.Attempts = n
	}
}
