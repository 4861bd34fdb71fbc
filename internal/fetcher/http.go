package fetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/drawsync/internal/resilience"
)

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 2 << 20

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent string
	// Timeout is the per-attempt deadline. Default: 10s.
	Timeout time.Duration
	// MaxRetries is the total number of attempts on transport failure.
	// Default: 3.
	MaxRetries int
	// Retry supplies the backoff schedule. MaxAttempts and ShouldRetry are
	// overridden by the fetcher.
	Retry resilience.RetryConfig
	// HostRate is the default per-host politeness rate. Default: 20 rps.
	HostRate rate.Limit
	// RateLimiters overrides the politeness limiter for specific hosts.
	RateLimiters map[string]*AdaptiveLimiter
	// Transport replaces the default HTTP transport. Mostly for tests.
	Transport http.RoundTripper
}

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = min(a.currentRate*1.2, a.maxRate)
	a.limiter.SetLimit(a.currentRate)
}

// OnRateLimit halves the rate after a 429 response.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentRate = max(a.currentRate*0.5, a.minRate)
	a.limiter.SetLimit(a.currentRate)
	zap.L().Warn("fetcher: reducing host rate after 429",
		zap.Float64("new_rate", float64(a.currentRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HTTPFetcher implements Fetcher using net/http with per-attempt deadlines,
// transport-level retry and per-host politeness limiting.
type HTTPFetcher struct {
	client *http.Client
	opts   HTTPOptions

	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
}

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "drawsync/1.0"
	}
	if opts.HostRate <= 0 {
		opts.HostRate = 20
	}
	if opts.Retry.InitialBackoff == 0 && opts.Retry.MaxBackoff == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}

	limiters := make(map[string]*AdaptiveLimiter, len(opts.RateLimiters))
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}

	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &HTTPFetcher{
		client:   &http.Client{Transport: transport},
		opts:     opts,
		limiters: limiters,
	}
}

func (f *HTTPFetcher) limiterFor(host string) *AdaptiveLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		burst := max(int(f.opts.HostRate), 1)
		lim = NewAdaptiveLimiter(f.opts.HostRate, burst)
		f.limiters[host] = lim
	}
	return lim
}

// Fetch retrieves rawURL. Transport failures (NetworkError, TimeoutError)
// are retried up to MaxRetries attempts with exponential backoff. A non-2xx
// response returns HTTPError immediately. Cancellation of ctx aborts without
// further attempts.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, opts Options) (*RawResponse, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &NetworkError{URL: rawURL, Err: eris.Errorf("invalid url %q", rawURL), Attempts: 0}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = f.opts.Timeout
	}
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}

	lim := f.limiterFor(u.Host)
	start := time.Now()

	cfg := f.opts.Retry
	cfg.MaxAttempts = f.opts.MaxRetries
	cfg.ShouldRetry = retryable
	cfg.OnRetry = resilience.RetryLogger("fetcher", rawURL)

	attempts := 0
	resp, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*RawResponse, error) {
		attempts++
		return f.attempt(ctx, lim, u.String(), opts)
	})
	if err != nil {
		setAttempts(err, attempts)
		return nil, err
	}

	lim.OnSuccess()
	resp.Attempts = attempts
	resp.Latency = time.Since(start)
	return resp, nil
}

func (f *HTTPFetcher) attempt(ctx context.Context, lim *AdaptiveLimiter, target string, opts Options) (*RawResponse, error) {
	if err := lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetcher: rate limiter wait")
		}
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	actx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, opts.Method, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	zap.L().Debug("fetcher: request", zap.String("url", target), zap.String("method", opts.Method))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, f.classify(ctx, actx, target, opts.Timeout, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusTooManyRequests {
			lim.OnRateLimit()
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{URL: target, Status: resp.StatusCode, Header: resp.Header}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, f.classify(ctx, actx, target, opts.Timeout, err)
	}
	truncated := len(body) > MaxBodyBytes
	if truncated {
		body = body[:MaxBodyBytes]
		zap.L().Warn("fetcher: response body truncated",
			zap.String("url", target),
			zap.Int("max_bytes", MaxBodyBytes),
		)
	}

	ct := resp.Header.Get("Content-Type")
	return &RawResponse{
		URL:         target,
		Status:      resp.StatusCode,
		Header:      resp.Header,
		ContentType: ct,
		Body:        decodeBody(body, ct),
		Truncated:   truncated,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

// classify maps a transport error to the fetcher taxonomy. Parent
// cancellation is returned as-is so it is never retried.
func (f *HTTPFetcher) classify(parent, attemptCtx context.Context, target string, timeout time.Duration, err error) error {
	if parent.Err() != nil {
		return eris.Wrapf(parent.Err(), "fetcher: %s", target)
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return &TimeoutError{URL: target, Timeout: timeout}
	}
	return &NetworkError{URL: target, Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
