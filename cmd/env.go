package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/drawsync/internal/cache"
	"github.com/sells-group/drawsync/internal/config"
	"github.com/sells-group/drawsync/internal/fetcher"
	"github.com/sells-group/drawsync/internal/parse"
	"github.com/sells-group/drawsync/internal/registry"
	"github.com/sells-group/drawsync/internal/resilience"
	"github.com/sells-group/drawsync/internal/resolver"
	"github.com/sells-group/drawsync/internal/scrape"
	"github.com/sells-group/drawsync/internal/store"
)

// appEnv holds everything the commands and the API need to resolve draws.
type appEnv struct {
	Store    store.Store // may be nil
	Registry *registry.SourceRegistry
	Limiter  *resilience.RequestLimiter
	Cache    *cache.DrawCache
	Resolver *resolver.Resolver
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, c.Store.Driver, c.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: c.Store.MaxConns,
		MinConns: c.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// newEnv wires the resolution stack around an already opened store, which
// may be nil.
func newEnv(c *config.Config, st store.Store, f fetcher.Fetcher) (*appEnv, error) {
	reg, err := registry.Load(c.Sources.File)
	if err != nil {
		return nil, eris.Wrap(err, "load sources")
	}

	if f == nil {
		f = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  c.Fetch.UserAgent,
			Timeout:    c.Fetch.Timeout(),
			MaxRetries: c.Fetch.MaxRetries,
			Retry:      c.Fetch.Retry(),
			HostRate:   rate.Limit(c.Fetch.HostRate),
		})
	}

	limiter := resilience.NewRequestLimiter()
	orch := scrape.NewOrchestrator(reg, limiter, f, parse.New()).WithTimeout(c.Fetch.Timeout())
	dc := cache.New(c.Cache.TTL())

	var draws resolver.Draws
	if st != nil {
		draws = st
	}
	res := resolver.New(dc, draws, orch).WithCoalescing(c.Resolver.Coalesce)

	zap.L().Debug("environment ready",
		zap.Int("sources", reg.Len()),
		zap.Bool("store", st != nil),
		zap.Duration("cache_ttl", dc.TTL()),
	)
	return &appEnv{Store: st, Registry: reg, Limiter: limiter, Cache: dc, Resolver: res}, nil
}

// initEnv opens the configured store and wires the resolution stack.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env, err := newEnv(cfg, st, nil)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return env, nil
}
