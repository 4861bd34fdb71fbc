package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/drawsync/internal/cache"
	"github.com/sells-group/drawsync/internal/config"
	"github.com/sells-group/drawsync/internal/model"
	"github.com/sells-group/drawsync/internal/monitoring"
	"github.com/sells-group/drawsync/internal/resolver"
	"github.com/sells-group/drawsync/internal/scrape"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the draw API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		go purgeCache(ctx, env.Cache, cfg.Cache.TTL())

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(newCollector(env), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(env, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSecs)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// purgeCache drops expired cache entries every ttl until ctx is done.
func purgeCache(ctx context.Context, c *cache.DrawCache, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Purge(); n > 0 {
				zap.L().Debug("cache: purged expired draws", zap.Int("removed", n))
			}
		}
	}
}

func newCollector(env *appEnv) *monitoring.Collector {
	var runs monitoring.RunCounter
	if env.Store != nil {
		runs = env.Store
	}
	return monitoring.NewCollector(env.Registry, runs, env.Cache)
}

// buildRouter mounts the draw API.
func buildRouter(env *appEnv, c *config.Config) http.Handler {
	h := &handlers{env: env, collector: newCollector(env), lookback: c.Monitoring.LookbackWindowHours, now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if c.Server.RequestTimeoutS > 0 {
		r.Use(middleware.Timeout(time.Duration(c.Server.RequestTimeoutS) * time.Second))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: c.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Get("/metrics", h.metrics)

	r.Route("/draws", func(r chi.Router) {
		r.Get("/", h.listDraws)
		r.Get("/latest", h.latestDraw)
		r.Get("/id/{id}", h.getDrawByID)
		r.Get("/{date}", h.getDraw)
		r.Get("/{date}/full", h.getDrawFull)
	})
	r.Post("/scrape/run", h.scrapeRun)

	r.Route("/sources", func(r chi.Router) {
		r.Get("/", h.listSources)
		r.Post("/{id}/reset", h.resetSource)
		r.Post("/{id}/activate", h.activateSource)
		r.Post("/{id}/deactivate", h.deactivateSource)
	})

	return r
}

type handlers struct {
	env       *appEnv
	collector *monitoring.Collector
	lookback  int
	now       func() time.Time
}

// apiError is the error body: {"error": {...}}.
type apiError struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	Attempts []scrape.SourceAttempt `json:"attempts,omitempty"`
	Skipped  []string               `json:"skipped,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func writeAPIError(w http.ResponseWriter, status int, e apiError) {
	writeJSON(w, status, map[string]apiError{"error": e})
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if re, ok := scrape.AsResolutionError(err); ok {
		writeAPIError(w, re.HTTPStatus(), apiError{
			Code:     re.Code(),
			Message:  re.Error(),
			Attempts: re.Attempts,
			Skipped:  re.Skipped,
		})
		return
	}
	var ve *model.ValidationError
	if errors.As(err, &ve) {
		writeAPIError(w, http.StatusBadRequest, apiError{Code: "INVALID_REQUEST", Message: ve.Error()})
		return
	}
	if r.Context().Err() != nil {
		writeAPIError(w, http.StatusServiceUnavailable, apiError{Code: "CANCELLED", Message: "request cancelled"})
		return
	}
	zap.L().Error("api: request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeAPIError(w, http.StatusInternalServerError, apiError{Code: "INTERNAL", Message: err.Error()})
}

func dateParam(w http.ResponseWriter, r *http.Request, raw string) (time.Time, bool) {
	d, err := model.ParseDate(raw)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, apiError{
			Code:    "INVALID_DATE",
			Message: fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", raw),
		})
		return time.Time{}, false
	}
	return d, true
}

// intQuery reads a non-negative integer query parameter.
func intQuery(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "sources": h.env.Registry.Len()}
	status := http.StatusOK
	if h.env.Store != nil {
		if err := h.env.Store.Ping(r.Context()); err != nil {
			body["status"] = "degraded"
			body["store"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

func (h *handlers) metrics(w http.ResponseWriter, r *http.Request) {
	snap, err := h.collector.Collect(r.Context(), h.lookback)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handlers) listDraws(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 10)
	if err == nil && limit == 0 {
		limit = 10
	}
	offset, err2 := intQuery(r, "offset", 0)
	if err = errors.Join(err, err2); err != nil {
		writeAPIError(w, http.StatusBadRequest, apiError{Code: "INVALID_REQUEST", Message: err.Error()})
		return
	}

	draws, total, err := h.env.Resolver.History(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"draws":  draws,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (h *handlers) latestDraw(w http.ResponseWriter, r *http.Request) {
	allowScrape := r.URL.Query().Get("scrape") == "true"
	d, err := h.env.Resolver.LatestOne(r.Context(), allowScrape)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) getDraw(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r, chi.URLParam(r, "date"))
	if !ok {
		return
	}
	d, err := h.env.Resolver.Resolve(r.Context(), date, resolver.Options{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) getDrawByID(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, apiError{Code: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	var d *model.Draw
	if h.env.Store != nil {
		if d, err = h.env.Store.GetByID(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
	}
	if d == nil {
		writeAPIError(w, http.StatusNotFound, apiError{Code: "NOT_FOUND", Message: fmt.Sprintf("no draw with id %q", id)})
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) getDrawFull(w http.ResponseWriter, r *http.Request) {
	date, ok := dateParam(w, r, chi.URLParam(r, "date"))
	if !ok {
		return
	}
	d, err := h.env.Resolver.Resolve(r.Context(), date, resolver.Options{AllowScrape: true})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"draw":      d,
		"breakdown": d.Breakdown,
	})
}

func (h *handlers) scrapeRun(w http.ResponseWriter, r *http.Request) {
	date := resolver.PreviousDrawDay(h.now())
	if raw := r.URL.Query().Get("date"); raw != "" {
		var ok bool
		if date, ok = dateParam(w, r, raw); !ok {
			return
		}
	}
	d, err := h.env.Resolver.Resolve(r.Context(), date, resolver.Options{ForceRefresh: true})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"draw":     d,
		"sourceId": d.Provenance.SourceID,
	})
}

func (h *handlers) listSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": h.env.Registry.Snapshot()})
}

// sourceAction runs fn against a known source and replies with its health.
func (h *handlers) sourceAction(w http.ResponseWriter, r *http.Request, fn func(id string) error) {
	id := chi.URLParam(r, "id")
	if _, _, ok := h.env.Registry.Get(id); !ok {
		writeAPIError(w, http.StatusNotFound, apiError{Code: "SOURCE_NOT_FOUND", Message: fmt.Sprintf("unknown source %q", id)})
		return
	}
	if err := fn(id); err != nil {
		writeError(w, r, err)
		return
	}
	for _, s := range h.env.Registry.Snapshot() {
		if s.Source.ID == id {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
}

func (h *handlers) resetSource(w http.ResponseWriter, r *http.Request) {
	h.sourceAction(w, r, func(id string) error {
		h.env.Limiter.Reset(id)
		return h.env.Registry.ResetMetrics(id)
	})
}

func (h *handlers) activateSource(w http.ResponseWriter, r *http.Request) {
	h.sourceAction(w, r, h.env.Registry.Activate)
}

func (h *handlers) deactivateSource(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "disabled via api"
	}
	h.sourceAction(w, r, func(id string) error {
		return h.env.Registry.Deactivate(id, reason)
	})
}
