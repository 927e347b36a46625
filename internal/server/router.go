package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloo-solutions/filingsearch/internal/api"
	"github.com/cloo-solutions/filingsearch/internal/api/handlers"
	"github.com/cloo-solutions/filingsearch/internal/api/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Ping(ctx context.Context) error { return f(ctx) }

type RouterConfig struct {
	SearchHandler *handlers.SearchHandler
	// Checks are run by /health; a failing check turns the response into a 503.
	Checks map[string]HealthChecker
	Logger *slog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 1 << 20

	r.Use(middleware.RequestID)
	r.Use(middleware.Sentry)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", health(cfg.Checks))
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/search", cfg.SearchHandler.Search)

	return r
}

func health(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		for name, c := range checks {
			if err := c.Ping(ctx); err != nil {
				status[name] = err.Error()
				status["status"] = "degraded"
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		api.Success(w, code, status)
	}
}
