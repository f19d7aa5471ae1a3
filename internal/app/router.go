package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/stocktransfer/internal/inventory"
	"github.com/odyssey-erp/stocktransfer/internal/observability"
	"github.com/odyssey-erp/stocktransfer/internal/platform/httpx"
	"github.com/odyssey-erp/stocktransfer/internal/transfer"
	"github.com/odyssey-erp/stocktransfer/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Metrics          *observability.Metrics
	Authenticate     func(http.Handler) http.Handler
	TransferHandler  *transfer.Handler
	InventoryHandler *inventory.Handler
	JobHandler       *jobs.Handler
	// Ready reports whether the store answers; nil skips the check.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				params.Logger.Warn("readiness check failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	rateLimit := 120
	if params.Config != nil {
		rateLimit = params.Config.RateLimitPerMinute
	}
	r.Route("/api", func(r chi.Router) {
		if params.Authenticate != nil {
			r.Use(params.Authenticate)
		}
		r.Use(WriteRateLimit(rateLimit))
		if params.TransferHandler != nil {
			r.Route("/transfers", params.TransferHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			r.Route("/stock", params.InventoryHandler.MountRoutes)
		}
	})

	return r
}
