package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sitewise-erp/sitewise/internal/auth"
	"github.com/sitewise-erp/sitewise/internal/catalog"
	"github.com/sitewise-erp/sitewise/internal/ledger"
	"github.com/sitewise-erp/sitewise/internal/observability"
	"github.com/sitewise-erp/sitewise/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	AuthHandler    *auth.Handler
	CatalogHandler *catalog.Handler
	LedgerHandler  *ledger.Handler
	JobHandler     *jobs.Handler
	TokenStore     *auth.TokenStore
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router. /auth and the operational endpoints
// are public; everything under /api/v1 requires a bearer token.
func NewRouter(params RouterParams) http.Handler {
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
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware(params.TokenStore))
		params.CatalogHandler.MountRoutes(r)
		params.LedgerHandler.MountRoutes(r)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
