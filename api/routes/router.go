package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocontreras/clicksync-backend/api/controllers"
	"github.com/ocontreras/clicksync-backend/api/middleware"
	"github.com/ocontreras/clicksync-backend/pkg/config"
	"github.com/ocontreras/clicksync-backend/pkg/logger"
)

// RouterParams carry everything the HTTP surface needs. Dependencies are the
// pingers behind the readiness check; Runner backs the manual trigger.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	Dependencies []controllers.Dependency
	Runner       controllers.Runner
	Registry     *prometheus.Registry
}

func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(params.Logger),
		middleware.RequestID(params.Logger),
		middleware.Logging(params.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(params.Config))
		r.Get("/ready", controllers.HealthReady(params.Config, params.Logger, params.Dependencies...))
	})

	if params.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", controllers.TriggerRun(params.Runner, params.Logger))
	})

	return r
}
