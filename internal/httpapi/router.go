package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"slidecast/internal/httpapi/handlers"
	"slidecast/internal/httpkit"
	"slidecast/internal/metrics"
	"slidecast/internal/pkg/logger"
	"slidecast/internal/pkg/middleware"
)

type Deps struct {
	Handlers    handlers.Deps
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Log         *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
		if d.Handlers.OnRejected == nil {
			d.Handlers.OnRejected = d.Metrics.Rejected
		}
	}
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.CORSOrigins,
		ExposedHeaders: []string{middleware.RequestIDHeader, middleware.JobIDHeader},
	}))

	h := handlers.New(d.Handlers)

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- RENDER ----
	r.Post("/render", middleware.WrapHandler(log, h.PostRender))

	// ---- METRICS ----
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	return r
}
