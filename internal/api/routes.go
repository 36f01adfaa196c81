package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	// Metrics wraps every request when set.
	Metrics func(http.Handler) http.Handler
	// MetricsHandler is served on /metrics when set.
	MetricsHandler http.Handler
	// RateLimit guards the /api routes when set.
	RateLimit func(http.Handler) http.Handler
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics)
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimit != nil {
			r.Use(cfg.RateLimit)
		}

		r.Post("/tablegen", h.GenerateTable)

		if h.jobs != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Post("/", h.CreateJob)
				r.Get("/", h.ListJobs)
				r.Get("/{jobID}", h.GetJob)
				r.Get("/{jobID}/export", h.ExportJob)
			})
		}
	})

	return r
}
