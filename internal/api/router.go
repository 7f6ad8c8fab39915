package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dphub/internal/config"
	"dphub/internal/middleware"
)

// NewRouter assembles the HTTP surface: the OData routes, operational
// endpoints, and the middleware stack. validator is nil when auth is
// disabled.
func NewRouter(h *Handler, cfg *config.Config, validator middleware.TokenValidator, log *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))
	if validator != nil {
		r.Use(middleware.Authenticator(validator, cfg.Auth.AppIDClaim, log))
	}

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/internal/reload-config", h.Reload)

	r.Route("/odata", func(r chi.Router) {
		r.Get("/$metadata", h.Metadata)
		r.Get("/*", h.Entity)
	})

	return r
}
