// Package app wires the hub together: engine, registry, services, and the
// HTTP surface.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"dphub/internal/api"
	"dphub/internal/config"
	"dphub/internal/engine"
	"dphub/internal/metrics"
	"dphub/internal/middleware"
	"dphub/internal/registry"
	"dphub/internal/security"
	"dphub/internal/service/query"
	"dphub/internal/watch"
)

// Deps holds the external dependencies main() must provide.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger
}

// App is the assembled application.
type App struct {
	Exec     *engine.Executor
	Registry *registry.Registry
	Reloader *registry.Reloader
	Query    *query.Service
	Metrics  *metrics.Collector
	Handler  http.Handler

	// Watcher is non-nil when WATCH_CONFIG is enabled and a declaration
	// source is configured; the caller runs it.
	Watcher *watch.Watcher
}

// New builds the application and performs the initial registry load. A load
// that fails (or loads nothing) still yields a serving app: products can
// arrive later through the reload endpoint or the watcher.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg, log := deps.Cfg, deps.Logger

	exec, err := engine.Open()
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	met := metrics.New(nil)
	reg := registry.New(log)
	builder := registry.NewBuilder(exec, log)

	rel := registry.NewReloader(reg, builder, log)
	rel.ManifestPath = cfg.LocalCRPath
	rel.MetadataPath = cfg.MetadataPath
	rel.ConfigDir = cfg.ConfigDir
	rel.Root = cfg.RepoRoot

	res, err := rel.Reload(ctx)
	if err != nil {
		met.ReloadErrors.Inc()
		log.Error("initial load failed, starting with an empty registry",
			"mode", res.Mode, "path", res.Path, "error", err)
	} else if res.Mode != "" {
		met.Reloads.Inc()
		log.Info("initial load complete", "mode", res.Mode, "path", res.Path, "loaded", res.Loaded)
	}
	met.ProductsLoaded.Set(float64(reg.Len()))

	ent, err := security.NewEntitlementsBackend(security.EntitlementsOptions{
		Mode:        cfg.Auth.EntitlementsMode,
		StaticFile:  cfg.Auth.EntitlementsStaticFile,
		HTTPBaseURL: cfg.Auth.EntitlementsHTTPBaseURL,
		HTTPTimeout: cfg.Auth.EntitlementsHTTPTimeout,
	}, log)
	if err != nil {
		exec.Close() //nolint:errcheck
		return nil, err
	}
	auth := security.NewAuthorizer(cfg.Auth.Enabled, ent, log)

	validator, err := newValidator(ctx, cfg)
	if err != nil {
		exec.Close() //nolint:errcheck
		return nil, err
	}

	svc := query.New(reg, exec, auth, met, log)
	handler := api.NewHandler(svc, rel, reg, met, log)

	app := &App{
		Exec:     exec,
		Registry: reg,
		Reloader: rel,
		Query:    svc,
		Metrics:  met,
		Handler:  api.NewRouter(handler, cfg, validator, log),
	}

	if cfg.WatchConfig {
		if path, isDir, ok := watchTarget(cfg); ok {
			app.Watcher = watch.New(path, isDir, 0, func(ctx context.Context) {
				res, err := rel.Reload(ctx)
				if err != nil {
					met.ReloadErrors.Inc()
					log.Error("watch-triggered reload failed",
						"mode", res.Mode, "path", res.Path, "error", err)
					return
				}
				met.Reloads.Inc()
				met.ProductsLoaded.Set(float64(reg.Len()))
				log.Info("watch-triggered reload complete",
					"mode", res.Mode, "loaded", res.Loaded)
			}, log)
		} else {
			log.Warn("WATCH_CONFIG enabled but no declaration source configured")
		}
	}

	return app, nil
}

// Close releases the engine handle.
func (a *App) Close() error {
	return a.Exec.Close()
}

// watchTarget picks the filesystem path to watch, mirroring the reload
// precedence.
func watchTarget(cfg *config.Config) (path string, isDir, ok bool) {
	switch {
	case cfg.LocalCRPath != "":
		return cfg.LocalCRPath, false, true
	case cfg.MetadataPath != "":
		return cfg.MetadataPath, false, true
	case cfg.ConfigDir != "":
		return cfg.ConfigDir, true, true
	default:
		return "", false, false
	}
}

// newValidator builds the token validator for the configured identity
// provider, or nil when auth is disabled.
func newValidator(ctx context.Context, cfg *config.Config) (middleware.TokenValidator, error) {
	if !cfg.Auth.Enabled {
		return nil, nil
	}
	switch {
	case cfg.Auth.JWKSURL != "":
		return middleware.NewOIDCValidatorFromJWKS(ctx, cfg.Auth.JWKSURL, cfg.Auth.IssuerURL, cfg.Auth.Audience), nil
	case cfg.Auth.IssuerURL != "":
		return middleware.NewOIDCValidator(ctx, cfg.Auth.IssuerURL, cfg.Auth.Audience)
	default:
		return middleware.NewHS256Validator(cfg.Auth.JWTSecret)
	}
}
