// Package api exposes the OData HTTP surface: the service document, entity
// queries, and the operational endpoints.
package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"dphub/internal/domain"
	"dphub/internal/metrics"
	"dphub/internal/middleware"
	"dphub/internal/odata"
	"dphub/internal/registry"
	"dphub/internal/service/query"
)

// Handler serves the OData routes and the reload endpoint.
type Handler struct {
	svc *query.Service
	rel *registry.Reloader
	reg *registry.Registry
	met *metrics.Collector
	log *slog.Logger
}

// NewHandler creates the HTTP handler. met may be nil.
func NewHandler(svc *query.Service, rel *registry.Reloader, reg *registry.Registry, met *metrics.Collector, log *slog.Logger) *Handler {
	return &Handler{svc: svc, rel: rel, reg: reg, met: met, log: log}
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Metadata serves the service document: every registered product and its
// entity shape.
func (h *Handler) Metadata(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"@odata.context": "/odata/$metadata",
		"value":          h.svc.Metadata(),
	})
}

// Entity serves GET /odata/*: either a product's joined entity or, with a
// trailing source segment, one of its source views. Route keys may contain
// slashes, so the longest registered prefix wins: the full wildcard path is
// tried as a route first, then its last segment is peeled off as the source
// name.
//
// The response is a fully buffered envelope unless the request opts into
// chunked delivery with $stream=true.
func (h *Handler) Entity(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(chi.URLParam(r, "*"), "/")
	if path == "" {
		writeError(w, domain.ErrNotFound("no data product route given"))
		return
	}

	req := &query.Request{
		Route:     path,
		BasePath:  r.URL.Path,
		Params:    odata.ParseParams(r.URL.Query()),
		Principal: middleware.PrincipalFromContext(r.Context()),
	}
	if _, ok := h.reg.Get(path); !ok {
		if i := strings.LastIndex(path, "/"); i > 0 {
			req.Route, req.Source = path[:i], path[i+1:]
		}
	}

	if !req.Params.Stream {
		env, err := h.svc.Query(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, env)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	cw := &countingWriter{w: w}
	if err := h.svc.Stream(r.Context(), req, cw); err != nil {
		if cw.n == 0 {
			writeError(w, err)
			return
		}
		// The body is already partially written; nothing to do but log.
		h.log.Error("stream aborted mid-response", "route", req.Route, "error", err)
	}
}

// Reload re-reads the configured declaration source and swaps the registry.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	res, err := h.rel.Reload(r.Context())
	if err != nil {
		if h.met != nil {
			h.met.ReloadErrors.Inc()
		}
		h.log.Error("reload failed", "mode", res.Mode, "path", res.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": "error",
			"mode":   res.Mode,
			"path":   res.Path,
			"error":  err.Error(),
		})
		return
	}
	if res.Mode == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "no-op"})
		return
	}
	if h.met != nil {
		h.met.Reloads.Inc()
		h.met.ProductsLoaded.Set(float64(h.reg.Len()))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "reloaded",
		"mode":   res.Mode,
		"path":   res.Path,
		"loaded": res.Loaded,
	})
}

// countingWriter tracks whether any body bytes were written, so a failure
// can still be mapped to an error status when the response is untouched.
type countingWriter struct {
	w http.ResponseWriter
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
