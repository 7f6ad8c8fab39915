// Package query serves OData entity queries against registered data
// products: authorization, translation, execution, and the response
// envelope, in both buffered and streaming form.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"dphub/internal/domain"
	"dphub/internal/engine"
	"dphub/internal/metrics"
	"dphub/internal/odata"
	"dphub/internal/registry"
	"dphub/internal/security"
)

// Service executes OData queries over the registry's current generation.
type Service struct {
	reg  *registry.Registry
	exec *engine.Executor
	auth *security.Authorizer
	met  *metrics.Collector
	log  *slog.Logger
}

// New creates a query service. met may be nil to disable instrumentation.
func New(reg *registry.Registry, exec *engine.Executor, auth *security.Authorizer, met *metrics.Collector, log *slog.Logger) *Service {
	return &Service{reg: reg, exec: exec, auth: auth, met: met, log: log}
}

// Request is one entity query: the product route, an optional source name
// (to query a single source view instead of the joined entity), the parsed
// query options, and the authenticated principal, if any.
type Request struct {
	Route     string
	Source    string
	BasePath  string
	Params    odata.Params
	Principal *security.Principal
}

// Envelope is the OData response body.
type Envelope struct {
	Context  string                   `json:"@odata.context"`
	Count    *int64                   `json:"@odata.count,omitempty"`
	Value    []map[string]interface{} `json:"value"`
	NextLink string                   `json:"@odata.nextLink,omitempty"`
}

// ProductInfo is one entry of the service document.
type ProductInfo struct {
	ID          string   `json:"id"`
	Route       string   `json:"route"`
	Description string   `json:"description,omitempty"`
	Entity      string   `json:"entity"`
	KeyColumn   string   `json:"key_column"`
	Columns     []string `json:"columns"`
	Sources     []string `json:"sources"`
}

// Metadata returns the service document: every product in the current
// generation with its entity shape.
func (s *Service) Metadata() []ProductInfo {
	runtimes := s.reg.List()
	out := make([]ProductInfo, 0, len(runtimes))
	for _, rt := range runtimes {
		info := ProductInfo{
			ID:          rt.Declaration.ID,
			Route:       rt.Declaration.RouteKey(),
			Description: rt.Declaration.Description,
			Entity:      rt.Declaration.Entity.Name,
			KeyColumn:   rt.Declaration.Entity.KeyColumn,
			Columns:     rt.Columns,
		}
		for name := range rt.SourceViews {
			info.Sources = append(info.Sources, name)
		}
		sort.Strings(info.Sources)
		out = append(out, info)
	}
	return out
}

// resolve maps a request to its runtime and target relation, enforcing the
// product's access policy.
func (s *Service) resolve(ctx context.Context, req *Request) (*domain.Runtime, odata.Target, error) {
	rt, ok := s.reg.Get(req.Route)
	if !ok {
		return nil, odata.Target{}, domain.ErrNotFound("data product %q not found", req.Route)
	}
	if err := s.auth.CheckAccess(ctx, &rt.Declaration, req.Principal); err != nil {
		return nil, odata.Target{}, err
	}

	target := odata.Target{View: rt.JoinedView, Columns: rt.Columns, Decl: &rt.Declaration}
	if req.Source != "" {
		view, ok := rt.SourceViews[req.Source]
		if !ok {
			return nil, odata.Target{}, domain.ErrNotFound(
				"data product %q has no source %q", req.Route, req.Source)
		}
		target.View = view
		target.Columns = rt.SourceColumns[req.Source]
	}
	return rt, target, nil
}

// Query executes a request and returns the fully buffered envelope.
func (s *Service) Query(ctx context.Context, req *Request) (*Envelope, error) {
	start := time.Now()
	rt, target, err := s.resolve(ctx, req)
	if err != nil {
		s.observe(req.Route, start, err)
		return nil, err
	}
	productID := rt.Declaration.ID

	t := odata.Translate(target, req.Params)
	s.logDropped(productID, &t)

	res, err := s.exec.Query(ctx, t.Query)
	if err != nil && t.Fallback != "" {
		s.droppedFilter(productID, t.Filter.Input, err)
		res, err = s.exec.Query(ctx, t.Fallback)
		t.CountQuery = t.FallbackCount
	}
	if err != nil {
		s.observe(productID, start, err)
		return nil, fmt.Errorf("product %q: executing query: %w", productID, err)
	}

	env := &Envelope{
		Context: contextID(req),
		Value:   res.Rows,
	}
	if env.Value == nil {
		env.Value = []map[string]interface{}{}
	}

	if req.Params.Count {
		total, err := s.count(ctx, productID, &t)
		if err != nil {
			s.observe(productID, start, err)
			return nil, err
		}
		env.Count = &total
		env.NextLink = odata.NextLink(req.BasePath, req.Params, t.Top, t.Skip, total)
	}

	s.observe(productID, start, nil)
	return env, nil
}

// Stream executes a request and writes the envelope to w incrementally, in
// chunks of rows. All failure modes that should map to an HTTP status
// (unknown route, denied access, a query that cannot start) surface before
// the first byte is written; errors after that truncate the body.
func (s *Service) Stream(ctx context.Context, req *Request, w io.Writer) error {
	start := time.Now()
	rt, target, err := s.resolve(ctx, req)
	if err != nil {
		s.observe(req.Route, start, err)
		return err
	}
	productID := rt.Declaration.ID

	t := odata.Translate(target, req.Params)
	s.logDropped(productID, &t)

	var total *int64
	if req.Params.Count {
		n, err := s.count(ctx, productID, &t)
		if err != nil {
			s.observe(productID, start, err)
			return err
		}
		total = &n
	}

	query := t.Query
	err = s.streamOnce(ctx, req, query, total, &t, w)
	if isStartupError(err) && t.Fallback != "" {
		s.droppedFilter(productID, t.Filter.Input, err)
		err = s.streamOnce(ctx, req, t.Fallback, total, &t, w)
	}
	s.observe(productID, start, err)
	return err
}

// headNotWritten marks a stream failure that happened before any output.
type headNotWritten struct{ err error }

func (e *headNotWritten) Error() string { return e.err.Error() }
func (e *headNotWritten) Unwrap() error { return e.err }

func isStartupError(err error) bool {
	var h *headNotWritten
	return errors.As(err, &h)
}

// streamOnce writes the envelope head lazily, on the first delivered chunk,
// so a query that fails to start can still be retried or mapped to an error
// status.
func (s *Service) streamOnce(ctx context.Context, req *Request, query string, total *int64, t *odata.Translation, w io.Writer) error {
	headWritten := false
	rowsOut := 0

	writeHead := func() error {
		head := struct {
			Context  string `json:"@odata.context"`
			Count    *int64 `json:"@odata.count,omitempty"`
			NextLink string `json:"@odata.nextLink,omitempty"`
		}{Context: contextID(req), Count: total}
		if total != nil {
			head.NextLink = odata.NextLink(req.BasePath, req.Params, t.Top, t.Skip, *total)
		}
		b, err := json.Marshal(head)
		if err != nil {
			return err
		}
		// Reopen the object so "value" streams inside it.
		if _, err := w.Write(b[:len(b)-1]); err != nil {
			return err
		}
		_, err = w.Write([]byte(`,"value":[`))
		headWritten = true
		return err
	}

	err := s.exec.Stream(ctx, query, 0, func(cols []string, chunk []map[string]interface{}) error {
		if !headWritten {
			if err := writeHead(); err != nil {
				return err
			}
		}
		for _, row := range chunk {
			b, err := json.Marshal(row)
			if err != nil {
				return err
			}
			if rowsOut > 0 {
				if _, err := w.Write([]byte(",")); err != nil {
					return err
				}
			}
			if _, err := w.Write(b); err != nil {
				return err
			}
			rowsOut++
		}
		return nil
	})
	if err != nil {
		if !headWritten {
			return &headNotWritten{err: err}
		}
		return err
	}

	if !headWritten {
		if err := writeHead(); err != nil {
			return err
		}
	}
	_, err = w.Write([]byte(`]}`))
	return err
}

// count runs the count query, falling back to the unfiltered count when the
// filtered one cannot execute.
func (s *Service) count(ctx context.Context, productID string, t *odata.Translation) (int64, error) {
	total, err := s.exec.Count(ctx, t.CountQuery)
	if err != nil && t.FallbackCount != "" {
		s.droppedFilter(productID, t.Filter.Input, err)
		total, err = s.exec.Count(ctx, t.FallbackCount)
	}
	if err != nil {
		return 0, fmt.Errorf("product %q: counting rows: %w", productID, err)
	}
	return total, nil
}

func (s *Service) logDropped(productID string, t *odata.Translation) {
	if len(t.Dropped) > 0 {
		s.log.Warn("ignoring unknown query columns", "product", productID, "columns", t.Dropped)
	}
}

func (s *Service) droppedFilter(productID, filter string, err error) {
	s.log.Warn("dropping $filter that failed to execute",
		"product", productID, "filter", filter, "error", err)
	if s.met != nil {
		s.met.FiltersDropped.WithLabelValues(productID).Inc()
	}
}

func (s *Service) observe(productID string, start time.Time, err error) {
	if s.met == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case isNotFound(err):
		status = "not_found"
	case isAccessDenied(err):
		status = "denied"
	default:
		status = "error"
	}
	s.met.QueriesTotal.WithLabelValues(productID, status).Inc()
	s.met.QueryDuration.WithLabelValues(productID).Observe(time.Since(start).Seconds())
}

func isNotFound(err error) bool {
	var e *domain.NotFoundError
	return errors.As(err, &e)
}

func isAccessDenied(err error) bool {
	var e *domain.AccessDeniedError
	return errors.As(err, &e)
}

// contextID builds the @odata.context value for a request.
func contextID(req *Request) string {
	id := "/odata/$metadata#" + req.Route
	if req.Source != "" {
		id += "/" + req.Source
	}
	return id
}
