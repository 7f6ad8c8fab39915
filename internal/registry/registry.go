package registry

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"dphub/internal/domain"
)

// Registry is the concurrency-safe store mapping normalized route keys to
// runtimes. Reloads replace the whole generation atomically: a new map is
// built first (including all view-creation I/O), then swapped under the
// write lock, so readers observe either the fully-old or fully-new
// generation and never block on an in-progress build.
type Registry struct {
	mu  sync.RWMutex
	gen map[string]*domain.Runtime
	log *slog.Logger
}

// New creates an empty registry.
func New(log *slog.Logger) *Registry {
	return &Registry{gen: map[string]*domain.Runtime{}, log: log}
}

// Get returns the runtime for a route. The route is normalized the same way
// declarations are: leading separators stripped.
func (r *Registry) Get(route string) (*domain.Runtime, bool) {
	key := strings.TrimLeft(route, "/")
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.gen[key]
	return rt, ok
}

// List returns a snapshot of the current generation's runtimes, ordered by
// product id.
func (r *Registry) List() []*domain.Runtime {
	r.mu.RLock()
	out := make([]*domain.Runtime, 0, len(r.gen))
	for _, rt := range r.gen {
		out = append(out, rt)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Declaration.ID < out[j].Declaration.ID
	})
	return out
}

// Len returns the number of products in the current generation.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.gen)
}

// Replace swaps in a new generation wholesale.
func (r *Registry) Replace(gen map[string]*domain.Runtime) {
	if gen == nil {
		gen = map[string]*domain.Runtime{}
	}
	r.mu.Lock()
	r.gen = gen
	r.mu.Unlock()
}

// Load builds runtimes for all declarations and swaps them in as the new
// generation. Individual build failures (invalid config, missing data files)
// are logged with the offending id and excluded; they never abort sibling
// builds. Duplicate route keys keep the later declaration, with a warning.
// Returns the number of products loaded.
func (r *Registry) Load(ctx context.Context, b *Builder, decls []domain.Declaration, root string) int {
	gen := make(map[string]*domain.Runtime, len(decls))

	for i := range decls {
		decl := &decls[i]
		rt, err := b.Build(ctx, decl, root)
		if err != nil {
			r.log.Error("skipping data product", "id", decl.ID, "error", err)
			continue
		}
		key := decl.RouteKey()
		if _, exists := gen[key]; exists {
			r.log.Warn("duplicate route key, later declaration wins", "route", key, "id", decl.ID)
		}
		gen[key] = rt
	}

	r.Replace(gen)
	r.log.Info("registry reloaded", "products", len(gen))
	return len(gen)
}
