package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"dphub/internal/domain"
)

// Reloader drives full-replacement reloads from one of three configuration
// sources, in precedence order: a single DataProduct manifest (local/dev),
// a batch metadata file (mounted ConfigMap), or a directory of per-product
// declaration files (legacy).
type Reloader struct {
	reg *Registry
	b   *Builder
	log *slog.Logger

	// Source selection, made once at startup by the caller.
	ManifestPath string
	MetadataPath string
	ConfigDir    string
	Root         string
}

// NewReloader creates a Reloader over the given registry and builder.
func NewReloader(reg *Registry, b *Builder, log *slog.Logger) *Reloader {
	return &Reloader{reg: reg, b: b, log: log}
}

// ReloadResult reports which source a reload used.
type ReloadResult struct {
	Mode   string // "local-cr", "metadata-file", "config-dir", or "" for no-op
	Path   string
	Loaded int
}

// Reload re-reads the configured source and replaces the registry
// generation. With no source configured it is a no-op. Reload has no
// cancellation semantics beyond ctx: once started it runs to completion
// or fails, and a failure leaves the previous generation live.
func (r *Reloader) Reload(ctx context.Context) (ReloadResult, error) {
	switch {
	case r.ManifestPath != "":
		n, err := r.LoadCRManifest(ctx, r.ManifestPath)
		return ReloadResult{Mode: "local-cr", Path: r.ManifestPath, Loaded: n}, err
	case r.MetadataPath != "":
		n, err := r.LoadMetadataFile(ctx, r.MetadataPath)
		return ReloadResult{Mode: "metadata-file", Path: r.MetadataPath, Loaded: n}, err
	case r.ConfigDir != "":
		n, err := r.LoadConfigDir(ctx, r.ConfigDir)
		return ReloadResult{Mode: "config-dir", Path: r.ConfigDir, Loaded: n}, err
	default:
		return ReloadResult{}, nil
	}
}

// LoadConfigDir loads every *.yaml/*.yml declaration in dir into a fresh
// generation. A file that fails to parse or build is logged and skipped;
// an unreadable directory aborts the reload and the previous generation
// stays live.
func (r *Reloader) LoadConfigDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read config dir %s: %w", dir, err)
	}

	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	var decls []domain.Declaration
	for _, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // operator-controlled directory
		if err != nil {
			r.log.Error("skipping declaration file", "path", path, "error", err)
			continue
		}
		decl, err := DecodeDeclarationYAML(data)
		if err != nil {
			r.log.Error("skipping declaration file", "path", path, "error", err)
			continue
		}
		decls = append(decls, *decl)
	}

	return r.reg.Load(ctx, r.b, decls, r.Root), nil
}

// LoadMetadataFile loads a JSON array of declarations (dataproducts.json).
// An absent file yields an empty generation with a warning; a malformed
// top-level document aborts the reload and the previous generation stays
// live; a bad array element is logged and skipped.
func (r *Reloader) LoadMetadataFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Warn("metadata file not found, registry will be empty", "path", path)
			r.reg.Replace(nil)
			return 0, nil
		}
		return 0, fmt.Errorf("read metadata file %s: %w", path, err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return 0, fmt.Errorf("metadata file %s must contain a JSON array of data products: %w", path, err)
	}

	var decls []domain.Declaration
	for i, raw := range items {
		decl, err := DecodeDeclarationJSON(raw)
		if err != nil {
			r.log.Error("skipping invalid data product entry", "index", i, "error", err)
			continue
		}
		decls = append(decls, *decl)
	}

	return r.reg.Load(ctx, r.b, decls, r.Root), nil
}

// crManifest is the externally authored DataProduct resource envelope. Only
// the fields this engine consumes are mapped; the rest of the resource
// (apiVersion, kind, labels, status) is ignored.
type crManifest struct {
	Metadata struct {
		Name string `yaml:"name"`
	} `yaml:"metadata"`
	Spec struct {
		Description string                `yaml:"description"`
		API         *domain.APISpec       `yaml:"api"`
		Backend     domain.BackendSpec    `yaml:"backend"`
		Entity      domain.EntitySpec     `yaml:"entity"`
		OData       domain.PagingPolicy   `yaml:"odata"`
		Security    domain.SecurityPolicy `yaml:"security"`
	} `yaml:"spec"`
}

// LoadCRManifest loads exactly one declaration from a DataProduct resource
// manifest and replaces the entire registry with it. Used only in
// single-product local/dev mode, so any failure aborts the reload.
func (r *Reloader) LoadCRManifest(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-controlled path
	if err != nil {
		return 0, fmt.Errorf("read DataProduct manifest %s: %w", path, err)
	}

	var cr crManifest
	if err := yaml.Unmarshal(data, &cr); err != nil {
		return 0, fmt.Errorf("parse DataProduct manifest %s: %w", path, err)
	}
	if cr.Metadata.Name == "" {
		return 0, domain.ErrConfiguration("manifest %s: metadata.name is required", path)
	}

	api := cr.Spec.API
	if api == nil {
		api = &domain.APISpec{Path: "/" + cr.Metadata.Name}
	}
	if api.Protocol == "" {
		api.Protocol = "odata"
	}
	if api.Version == "" {
		api.Version = "v1"
	}

	decl := domain.Declaration{
		ID:          cr.Metadata.Name,
		API:         api,
		Description: cr.Spec.Description,
		Backend:     cr.Spec.Backend,
		Entity:      cr.Spec.Entity,
		OData:       cr.Spec.OData,
		Security:    cr.Spec.Security,
	}
	if err := decl.Validate(); err != nil {
		return 0, err
	}

	rt, err := r.b.Build(ctx, &decl, r.Root)
	if err != nil {
		return 0, err
	}

	r.reg.Replace(map[string]*domain.Runtime{decl.RouteKey(): rt})
	r.log.Info("loaded DataProduct manifest", "path", path, "id", decl.ID, "route", decl.RouteKey())
	return 1, nil
}

// DecodeDeclarationYAML strictly decodes one YAML declaration: unknown
// fields are rejected, then structural invariants are validated.
func DecodeDeclarationYAML(data []byte) (*domain.Declaration, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var decl domain.Declaration
	if err := dec.Decode(&decl); err != nil {
		return nil, domain.ErrConfiguration("invalid declaration: %v", err)
	}
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	return &decl, nil
}

// DecodeDeclarationJSON strictly decodes one JSON declaration.
func DecodeDeclarationJSON(data []byte) (*domain.Declaration, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var decl domain.Declaration
	if err := dec.Decode(&decl); err != nil {
		return nil, domain.ErrConfiguration("invalid declaration: %v", err)
	}
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	return &decl, nil
}
