package domain

import (
	"fmt"
	"strings"
)

// BackendEngine identifies the backend that materializes a data product.
// The enumeration is closed: anything but parquet_join is rejected at
// decode time.
type BackendEngine string

// EngineParquetJoin loads parquet sources and joins them inside DuckDB.
const EngineParquetJoin BackendEngine = "parquet_join"

// UnmarshalText implements encoding.TextUnmarshaler so that both YAML and
// JSON decoding reject unknown engine values instead of deferring the check
// to call sites.
func (e *BackendEngine) UnmarshalText(text []byte) error {
	switch v := BackendEngine(text); v {
	case EngineParquetJoin:
		*e = v
		return nil
	default:
		return fmt.Errorf("unsupported backend engine: %q", string(text))
	}
}

// ColumnType is the declared logical type of an entity column.
type ColumnType string

// Supported column types.
const (
	TypeString   ColumnType = "string"
	TypeInt      ColumnType = "int"
	TypeFloat    ColumnType = "float"
	TypeDatetime ColumnType = "datetime"
)

// UnmarshalText rejects unknown column types at decode time.
func (t *ColumnType) UnmarshalText(text []byte) error {
	switch v := ColumnType(text); v {
	case TypeString, TypeInt, TypeFloat, TypeDatetime:
		*t = v
		return nil
	default:
		return fmt.Errorf("unsupported column type: %q", string(text))
	}
}

// AuthPolicy controls per-dataset authentication requirements.
type AuthPolicy string

// Supported auth policies. The zero value means AuthNone.
const (
	AuthNone     AuthPolicy = "none"
	AuthOptional AuthPolicy = "optional"
	AuthRequired AuthPolicy = "required"
)

// UnmarshalText rejects unknown auth policies at decode time.
func (p *AuthPolicy) UnmarshalText(text []byte) error {
	switch v := AuthPolicy(text); v {
	case AuthNone, AuthOptional, AuthRequired:
		*p = v
		return nil
	default:
		return fmt.Errorf("unsupported authPolicy: %q", string(text))
	}
}

// SourceSpec declares one physical parquet file and an optional column
// rename map applied at load time.
type SourceSpec struct {
	Path   string            `yaml:"path" json:"path"`
	Rename map[string]string `yaml:"rename,omitempty" json:"rename,omitempty"`
}

// JoinSpec declares an inner equi-join between two named sources on a
// non-empty set of shared column names.
type JoinSpec struct {
	Left  string   `yaml:"left" json:"left"`
	Right string   `yaml:"right" json:"right"`
	On    []string `yaml:"on" json:"on"`
}

// BackendSpec declares the engine, sources, and join chain of a product.
type BackendSpec struct {
	Engine  BackendEngine         `yaml:"engine" json:"engine"`
	Sources map[string]SourceSpec `yaml:"sources" json:"sources"`
	Joins   []JoinSpec            `yaml:"joins,omitempty" json:"joins,omitempty"`
}

// ColumnSpec declares one entity column. Generated columns are synthesized
// by the builder and exempt from the post-join existence check.
type ColumnSpec struct {
	Name      string     `yaml:"name" json:"name"`
	Type      ColumnType `yaml:"type" json:"type"`
	Generated bool       `yaml:"generated,omitempty" json:"generated,omitempty"`
}

// EntitySpec declares the exposed entity: its name, key column, and columns.
type EntitySpec struct {
	Name      string       `yaml:"name" json:"name"`
	KeyColumn string       `yaml:"key_column" json:"key_column"`
	Columns   []ColumnSpec `yaml:"columns" json:"columns"`
}

// Column returns the spec for the named column, or nil.
func (e *EntitySpec) Column(name string) *ColumnSpec {
	for i := range e.Columns {
		if e.Columns[i].Name == name {
			return &e.Columns[i]
		}
	}
	return nil
}

// PagingPolicy holds the OData paging and exposure limits for a product.
type PagingPolicy struct {
	MaxTop     int      `yaml:"max_top,omitempty" json:"max_top,omitempty"`
	DefaultTop int      `yaml:"default_top,omitempty" json:"default_top,omitempty"`
	Filterable []string `yaml:"filterable,omitempty" json:"filterable,omitempty"`
	Orderable  []string `yaml:"orderable,omitempty" json:"orderable,omitempty"`
}

// Default paging limits, applied when a declaration leaves them unset.
const (
	DefaultMaxTop     = 1000
	DefaultDefaultTop = 100
)

// APISpec carries route metadata authored on the DataProduct resource.
type APISpec struct {
	Path     string `yaml:"path" json:"path"`
	Protocol string `yaml:"protocol,omitempty" json:"protocol,omitempty"`
	Resource string `yaml:"resource,omitempty" json:"resource,omitempty"`
	Version  string `yaml:"version,omitempty" json:"version,omitempty"`
}

// SecurityPolicy holds the per-dataset access policy.
type SecurityPolicy struct {
	AuthPolicy AuthPolicy `yaml:"authPolicy,omitempty" json:"authPolicy,omitempty"`
}

// Policy returns the effective auth policy, defaulting to none.
func (s SecurityPolicy) Policy() AuthPolicy {
	if s.AuthPolicy == "" {
		return AuthNone
	}
	return s.AuthPolicy
}

// Declaration is the aggregate root: the user-authored description of one
// data product.
type Declaration struct {
	ID             string                 `yaml:"id" json:"id"`
	Route          string                 `yaml:"route,omitempty" json:"route,omitempty"`
	API            *APISpec               `yaml:"api,omitempty" json:"api,omitempty"`
	Description    string                 `yaml:"description,omitempty" json:"description,omitempty"`
	Namespace      string                 `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	DisplayName    string                 `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Owner          string                 `yaml:"owner,omitempty" json:"owner,omitempty"`
	Backend        BackendSpec            `yaml:"backend" json:"backend"`
	Entity         EntitySpec             `yaml:"entity" json:"entity"`
	OData          PagingPolicy           `yaml:"odata,omitempty" json:"odata,omitempty"`
	Security       SecurityPolicy         `yaml:"security,omitempty" json:"security,omitempty"`
	QoS            map[string]interface{} `yaml:"qos,omitempty" json:"qos,omitempty"`
	DeploymentMode string                 `yaml:"deployment_mode,omitempty" json:"deployment_mode,omitempty"`
}

// RouteKey returns the canonical route key used by the registry.
//
// Priority:
//  1. explicit route (legacy engine YAML)
//  2. api.path (from the DataProduct resource)
//  3. fallback to id
//
// Always normalized by stripping leading separators.
func (d *Declaration) RouteKey() string {
	r := d.ID
	switch {
	case d.Route != "":
		r = d.Route
	case d.API != nil && d.API.Path != "":
		r = d.API.Path
	}
	return strings.TrimLeft(r, "/")
}

// MaxTop returns the effective maximum page size.
func (d *Declaration) MaxTop() int {
	if d.OData.MaxTop > 0 {
		return d.OData.MaxTop
	}
	return DefaultMaxTop
}

// DefaultTop returns the effective default page size, never above MaxTop.
func (d *Declaration) DefaultTop() int {
	top := d.OData.DefaultTop
	if top <= 0 {
		top = DefaultDefaultTop
	}
	if max := d.MaxTop(); top > max {
		top = max
	}
	return top
}

// Validate checks structural invariants that strict decoding cannot express.
// Enum membership (engine, column types, authPolicy) is already enforced by
// the UnmarshalText implementations.
func (d *Declaration) Validate() error {
	if d.ID == "" {
		return ErrConfiguration("data product declaration is missing an id")
	}
	if d.Backend.Engine == "" {
		return ErrConfiguration("product %q: backend engine is required", d.ID)
	}
	if d.Backend.Engine != EngineParquetJoin {
		return ErrConfiguration("product %q: unsupported backend engine %q", d.ID, d.Backend.Engine)
	}
	if len(d.Backend.Sources) == 0 {
		return ErrConfiguration("product %q: at least one backend source is required", d.ID)
	}
	for name, src := range d.Backend.Sources {
		if src.Path == "" {
			return ErrConfiguration("product %q: source %q has no path", d.ID, name)
		}
	}
	for _, j := range d.Backend.Joins {
		if j.Left == "" || j.Right == "" {
			return ErrConfiguration("product %q: join must name both left and right sources", d.ID)
		}
		if len(j.On) == 0 {
			return ErrConfiguration(
				"product %q: join between %q and %q has no 'on' columns configured",
				d.ID, j.Left, j.Right)
		}
	}
	if len(d.Backend.Joins) == 0 && len(d.Backend.Sources) > 1 {
		return ErrConfiguration("product %q: multiple sources provided but no joins defined", d.ID)
	}
	if d.Entity.Name == "" {
		return ErrConfiguration("product %q: entity name is required", d.ID)
	}
	if d.Entity.KeyColumn == "" {
		return ErrConfiguration("product %q: entity key_column is required", d.ID)
	}
	for _, c := range d.Entity.Columns {
		if c.Name == "" {
			return ErrConfiguration("product %q: entity column with empty name", d.ID)
		}
	}
	return nil
}
