package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDeclaration() Declaration {
	return Declaration{
		ID: "sa-outages",
		Backend: BackendSpec{
			Engine: EngineParquetJoin,
			Sources: map[string]SourceSpec{
				"areas": {Path: "data/areas.parquet"},
			},
		},
		Entity: EntitySpec{
			Name:      "Outage",
			KeyColumn: "id",
			Columns: []ColumnSpec{
				{Name: "province", Type: TypeString},
			},
		},
	}
}

func TestRouteKeyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		decl Declaration
		want string
	}{
		{
			name: "explicit route wins",
			decl: Declaration{ID: "prod-1", Route: "/custom/route", API: &APISpec{Path: "/api/path"}},
			want: "custom/route",
		},
		{
			name: "api path when no route",
			decl: Declaration{ID: "prod-1", API: &APISpec{Path: "/api/path"}},
			want: "api/path",
		},
		{
			name: "id as fallback",
			decl: Declaration{ID: "prod-1"},
			want: "prod-1",
		},
		{
			name: "leading slashes stripped",
			decl: Declaration{ID: "prod-1", Route: "///deep/route"},
			want: "deep/route",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.decl.RouteKey())
		})
	}
}

func TestPagingDefaults(t *testing.T) {
	d := validDeclaration()
	assert.Equal(t, DefaultMaxTop, d.MaxTop())
	assert.Equal(t, DefaultDefaultTop, d.DefaultTop())

	d.OData = PagingPolicy{MaxTop: 50, DefaultTop: 200}
	assert.Equal(t, 50, d.MaxTop())
	// The default page can never exceed the maximum.
	assert.Equal(t, 50, d.DefaultTop())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Declaration)
		wantErr string
	}{
		{
			name:   "valid declaration passes",
			mutate: func(*Declaration) {},
		},
		{
			name:    "missing id",
			mutate:  func(d *Declaration) { d.ID = "" },
			wantErr: "missing an id",
		},
		{
			name:    "no sources",
			mutate:  func(d *Declaration) { d.Backend.Sources = nil },
			wantErr: "at least one backend source",
		},
		{
			name: "source without path",
			mutate: func(d *Declaration) {
				d.Backend.Sources["bad"] = SourceSpec{}
			},
			wantErr: `source "bad" has no path`,
		},
		{
			name: "join without on columns",
			mutate: func(d *Declaration) {
				d.Backend.Sources["schedule"] = SourceSpec{Path: "data/schedule.parquet"}
				d.Backend.Joins = []JoinSpec{{Left: "areas", Right: "schedule"}}
			},
			wantErr: "no 'on' columns",
		},
		{
			name: "multiple sources without joins",
			mutate: func(d *Declaration) {
				d.Backend.Sources["schedule"] = SourceSpec{Path: "data/schedule.parquet"}
			},
			wantErr: "no joins defined",
		},
		{
			name:    "missing entity name",
			mutate:  func(d *Declaration) { d.Entity.Name = "" },
			wantErr: "entity name is required",
		},
		{
			name:    "missing key column",
			mutate:  func(d *Declaration) { d.Entity.KeyColumn = "" },
			wantErr: "key_column is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDeclaration()
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var cfgErr *ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnumsRejectUnknownValues(t *testing.T) {
	var e BackendEngine
	require.NoError(t, e.UnmarshalText([]byte("parquet_join")))
	assert.Error(t, e.UnmarshalText([]byte("sqlite")))

	var ct ColumnType
	require.NoError(t, ct.UnmarshalText([]byte("datetime")))
	assert.Error(t, ct.UnmarshalText([]byte("decimal")))

	var ap AuthPolicy
	require.NoError(t, ap.UnmarshalText([]byte("optional")))
	assert.Error(t, ap.UnmarshalText([]byte("mandatory")))
}

func TestSecurityPolicyDefaultsToNone(t *testing.T) {
	var s SecurityPolicy
	assert.Equal(t, AuthNone, s.Policy())
	s.AuthPolicy = AuthRequired
	assert.Equal(t, AuthRequired, s.Policy())
}
