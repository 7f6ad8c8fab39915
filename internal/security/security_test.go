package security

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dphub/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func declWithPolicy(p domain.AuthPolicy) *domain.Declaration {
	return &domain.Declaration{
		ID:       "sa-outages",
		Security: domain.SecurityPolicy{AuthPolicy: p},
	}
}

func TestAuthorizerDisabledAllowsEverything(t *testing.T) {
	a := NewAuthorizer(false, nil, discardLogger())
	err := a.CheckAccess(context.Background(), declWithPolicy(domain.AuthRequired), nil)
	assert.NoError(t, err)
}

func TestAuthorizerPolicies(t *testing.T) {
	a := NewAuthorizer(true, NoopBackend{}, discardLogger())
	ctx := context.Background()
	principal := &Principal{Subject: "user-1", AppID: "app-1"}

	tests := []struct {
		name      string
		policy    domain.AuthPolicy
		principal *Principal
		wantErr   bool
		want401   bool
	}{
		{name: "none without principal", policy: domain.AuthNone},
		{name: "optional without principal", policy: domain.AuthOptional},
		{name: "optional with principal", policy: domain.AuthOptional, principal: principal},
		{name: "required without principal", policy: domain.AuthRequired, wantErr: true, want401: true},
		{name: "required with principal", policy: domain.AuthRequired, principal: principal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.CheckAccess(ctx, declWithPolicy(tt.policy), tt.principal)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var denied *domain.AccessDeniedError
			require.ErrorAs(t, err, &denied)
			assert.Equal(t, tt.want401, denied.AuthRequired)
		})
	}
}

func TestAuthorizerEntitlementDenied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entitlements.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
apps:
  "app-1":
    - sa-outages
`), 0o600))

	ent := NewStaticFileBackend(path, time.Hour, discardLogger())
	a := NewAuthorizer(true, ent, discardLogger())
	ctx := context.Background()
	decl := declWithPolicy(domain.AuthRequired)

	assert.NoError(t, a.CheckAccess(ctx, decl, &Principal{AppID: "app-1"}))

	err := a.CheckAccess(ctx, decl, &Principal{AppID: "app-2"})
	var denied *domain.AccessDeniedError
	require.ErrorAs(t, err, &denied)
	assert.False(t, denied.AuthRequired)
}

func TestStaticFileBackendMissingFileDeniesNothingIsGranted(t *testing.T) {
	ent := NewStaticFileBackend(filepath.Join(t.TempDir(), "absent.yaml"), time.Hour, discardLogger())
	assert.False(t, ent.IsAllowed(context.Background(), "any-app", "any-dataset"))
}

func TestPrincipalEntitlementID(t *testing.T) {
	p := &Principal{Subject: "sub-1", AppID: "app-1"}
	assert.Equal(t, "app-1", p.EntitlementID())
	p.AppID = ""
	assert.Equal(t, "sub-1", p.EntitlementID())
}

func TestHTTPBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/entitlements", r.URL.Path)
		if r.URL.Query().Get("app_id") == "app-1" {
			_, _ = w.Write([]byte(`{"allowed": true}`))
			return
		}
		_, _ = w.Write([]byte(`{"allowed": false}`))
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, time.Second, discardLogger())
	ctx := context.Background()
	assert.True(t, b.IsAllowed(ctx, "app-1", "sa-outages"))
	assert.False(t, b.IsAllowed(ctx, "app-2", "sa-outages"))
}

func TestHTTPBackendFailsClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewHTTPBackend(srv.URL, time.Second, discardLogger())
	assert.False(t, b.IsAllowed(context.Background(), "app-1", "sa-outages"))

	// Unreachable service denies too.
	srv.Close()
	assert.False(t, b.IsAllowed(context.Background(), "app-1", "sa-outages"))
}

func TestNewEntitlementsBackendModes(t *testing.T) {
	log := discardLogger()

	b, err := NewEntitlementsBackend(EntitlementsOptions{Mode: "off"}, log)
	require.NoError(t, err)
	assert.IsType(t, NoopBackend{}, b)

	// static without a file falls back to allowing all.
	b, err = NewEntitlementsBackend(EntitlementsOptions{Mode: "static"}, log)
	require.NoError(t, err)
	assert.IsType(t, NoopBackend{}, b)

	_, err = NewEntitlementsBackend(EntitlementsOptions{Mode: "vault"}, log)
	assert.Error(t, err)
}
