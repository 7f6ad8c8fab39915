package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dphub/internal/config"
	"dphub/internal/engine"
	"dphub/internal/registry"
	"dphub/internal/security"
	"dphub/internal/service/query"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testManifest = `
metadata:
  name: sa-outages
spec:
  description: Scheduled outages
  api:
    path: /sa/outages
  backend:
    engine: parquet_join
    sources:
      areas:
        path: areas.parquet
      schedule:
        path: schedule.parquet
    joins:
      - left: areas
        right: schedule
        on: [area_id]
  entity:
    name: Outage
    key_column: outage_id
    columns:
      - name: province
        type: string
      - name: stage
        type: int
      - name: outage_id
        type: string
        generated: true
`

// newTestServer stands up the full router over an in-memory engine with one
// product loaded from a manifest.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	exec, err := engine.Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = exec.Close() })

	ctx := context.Background()
	dir := t.TempDir()
	for name, sql := range map[string]string{
		"areas.parquet": `SELECT * FROM (VALUES
			(1, 'Sandton', 'Gauteng'),
			(2, 'Khayelitsha', 'Western Cape')
		) AS v(area_id, area_name, province)`,
		"schedule.parquet": `SELECT * FROM (VALUES
			(1, 2), (1, 4), (2, 3)
		) AS v(area_id, stage)`,
	} {
		require.NoError(t, exec.Exec(ctx, fmt.Sprintf(
			"COPY (%s) TO '%s' (FORMAT PARQUET)", sql, filepath.Join(dir, name))))
	}

	manifestPath := filepath.Join(dir, "dataproduct.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(testManifest), 0o600))

	log := discardLogger()
	reg := registry.New(log)
	rel := registry.NewReloader(reg, registry.NewBuilder(exec, log), log)
	rel.ManifestPath = manifestPath
	rel.Root = dir
	_, err = rel.Reload(ctx)
	require.NoError(t, err)

	auth := security.NewAuthorizer(false, nil, log)
	svc := query.New(reg, exec, auth, nil, log)
	h := NewHandler(svc, rel, reg, nil, log)

	cfg := &config.Config{
		CORSAllowedOrigins: []string{"*"},
		RateLimitRPS:       1000,
		RateLimitBurst:     1000,
	}
	srv := httptest.NewServer(NewRouter(h, cfg, nil, log))
	t.Cleanup(srv.Close)
	return srv
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test server URL
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	var body map[string]string
	resp := getJSON(t, srv.URL+"/healthz", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestMetadataDocument(t *testing.T) {
	srv := newTestServer(t)
	var body struct {
		Context string `json:"@odata.context"`
		Value   []struct {
			ID     string `json:"id"`
			Route  string `json:"route"`
			Entity string `json:"entity"`
		} `json:"value"`
	}
	resp := getJSON(t, srv.URL+"/odata/$metadata", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Value, 1)
	assert.Equal(t, "sa-outages", body.Value[0].ID)
	assert.Equal(t, "sa/outages", body.Value[0].Route)
	assert.Equal(t, "Outage", body.Value[0].Entity)
}

func TestEntityQuery(t *testing.T) {
	srv := newTestServer(t)
	var body struct {
		Context string                   `json:"@odata.context"`
		Value   []map[string]interface{} `json:"value"`
	}
	resp := getJSON(t, srv.URL+"/odata/sa/outages?$filter=province+eq+'Gauteng'&$orderby=stage+desc", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Len(t, body.Value, 2)
	assert.EqualValues(t, 4, body.Value[0]["stage"])
	assert.EqualValues(t, 2, body.Value[1]["stage"])
}

func TestEntityQueryWithCount(t *testing.T) {
	srv := newTestServer(t)
	var body struct {
		Count    *int64                   `json:"@odata.count"`
		Value    []map[string]interface{} `json:"value"`
		NextLink string                   `json:"@odata.nextLink"`
	}
	resp := getJSON(t, srv.URL+"/odata/sa/outages?$top=2&$count=true", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, body.Count)
	assert.EqualValues(t, 3, *body.Count)
	assert.Len(t, body.Value, 2)
	assert.Contains(t, body.NextLink, "/odata/sa/outages?")
}

// The envelope is buffered by default; $stream=true switches to chunked
// delivery. Both modes return the same rows, but the streamed body writes
// the nextLink in the head, before the value array, while the buffered one
// closes with it.
func TestEntityDeliveryModes(t *testing.T) {
	srv := newTestServer(t)

	read := func(u string) string {
		resp, err := http.Get(u) //nolint:gosec // test server URL
		require.NoError(t, err)
		defer resp.Body.Close() //nolint:errcheck
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(b)
	}

	buffered := read(srv.URL + "/odata/sa/outages?$top=2&$count=true")
	streamed := read(srv.URL + "/odata/sa/outages?$top=2&$count=true&$stream=true")

	type envelope struct {
		Count    *int64                   `json:"@odata.count"`
		Value    []map[string]interface{} `json:"value"`
		NextLink string                   `json:"@odata.nextLink"`
	}
	var buf, str envelope
	require.NoError(t, json.Unmarshal([]byte(buffered), &buf))
	require.NoError(t, json.Unmarshal([]byte(streamed), &str))

	require.NotNil(t, buf.Count)
	require.NotNil(t, str.Count)
	assert.EqualValues(t, 3, *buf.Count)
	assert.EqualValues(t, 3, *str.Count)
	assert.Len(t, buf.Value, 2)
	assert.Len(t, str.Value, 2)
	// The streamed next page keeps the delivery mode.
	assert.Contains(t, str.NextLink, "%24stream=true")
	assert.NotContains(t, buf.NextLink, "%24stream")

	assert.Greater(t, strings.Index(buffered, `"@odata.nextLink"`), strings.Index(buffered, `"value"`))
	assert.Less(t, strings.Index(streamed, `"@odata.nextLink"`), strings.Index(streamed, `"value"`))
}

func TestSourceViewQuery(t *testing.T) {
	srv := newTestServer(t)
	var body struct {
		Context string                   `json:"@odata.context"`
		Value   []map[string]interface{} `json:"value"`
	}
	resp := getJSON(t, srv.URL+"/odata/sa/outages/areas", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/odata/$metadata#sa/outages/areas", body.Context)
	assert.Len(t, body.Value, 2)
}

func TestUnknownRouteIs404(t *testing.T) {
	srv := newTestServer(t)
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	resp := getJSON(t, srv.URL+"/odata/no/such/product", &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "404", body.Error.Code)
}

func TestReloadEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Post(srv.URL+"/internal/reload-config", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reloaded", body["status"])
	assert.Equal(t, "local-cr", body["mode"])
	assert.EqualValues(t, 1, body["loaded"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequestIDEchoed(t *testing.T) {
	srv := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "fixed-id")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "fixed-id", resp.Header.Get("X-Request-ID"))
}
