package security

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// EntitlementsBackend answers whether an application may read a dataset.
// Implementations fail closed: any lookup error denies.
type EntitlementsBackend interface {
	IsAllowed(ctx context.Context, appID, datasetID string) bool
}

// NoopBackend allows every app to read every dataset. Used when
// entitlements are switched off.
type NoopBackend struct{}

// IsAllowed always returns true.
func (NoopBackend) IsAllowed(context.Context, string, string) bool { return true }

// StaticFileBackend reads app->dataset grants from a YAML file, re-reading
// it at most once per reload interval:
//
//	apps:
//	  "app-1":
//	    - southafrica-scheduled-outage-dataset
type StaticFileBackend struct {
	path     string
	interval time.Duration
	log      *slog.Logger

	mu         sync.Mutex
	mapping    map[string]map[string]bool
	lastLoaded time.Time
}

// NewStaticFileBackend creates a backend over the given grants file and
// performs the initial load. interval <= 0 defaults to 30s.
func NewStaticFileBackend(path string, interval time.Duration, log *slog.Logger) *StaticFileBackend {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	b := &StaticFileBackend{path: path, interval: interval, log: log}
	b.load()
	return b
}

func (b *StaticFileBackend) load() {
	var raw struct {
		Apps map[string][]string `yaml:"apps"`
	}
	data, err := os.ReadFile(b.path) //nolint:gosec // operator-controlled path
	if err != nil {
		if os.IsNotExist(err) {
			b.log.Warn("entitlements file not found", "path", b.path)
		} else {
			b.log.Error("reading entitlements file", "path", b.path, "error", err)
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		b.log.Error("parsing entitlements file", "path", b.path, "error", err)
	}

	mapping := make(map[string]map[string]bool, len(raw.Apps))
	for app, datasets := range raw.Apps {
		set := make(map[string]bool, len(datasets))
		for _, d := range datasets {
			set[d] = true
		}
		mapping[app] = set
	}

	b.mu.Lock()
	b.mapping = mapping
	b.lastLoaded = time.Now()
	b.mu.Unlock()

	b.log.Info("loaded entitlements", "path", b.path, "apps", len(mapping))
}

// IsAllowed reports whether appID is granted datasetID, refreshing the file
// first when the reload interval has elapsed.
func (b *StaticFileBackend) IsAllowed(_ context.Context, appID, datasetID string) bool {
	b.mu.Lock()
	stale := time.Since(b.lastLoaded) >= b.interval
	b.mu.Unlock()
	if stale {
		b.load()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapping[appID][datasetID]
}

// HTTPBackend asks an external entitlements service:
//
//	GET {base}/entitlements?app_id=...&dataset_id=...
//	200 -> {"allowed": true|false}
//
// Any transport or decode failure denies.
type HTTPBackend struct {
	base   string
	client *http.Client
	log    *slog.Logger
}

// NewHTTPBackend creates a backend against the given base URL. timeout <= 0
// defaults to 2s.
func NewHTTPBackend(baseURL string, timeout time.Duration, log *slog.Logger) *HTTPBackend {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPBackend{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// IsAllowed queries the entitlements service, failing closed on any error.
func (b *HTTPBackend) IsAllowed(ctx context.Context, appID, datasetID string) bool {
	q := url.Values{}
	q.Set("app_id", appID)
	q.Set("dataset_id", datasetID)
	endpoint := b.base + "/entitlements?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		b.log.Error("building entitlements request", "error", err)
		return false
	}
	resp, err := b.client.Do(req)
	if err != nil {
		b.log.Error("calling entitlements service", "app_id", appID, "dataset_id", datasetID, "error", err)
		return false
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		b.log.Error("entitlements service returned non-200",
			"status", resp.StatusCode, "app_id", appID, "dataset_id", datasetID)
		return false
	}

	var body struct {
		Allowed bool `json:"allowed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		b.log.Error("decoding entitlements response", "error", err)
		return false
	}
	return body.Allowed
}

// EntitlementsOptions selects and configures the entitlements backend.
type EntitlementsOptions struct {
	Mode        string // "off", "static", "http"
	StaticFile  string
	HTTPBaseURL string
	HTTPTimeout time.Duration
}

// NewEntitlementsBackend builds the backend for the configured mode. A mode
// whose required setting is missing falls back to off with a warning;
// an unknown mode is an error.
func NewEntitlementsBackend(opts EntitlementsOptions, log *slog.Logger) (EntitlementsBackend, error) {
	switch strings.ToLower(opts.Mode) {
	case "", "off":
		return NoopBackend{}, nil
	case "static":
		if opts.StaticFile == "" {
			log.Warn("entitlements mode is static but no file configured, allowing all")
			return NoopBackend{}, nil
		}
		return NewStaticFileBackend(opts.StaticFile, 0, log), nil
	case "http":
		if opts.HTTPBaseURL == "" {
			log.Warn("entitlements mode is http but no base URL configured, allowing all")
			return NoopBackend{}, nil
		}
		return NewHTTPBackend(opts.HTTPBaseURL, opts.HTTPTimeout, log), nil
	default:
		return nil, fmt.Errorf("unknown entitlements mode %q", opts.Mode)
	}
}
