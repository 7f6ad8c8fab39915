// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// AuthConfig holds authentication and entitlement configuration.
type AuthConfig struct {
	Enabled    bool   // master switch; off means every product is public
	IssuerURL  string // OIDC issuer URL
	JWKSURL    string // override JWKS URL (skips .well-known discovery)
	JWTSecret  string // HS256 shared secret for local/dev tokens
	Audience   string // required JWT audience claim
	AppIDClaim string // claim carrying the caller's application id (default "azp")

	// Entitlements backend: "off", "static", or "http".
	EntitlementsMode        string
	EntitlementsStaticFile  string
	EntitlementsHTTPBaseURL string
	EntitlementsHTTPTimeout time.Duration
}

// OIDCEnabled returns true when an external identity provider is configured.
func (a *AuthConfig) OIDCEnabled() bool {
	return a.IssuerURL != "" || a.JWKSURL != ""
}

// Config holds the runtime configuration of the hub.
type Config struct {
	// Declaration sources, checked in this precedence order.
	LocalCRPath  string // single DataProduct manifest (local/dev)
	MetadataPath string // JSON batch file (mounted ConfigMap)
	ConfigDir    string // directory of per-product YAML declarations
	RepoRoot     string // root that source parquet paths resolve against

	ListenAddr string // HTTP listen address (default ":8080")
	LogLevel   string // debug, info, warn, error (default "info")
	Env        string // "development" (default) or "production"

	// WatchConfig reloads the registry when the declaration source changes
	// on disk.
	WatchConfig bool

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins (default: ["*"])

	Auth AuthConfig

	// Warnings collects non-fatal findings from config loading, logged by
	// the caller once the logger exists.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LocalCRPath:  os.Getenv("DP_LOCAL_CR"),
		MetadataPath: os.Getenv("DP_METADATA_PATH"),
		ConfigDir:    os.Getenv("CONFIG_DIR"),
		RepoRoot:     os.Getenv("DP_REPO_ROOT"),
		ListenAddr:   os.Getenv("LISTEN_ADDR"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		Env:          os.Getenv("ENV"),
		WatchConfig:  parseBoolEnvDefault("WATCH_CONFIG", false),
	}

	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}

	cfg.Auth = AuthConfig{
		Enabled:                 parseBoolEnvDefault("AUTH_ENABLED", false),
		IssuerURL:               os.Getenv("AUTH_ISSUER_URL"),
		JWKSURL:                 os.Getenv("AUTH_JWKS_URL"),
		JWTSecret:               os.Getenv("JWT_SECRET"),
		Audience:                os.Getenv("AUTH_AUDIENCE"),
		AppIDClaim:              os.Getenv("AUTH_APP_ID_CLAIM"),
		EntitlementsMode:        os.Getenv("ENTITLEMENTS_MODE"),
		EntitlementsStaticFile:  os.Getenv("ENTITLEMENTS_STATIC_FILE"),
		EntitlementsHTTPBaseURL: os.Getenv("ENTITLEMENTS_HTTP_BASE_URL"),
	}
	if v := os.Getenv("ENTITLEMENTS_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.EntitlementsHTTPTimeout = d
		}
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RepoRoot == "" {
		cfg.RepoRoot = "."
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}
	if cfg.Auth.AppIDClaim == "" {
		cfg.Auth.AppIDClaim = "azp"
	}
	if cfg.Auth.EntitlementsMode == "" {
		cfg.Auth.EntitlementsMode = "off"
	}
	if cfg.Auth.EntitlementsHTTPTimeout == 0 {
		cfg.Auth.EntitlementsHTTPTimeout = 2 * time.Second
	}

	if cfg.LocalCRPath == "" && cfg.MetadataPath == "" && cfg.ConfigDir == "" {
		cfg.Warnings = append(cfg.Warnings,
			"no declaration source configured; set DP_LOCAL_CR, DP_METADATA_PATH, or CONFIG_DIR")
	}
	if cfg.Auth.Enabled && !cfg.Auth.OIDCEnabled() && cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("AUTH_ENABLED=true requires AUTH_ISSUER_URL, AUTH_JWKS_URL, or JWT_SECRET")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.Auth.Enabled && !cfg.Auth.OIDCEnabled() {
			return nil, fmt.Errorf("an OIDC provider must be configured in production (set AUTH_ISSUER_URL or AUTH_JWKS_URL)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
	}

	return cfg, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch v {
	case "":
		return defaultVal
	case "0", "false", "no", "off":
		return false
	case "1", "true", "yes", "on":
		return true
	default:
		return defaultVal
	}
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be KEY=VALUE; comments (#) and blank lines are
// skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Real environment variables take precedence.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes, only when both
// ends match.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
