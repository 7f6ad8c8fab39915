package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, key := range []string{"DP_LOCAL_CR", "DP_METADATA_PATH", "CONFIG_DIR", "LISTEN_ADDR", "LOG_LEVEL", "ENV"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ".", cfg.RepoRoot)
	assert.Equal(t, float64(100), cfg.RateLimitRPS)
	assert.Equal(t, 200, cfg.RateLimitBurst)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "azp", cfg.Auth.AppIDClaim)
	assert.Equal(t, "off", cfg.Auth.EntitlementsMode)
	assert.False(t, cfg.Auth.Enabled)
	// No declaration source configured is a warning, not an error.
	assert.NotEmpty(t, cfg.Warnings)
}

func TestLoadFromEnvSources(t *testing.T) {
	t.Setenv("DP_LOCAL_CR", "/tmp/dp.yaml")
	t.Setenv("DP_REPO_ROOT", "/data")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WATCH_CONFIG", "true")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dp.yaml", cfg.LocalCRPath)
	assert.Equal(t, "/data", cfg.RepoRoot)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.True(t, cfg.WatchConfig)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Empty(t, cfg.Warnings)
}

func TestLoadFromEnvAuthRequiresAValidator(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	_, err := LoadFromEnv()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "dev-secret")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Enabled)
}

func TestProductionRejectsCORSWildcard(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CONFIG_DIR", "/etc/dataproducts")
	_, err := LoadFromEnv()
	require.Error(t, err)

	t.Setenv("CORS_ALLOWED_ORIGINS", "https://portal.example.com")
	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, []string{"https://portal.example.com"}, cfg.CORSAllowedOrigins)
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), "level %q", in)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte(`
# comment
DPHUB_TEST_A=plain
DPHUB_TEST_B="quoted value"
DPHUB_TEST_C='single'
not-a-pair
`), 0o600))

	t.Setenv("DPHUB_TEST_A", "")
	t.Setenv("DPHUB_TEST_B", "")
	t.Setenv("DPHUB_TEST_C", "preset")

	// Already-set variables win over the file.
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "plain", os.Getenv("DPHUB_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("DPHUB_TEST_B"))
	assert.Equal(t, "preset", os.Getenv("DPHUB_TEST_C"))

	// A missing file is not an error.
	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))
}
