package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/breachrange/internal/app"
	"github.com/charlesng35/breachrange/internal/cache"
	"github.com/charlesng35/breachrange/internal/upstream"
)

const passwordSuffix = "1E4C9B93F3F0682250B6CF8331B7EE68FD8"

func newUpstream(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprintf(w, "%s:3861493\r\n0018A45C4D1DEF81644B54AB7F969B88D65:1\r\n", passwordSuffix)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func memoryConfig(baseURL string) *app.Config {
	cfg := &app.Config{
		Cache:     app.CacheConfig{Backend: app.CacheBackendMemory},
		Upstream:  app.UpstreamConfig{BaseURL: baseURL, MaxRetries: 1, BackoffBase: time.Millisecond},
		Resolver:  app.ResolverConfig{Coalesce: true},
		RateLimit: app.RateLimitConfig{Enabled: true},
		Maintenance: app.MaintenanceConfig{
			Enabled: true,
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
	return cfg
}

func TestBootstrapRuntimeServesLookups(t *testing.T) {
	srv, calls := newUpstream(t)
	cfg := memoryConfig(srv.URL)
	_, err := app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Shutdown(context.Background(), zap.NewNop()) })

	require.NotNil(t, stack.Router)
	require.NotNil(t, stack.RateStore)
	require.True(t, stack.Cleaner.Enabled())

	for i, wantHit := range []bool{false, true} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/pwned-range", strings.NewReader(`{"prefix":"5baa6"}`))
		req.Header.Set("Content-Type", "application/json")
		stack.Router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var payload struct {
			Prefix   string `json:"prefix"`
			CacheHit bool   `json:"cache_hit"`
			Results  []struct {
				Suffix string `json:"suffix"`
				Count  int    `json:"count"`
			} `json:"results"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
		require.Equal(t, "5BAA6", payload.Prefix)
		require.Equal(t, wantHit, payload.CacheHit, "request %d", i)
		require.Len(t, payload.Results, 2)
		require.Equal(t, passwordSuffix, payload.Results[0].Suffix)
		require.Equal(t, 3861493, payload.Results[0].Count)
	}
	require.Equal(t, int32(1), calls.Load())

	w := httptest.NewRecorder()
	stack.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Contains(t, w.Body.String(), `"component":"cache"`)
}

func TestOpenStoreDatabaseBackend(t *testing.T) {
	cfg := &app.Config{
		Cache: app.CacheConfig{Backend: app.CacheBackendDatabase},
		Database: app.DatabaseConfig{
			Driver: "sqlite",
			DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
		},
	}

	store, db, err := openStore(cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, db)
	t.Cleanup(func() { require.NoError(t, closeDatabase(db)) })

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "hibp:ABCDE", []byte(`[]`), time.Hour))
	entry, found, err := store.Get(ctx, "hibp:ABCDE")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte(`[]`), entry.Value)

	_, ok := store.(cache.Pruner)
	require.True(t, ok)
}

func TestOpenStoreRejectsUnknownBackend(t *testing.T) {
	_, _, err := openStore(&app.Config{Cache: app.CacheConfig{Backend: "memcached"}}, zap.NewNop())
	require.Error(t, err)
}

func TestBuildCoreSkipsPruneWhenMaintenanceDisabled(t *testing.T) {
	cfg := memoryConfig("http://127.0.0.1:1")
	cfg.Maintenance.Enabled = false

	stack, err := buildCore(cfg, zap.NewNop(), upstream.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = stack.Shutdown(context.Background(), zap.NewNop()) })

	require.False(t, stack.Cleaner.Enabled())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLookupCommandPrintsRange(t *testing.T) {
	srv, _ := newUpstream(t)
	path := writeConfig(t, fmt.Sprintf("cache:\n  backend: memory\nupstream:\n  base_url: %s\nserver:\n  log_level: error\n", srv.URL))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"lookup", "5baa6", "--config", path})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &payload))
	require.Equal(t, "5BAA6", payload["prefix"])
	require.Equal(t, false, payload["cache_hit"])
	require.Len(t, payload["results"], 2)
}

func TestLookupCommandRejectsInvalidPrefix(t *testing.T) {
	path := writeConfig(t, "cache:\n  backend: memory\nserver:\n  log_level: error\n")

	for _, prefix := range []string{"XYZ", " 5baa6 "} {
		cmd := newRootCommand()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetArgs([]string{"lookup", prefix, "--config", path})
		require.Error(t, cmd.ExecuteContext(context.Background()), prefix)
	}
}

func TestCheckCommandHashesPassword(t *testing.T) {
	srv, _ := newUpstream(t)
	path := writeConfig(t, fmt.Sprintf("cache:\n  backend: memory\nupstream:\n  base_url: %s\nserver:\n  log_level: error\n", srv.URL))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("password\n"))
	cmd.SetArgs([]string{"check", "--config", path})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	require.JSONEq(t, `{"pwned":true,"count":3861493}`, out.String())
}

func TestLoadApplicationConfig(t *testing.T) {
	path := writeConfig(t, "cache:\n  backend: memory\n  namespace: test\n")

	cfg, err := loadApplicationConfig(path)
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Cache.Backend)
	require.Equal(t, "test", cfg.Cache.Namespace)

	cfg, err = loadApplicationConfig(filepath.Dir(path))
	require.NoError(t, err)
	require.Equal(t, "test", cfg.Cache.Namespace)

	_, err = loadApplicationConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestReadSecret(t *testing.T) {
	secret, err := readSecret(strings.NewReader(""), []string{"hunter2"})
	require.NoError(t, err)
	require.Equal(t, "hunter2", secret)

	secret, err = readSecret(strings.NewReader("from stdin\r\n"), []string{"-"})
	require.NoError(t, err)
	require.Equal(t, "from stdin", secret)

	_, err = readSecret(strings.NewReader(""), nil)
	require.Error(t, err)
}
