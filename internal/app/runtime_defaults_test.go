package app

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyRuntimeDefaultsFillsBlankValues(t *testing.T) {
	cfg := &Config{}
	cfg.RateLimit.Enabled = true
	cfg.Maintenance.Enabled = true

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, CacheBackendRedis, cfg.Cache.Backend)
	require.Equal(t, "hibp", cfg.Cache.Namespace)
	require.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	require.Equal(t, 30, cfg.RateLimit.Requests)
	require.Equal(t, time.Minute, cfg.RateLimit.Window)
	require.Equal(t, "@hourly", cfg.Maintenance.CachePruneSchedule)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.True(t, generated["cache.backend"])
	require.True(t, generated["ratelimit.requests"])
}

func TestApplyRuntimeDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 9000, ShutdownTimeout: time.Second},
		Cache:  CacheConfig{Backend: " Memory ", Namespace: "pwned", TTL: time.Hour},
		Monitoring: MonitoringConfig{
			Prometheus: PrometheusConfig{Endpoint: "/internal/metrics"},
		},
	}

	generated, err := ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.Empty(t, generated)
	require.Equal(t, CacheBackendMemory, cfg.Cache.Backend)
}

func TestApplyRuntimeDefaultsRejectsInvalidValues(t *testing.T) {
	_, err := ApplyRuntimeDefaults(&Config{Cache: CacheConfig{Backend: "memcached"}})
	require.ErrorContains(t, err, "unsupported backend")

	_, err = ApplyRuntimeDefaults(&Config{Upstream: UpstreamConfig{MaxRetries: -1}})
	require.ErrorContains(t, err, "upstream.max_retries")
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "config is nil"))
}
