package monitoring_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/breachrange/internal/monitoring"
	"github.com/charlesng35/breachrange/internal/monitoring/checks"
)

func setupModule(t *testing.T) *monitoring.Module {
	t.Helper()

	mod, err := monitoring.NewModule(monitoring.Options{})
	require.NoError(t, err)
	monitoring.SetModule(mod)
	return mod
}

func TestSummaryAggregatesLookups(t *testing.T) {
	setupModule(t)

	monitoring.RecordLookup(monitoring.LookupHit, time.Millisecond)
	monitoring.RecordLookup(monitoring.LookupHit, time.Millisecond)
	monitoring.RecordLookup(monitoring.LookupMiss, 300*time.Millisecond)
	monitoring.RecordLookup(monitoring.LookupStale, time.Second)
	monitoring.RecordLookup(monitoring.LookupError, time.Second)
	monitoring.RecordUpstreamAttempt("success", "", 200*time.Millisecond)
	monitoring.RecordUpstreamAttempt("rate_limited", "status 429", 50*time.Millisecond)
	monitoring.RecordCacheOperation("set", "error")
	monitoring.RecordThrottled("/api/v1/pwned-range")
	monitoring.RecordMaintenanceRun("cache_prune", "success", "", time.Second)

	summary := monitoring.Snapshot()
	require.Equal(t, uint64(2), summary.Lookups.Hit)
	require.Equal(t, uint64(1), summary.Lookups.Miss)
	require.Equal(t, uint64(1), summary.Lookups.Stale)
	require.Equal(t, uint64(1), summary.Lookups.Error)
	require.InDelta(t, 0.75, summary.Lookups.HitRatio, 0.0001)
	require.Equal(t, uint64(1), summary.Upstream.Success)
	require.Equal(t, uint64(1), summary.Upstream.RateLimited)
	require.NotNil(t, summary.Upstream.LastFailure)
	require.Equal(t, "rate_limited", summary.Upstream.LastFailure.Type)
	require.Equal(t, uint64(1), summary.Cache.SetErrors)
	require.Equal(t, uint64(1), summary.Throttled)
	require.Len(t, summary.Maintenance.Jobs, 1)
}

func TestModuleHandlerExposesCollectors(t *testing.T) {
	mod := setupModule(t)
	monitoring.RecordLookup(monitoring.LookupMiss, time.Millisecond)

	rec := httptest.NewRecorder()
	mod.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), `breachrange_range_lookups_total{outcome="miss"} 1`))
}

func TestHealthManagerEvaluate(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCacheCheckDegradesOnPingFailure(t *testing.T) {
	t.Parallel()

	check := checks.Cache("redis", pingFunc(func(context.Context) error {
		return errors.New("connection refused")
	}), time.Second)
	result := check.Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "redis")

	check = checks.Cache("memory", pingFunc(func(context.Context) error { return nil }), 0)
	require.Equal(t, monitoring.StatusUp, check.Run(context.Background()).Status)
}

func TestMaintenanceCheck(t *testing.T) {
	setupModule(t)

	monitoring.RecordMaintenanceRun("cache_prune", "failure", "timeout", time.Second)

	check := checks.Maintenance(0)
	require.True(t, check.Advisory)
	result := check.Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "cache_prune")
	require.Contains(t, result.Details, "timeout")
}

func TestAdvisoryCheckOnlyDegradesReport(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterReadiness(monitoring.NewCheck("upstream", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewAdvisoryCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "redis: connection refused"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.True(t, report.Success)
	require.Equal(t, monitoring.StatusDegraded, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "upstream", report.Checks[0].Component)
	require.Equal(t, "cache", report.Checks[1].Component)
	require.True(t, report.Checks[1].Advisory)
	require.False(t, report.CheckedAt.IsZero())
}

func TestHealthManagerRecoversPanickingProbe(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager()
	manager.RegisterLiveness(monitoring.NewCheck("boom", func(ctx context.Context) monitoring.ProbeResult {
		panic("probe exploded")
	}))

	report := manager.EvaluateLiveness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Contains(t, report.Checks[0].Details, "probe exploded")
	require.Equal(t, "boom", report.Checks[0].Component)
}

func TestModuleExportsCacheBackendInfo(t *testing.T) {
	mod, err := monitoring.NewModule(monitoring.Options{CacheBackend: "Redis", DisableRuntimeCollectors: true})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mod.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `breachrange_cache_backend_info{backend="redis"} 1`)
	require.NotContains(t, rec.Body.String(), "go_goroutines")
}
