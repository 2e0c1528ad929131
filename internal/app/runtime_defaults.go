package app

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultPort            = 8000
	defaultShutdownTimeout = 15 * time.Second
	defaultCacheNamespace  = "hibp"
	defaultCacheTTL        = 24 * time.Hour
	defaultRateRequests    = 30
	defaultRateWindow      = time.Minute
	defaultPruneSchedule   = "@hourly"
	defaultMetricsEndpoint = "/metrics"
)

// ApplyRuntimeDefaults fills settings left blank (for example by a config file that zeroes
// them) and rejects values the service cannot run with. It returns the keys it filled in so
// callers can log them.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	generated := make(map[string]bool)
	fill := func(key string, apply bool, set func()) {
		if apply {
			set()
			generated[key] = true
		}
	}

	fill("server.port", cfg.Server.Port <= 0, func() { cfg.Server.Port = defaultPort })
	fill("server.shutdown_timeout", cfg.Server.ShutdownTimeout <= 0, func() { cfg.Server.ShutdownTimeout = defaultShutdownTimeout })

	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	fill("cache.backend", cfg.Cache.Backend == "", func() { cfg.Cache.Backend = CacheBackendRedis })
	switch cfg.Cache.Backend {
	case CacheBackendRedis, CacheBackendDatabase, CacheBackendMemory:
	default:
		return nil, fmt.Errorf("cache.backend: unsupported backend %q", cfg.Cache.Backend)
	}
	fill("cache.namespace", strings.TrimSpace(cfg.Cache.Namespace) == "", func() { cfg.Cache.Namespace = defaultCacheNamespace })
	fill("cache.ttl", cfg.Cache.TTL <= 0, func() { cfg.Cache.TTL = defaultCacheTTL })
	if cfg.Cache.StaleRetention < 0 {
		return nil, fmt.Errorf("cache.stale_retention: must not be negative")
	}

	if cfg.Upstream.MaxRetries < 0 {
		return nil, fmt.Errorf("upstream.max_retries: must not be negative")
	}
	if cfg.Upstream.RateLimit < 0 {
		return nil, fmt.Errorf("upstream.rate_limit: must not be negative")
	}

	if cfg.RateLimit.Enabled {
		fill("ratelimit.requests", cfg.RateLimit.Requests <= 0, func() { cfg.RateLimit.Requests = defaultRateRequests })
		fill("ratelimit.window", cfg.RateLimit.Window <= 0, func() { cfg.RateLimit.Window = defaultRateWindow })
	}

	if cfg.Maintenance.Enabled {
		fill("maintenance.cache_prune_schedule", strings.TrimSpace(cfg.Maintenance.CachePruneSchedule) == "", func() {
			cfg.Maintenance.CachePruneSchedule = defaultPruneSchedule
		})
	}

	endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
	fill("monitoring.prometheus.endpoint", endpoint == "" || !strings.HasPrefix(endpoint, "/"), func() {
		cfg.Monitoring.Prometheus.Endpoint = defaultMetricsEndpoint
	})

	return generated, nil
}
