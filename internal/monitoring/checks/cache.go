package checks

import (
	"context"
	"time"

	"github.com/charlesng35/breachrange/internal/monitoring"
)

const defaultCacheTimeout = 2 * time.Second

// Pinger represents the minimal interface required to probe a cache backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Cache returns a readiness probe for the range cache backend. A failing cache only
// degrades readiness: lookups still reach the upstream API without it.
func Cache(backend string, client Pinger, timeout time.Duration) monitoring.Check {
	return monitoring.NewAdvisoryCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if client == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "cache not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultCacheTimeout))
		defer cancel()

		if err := client.Ping(probeCtx); err != nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  backend + ": " + err.Error(),
				Duration: time.Since(start),
			}
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  backend,
			Duration: time.Since(start),
		}
	})
}

func chooseTimeout(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
