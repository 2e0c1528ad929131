package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/breachrange/internal/app"
	"github.com/charlesng35/breachrange/internal/handlers"
	"github.com/charlesng35/breachrange/internal/middleware"
	"github.com/charlesng35/breachrange/internal/monitoring"
)

// NewRouter builds the Gin engine, wires middleware and registers the lookup, health and
// metrics routes. rates may be nil to disable request throttling.
func NewRouter(cfg *app.Config, resolver handlers.Lookuper, rates middleware.RateStore, mon *monitoring.Module) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver must be provided")
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server.trusted_proxies: %w", err)
	}

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	r.GET("/", handlers.Root())
	registerHealthRoutes(r, cfg, mon)

	if !cfg.RateLimit.Enabled {
		rates = nil
	}
	v1 := r.Group("/api/v1")
	registerPwnedRoutes(v1, handlers.NewPwnedHandler(resolver), middleware.RateLimit(rates, cfg.RateLimit.Requests, cfg.RateLimit.Window))
	registerMonitoringRoutes(v1, handlers.NewMonitoringHandler(mon, cfg))

	if mon != nil && cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(mon.Handler()))
	}

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
