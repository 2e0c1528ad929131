package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/breachrange/internal/app"
	"github.com/charlesng35/breachrange/internal/monitoring"
)

// MonitoringHandler surfaces lookup, upstream and cache statistics.
type MonitoringHandler struct {
	module *monitoring.Module
	cfg    *app.Config
}

// NewMonitoringHandler constructs a monitoring handler. Returns nil when monitoring is disabled.
func NewMonitoringHandler(module *monitoring.Module, cfg *app.Config) *MonitoringHandler {
	if module == nil || cfg == nil {
		return nil
	}
	if !cfg.Monitoring.Health.Enabled && !cfg.Monitoring.Prometheus.Enabled {
		return nil
	}
	return &MonitoringHandler{module: module, cfg: cfg}
}

// Summary returns aggregated monitoring statistics and configuration hints.
func (h *MonitoringHandler) Summary(c *gin.Context) {
	snapshot := monitoring.Snapshot()
	endpoint := strings.TrimSpace(h.cfg.Monitoring.Prometheus.Endpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"summary": snapshot,
			"cache": gin.H{
				"backend":   h.cfg.Cache.Backend,
				"namespace": h.cfg.Cache.Namespace,
				"ttl":       h.cfg.Cache.TTL.String(),
			},
			"prometheus": gin.H{
				"enabled":  h.cfg.Monitoring.Prometheus.Enabled,
				"endpoint": endpoint,
			},
		},
	})
}
