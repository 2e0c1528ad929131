package monitoring

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "breachrange"

// Options control monitoring module configuration.
type Options struct {
	// Namespace prefixes every metric name. Defaults to "breachrange".
	Namespace string
	// CacheBackend, when set, is exported as the backend label of cache_backend_info.
	CacheBackend string
	// DisableRuntimeCollectors skips the Go runtime and process collectors.
	DisableRuntimeCollectors bool
}

// Module owns the Prometheus registry, the summary counters and the health probes of one
// service instance.
type Module struct {
	registry *prometheus.Registry
	metrics  *collectors
	stats    *statStore
	health   *HealthManager
}

// NewModule constructs a monitoring module with its own Prometheus registry.
func NewModule(opts Options) (*Module, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	registry := prometheus.NewRegistry()
	if !opts.DisableRuntimeCollectors {
		if err := registry.Register(prometheus.NewGoCollector()); err != nil {
			return nil, err
		}
		if err := registry.Register(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace})); err != nil {
			return nil, err
		}
	}

	metrics := newCollectors(namespace)
	for _, collector := range metrics.all() {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	if opts.CacheBackend != "" {
		info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_backend_info",
			Help:      "Configured range cache backend",
		}, []string{"backend"})
		info.WithLabelValues(normalizeLabel(opts.CacheBackend)).Set(1)
		if err := registry.Register(info); err != nil {
			return nil, err
		}
	}

	return &Module{
		registry: registry,
		metrics:  metrics,
		stats:    newStatStore(),
		health:   NewHealthManager(),
	}, nil
}

// Handler serves the module's registry in the Prometheus exposition format.
func (m *Module) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Health exposes the liveness and readiness probes.
func (m *Module) Health() *HealthManager {
	if m == nil {
		return nil
	}
	return m.health
}

var globalModule atomic.Pointer[Module]

// SetModule installs the module used by the Record* helpers. A nil module is ignored.
func SetModule(module *Module) {
	if module == nil {
		return
	}
	globalModule.Store(module)
}

// ensureModule returns the installed module, or nil before SetModule is called.
func ensureModule() *Module {
	return globalModule.Load()
}
