package monitoring

import (
	"strings"
	"time"
)

// Lookup outcomes recorded by RecordLookup.
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupStale   = "stale"
	LookupError   = "error"
	LookupInvalid = "invalid"
)

// ObserveAPILatency captures the HTTP request latency for the supplied route.
func ObserveAPILatency(method, path, status string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "UNKNOWN"
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = "unknown"
	}
	module.metrics.apiLatency.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordThrottled counts a request rejected by the request rate limiter.
func RecordThrottled(path string) {
	module := ensureModule()
	if module == nil {
		return
	}
	path = sanitizePath(path)
	if path == "" {
		path = "unknown"
	}
	module.metrics.throttled.WithLabelValues(path).Inc()
	module.stats.throttled.Add(1)
}

// RecordLookup records the outcome and latency of a resolver lookup.
func RecordLookup(outcome string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(outcome)
	module.metrics.lookups.WithLabelValues(label).Inc()
	observeDuration(module.metrics.lookupLatency.WithLabelValues(label), duration)
	module.stats.recordLookup(label)
}

// RecordUpstreamAttempt records one outbound attempt against the range API.
// message is kept as the last failure when result is not "success".
func RecordUpstreamAttempt(result, message string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	label := normalizeLabel(result)
	module.metrics.upstreamAttempts.WithLabelValues(label).Inc()
	observeDuration(module.metrics.upstreamLatency, duration)
	module.stats.recordUpstream(label, strings.TrimSpace(message))
}

// RecordCacheOperation records a range cache get, set or delete outcome.
func RecordCacheOperation(operation, result string) {
	module := ensureModule()
	if module == nil {
		return
	}
	op := normalizeLabel(operation)
	res := normalizeLabel(result)
	module.metrics.cacheOperations.WithLabelValues(op, res).Inc()
	module.stats.recordCache(op, res)
}

// RecordMaintenanceRun records the completion of a maintenance job.
func RecordMaintenanceRun(job, result, message string, duration time.Duration) {
	module := ensureModule()
	if module == nil {
		return
	}
	jobID := normalizeLabel(job)
	result = normalizeLabel(result)
	module.metrics.maintenanceRuns.WithLabelValues(jobID, result).Inc()
	observeDuration(module.metrics.maintenanceDuration.WithLabelValues(jobID), duration)
	if result == "success" {
		module.metrics.maintenanceLastRun.WithLabelValues(jobID).Set(float64(time.Now().Unix()))
	}
	stats := module.stats.maintenanceEntry(jobID)
	stats.record(result, strings.TrimSpace(message), duration)
}

func normalizeLabel(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return "unknown"
	}
	return value
}

func sanitizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "/" {
		return "root"
	}
	path = strings.Trim(path, "/")
	return strings.ReplaceAll(path, " ", "_")
}
