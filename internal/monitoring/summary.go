package monitoring

import "time"

// Summary surfaces aggregated lookup, upstream and cache statistics.
type Summary struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Lookups     LookupSummary      `json:"lookups"`
	Upstream    UpstreamSummary    `json:"upstream"`
	Cache       CacheSummary       `json:"cache"`
	Throttled   uint64             `json:"throttled"`
	Maintenance MaintenanceSummary `json:"maintenance"`
}

type LookupSummary struct {
	Hit      uint64  `json:"hit"`
	Miss     uint64  `json:"miss"`
	Stale    uint64  `json:"stale"`
	Error    uint64  `json:"error"`
	Invalid  uint64  `json:"invalid"`
	HitRatio float64 `json:"hit_ratio"`
}

type FailureRecord struct {
	Type     string    `json:"type"`
	Message  string    `json:"message"`
	Occurred time.Time `json:"occurred_at"`
}

type UpstreamSummary struct {
	Success     uint64         `json:"success"`
	RateLimited uint64         `json:"rate_limited"`
	Failure     uint64         `json:"failure"`
	LastFailure *FailureRecord `json:"last_failure,omitempty"`
}

type CacheSummary struct {
	GetErrors uint64 `json:"get_errors"`
	SetErrors uint64 `json:"set_errors"`
}

type MaintenanceSummary struct {
	Jobs []MaintenanceJobSummary `json:"jobs"`
}

type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Snapshot returns a point-in-time summary from the current module when configured.
func Snapshot() Summary {
	if module := ensureModule(); module != nil && module.stats != nil {
		return module.stats.summary()
	}
	return Summary{GeneratedAt: time.Now()}
}
