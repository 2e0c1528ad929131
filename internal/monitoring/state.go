package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

type statStore struct {
	lookupHit     atomic.Uint64
	lookupMiss    atomic.Uint64
	lookupStale   atomic.Uint64
	lookupError   atomic.Uint64
	lookupInvalid atomic.Uint64

	upstreamSuccess     atomic.Uint64
	upstreamRateLimited atomic.Uint64
	upstreamFailure     atomic.Uint64
	upstreamLastFailure atomic.Value // *FailureRecord

	cacheGetErrors atomic.Uint64
	cacheSetErrors atomic.Uint64

	throttled atomic.Uint64

	maintenance sync.Map // string -> *maintenanceStats
}

func newStatStore() *statStore {
	store := &statStore{}
	store.upstreamLastFailure.Store((*FailureRecord)(nil))
	return store
}

func (s *statStore) cloneMaintenance() []MaintenanceJobSummary {
	summaries := []MaintenanceJobSummary{}
	s.maintenance.Range(func(key, value any) bool {
		job := key.(string)
		stats := value.(*maintenanceStats)
		summaries = append(summaries, stats.snapshot(job))
		return true
	})
	return summaries
}

func (s *statStore) summary() Summary {
	lastFailure, _ := s.upstreamLastFailure.Load().(*FailureRecord)

	hits := s.lookupHit.Load()
	misses := s.lookupMiss.Load()
	stale := s.lookupStale.Load()
	var hitRatio float64
	if served := hits + misses + stale; served > 0 {
		hitRatio = float64(hits+stale) / float64(served)
	}

	return Summary{
		GeneratedAt: time.Now(),
		Lookups: LookupSummary{
			Hit:      hits,
			Miss:     misses,
			Stale:    stale,
			Error:    s.lookupError.Load(),
			Invalid:  s.lookupInvalid.Load(),
			HitRatio: hitRatio,
		},
		Upstream: UpstreamSummary{
			Success:     s.upstreamSuccess.Load(),
			RateLimited: s.upstreamRateLimited.Load(),
			Failure:     s.upstreamFailure.Load(),
			LastFailure: lastFailure,
		},
		Cache: CacheSummary{
			GetErrors: s.cacheGetErrors.Load(),
			SetErrors: s.cacheSetErrors.Load(),
		},
		Throttled: s.throttled.Load(),
		Maintenance: MaintenanceSummary{
			Jobs: s.cloneMaintenance(),
		},
	}
}

func (s *statStore) recordLookup(outcome string) {
	switch outcome {
	case LookupHit:
		s.lookupHit.Add(1)
	case LookupMiss:
		s.lookupMiss.Add(1)
	case LookupStale:
		s.lookupStale.Add(1)
	case LookupInvalid:
		s.lookupInvalid.Add(1)
	default:
		s.lookupError.Add(1)
	}
}

func (s *statStore) recordUpstream(result, message string) {
	switch result {
	case "success":
		s.upstreamSuccess.Add(1)
		return
	case "rate_limited":
		s.upstreamRateLimited.Add(1)
	default:
		s.upstreamFailure.Add(1)
	}
	s.upstreamLastFailure.Store(&FailureRecord{
		Type:     result,
		Message:  message,
		Occurred: time.Now(),
	})
}

func (s *statStore) recordCache(operation, result string) {
	if result != "error" {
		return
	}
	switch operation {
	case "get":
		s.cacheGetErrors.Add(1)
	case "set":
		s.cacheSetErrors.Add(1)
	}
}

func (s *statStore) maintenanceEntry(job string) *maintenanceStats {
	value, ok := s.maintenance.Load(job)
	if ok {
		return value.(*maintenanceStats)
	}
	stats := &maintenanceStats{}
	actual, _ := s.maintenance.LoadOrStore(job, stats)
	return actual.(*maintenanceStats)
}

type maintenanceStats struct {
	lastStatus           atomic.Value // string
	lastError            atomic.Value // string
	lastRun              atomic.Int64 // unix nano
	lastDuration         atomic.Int64 // nanoseconds
	consecutiveFailures  atomic.Uint64
	totalRuns            atomic.Uint64
	lastSuccessfulRun    atomic.Int64
	consecutiveSuccesses atomic.Uint64
}

func (m *maintenanceStats) snapshot(job string) MaintenanceJobSummary {
	status, _ := m.lastStatus.Load().(string)
	errMsg, _ := m.lastError.Load().(string)

	return MaintenanceJobSummary{
		Job:                 job,
		LastStatus:          status,
		LastRunAt:           time.Unix(0, m.lastRun.Load()),
		LastDuration:        time.Duration(m.lastDuration.Load()),
		LastError:           errMsg,
		ConsecutiveFailures: m.consecutiveFailures.Load(),
		ConsecutiveSuccess:  m.consecutiveSuccesses.Load(),
		LastSuccessAt:       time.Unix(0, m.lastSuccessfulRun.Load()),
		TotalRuns:           m.totalRuns.Load(),
	}
}

func (m *maintenanceStats) record(result, message string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	now := time.Now()
	m.lastStatus.Store(result)
	m.lastError.Store(message)
	m.lastRun.Store(now.UnixNano())
	m.lastDuration.Store(int64(duration))
	m.totalRuns.Add(1)

	switch result {
	case "success":
		m.consecutiveFailures.Store(0)
		m.consecutiveSuccesses.Add(1)
		m.lastSuccessfulRun.Store(now.UnixNano())
	default:
		m.consecutiveFailures.Add(1)
		m.consecutiveSuccesses.Store(0)
	}
}
