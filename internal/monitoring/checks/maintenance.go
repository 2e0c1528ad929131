package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/breachrange/internal/monitoring"
)

const defaultMaintenanceMaxAge = 6 * time.Hour

// Maintenance reports on the background cache jobs. Jobs that keep failing or have not
// run within maxAge (6h when zero) degrade the report; lookups are unaffected either way.
func Maintenance(maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewAdvisoryCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		jobs := monitoring.Snapshot().Maintenance.Jobs
		if len(jobs) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no runs recorded yet"}
		}

		now := time.Now()
		status := monitoring.StatusUp
		var notes []string
		for _, job := range jobs {
			switch {
			case job.ConsecutiveFailures > 0:
				status = monitoring.StatusDegraded
				notes = append(notes, fmt.Sprintf("%s: %d consecutive failures (%s)", job.Job, job.ConsecutiveFailures, job.LastError))
			case !job.LastRunAt.IsZero() && now.Sub(job.LastRunAt) > maxAge:
				status = monitoring.StatusDegraded
				notes = append(notes, job.Job+": last run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{Status: status, Details: strings.Join(notes, "; ")}
	})
}
