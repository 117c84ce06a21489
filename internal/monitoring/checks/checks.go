package checks

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/charlesng35/robotdesk/internal/monitoring"
)

const defaultMaintenanceMaxAge = 48 * time.Hour

// Database pings the primary database. A missing handle is reported down.
func Database(db *gorm.DB) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		return monitoring.ResultFromError(err, time.Since(start))
	})
}

// Redis probes the shared cache. When Redis is disabled the probe is up; when it is enabled but
// no client could be created the rate limiter runs on the database and the probe is degraded.
func Redis(client *redis.Client, enabled bool) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		switch {
		case !enabled:
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		case client == nil:
			return monitoring.ProbeResult{Status: monitoring.StatusDegraded, Details: "redis unavailable; using database fallback"}
		}

		result := monitoring.ResultFromError(client.Ping(ctx).Err(), time.Since(start))
		if result.Status == monitoring.StatusDown {
			// the database fallback keeps serving rate limits
			result.Status = monitoring.StatusDegraded
		}
		return result
	})
}

// Maintenance reports failing or stale background jobs. Jobs that have not run yet are listed
// without affecting the status. maxAge of zero uses 48h, which covers a daily schedule.
func Maintenance(tracker *monitoring.JobTracker, maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}

	return monitoring.NewCheck("maintenance", func(context.Context) monitoring.ProbeResult {
		jobs := tracker.Snapshot()
		if len(jobs) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "no maintenance jobs registered"}
		}

		now := tracker.Now()
		status := monitoring.StatusUp
		var notes []string
		for _, job := range jobs {
			switch {
			case job.TotalRuns == 0:
				notes = append(notes, job.Job+": pending first run")
			case job.ConsecutiveFailures > 0:
				status = monitoring.WorstStatus(status, monitoring.StatusDown)
				notes = append(notes, job.Job+": "+job.LastError)
			case now.Sub(job.LastRunAt) > maxAge:
				status = monitoring.WorstStatus(status, monitoring.StatusDegraded)
				notes = append(notes, job.Job+": stale run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{Status: status, Details: strings.Join(notes, "; ")}
	})
}
