package monitoring

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/charlesng35/robotdesk/pkg/metrics"
)

// JobSummary is the latest known state of a background job.
type JobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	TotalRuns           uint64        `json:"total_runs"`
}

// JobTracker remembers the outcome of maintenance runs so readiness probes can report stale or failing jobs.
type JobTracker struct {
	mu    sync.Mutex
	clock clockwork.Clock
	jobs  map[string]*JobSummary
}

// NewJobTracker constructs an empty tracker. A nil clock uses wall time.
func NewJobTracker(clock clockwork.Clock) *JobTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &JobTracker{clock: clock, jobs: make(map[string]*JobSummary)}
}

// Register makes job visible as pending before its first run.
func (t *JobTracker) Register(job string) {
	if t == nil {
		return
	}
	job = normalizeJob(job)
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[job]; !ok {
		t.jobs[job] = &JobSummary{Job: job}
	}
}

// RecordRun stores the outcome of one execution of job.
func (t *JobTracker) RecordRun(job string, err error, duration time.Duration) {
	if t == nil {
		return
	}
	job = normalizeJob(job)
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.MaintenanceRuns.WithLabelValues(job, result).Inc()

	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.jobs[job]
	if !ok {
		entry = &JobSummary{Job: job}
		t.jobs[job] = entry
	}
	entry.TotalRuns++
	entry.LastStatus = result
	entry.LastRunAt = now
	entry.LastDuration = duration
	if err != nil {
		entry.ConsecutiveFailures++
		entry.LastError = err.Error()
		return
	}
	entry.ConsecutiveFailures = 0
	entry.LastError = ""
	entry.LastSuccessAt = now
}

// Snapshot returns a copy of every tracked job ordered by name.
func (t *JobTracker) Snapshot() []JobSummary {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]JobSummary, 0, len(t.jobs))
	for _, entry := range t.jobs {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// Now exposes the tracker clock to probes.
func (t *JobTracker) Now() time.Time {
	return t.clock.Now()
}

func normalizeJob(job string) string {
	job = strings.ToLower(strings.TrimSpace(job))
	if job == "" {
		return "unknown"
	}
	return job
}
