// Package health reports process and tracker health for the health endpoint.
package health

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/blink-tracker/backend/internal/tracker"
)

type State string

const (
	Healthy  State = "healthy"
	Degraded State = "degraded"
	Failed   State = "failed"
)

// Process holds resource usage of the server process. Fields are zero when
// the platform does not expose them.
type Process struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

type Report struct {
	Status              State          `json:"status"`
	Uptime              string         `json:"uptime"`
	Process             Process        `json:"process"`
	Tracker             tracker.Status `json:"tracker"`
	Sessions            uint64         `json:"sessions"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	LastFailure         string         `json:"last_failure,omitempty"`
	LastFailureAt       *time.Time     `json:"last_failure_at,omitempty"`
}

// StatusFunc returns the current tracker status.
type StatusFunc func() tracker.Status

// Reporter tracks consecutive session failures and samples the process.
// A run of failures at or above the threshold marks the service degraded;
// twice the threshold marks it failed.
type Reporter struct {
	status    StatusFunc
	threshold int
	started   time.Time
	proc      *process.Process

	mu          sync.Mutex
	sessions    uint64
	failures    int
	lastErr     string
	lastFailure time.Time
}

func NewReporter(status StatusFunc, threshold int) *Reporter {
	if threshold <= 0 {
		threshold = 3
	}
	r := &Reporter{status: status, threshold: threshold, started: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		r.proc = p
	}
	return r
}

// Record notes the result of a finished session.
func (r *Reporter) Record(res tracker.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions++
	if res.Outcome.Success() {
		r.failures = 0
		return
	}
	r.failures++
	r.lastErr = res.Message
	r.lastFailure = time.Now()
}

func (r *Reporter) state() State {
	switch {
	case r.failures >= 2*r.threshold:
		return Failed
	case r.failures >= r.threshold:
		return Degraded
	}
	return Healthy
}

// Snapshot builds a report. Process sampling honours ctx.
func (r *Reporter) Snapshot(ctx context.Context) Report {
	r.mu.Lock()
	rep := Report{
		Status:              r.state(),
		Uptime:              time.Since(r.started).Round(time.Second).String(),
		Sessions:            r.sessions,
		ConsecutiveFailures: r.failures,
		LastFailure:         r.lastErr,
	}
	if !r.lastFailure.IsZero() {
		at := r.lastFailure
		rep.LastFailureAt = &at
	}
	r.mu.Unlock()

	if r.status != nil {
		rep.Tracker = r.status()
	}
	rep.Process = r.sample(ctx)
	return rep
}

func (r *Reporter) sample(ctx context.Context) Process {
	if r.proc == nil {
		return Process{}
	}
	p := Process{PID: r.proc.Pid}
	if cpu, err := r.proc.CPUPercentWithContext(ctx); err == nil {
		p.CPUPercent = cpu
	}
	if mem, err := r.proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		p.RSSBytes = mem.RSS
	}
	if n, err := r.proc.NumThreadsWithContext(ctx); err == nil {
		p.Threads = n
	}
	return p
}
