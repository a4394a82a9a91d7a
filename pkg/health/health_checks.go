package health

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"
)

// SimpleCheck creates a simple health check that always returns healthy
func SimpleCheck(name string) CheckFunc {
	return func(context.Context) Check {
		return Check{
			Name:   name,
			Status: StatusHealthy,
		}
	}
}

// PingCheck reports a dependency unhealthy when ping fails. Postgres pools
// and other connections with a Ping(ctx) method plug in directly.
func PingCheck(name string, ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: name}

		if err := ping(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}

		return check
	}
}

// WritableDirCheck verifies that reports can be written to dir.
func WritableDirCheck(name, dir string) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    name,
			Details: map[string]any{"dir": dir},
		}

		f, err := os.CreateTemp(dir, ".health-*")
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}
		f.Close()
		os.Remove(f.Name())

		check.Status = StatusHealthy
		check.Message = "Writable"
		return check
	}
}

// MemoryCheck reports degraded when the heap holds more than limitBytes.
// A zero limit only reports usage.
func MemoryCheck(limitBytes uint64) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		check.Details["alloc_bytes"] = m.Alloc
		check.Details["sys_bytes"] = m.Sys
		check.Details["goroutines"] = runtime.NumGoroutine()

		if limitBytes > 0 && m.Alloc > limitBytes {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}

// RunTracker remembers the outcome of recent analyses for the "analysis"
// check. A run of consecutive failures degrades health; it never makes the
// service unhealthy because bad input is the usual cause.
type RunTracker struct {
	mu          sync.Mutex
	lastRun     time.Time
	lastErr     string
	total       int
	consecutive int
}

// Record notes one finished analysis.
func (t *RunTracker) Record(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	t.lastRun = time.Now()
	if err != nil {
		t.consecutive++
		t.lastErr = err.Error()
		return
	}
	t.consecutive = 0
	t.lastErr = ""
}

// Check returns a CheckFunc degraded after threshold consecutive failures.
func (t *RunTracker) Check(threshold int) CheckFunc {
	return func(context.Context) Check {
		t.mu.Lock()
		defer t.mu.Unlock()

		check := Check{
			Name: "analysis",
			Details: map[string]any{
				"runs":                 t.total,
				"consecutive_failures": t.consecutive,
			},
			Status:  StatusHealthy,
			Message: "No recent failures",
		}
		if !t.lastRun.IsZero() {
			check.Details["last_run"] = t.lastRun
		}
		if threshold > 0 && t.consecutive >= threshold {
			check.Status = StatusDegraded
			check.Message = t.lastErr
		}
		return check
	}
}
