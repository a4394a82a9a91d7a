// Package health aggregates component checks into liveness, readiness, and
// overall health responses.
package health

import (
	"context"
	"sync"
	"time"
)

// DefaultCheckTimeout bounds every individual check.
const DefaultCheckTimeout = 2 * time.Second

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		started:     time.Now(),
		timeout:     DefaultCheckTimeout,
		checks:      make(map[string]CheckFunc),
		readyChecks: make(map[string]CheckFunc),
		liveChecks:  make(map[string]CheckFunc),
	}
}

// SetTimeout changes the per-check timeout.
func (hc *HealthChecker) SetTimeout(d time.Duration) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.timeout = d
}

// RegisterCheck registers a health check
func (hc *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// RegisterReadinessCheck registers a readiness check. Readiness checks also
// count towards overall health.
func (hc *HealthChecker) RegisterReadinessCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.readyChecks[name] = check
	hc.checks[name] = check
}

// RegisterLivenessCheck registers a liveness check
func (hc *HealthChecker) RegisterLivenessCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.liveChecks[name] = check
}

// Check performs all health checks
func (hc *HealthChecker) Check(ctx context.Context) Response {
	return hc.performChecks(ctx, func() map[string]CheckFunc { return hc.checks })
}

// CheckReadiness performs readiness checks
func (hc *HealthChecker) CheckReadiness(ctx context.Context) Response {
	return hc.performChecks(ctx, func() map[string]CheckFunc { return hc.readyChecks })
}

// CheckLiveness performs liveness checks
func (hc *HealthChecker) CheckLiveness(ctx context.Context) Response {
	return hc.performChecks(ctx, func() map[string]CheckFunc { return hc.liveChecks })
}

// performChecks runs the selected checks concurrently, each under its own
// timeout. The worst status wins.
func (hc *HealthChecker) performChecks(ctx context.Context, pick func() map[string]CheckFunc) Response {
	hc.mu.RLock()
	registered := pick()
	selected := make(map[string]CheckFunc, len(registered))
	for name, fn := range registered {
		selected[name] = fn
	}
	timeout := hc.timeout
	hc.mu.RUnlock()

	response := Response{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]Check, len(selected)),
		Uptime:    time.Since(hc.started).Seconds(),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, checkFunc := range selected {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			check := checkFunc(cctx)
			check.Duration = time.Since(start)
			check.LastChecked = start
			if check.Name == "" {
				check.Name = name
			}

			mu.Lock()
			defer mu.Unlock()
			response.Checks[name] = check
			if check.Status == StatusUnhealthy {
				response.Status = StatusUnhealthy
			} else if check.Status == StatusDegraded && response.Status != StatusUnhealthy {
				response.Status = StatusDegraded
			}
		}()
	}
	wg.Wait()

	return response
}
