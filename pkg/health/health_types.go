package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a health check for a specific component
type Check struct {
	Name        string         `json:"name"`
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ms"`
}

// CheckFunc performs one check. It must return once ctx is done.
type CheckFunc func(ctx context.Context) Check

// HealthChecker manages health checks for the application
type HealthChecker struct {
	started time.Time
	timeout time.Duration

	mu          sync.RWMutex
	checks      map[string]CheckFunc
	readyChecks map[string]CheckFunc // Checks for readiness
	liveChecks  map[string]CheckFunc // Checks for liveness
}

// Response represents the overall health response
type Response struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Uptime    float64          `json:"uptime_seconds"`
}
