package monitoring

import (
	"context"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker runs named probes against the daemon's dependencies. A
// failing critical probe makes the daemon unhealthy; any other failure only
// degrades it.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []HealthCheck
	last   map[string]CheckResult

	onResult func(name string, healthy bool)
	now      func() time.Time
}

type HealthCheck struct {
	Name     string
	Check    func(ctx context.Context) error
	Interval time.Duration
	Timeout  time.Duration
	Critical bool
}

type CheckResult struct {
	Healthy   bool      `json:"healthy"`
	Critical  bool      `json:"critical"`
	Error     string    `json:"error,omitempty"`
	Latency   string    `json:"latency"`
	CheckedAt time.Time `json:"checked_at"`
}

type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		last: make(map[string]CheckResult),
		now:  time.Now,
	}
}

// OnResult registers fn to receive every probe outcome, e.g. to export it
// as a metric.
func (h *HealthChecker) OnResult(fn func(name string, healthy bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onResult = fn
}

func (h *HealthChecker) AddCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// CheckAll runs every probe now.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	for _, check := range checks {
		results[check.Name] = h.run(ctx, check)
	}
	return h.summarize(results)
}

// Cached reports the last result of every probe without running any.
func (h *HealthChecker) Cached() HealthStatus {
	h.mu.RLock()
	results := make(map[string]CheckResult, len(h.last))
	for name, r := range h.last {
		results[name] = r
	}
	h.mu.RUnlock()
	return h.summarize(results)
}

func (h *HealthChecker) summarize(results map[string]CheckResult) HealthStatus {
	status := HealthStatus{Status: StatusHealthy, Timestamp: h.now(), Checks: results}
	for _, r := range results {
		switch {
		case r.Healthy:
		case r.Critical:
			status.Status = StatusUnhealthy
		case status.Status == StatusHealthy:
			status.Status = StatusDegraded
		}
	}
	return status
}

// StartBackgroundChecks runs each probe once and then on its interval until
// ctx ends.
func (h *HealthChecker) StartBackgroundChecks(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, check := range h.checks {
		go h.loop(ctx, check)
	}
}

func (h *HealthChecker) loop(ctx context.Context, check HealthCheck) {
	h.run(ctx, check)
	if check.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.run(ctx, check)
		}
	}
}

func (h *HealthChecker) run(ctx context.Context, check HealthCheck) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	start := h.now()
	err := check.Check(checkCtx)
	result := CheckResult{
		Healthy:   err == nil,
		Critical:  check.Critical,
		Latency:   h.now().Sub(start).String(),
		CheckedAt: start,
	}
	if err != nil {
		result.Error = err.Error()
	}

	h.mu.Lock()
	h.last[check.Name] = result
	onResult := h.onResult
	h.mu.Unlock()

	if onResult != nil {
		onResult(check.Name, result.Healthy)
	}
	return result
}
