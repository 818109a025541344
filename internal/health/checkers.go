package health

import (
	"context"
	"fmt"
	"time"

	"github.com/kumbuk/orchestrator/internal/circuitbreaker"
)

// slowThreshold marks a responding dependency as degraded.
const slowThreshold = 100 * time.Millisecond

// RedisHealthChecker checks the session store's Redis connection
type RedisHealthChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper) *RedisHealthChecker {
	return &RedisHealthChecker{wrapper: wrapper, timeout: 5 * time.Second}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if r.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Redis circuit breaker is open",
		}
	}
	err := r.wrapper.Ping(ctx).Err()
	return latencyResult("Redis", start, err)
}

// Pinger is anything that can verify its connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseHealthChecker checks the conversation store's database
type DatabaseHealthChecker struct {
	db      Pinger
	open    func() bool
	timeout time.Duration
}

// NewDatabaseHealthChecker creates a database health checker. breakerOpen
// may be nil.
func NewDatabaseHealthChecker(db Pinger, breakerOpen func() bool) *DatabaseHealthChecker {
	if breakerOpen == nil {
		breakerOpen = func() bool { return false }
	}
	return &DatabaseHealthChecker{db: db, open: breakerOpen, timeout: 5 * time.Second}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	if d.open() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Database circuit breaker is open",
		}
	}
	return latencyResult("Database", start, d.db.Ping(ctx))
}

func latencyResult(component string, start time.Time, err error) CheckResult {
	elapsed := time.Since(start)
	details := map[string]interface{}{"latency_ms": elapsed.Milliseconds()}
	if err != nil {
		details["error"] = err.Error()
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: component + " ping failed", Details: details}
	}
	if elapsed > slowThreshold {
		return CheckResult{Status: StatusDegraded, Message: component + " responding but with high latency", Details: details}
	}
	return CheckResult{Status: StatusHealthy, Message: component + " healthy", Details: details}
}

// AgentsHealthChecker reports agent health as seen by the dispatcher.
// Agents that were never built count as healthy.
type AgentsHealthChecker struct {
	statuses func(ctx context.Context) map[string]string
	timeout  time.Duration
}

// NewAgentsHealthChecker wraps a function returning status per agent type.
func NewAgentsHealthChecker(statuses func(ctx context.Context) map[string]string) *AgentsHealthChecker {
	return &AgentsHealthChecker{statuses: statuses, timeout: 2 * time.Second}
}

func (a *AgentsHealthChecker) Name() string           { return "agents" }
func (a *AgentsHealthChecker) IsCritical() bool       { return true }
func (a *AgentsHealthChecker) Timeout() time.Duration { return a.timeout }

func (a *AgentsHealthChecker) Check(ctx context.Context) CheckResult {
	statuses := a.statuses(ctx)
	details := make(map[string]interface{}, len(statuses))
	bad := 0
	for name, st := range statuses {
		details[name] = st
		if st != "healthy" && st != "not_initialized" {
			bad++
		}
	}
	switch {
	case len(statuses) == 0:
		return CheckResult{Status: StatusUnhealthy, Message: "No agents registered"}
	case bad == len(statuses):
		return CheckResult{Status: StatusUnhealthy, Message: "No agent is healthy", Details: details}
	case bad > 0:
		return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("%d agent(s) unhealthy", bad), Details: details}
	default:
		return CheckResult{Status: StatusHealthy, Message: "Agents healthy", Details: details}
	}
}

// AnalyzerHealthChecker reports the semantic analyzer breaker. The pipeline
// works without analysis, so it is non-critical.
type AnalyzerHealthChecker struct {
	state   func() circuitbreaker.State
	timeout time.Duration
}

// NewAnalyzerHealthChecker creates an analyzer health checker
func NewAnalyzerHealthChecker(state func() circuitbreaker.State) *AnalyzerHealthChecker {
	return &AnalyzerHealthChecker{state: state, timeout: time.Second}
}

func (a *AnalyzerHealthChecker) Name() string           { return "semantic_analyzer" }
func (a *AnalyzerHealthChecker) IsCritical() bool       { return false }
func (a *AnalyzerHealthChecker) Timeout() time.Duration { return a.timeout }

func (a *AnalyzerHealthChecker) Check(ctx context.Context) CheckResult {
	st := a.state()
	details := map[string]interface{}{"circuit_breaker": st.String()}
	switch st {
	case circuitbreaker.StateOpen:
		return CheckResult{Status: StatusUnhealthy, Message: "Analyzer unavailable, using rule-based fallback", Details: details}
	case circuitbreaker.StateHalfOpen:
		return CheckResult{Status: StatusDegraded, Message: "Analyzer recovering", Details: details}
	default:
		return CheckResult{Status: StatusHealthy, Message: "Analyzer healthy", Details: details}
	}
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}
