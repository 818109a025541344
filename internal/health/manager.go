package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers on demand and in the background.
type Manager struct {
	checkers      map[string]Checker
	lastResults   map[string]CheckResult
	checkInterval time.Duration
	started       bool
	stopCh        chan struct{}
	logger        *zap.Logger
	mu            sync.RWMutex
}

// NewManager creates a new health manager
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		checkers:      make(map[string]Checker),
		lastResults:   make(map[string]CheckResult),
		checkInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = checker
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
		zap.Duration("timeout", checker.Timeout()),
	)
	return nil
}

// GetOverallHealth returns the overall health status
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	start := time.Now()
	detailed := m.GetDetailedHealth(ctx)
	overall := detailed.Overall
	overall.Timestamp = detailed.Timestamp
	overall.Duration = time.Since(start)
	return overall
}

// GetDetailedHealth runs every checker concurrently.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	timestamp := time.Now()
	components := make(map[string]CheckResult, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			res := runCheck(ctx, c)
			mu.Lock()
			components[c.Name()] = res
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	m.mu.Lock()
	for name, res := range components {
		m.lastResults[name] = res
	}
	m.mu.Unlock()

	summary := summarize(components)
	return DetailedHealth{
		Overall:    overallStatus(components, summary),
		Components: components,
		Summary:    summary,
		Timestamp:  timestamp,
	}
}

func runCheck(ctx context.Context, c Checker) (result CheckResult) {
	checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = CheckResult{Status: StatusUnhealthy, Error: fmt.Sprintf("panic: %v", r), Message: "Health check panicked"}
		}
		result.Component = c.Name()
		result.Critical = c.IsCritical()
		result.Duration = time.Since(start)
		result.Timestamp = start
	}()
	return c.Check(checkCtx)
}

func summarize(components map[string]CheckResult) HealthSummary {
	s := HealthSummary{Total: len(components)}
	for _, r := range components {
		switch r.Status {
		case StatusHealthy:
			s.Healthy++
		case StatusDegraded:
			s.Degraded++
		case StatusUnhealthy:
			s.Unhealthy++
		}
		if r.Critical {
			s.Critical++
		} else {
			s.NonCritical++
		}
	}
	return s
}

// overallStatus: a failing critical component makes the service unready;
// anything else degraded or failing only marks it degraded.
func overallStatus(components map[string]CheckResult, summary HealthSummary) OverallHealth {
	if summary.Total == 0 {
		return OverallHealth{Status: StatusUnknown, Message: "No health checks registered", Live: true}
	}

	criticalFailures, nonCriticalFailures, degraded := 0, 0, 0
	for _, r := range components {
		switch {
		case r.Status == StatusDegraded:
			degraded++
		case r.Status == StatusUnhealthy && r.Critical:
			criticalFailures++
		case r.Status == StatusUnhealthy:
			nonCriticalFailures++
		}
	}

	o := OverallHealth{Ready: true, Live: true}
	switch {
	case criticalFailures > 0:
		o.Status = StatusUnhealthy
		o.Message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
		o.Ready = false
	case degraded > 0:
		o.Status = StatusDegraded
		o.Message = fmt.Sprintf("%d component(s) degraded", degraded)
	case nonCriticalFailures > 0:
		o.Status = StatusDegraded
		o.Message = fmt.Sprintf("%d non-critical component(s) failing", nonCriticalFailures)
	default:
		o.Status = StatusHealthy
		o.Message = fmt.Sprintf("All %d components healthy", summary.Total)
	}
	o.Degraded = o.Status == StatusDegraded
	return o
}

// IsReady returns true if the service is ready to serve requests
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// IsLive returns true while the process can answer at all.
func (m *Manager) IsLive(ctx context.Context) bool {
	return true
}

// GetLastResults returns the most recent results without running new checks
func (m *Manager) GetLastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]CheckResult, len(m.lastResults))
	for k, v := range m.lastResults {
		out[k] = v
	}
	return out
}

// SetCheckInterval updates the background check interval. Call before Start.
func (m *Manager) SetCheckInterval(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkInterval = interval
}

// Start begins background health checking
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	m.started = true
	go m.backgroundChecker(ctx, m.checkInterval)
	m.logger.Info("Health manager started",
		zap.Duration("check_interval", m.checkInterval),
		zap.Int("registered_checkers", len(m.checkers)),
	)
	return nil
}

// Stop stops background health checking
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil
	}
	close(m.stopCh)
	m.started = false
	m.logger.Info("Health manager stopped")
	return nil
}

func (m *Manager) backgroundChecker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			d := m.GetDetailedHealth(cctx)
			cancel()
			if d.Overall.Status != StatusHealthy {
				m.logger.Warn("Background health check", zap.String("status", d.Overall.Status.String()), zap.String("message", d.Overall.Message))
			}
		}
	}
}
