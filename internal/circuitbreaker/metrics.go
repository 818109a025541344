package circuitbreaker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kumbuk_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kumbuk_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kumbuk_circuit_breaker_state_changes_total",
			Help: "Total number of state changes in circuit breaker",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)
)

// Collector exports breaker state to Prometheus.
type Collector struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// Metrics is the process-wide collector used by the wrappers.
var Metrics = &Collector{breakers: make(map[string]*Breaker)}

// Register hooks state transitions of b into the exported gauges.
func (c *Collector) Register(service string, b *Breaker) {
	c.mu.Lock()
	c.breakers[service+":"+b.name] = b
	c.mu.Unlock()

	b.mu.Lock()
	prev := b.settings.OnStateChange
	b.settings.OnStateChange = func(name string, from, to State) {
		if prev != nil {
			prev(name, from, to)
		}
		breakerTransitions.WithLabelValues(name, service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, service).Set(float64(to))
	}
	b.mu.Unlock()
	breakerState.WithLabelValues(b.name, service).Set(float64(StateClosed))
}

// Observe records the outcome of one guarded call.
func (c *Collector) Observe(service string, b *Breaker, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	breakerRequests.WithLabelValues(b.name, service, b.State().String(), result).Inc()
}

// Snapshot returns the state of every registered breaker keyed by service:name.
func (c *Collector) Snapshot() map[string]State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]State, len(c.breakers))
	for key, b := range c.breakers {
		out[key] = b.State()
	}
	return out
}
