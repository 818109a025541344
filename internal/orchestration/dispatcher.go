package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/agents"
	"github.com/kumbuk/orchestrator/internal/metrics"
	"github.com/kumbuk/orchestrator/internal/models"
	"github.com/kumbuk/orchestrator/internal/tracing"
)

// Health statuses reported by the dispatcher.
const (
	StatusHealthy        = "healthy"
	StatusNotInitialized = "not_initialized"
)

// DispatcherHealth is the dispatcher's health report.
type DispatcherHealth struct {
	Dispatcher string            `json:"dispatcher"`
	Agents     map[string]string `json:"agents"`
}

// Dispatcher hands plans to agents, building each agent on first use.
type Dispatcher struct {
	registry agents.Registry
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	agents map[models.AgentType]agents.Agent
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry agents.Registry, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		agents:   make(map[models.AgentType]agents.Agent),
	}
}

// agent returns the cached agent for t, constructing it once.
func (d *Dispatcher) agent(t models.AgentType) (agents.Agent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a, ok := d.agents[t]; ok {
		return a, nil
	}
	a, err := d.registry.Build(t, d.logger.With(zap.String("agent_type", string(t))))
	if err != nil {
		if errors.Is(err, agents.ErrUnknownAgentType) {
			return nil, models.NewError(models.KindUnknownAgent, "dispatch", err)
		}
		return nil, models.NewError(models.KindAgentFailure, "dispatch", err)
	}
	d.agents[t] = a
	metrics.AgentsInitialized.Set(float64(len(d.agents)))
	d.logger.Info("Agent initialized", zap.String("agent_type", string(t)))
	return a, nil
}

// Dispatch runs the agent for agentType. Failures come back as a response
// with Success false; the returned response is never nil.
func (d *Dispatcher) Dispatch(ctx context.Context, plan *models.TaskPlan, agentType models.AgentType, userID, sessionID string) (resp *models.AgentResponse) {
	start := time.Now()
	ctx, span := tracing.StartStageSpan(ctx, "dispatch", userID)
	defer span.End()
	defer metrics.ObserveStage("dispatch", start)

	defer func() {
		if r := recover(); r != nil {
			err := models.NewError(models.KindAgentFailure, "dispatch", fmt.Errorf("agent panic: %v", r))
			d.logger.Error("Agent execution failed", zap.String("agent_type", string(agentType)), zap.Error(err))
			resp = d.failure(agentType, err)
		}
	}()

	a, err := d.agent(agentType)
	if err != nil {
		d.logger.Warn("Cannot dispatch", zap.String("agent_type", string(agentType)), zap.Error(err))
		metrics.AgentExecutions.WithLabelValues(string(agentType), "unknown").Inc()
		return d.failure(agentType, err)
	}

	resp, err = a.Execute(ctx, plan, userID, sessionID)
	elapsed := time.Since(start)
	metrics.AgentExecutionDuration.WithLabelValues(string(agentType)).Observe(elapsed.Seconds())
	metrics.AgentExecutions.WithLabelValues(string(agentType), metrics.Status(err == nil)).Inc()
	if err != nil {
		d.logger.Error("Agent execution failed",
			zap.String("agent_type", string(agentType)),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return d.failure(agentType, err)
	}
	if resp == nil {
		return d.failure(agentType, models.NewError(models.KindAgentFailure, "dispatch", errors.New("agent returned no response")))
	}

	tasks := 0
	if plan != nil {
		tasks = len(plan.Subtasks)
	}
	resp.ExecutionMetadata = &models.ExecutionMetadata{
		AgentType:            agentType,
		ExecutionTimeSeconds: elapsed.Seconds(),
		TasksCompleted:       tasks,
		Timestamp:            d.now(),
	}
	d.logger.Debug("Agent executed",
		zap.String("agent_type", string(agentType)),
		zap.Duration("elapsed", elapsed),
	)
	return resp
}

// DispatchStream forwards each agent chunk to yield. Agent errors are turned
// into a single error chunk; only errors from yield itself are returned.
func (d *Dispatcher) DispatchStream(ctx context.Context, plan *models.TaskPlan, agentType models.AgentType, userID, sessionID string, yield func(*models.AgentResponse) error) (err error) {
	var yieldErr error
	forward := func(c *models.AgentResponse) error {
		if e := yield(c); e != nil {
			yieldErr = e
			return e
		}
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			pe := models.NewError(models.KindAgentFailure, "dispatch_stream", fmt.Errorf("agent panic: %v", r))
			d.logger.Error("Agent streaming failed", zap.Error(pe))
			err = yield(d.failure(agentType, pe))
		}
	}()

	a, aerr := d.agent(agentType)
	if aerr != nil {
		return yield(d.failure(agentType, aerr))
	}
	if serr := a.ExecuteStream(ctx, plan, userID, sessionID, forward); serr != nil {
		if yieldErr != nil {
			return yieldErr
		}
		d.logger.Error("Agent streaming failed", zap.String("agent_type", string(agentType)), zap.Error(serr))
		return yield(d.failure(agentType, serr))
	}
	return nil
}

func (d *Dispatcher) failure(agentType models.AgentType, err error) *models.AgentResponse {
	msg := err.Error()
	kind := models.KindOf(err)
	if kind == models.KindUnknownAgent {
		msg = agents.ErrUnknownAgentType.Error()
	}
	return &models.AgentResponse{
		Success:   false,
		Type:      models.ResponseError,
		Error:     msg,
		ErrorKind: kind,
		AgentType: agentType,
		Timestamp: d.now(),
	}
}

// HealthCheck reports each registered agent, or not_initialized when it
// has never been built.
func (d *Dispatcher) HealthCheck(ctx context.Context) DispatcherHealth {
	h := DispatcherHealth{Dispatcher: StatusHealthy, Agents: map[string]string{}}
	d.mu.Lock()
	built := make(map[models.AgentType]agents.Agent, len(d.agents))
	for t, a := range d.agents {
		built[t] = a
	}
	d.mu.Unlock()

	for _, t := range d.registry.Types() {
		a, ok := built[t]
		if !ok {
			h.Agents[string(t)] = StatusNotInitialized
			continue
		}
		h.Agents[string(t)] = a.HealthCheck(ctx)
	}
	return h
}
