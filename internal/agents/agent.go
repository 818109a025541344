// Package agents holds the downstream agents the dispatcher hands plans to.
package agents

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/extract"
	"github.com/kumbuk/orchestrator/internal/models"
)

var (
	// ErrUnknownAgentType is returned when no factory is registered for a type.
	ErrUnknownAgentType = errors.New("unknown agent type")
	errNilPlan          = errors.New("nil task plan")
)

// HealthHealthy is the status string agents report when they can serve.
const HealthHealthy = "healthy"

// Agent executes a task plan for a user.
type Agent interface {
	Type() models.AgentType
	Execute(ctx context.Context, plan *models.TaskPlan, userID, sessionID string) (*models.AgentResponse, error)
	// ExecuteStream calls yield once per chunk, in order.
	ExecuteStream(ctx context.Context, plan *models.TaskPlan, userID, sessionID string, yield func(*models.AgentResponse) error) error
	HealthCheck(ctx context.Context) string
}

// Factory builds an agent on first use.
type Factory func(logger *zap.Logger) (Agent, error)

// Registry maps agent types to their factories.
type Registry map[models.AgentType]Factory

// DefaultRegistry wires the consumer and provider agents.
func DefaultRegistry(x *extract.Extractor) Registry {
	return Registry{
		models.AgentConsumer: func(logger *zap.Logger) (Agent, error) {
			return NewConsumerAgent(x, logger), nil
		},
		models.AgentProvider: func(logger *zap.Logger) (Agent, error) {
			return NewProviderAgent(logger), nil
		},
	}
}

// Build constructs the agent for t.
func (r Registry) Build(t models.AgentType, logger *zap.Logger) (Agent, error) {
	f, ok := r[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgentType, t)
	}
	return f(logger)
}

// Types lists registered types in a stable order.
func (r Registry) Types() []models.AgentType {
	out := make([]models.AgentType, 0, len(r))
	for t := range r {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// singleChunk adapts Execute to ExecuteStream for agents that answer in one piece.
func singleChunk(ctx context.Context, a Agent, plan *models.TaskPlan, userID, sessionID string, yield func(*models.AgentResponse) error) error {
	resp, err := a.Execute(ctx, plan, userID, sessionID)
	if err != nil {
		return err
	}
	return yield(resp)
}

func planRequest(plan *models.TaskPlan) *models.PreprocessedRequest {
	if plan.Request == nil {
		return &models.PreprocessedRequest{Entities: models.NewEntities()}
	}
	return plan.Request
}
