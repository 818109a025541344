package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/metrics"
	"github.com/kumbuk/orchestrator/internal/models"
	"github.com/kumbuk/orchestrator/internal/tracing"
	"github.com/kumbuk/orchestrator/internal/validation"
)

// Per-subtask duration estimates.
const (
	consumerSubtaskMs = 500
	providerSubtaskMs = 600
	defaultPlanMs     = 1000
)

// Data source names advertised in plans.
const (
	SourceGraphStore           = "graph_store"
	SourceDocumentStore        = "document_store"
	SourceRecommendationEngine = "recommendation_engine"
	SourceConversationEngine   = "conversation_engine"
	SourceRelationalStore      = "relational_store"
)

// Planner turns a routing decision into a TaskPlan. Subtasks are advisory:
// agents read the intent and request, not the step list.
type Planner struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewPlanner creates a planner.
func NewPlanner(logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CreatePlan never fails; any error yields the default plan.
func (p *Planner) CreatePlan(ctx context.Context, d *models.RoutingDecision, req *models.PreprocessedRequest) (plan *models.TaskPlan) {
	start := time.Now()
	userID := ""
	if req != nil {
		userID = req.UserID
	}
	_, span := tracing.StartStageSpan(ctx, "plan", userID)
	defer span.End()
	defer metrics.ObserveStage("plan", start)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Error creating task plan", zap.Error(fmt.Errorf("%v", r)))
			plan = p.defaultPlan(req)
		}
	}()

	if d == nil {
		p.logger.Error("Error creating task plan", zap.String("reason", "nil routing decision"))
		return p.defaultPlan(req)
	}
	if req == nil {
		req = &models.PreprocessedRequest{Entities: models.NewEntities()}
	}

	switch d.AgentType {
	case models.AgentConsumer:
		plan = consumerPlan(d.Intent, req.Entities)
	case models.AgentProvider:
		plan = providerPlan(d.Intent, req.UserID)
	default:
		return p.defaultPlan(req)
	}
	if err := validation.ValidatePlan(plan); err != nil {
		p.logger.Error("Error creating task plan", zap.Error(err))
		return p.defaultPlan(req)
	}
	plan.AgentType = d.AgentType
	plan.RoutingDecision = d
	plan.Request = req
	plan.CreatedAt = p.now()

	p.logger.Debug("Task plan created",
		zap.String("agent_type", string(d.AgentType)),
		zap.String("intent", string(d.Intent)),
		zap.Int("subtasks", len(plan.Subtasks)),
	)
	return plan
}

func consumerPlan(intent models.Intent, e models.Entities) *models.TaskPlan {
	var subtasks []models.Subtask
	var sources []string

	switch intent {
	case models.IntentServiceSearch:
		subtasks = []models.Subtask{
			step("extract_requirements", "Extract service requirements from user message", 1, true, nil),
			step("query_graph_store", "Query the service graph for related services and areas", 2, true, map[string]interface{}{
				"services":  e.Services,
				"locations": e.Locations,
			}),
			step("search_document_store", "Search provider listings matching the filters", 3, true, map[string]interface{}{
				"filters": map[string]interface{}{
					"services":    e.Services,
					"locations":   e.Locations,
					"price_range": e.PriceRange,
				},
			}),
			step("generate_recommendations", "Generate personalized recommendations", 4, true, nil),
			step("format_response", "Format results for presentation", 5, true, nil),
		}
		sources = []string{SourceGraphStore, SourceDocumentStore, SourceRecommendationEngine}
	case models.IntentGeneral:
		subtasks = []models.Subtask{
			step("understand_query", "Understand general user query", 1, true, nil),
			step("generate_response", "Generate helpful response", 2, true, nil),
		}
		sources = []string{SourceRecommendationEngine, SourceConversationEngine}
	default:
		subtasks = []models.Subtask{
			step("process_query", "Process user query", 1, true, nil),
			step("generate_response", "Generate response", 2, true, nil),
		}
		sources = []string{SourceRecommendationEngine}
	}

	return &models.TaskPlan{
		PlanType:            string(models.AgentConsumer),
		Intent:              intent,
		Subtasks:            subtasks,
		DataSources:         sources,
		ExecutionStrategy:   models.ExecutionStrategySequential,
		EstimatedDurationMs: len(subtasks) * consumerSubtaskMs,
		RequiresContext:     len(e.Services) > 0 || len(e.Locations) > 0,
	}
}

func providerPlan(intent models.Intent, userID string) *models.TaskPlan {
	var subtasks []models.Subtask
	var sources []string

	if intent == models.IntentBusinessQuery {
		subtasks = []models.Subtask{
			step("identify_metrics", "Identify requested business metrics", 1, true, nil),
			step("fetch_provider_data", "Fetch provider business data", 2, true, map[string]interface{}{"user_id": userID}),
			step("calculate_analytics", "Calculate business analytics and insights", 3, true, nil),
			step("query_market_trends", "Query market trends and competition", 4, false, nil),
			step("generate_insights", "Generate actionable insights", 5, true, nil),
			step("format_report", "Format analytics report", 6, true, nil),
		}
		sources = []string{SourceDocumentStore, SourceGraphStore, SourceRecommendationEngine, SourceRelationalStore}
	} else {
		subtasks = []models.Subtask{
			step("fetch_provider_context", "Fetch provider business context", 1, true, nil),
			step("process_request", "Process provider request", 2, true, nil),
			step("generate_response", "Generate business-focused response", 3, true, nil),
		}
		sources = []string{SourceDocumentStore, SourceRecommendationEngine}
	}

	return &models.TaskPlan{
		PlanType:             string(models.AgentProvider),
		Intent:               intent,
		Subtasks:             subtasks,
		DataSources:          sources,
		ExecutionStrategy:    models.ExecutionStrategySequential,
		EstimatedDurationMs:  len(subtasks) * providerSubtaskMs,
		RequiresProviderAuth: true,
	}
}

func (p *Planner) defaultPlan(req *models.PreprocessedRequest) *models.TaskPlan {
	return &models.TaskPlan{
		PlanType: "default",
		Intent:   models.IntentUnknown,
		Subtasks: []models.Subtask{
			step("process_message", "Process user message", 1, true, nil),
			step("generate_response", "Generate generic response", 2, true, nil),
		},
		DataSources:         []string{SourceRecommendationEngine},
		ExecutionStrategy:   models.ExecutionStrategySequential,
		EstimatedDurationMs: defaultPlanMs,
		Request:             req,
		CreatedAt:           p.now(),
	}
}

func step(id, desc string, priority int, required bool, params map[string]interface{}) models.Subtask {
	return models.Subtask{TaskID: id, Description: desc, Priority: priority, Required: required, Params: params}
}
