package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/extract"
	"github.com/kumbuk/orchestrator/internal/metrics"
	"github.com/kumbuk/orchestrator/internal/models"
	"github.com/kumbuk/orchestrator/internal/tracing"
)

// Classification is an intent guess with its confidence.
type Classification struct {
	Intent     models.Intent
	Confidence float64
	Reasoning  string
}

// Classifier guesses the intent of a request. ok is false when the
// classifier has no opinion and the next one should be tried.
type Classifier interface {
	Classify(req *models.PreprocessedRequest) (c Classification, ok bool)
}

// SemanticClassifier reads the intent off the semantic analysis.
type SemanticClassifier struct{}

func (SemanticClassifier) Classify(req *models.PreprocessedRequest) (Classification, bool) {
	a := req.SemanticAnalysis
	if a == nil {
		return Classification{}, false
	}
	var intent models.Intent
	switch a.Intent {
	case string(models.IntentServiceSearch):
		intent = models.IntentServiceSearch
	case string(models.IntentBusinessQuery), "inquiry_management":
		intent = models.IntentBusinessQuery
	case "general_conversation", string(models.IntentGeneral):
		intent = models.IntentGeneral
	default:
		return Classification{}, false
	}
	reason := a.Reasoning
	if reason == "" {
		reason = "Semantic analysis intent: " + a.Intent
	}
	return Classification{Intent: intent, Confidence: clamp(a.IntentConfidence), Reasoning: reason}, true
}

// RuleClassifier matches the vocabulary's intent keywords.
type RuleClassifier struct {
	x *extract.Extractor
}

// NewRuleClassifier builds a classifier over x's vocabulary.
func NewRuleClassifier(x *extract.Extractor) RuleClassifier {
	if x == nil {
		x = extract.New(nil)
	}
	return RuleClassifier{x: x}
}

func (r RuleClassifier) Classify(req *models.PreprocessedRequest) (Classification, bool) {
	v := r.x.Vocabulary()
	switch {
	case extract.ContainsAny(req.NormalizedText, v.ServiceKeywords):
		return Classification{Intent: models.IntentServiceSearch, Confidence: 0.7, Reasoning: "Matched service search keywords"}, true
	case extract.ContainsAny(req.NormalizedText, v.BusinessKeywords):
		return Classification{Intent: models.IntentBusinessQuery, Confidence: 0.7, Reasoning: "Matched business query keywords"}, true
	default:
		return Classification{Intent: models.IntentGeneral, Confidence: 0.6, Reasoning: "No specific keywords matched"}, true
	}
}

// Router picks the agent for a request.
type Router struct {
	classifiers []Classifier
	logger      *zap.Logger
}

// NewRouter tries classifiers in order; the rule classifier is always last.
func NewRouter(x *extract.Extractor, logger *zap.Logger, classifiers ...Classifier) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(classifiers) == 0 {
		classifiers = []Classifier{SemanticClassifier{}}
	}
	classifiers = append(classifiers, NewRuleClassifier(x))
	return &Router{classifiers: classifiers, logger: logger}
}

// Route never fails: errors and panics produce a consumer decision at 0.5.
func (r *Router) Route(ctx context.Context, req *models.PreprocessedRequest) (d *models.RoutingDecision) {
	start := time.Now()
	userID := ""
	if req != nil {
		userID = req.UserID
	}
	_, span := tracing.StartStageSpan(ctx, "route", userID)
	defer span.End()
	defer metrics.ObserveStage("route", start)

	defer func() {
		if rec := recover(); rec != nil {
			d = r.fallback(req, fmt.Errorf("%v", rec))
		}
		metrics.RoutingDecisions.WithLabelValues(string(d.AgentType), string(d.Intent)).Inc()
	}()

	if req == nil {
		return r.fallback(req, fmt.Errorf("nil request"))
	}

	c := r.classify(req)
	if req.UserRole == models.RoleProvider {
		// the intent still picks the provider plan
		d = decision(req, models.AgentProvider, c.Intent, 1.0, "User is a registered service provider")
	} else {
		d = decision(req, agentFor(c.Intent), c.Intent, c.Confidence, c.Reasoning)
	}
	r.logger.Info("Routed request",
		zap.String("user_id", req.UserID),
		zap.String("agent_type", string(d.AgentType)),
		zap.String("intent", string(d.Intent)),
	)
	return d
}

func (r *Router) classify(req *models.PreprocessedRequest) Classification {
	for _, c := range r.classifiers {
		if out, ok := c.Classify(req); ok {
			return out
		}
	}
	return Classification{Intent: models.IntentGeneral, Confidence: 0.6, Reasoning: "No specific keywords matched"}
}

func agentFor(intent models.Intent) models.AgentType {
	switch intent {
	case models.IntentBusinessQuery:
		return models.AgentProvider
	default:
		return models.AgentConsumer
	}
}

func (r *Router) fallback(req *models.PreprocessedRequest, err error) *models.RoutingDecision {
	r.logger.Error("Error in routing", zap.Error(err))
	metrics.RoutingFallbacks.Inc()
	if req == nil {
		req = &models.PreprocessedRequest{}
	}
	return decision(req, models.AgentConsumer, models.IntentUnknown, 0.5, "Fallback due to error: "+err.Error())
}

func decision(req *models.PreprocessedRequest, agent models.AgentType, intent models.Intent, confidence float64, reason string) *models.RoutingDecision {
	return &models.RoutingDecision{
		AgentType:  models.NormalizeAgentType(string(agent)),
		Intent:     intent,
		Confidence: clamp(confidence),
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
		Metadata: models.RoutingMetadata{
			UserRole:      req.UserRole,
			MessageLength: len([]rune(req.NormalizedText)),
			HasContext:    len(req.Context) > 0,
		},
		SourceRequest: req,
	}
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
