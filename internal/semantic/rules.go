package semantic

import (
	"context"
	"strings"

	"github.com/kumbuk/orchestrator/internal/extract"
	"github.com/kumbuk/orchestrator/internal/models"
)

const intentGeneralConversation = "general_conversation"

// RuleAnalyzer is a keyword-based analyzer that needs no external service.
type RuleAnalyzer struct {
	x *extract.Extractor
}

// NewRuleAnalyzer builds a rule analyzer sharing the extractor's vocabulary.
func NewRuleAnalyzer(x *extract.Extractor) *RuleAnalyzer {
	if x == nil {
		x = extract.New(nil)
	}
	return &RuleAnalyzer{x: x}
}

func (a *RuleAnalyzer) Name() string { return "rules" }

// Analyze never fails.
func (a *RuleAnalyzer) Analyze(ctx context.Context, req Request) (*models.SemanticAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vocab := a.x.Vocabulary()
	lower := strings.ToLower(req.Text)

	intent, intentConfidence := intentGeneralConversation, 0.6
	switch {
	case extract.ContainsAny(lower, vocab.ServiceKeywords):
		intent, intentConfidence = string(models.IntentServiceSearch), 0.7
	case extract.ContainsAny(lower, vocab.BusinessKeywords):
		intent, intentConfidence = string(models.IntentBusinessQuery), 0.7
	}

	sentiment, urgency := "neutral", "low"
	switch {
	case extract.ContainsAny(lower, []string{"urgent", "emergency", "asap", "quickly", "immediately"}):
		sentiment, urgency = "urgent", "high"
	case extract.ContainsAny(lower, []string{"please", "help", "need"}):
		urgency = "medium"
	}

	phrases := strings.Fields(lower)
	if len(phrases) > 5 {
		phrases = phrases[:5]
	}

	out := &models.SemanticAnalysis{
		Intent:           intent,
		IntentConfidence: intentConfidence,
		SemanticMeaning:  "Rule-based analysis: " + intent + " detected",
		Entities:         a.x.Entities(req.Text),
		Sentiment:        sentiment,
		UrgencyLevel:     urgency,
		KeyPhrases:       phrases,
		Quality:          a.qualityRequirements(lower),
		Confidence:       0.6,
		Reasoning:        "Rule-based analysis",
		Processor:        a.Name(),
	}
	out.SuggestedActions = SuggestedActions(out)
	return out, nil
}

func (a *RuleAnalyzer) qualityRequirements(lower string) []string {
	var out []string
	for _, w := range a.x.Vocabulary().QualityWords {
		if strings.Contains(lower, w) {
			out = append(out, w)
		}
	}
	return out
}

// SuggestedActions derives follow-up actions from an analysis.
func SuggestedActions(a *models.SemanticAnalysis) []string {
	if a == nil {
		return nil
	}
	var actions []string
	switch a.Intent {
	case string(models.IntentServiceSearch):
		actions = append(actions, "search_service_providers")
		if len(a.Entities.Locations) > 0 {
			actions = append(actions, "filter_by_location")
		}
		if a.UrgencyLevel == "high" {
			actions = append(actions, "prioritize_available_now")
		}
	case string(models.IntentBusinessQuery):
		actions = append(actions, "fetch_business_analytics", "generate_insights")
	case "inquiry_management":
		actions = append(actions, "fetch_pending_inquiries")
	default:
		actions = append(actions, "route_to_agent")
	}
	return actions
}
