package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/extract"
	"github.com/kumbuk/orchestrator/internal/models"
)

var consumerSuggestions = []string{
	"Find a plumber in Colombo",
	"Show me electricians in Kandy",
	"I need a painter",
}

// ConsumerAgent answers service searches from a fixed demo catalogue.
type ConsumerAgent struct {
	catalogue []models.ServiceProvider
	x         *extract.Extractor
	logger    *zap.Logger
}

// NewConsumerAgent creates the consumer agent with its demo catalogue.
func NewConsumerAgent(x *extract.Extractor, logger *zap.Logger) *ConsumerAgent {
	if x == nil {
		x = extract.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Consumer agent initialized")
	return &ConsumerAgent{
		catalogue: []models.ServiceProvider{
			{ID: "prov_001", Name: "Silva Plumbing Services", Category: "Plumbing", Location: "Colombo", Rating: 4.8, PriceRange: "Rs. 3000-5000", Available: true, Reviews: 127},
			{ID: "prov_002", Name: "Quick Fix Electricians", Category: "Electrical", Location: "Kandy", Rating: 4.6, PriceRange: "Rs. 2500-4500", Available: true, Reviews: 89},
			{ID: "prov_003", Name: "Bright Home Painters", Category: "Painting", Location: "Galle", Rating: 4.9, PriceRange: "Rs. 4000-8000", Available: false, Reviews: 156},
		},
		x:      x,
		logger: logger,
	}
}

func (a *ConsumerAgent) Type() models.AgentType { return models.AgentConsumer }

// Execute dispatches on the plan intent.
func (a *ConsumerAgent) Execute(ctx context.Context, plan *models.TaskPlan, userID, sessionID string) (*models.AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, models.NewError(models.KindAgentFailure, "consumer.execute", errNilPlan)
	}
	req := planRequest(plan)
	a.logger.Debug("Consumer agent executing",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("intent", string(plan.Intent)),
	)

	if plan.Intent == models.IntentServiceSearch {
		return a.search(req.Entities), nil
	}
	if wantsRecommendation(req.NormalizedText) {
		return a.recommend(), nil
	}
	return a.general(req.NormalizedText), nil
}

func (a *ConsumerAgent) ExecuteStream(ctx context.Context, plan *models.TaskPlan, userID, sessionID string, yield func(*models.AgentResponse) error) error {
	return singleChunk(ctx, a, plan, userID, sessionID, yield)
}

func (a *ConsumerAgent) HealthCheck(context.Context) string { return HealthHealthy }

func (a *ConsumerAgent) search(e models.Entities) *models.AgentResponse {
	categories := a.x.Categories(e.Services)
	locations := make([]string, 0, len(e.Locations))
	for _, l := range e.Locations {
		locations = append(locations, extract.TitleCase(l))
	}

	var matches []models.ServiceProvider
	for _, p := range a.catalogue {
		if len(categories) > 0 && !contains(categories, p.Category) {
			continue
		}
		if len(locations) > 0 && !contains(locations, p.Location) {
			continue
		}
		matches = append(matches, p)
	}

	if len(matches) == 0 {
		return &models.AgentResponse{
			Success:     true,
			Type:        models.ResponseText,
			Message:     "I couldn't find exact matches, but I can help you explore other service providers in your area. Could you provide more details about what you're looking for?",
			Suggestions: consumerSuggestions,
		}
	}

	service := "service provider"
	if len(e.Services) > 0 {
		service = e.Services[0]
	}
	where := "your area"
	if len(e.Locations) > 0 {
		where = e.Locations[0]
	}
	plural := ""
	if len(matches) > 1 {
		plural = "s"
	}
	msg := fmt.Sprintf("I found %d %s%s in %s.", len(matches), service, plural, where)

	ranked := byRating(matches)
	if len(matches) > 1 {
		top := ranked[0]
		msg += fmt.Sprintf(" Based on ratings, I recommend %s (rated %.1f, %d reviews).", top.Name, top.Rating, top.Reviews)
	}

	return &models.AgentResponse{
		Success:   true,
		Type:      models.ResponseServiceResults,
		Message:   msg,
		Providers: matches,
		Filters: &models.SearchFilters{
			Services:   categories,
			Locations:  locations,
			PriceRange: e.PriceRange,
		},
		Recommendations: describe(ranked, 3),
	}
}

func (a *ConsumerAgent) recommend() *models.AgentResponse {
	var available []models.ServiceProvider
	for _, p := range a.catalogue {
		if p.Available {
			available = append(available, p)
		}
	}
	ranked := byRating(available)
	return &models.AgentResponse{
		Success:         true,
		Type:            models.ResponseRecommendation,
		Message:         "Here are the top-rated providers available right now.",
		Recommendations: describe(ranked, 3),
		Reasoning:       "Ranked by customer rating among providers currently accepting bookings.",
	}
}

func (a *ConsumerAgent) general(text string) *models.AgentResponse {
	words := tokens(text)
	var reply string
	switch {
	case words.any("hello", "hi", "hey"):
		reply = "Hello! I'm your KumbuK assistant. I can help you find local service providers like plumbers, electricians, painters, and more. What service are you looking for?"
	case words.any("help", "how"):
		reply = "I can help you find local service providers in Sri Lanka! Just tell me what service you need and your location. For example: 'Find me a plumber in Colombo' or 'I need an electrician in Kandy'."
	default:
		reply = "I'm here to help you find local services! You can ask me to find plumbers, electricians, painters, cleaners, and many other service providers. What do you need today?"
	}
	return &models.AgentResponse{
		Success:     true,
		Type:        models.ResponseText,
		Message:     reply,
		Suggestions: consumerSuggestions,
	}
}

func wantsRecommendation(text string) bool {
	return tokens(text).any("recommend", "recommendation", "recommendations", "suggest", "top-rated")
}

func byRating(in []models.ServiceProvider) []models.ServiceProvider {
	out := append([]models.ServiceProvider(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rating > out[j].Rating })
	return out
}

func describe(ps []models.ServiceProvider, n int) []string {
	if len(ps) > n {
		ps = ps[:n]
	}
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, fmt.Sprintf("%s (%s, rated %.1f from %d reviews)", p.Name, p.Location, p.Rating, p.Reviews))
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type wordSet map[string]struct{}

func tokens(text string) wordSet {
	set := make(wordSet)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		set[strings.Trim(w, ".,!?")] = struct{}{}
	}
	return set
}

func (s wordSet) any(words ...string) bool {
	for _, w := range words {
		if _, ok := s[w]; ok {
			return true
		}
	}
	return false
}
