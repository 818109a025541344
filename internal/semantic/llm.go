package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/circuitbreaker"
	"github.com/kumbuk/orchestrator/internal/models"
	"github.com/kumbuk/orchestrator/internal/tracing"
)

const systemPrompt = `You are a semantic analysis assistant for KumbuK, a hyper-local services platform in Sri Lanka.
Analyze the user message and respond ONLY with JSON of the form:
{"intent": "service_search|business_query|inquiry_management|general_conversation",
 "intent_confidence": 0.0-1.0,
 "semantic_meaning": "...",
 "entities": {"locations": [], "services": [], "price_range": {"amount": 0, "currency": "LKR"}, "time_references": []},
 "sentiment": "positive|neutral|negative|urgent",
 "urgency_level": "low|medium|high|critical",
 "key_phrases": [], "suggested_actions": [],
 "confidence": 0.0-1.0, "reasoning": "..."}`

// LLMConfig configures the HTTP analyzer.
type LLMConfig struct {
	Endpoint string
	Model    string
	Timeout  time.Duration
}

// LLMAnalyzer asks a completion service for an analysis.
type LLMAnalyzer struct {
	cfg    LLMConfig
	httpw  *circuitbreaker.HTTPWrapper
	logger *zap.Logger
}

// NewLLMAnalyzer creates an analyzer posting to cfg.Endpoint through a breaker.
func NewLLMAnalyzer(cfg LLMConfig, logger *zap.Logger) *LLMAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	client := &http.Client{Timeout: cfg.Timeout}
	return &LLMAnalyzer{
		cfg:    cfg,
		httpw:  circuitbreaker.NewHTTPWrapper(client, "semantic-analyzer", "analyzer", logger),
		logger: logger,
	}
}

func (a *LLMAnalyzer) Name() string { return "llm" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string        `json:"model,omitempty"`
	Messages []chatMessage `json:"messages"`
	UserID   string        `json:"user_id,omitempty"`
}

type completionResponse struct {
	Completion string `json:"completion"`
}

// Analyze posts the message with its context and parses the JSON object in the reply.
func (a *LLMAnalyzer) Analyze(ctx context.Context, req Request) (*models.SemanticAnalysis, error) {
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, a.cfg.Endpoint)
	defer span.End()

	body, err := json.Marshal(completionRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
		UserID: req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode analyzer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalyzerUnavailable, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, httpReq)

	resp, err := a.httpw.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalyzerUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrAnalyzerUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAnalyzerUnavailable, resp.StatusCode)
	}

	text := string(raw)
	var wrapped completionResponse
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Completion != "" {
		text = wrapped.Completion
	}

	analysis, err := ParseAnalysis(text)
	if err != nil {
		a.logger.Warn("Unparseable analyzer reply", zap.String("user_id", req.UserID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrAnalyzerUnavailable, err)
	}
	analysis.Processor = a.Name()
	if len(analysis.SuggestedActions) == 0 {
		analysis.SuggestedActions = SuggestedActions(analysis)
	}
	return analysis, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("CONTEXT:\n")
	role := req.UserContext.Role
	if role == "" {
		role = models.RoleConsumer
	}
	location := req.UserContext.Location
	if location == "" {
		location = "Unknown"
	}
	fmt.Fprintf(&b, "User Role: %s\nUser Location: %s\n", role, location)
	if recent := LastMessages(req.History, HistoryWindow); len(recent) > 0 {
		b.WriteString("\nRecent Conversation:\n")
		for _, m := range recent {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
		}
	}
	b.WriteString("\nUSER MESSAGE:\n")
	b.WriteString(req.Text)
	return b.String()
}

// replyEntities accepts both the canonical entity keys and the aliases
// completion models tend to use.
type replyEntities struct {
	Locations      []string           `json:"locations"`
	Services       []string           `json:"services"`
	ServiceTypes   []string           `json:"service_types"`
	PriceRange     *models.PriceRange `json:"price_range"`
	TimeReferences []string           `json:"time_references"`
	TimeUrgency    []string           `json:"time_urgency"`
	Quality        []string           `json:"quality_requirements"`
}

type reply struct {
	models.SemanticAnalysis
	Entities replyEntities `json:"entities"`
}

// ParseAnalysis extracts the outermost JSON object from text and decodes it.
func ParseAnalysis(text string) (*models.SemanticAnalysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var r reply
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if r.Intent == "" {
		return nil, fmt.Errorf("reply has no intent")
	}

	out := r.SemanticAnalysis
	e := models.NewEntities()
	e.Locations = append(e.Locations, r.Entities.Locations...)
	e.Services = append(e.Services, r.Entities.Services...)
	e.Services = append(e.Services, r.Entities.ServiceTypes...)
	e.TimeReferences = append(e.TimeReferences, r.Entities.TimeReferences...)
	e.TimeReferences = append(e.TimeReferences, r.Entities.TimeUrgency...)
	if r.Entities.PriceRange != nil && r.Entities.PriceRange.Amount > 0 {
		e.PriceRange = r.Entities.PriceRange
		if e.PriceRange.Currency == "" {
			e.PriceRange.Currency = "LKR"
		}
	}
	out.Entities = e
	if len(out.Quality) == 0 {
		out.Quality = r.Entities.Quality
	}
	return &out, nil
}

// BreakerState reports the analyzer service breaker.
func (a *LLMAnalyzer) BreakerState() circuitbreaker.State { return a.httpw.State() }
