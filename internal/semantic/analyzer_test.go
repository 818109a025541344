package semantic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kumbuk/orchestrator/internal/models"
)

func TestRuleAnalyzer(t *testing.T) {
	a := NewRuleAnalyzer(nil)
	ctx := context.Background()

	got, err := a.Analyze(ctx, Request{Text: "Need the best plumber in Colombo urgently"})
	require.NoError(t, err)
	assert.Equal(t, "service_search", got.Intent)
	assert.Equal(t, 0.7, got.IntentConfidence)
	assert.Equal(t, "urgent", got.Sentiment)
	assert.Equal(t, "high", got.UrgencyLevel)
	assert.Equal(t, []string{"Colombo"}, got.Entities.Locations)
	assert.Equal(t, []string{"best"}, got.Quality)
	assert.Equal(t, []string{"search_service_providers", "filter_by_location", "prioritize_available_now"}, got.SuggestedActions)
	assert.Len(t, got.KeyPhrases, 5)

	got, err = a.Analyze(ctx, Request{Text: "show my revenue"})
	require.NoError(t, err)
	assert.Equal(t, "business_query", got.Intent)
	assert.Equal(t, "low", got.UrgencyLevel)

	got, err = a.Analyze(ctx, Request{Text: "hello there"})
	require.NoError(t, err)
	assert.Equal(t, "general_conversation", got.Intent)
	assert.Equal(t, []string{"route_to_agent"}, got.SuggestedActions)
}

func TestRuleAnalyzerHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRuleAnalyzer(nil).Analyze(ctx, Request{Text: "hi"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseAnalysis(t *testing.T) {
	text := "Sure! Here you go:\n```json\n" + `{
		"intent": "service_search",
		"intent_confidence": 0.95,
		"entities": {
			"locations": ["Colombo"],
			"service_types": ["electrician"],
			"price_range": {"amount": 5000},
			"time_urgency": ["today"],
			"quality_requirements": ["certified"]
		},
		"sentiment": "neutral",
		"urgency_level": "high",
		"confidence": 0.9
	}` + "\n```"

	got, err := ParseAnalysis(text)
	require.NoError(t, err)
	assert.Equal(t, "service_search", got.Intent)
	assert.Equal(t, []string{"Colombo"}, got.Entities.Locations)
	assert.Equal(t, []string{"electrician"}, got.Entities.Services)
	assert.Equal(t, []string{"today"}, got.Entities.TimeReferences)
	require.NotNil(t, got.Entities.PriceRange)
	assert.Equal(t, "LKR", got.Entities.PriceRange.Currency)
	assert.Equal(t, []string{"certified"}, got.Quality)
	assert.Equal(t, 0.9, got.Confidence)

	_, err = ParseAnalysis("no json here")
	assert.Error(t, err)
	_, err = ParseAnalysis(`{"intent": }`)
	assert.Error(t, err)
	_, err = ParseAnalysis(`{"confidence": 0.4}`)
	assert.Error(t, err)
}

func TestLLMAnalyzer(t *testing.T) {
	var seen completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		_ = json.NewEncoder(w).Encode(completionResponse{
			Completion: `{"intent":"business_query","intent_confidence":0.8,"entities":{"locations":[]},"confidence":0.85}`,
		})
	}))
	defer srv.Close()

	a := NewLLMAnalyzer(LLMConfig{Endpoint: srv.URL, Model: "test-model"}, zaptest.NewLogger(t))
	got, err := a.Analyze(context.Background(), Request{
		UserID: "u1",
		Text:   "how is my revenue",
		History: []models.HistoryMessage{
			{Role: "user", Content: "one"}, {Role: "assistant", Content: "two"},
			{Role: "user", Content: "three"}, {Role: "assistant", Content: "four"},
		},
		UserContext: UserContext{Role: "provider", Location: "Kandy"},
	})
	require.NoError(t, err)
	assert.Equal(t, "business_query", got.Intent)
	assert.Equal(t, "llm", got.Processor)
	assert.Equal(t, []string{"fetch_business_analytics", "generate_insights"}, got.SuggestedActions)

	require.Len(t, seen.Messages, 2)
	prompt := seen.Messages[1].Content
	assert.Contains(t, prompt, "User Role: provider")
	assert.Contains(t, prompt, "User Location: Kandy")
	assert.NotContains(t, prompt, "user: one")
	assert.Contains(t, prompt, "assistant: four")
	assert.True(t, strings.HasSuffix(prompt, "how is my revenue"))
}

func TestLLMAnalyzerFailuresAreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		case "/garbage":
			_, _ = w.Write([]byte("not json at all"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	for _, path := range []string{"/down", "/garbage", "/slow"} {
		a := NewLLMAnalyzer(LLMConfig{Endpoint: srv.URL + path, Timeout: 50 * time.Millisecond}, zaptest.NewLogger(t))
		_, err := a.Analyze(context.Background(), Request{Text: "hi"})
		assert.True(t, errors.Is(err, ErrAnalyzerUnavailable), "path %s: %v", path, err)
	}
}

func TestLastMessages(t *testing.T) {
	h := []models.HistoryMessage{{Content: "a"}, {Content: "b"}}
	assert.Len(t, LastMessages(h, 3), 2)
	assert.Equal(t, "b", LastMessages(h, 1)[0].Content)
}
