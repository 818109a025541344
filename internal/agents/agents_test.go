package agents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kumbuk/orchestrator/internal/extract"
	"github.com/kumbuk/orchestrator/internal/models"
)

func planFor(x *extract.Extractor, intent models.Intent, text string) *models.TaskPlan {
	norm := extract.Normalize(text)
	return &models.TaskPlan{
		Intent: intent,
		Request: &models.PreprocessedRequest{
			OriginalText:   text,
			NormalizedText: norm,
			Entities:       x.Entities(norm),
		},
	}
}

func TestConsumerServiceSearch(t *testing.T) {
	x := extract.New(nil)
	a := NewConsumerAgent(x, zaptest.NewLogger(t))

	resp, err := a.Execute(context.Background(), planFor(x, models.IntentServiceSearch, "I need a plumber in Colombo"), "u1", "s1")
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, models.ResponseServiceResults, resp.Type)
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "Silva Plumbing Services", resp.Providers[0].Name)
	assert.Equal(t, "I found 1 Plumber in Colombo.", resp.Message)
	require.NotNil(t, resp.Filters)
	assert.Equal(t, []string{"Plumbing"}, resp.Filters.Services)
	assert.Equal(t, []string{"Colombo"}, resp.Filters.Locations)
	assert.Len(t, resp.Recommendations, 1)
}

func TestConsumerServiceSearchNoMatch(t *testing.T) {
	x := extract.New(nil)
	a := NewConsumerAgent(x, zaptest.NewLogger(t))

	resp, err := a.Execute(context.Background(), planFor(x, models.IntentServiceSearch, "find a plumber in Jaffna"), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseText, resp.Type)
	assert.Empty(t, resp.Providers)
	assert.Equal(t, consumerSuggestions, resp.Suggestions)
}

func TestConsumerRecommendAndGeneral(t *testing.T) {
	x := extract.New(nil)
	a := NewConsumerAgent(x, zaptest.NewLogger(t))
	ctx := context.Background()

	resp, err := a.Execute(ctx, planFor(x, models.IntentGeneral, "can you recommend someone good"), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseRecommendation, resp.Type)
	require.Len(t, resp.Recommendations, 2)
	assert.Contains(t, resp.Recommendations[0], "Silva Plumbing Services")
	assert.NotEmpty(t, resp.Reasoning)

	resp, err = a.Execute(ctx, planFor(x, models.IntentGeneral, "Hello!"), "u1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseText, resp.Type)
	assert.Contains(t, resp.Message, "Hello!")

	// "this" must not trigger the greeting branch
	resp, err = a.Execute(ctx, planFor(x, models.IntentGeneral, "what is this"), "u1", "")
	require.NoError(t, err)
	assert.NotContains(t, resp.Message, "Hello!")
}

func TestConsumerRejectsNilPlanAndCancelledContext(t *testing.T) {
	a := NewConsumerAgent(nil, zaptest.NewLogger(t))

	_, err := a.Execute(context.Background(), nil, "u1", "")
	require.Error(t, err)
	assert.Equal(t, models.KindAgentFailure, models.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Execute(ctx, &models.TaskPlan{}, "u1", "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProviderInquirySummary(t *testing.T) {
	x := extract.New(nil)
	a := NewProviderAgent(zaptest.NewLogger(t))
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }

	resp, err := a.Execute(context.Background(), planFor(x, models.IntentBusinessQuery, "show my pending inquiries"), "p1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseInquiryManagement, resp.Type)
	require.Len(t, resp.Inquiries, 2)
	assert.Equal(t, 2, resp.PendingCount)
	assert.Equal(t, "inq_001", resp.Inquiries[0].ID)
	assert.Equal(t, fixed.Add(-2*time.Hour), resp.Inquiries[0].Created)
	assert.Contains(t, resp.Message, "1 urgent request.")
}

func TestProviderRevenueSummary(t *testing.T) {
	x := extract.New(nil)
	a := NewProviderAgent(zaptest.NewLogger(t))

	resp, err := a.Execute(context.Background(), planFor(x, models.IntentBusinessQuery, "How much revenue this month?"), "p1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseBusinessAnalytics, resp.Type)
	assert.Contains(t, resp.Message, "This month, you've earned Rs. 125,000 from 89 completed jobs (avg Rs. 1404 per job).")
	assert.Contains(t, resp.Message, "11.1% higher than last month")
	assert.Equal(t, 125000.0, resp.Metrics["this_month_revenue"])
	assert.Equal(t, 112500.0, resp.Metrics["last_month_revenue"])
	assert.Equal(t, 11.1, resp.Metrics["growth_percent"])
	assert.NotNil(t, resp.ChartData)
}

func TestProviderRatingAndAnalytics(t *testing.T) {
	x := extract.New(nil)
	a := NewProviderAgent(zaptest.NewLogger(t))
	ctx := context.Background()

	resp, err := a.Execute(ctx, planFor(x, models.IntentBusinessQuery, "what is my rating"), "p1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseBusinessAnalytics, resp.Type)
	assert.Contains(t, resp.Message, "Excellent work!")
	assert.Len(t, resp.Recommendations, 3)

	resp, err = a.Execute(ctx, planFor(x, models.IntentBusinessQuery, "open my dashboard"), "p1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseBusinessAnalytics, resp.Type)
	assert.Equal(t, 127.0, resp.Metrics["total_inquiries"])
	assert.Equal(t, 4.7, resp.Metrics["average_rating"])
	assert.Contains(t, resp.Message, "Response Rate: 92%")
}

func TestProviderGeneral(t *testing.T) {
	x := extract.New(nil)
	a := NewProviderAgent(zaptest.NewLogger(t))
	ctx := context.Background()

	resp, err := a.Execute(ctx, planFor(x, models.IntentGeneral, "hello"), "p1", "")
	require.NoError(t, err)
	assert.Equal(t, models.ResponseText, resp.Type)
	assert.Contains(t, resp.Message, "KumbuK business assistant")
	assert.Equal(t, providerSuggestions, resp.Suggestions)

	resp, err = a.Execute(ctx, planFor(x, models.IntentGeneral, "how does this work"), "p1", "")
	require.NoError(t, err)
	assert.Contains(t, resp.Message, "I can help you with:")
}

func TestExecuteStreamYieldsOneChunk(t *testing.T) {
	x := extract.New(nil)
	a := NewProviderAgent(zaptest.NewLogger(t))

	var chunks []*models.AgentResponse
	err := a.ExecuteStream(context.Background(), planFor(x, models.IntentGeneral, "hi"), "p1", "", func(r *models.AgentResponse) error {
		chunks = append(chunks, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Success)

	stop := errors.New("stop")
	err = a.ExecuteStream(context.Background(), planFor(x, models.IntentGeneral, "hi"), "p1", "", func(*models.AgentResponse) error {
		return stop
	})
	assert.ErrorIs(t, err, stop)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(extract.New(nil))
	assert.Equal(t, []models.AgentType{models.AgentConsumer, models.AgentProvider}, r.Types())

	a, err := r.Build(models.AgentProvider, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, models.AgentProvider, a.Type())
	assert.Equal(t, HealthHealthy, a.HealthCheck(context.Background()))

	_, err = r.Build("broker", zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrUnknownAgentType)
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "125,000", groupThousands(125000))
	assert.Equal(t, "999", groupThousands(999))
	assert.Equal(t, "1,000,000", groupThousands(1000000))
	assert.Equal(t, "-4,500", groupThousands(-4500))
}
