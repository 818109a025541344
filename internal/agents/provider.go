package agents

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/models"
)

var providerSuggestions = []string{
	"Show pending inquiries",
	"How much did I earn this month?",
	"What's my current rating?",
}

// lastMonthRatio stands in for last month's revenue relative to this month's.
const lastMonthRatio = 0.9

type businessSnapshot struct {
	TotalInquiries   int
	PendingInquiries int
	CompletedJobs    int
	MonthRevenue     int
	AverageRating    float64
	ResponseRate     int
	TotalReviews     int
}

// ProviderAgent answers business questions from fixed demo data.
type ProviderAgent struct {
	business businessSnapshot
	now      func() time.Time
	logger   *zap.Logger
}

// NewProviderAgent creates the provider agent with its demo data.
func NewProviderAgent(logger *zap.Logger) *ProviderAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Provider agent initialized")
	return &ProviderAgent{
		business: businessSnapshot{
			TotalInquiries:   127,
			PendingInquiries: 8,
			CompletedJobs:    89,
			MonthRevenue:     125000,
			AverageRating:    4.7,
			ResponseRate:     92,
			TotalReviews:     127,
		},
		now:    time.Now,
		logger: logger,
	}
}

func (a *ProviderAgent) Type() models.AgentType { return models.AgentProvider }

// Execute picks a summary based on what the provider asked about.
func (a *ProviderAgent) Execute(ctx context.Context, plan *models.TaskPlan, userID, sessionID string) (*models.AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, models.NewError(models.KindAgentFailure, "provider.execute", errNilPlan)
	}
	req := planRequest(plan)
	a.logger.Debug("Provider agent executing",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.String("intent", string(plan.Intent)),
	)

	if plan.Intent != models.IntentBusinessQuery {
		return a.general(req.NormalizedText), nil
	}

	text := strings.ToLower(req.NormalizedText)
	switch {
	case containsAnyWord(text, "inquiry", "inquiries", "request"):
		return a.inquirySummary(), nil
	case containsAnyWord(text, "revenue", "earning", "income"):
		return a.revenueSummary(), nil
	case containsAnyWord(text, "rating", "review"):
		return a.ratingSummary(), nil
	default:
		return a.fullAnalytics(), nil
	}
}

func (a *ProviderAgent) ExecuteStream(ctx context.Context, plan *models.TaskPlan, userID, sessionID string, yield func(*models.AgentResponse) error) error {
	return singleChunk(ctx, a, plan, userID, sessionID, yield)
}

func (a *ProviderAgent) HealthCheck(context.Context) string { return HealthHealthy }

func (a *ProviderAgent) inquiries() []models.Inquiry {
	now := a.now()
	return []models.Inquiry{
		{ID: "inq_001", Customer: "Nimal Perera", Service: "Plumbing", Location: "Colombo 7", Status: "pending", Urgency: "high", Created: now.Add(-2 * time.Hour)},
		{ID: "inq_002", Customer: "Kamal Silva", Service: "Electrical", Location: "Nugegoda", Status: "pending", Urgency: "medium", Created: now.Add(-5 * time.Hour)},
	}
}

func (a *ProviderAgent) inquirySummary() *models.AgentResponse {
	list := a.inquiries()
	pending, urgent := 0, 0
	for _, inq := range list {
		if inq.Status == "pending" {
			pending++
		}
		if inq.Urgency == "high" {
			urgent++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d pending inquiries", pending)
	if urgent > 0 {
		fmt.Fprintf(&b, ", including %d urgent request%s", urgent, plural(urgent))
	}
	b.WriteString(".")
	if pending > 0 {
		latest := list[0]
		fmt.Fprintf(&b, " Latest: %s in %s needs %s.", latest.Customer, latest.Location, latest.Service)
	}

	return &models.AgentResponse{
		Success:      true,
		Type:         models.ResponseInquiryManagement,
		Message:      b.String(),
		Inquiries:    list,
		PendingCount: pending,
		Data: map[string]interface{}{
			"total":   a.business.TotalInquiries,
			"pending": pending,
			"urgent":  urgent,
		},
	}
}

func (a *ProviderAgent) revenueSummary() *models.AgentResponse {
	revenue := float64(a.business.MonthRevenue)
	completed := float64(a.business.CompletedJobs)
	avg := 0.0
	if completed > 0 {
		avg = revenue / completed
	}
	lastMonth := revenue * lastMonthRatio
	growth := (revenue - lastMonth) / lastMonth * 100

	msg := fmt.Sprintf("This month, you've earned Rs. %s from %d completed jobs (avg Rs. %.0f per job). ",
		groupThousands(a.business.MonthRevenue), a.business.CompletedJobs, avg)
	if growth > 0 {
		msg += fmt.Sprintf("That's %.1f%% higher than last month!", growth)
	} else {
		msg += fmt.Sprintf("Revenue is %.1f%% lower than last month.", math.Abs(growth))
	}

	return &models.AgentResponse{
		Success: true,
		Type:    models.ResponseBusinessAnalytics,
		Message: msg,
		Metrics: map[string]float64{
			"this_month_revenue": revenue,
			"last_month_revenue": math.Round(lastMonth),
			"growth_percent":     math.Round(growth*10) / 10,
			"completed_jobs":     completed,
			"avg_per_job":        math.Floor(avg),
		},
		Insights: []string{fmt.Sprintf("Revenue grew %.1f%% month over month", growth)},
		Trends: map[string]interface{}{
			"revenue": map[string]interface{}{"direction": direction(growth), "growth_percent": math.Round(growth*10) / 10},
		},
		ChartData: map[string]interface{}{
			"labels": []string{"Last month", "This month"},
			"values": []float64{math.Round(lastMonth), revenue},
		},
	}
}

func (a *ProviderAgent) ratingSummary() *models.AgentResponse {
	rating := a.business.AverageRating
	msg := fmt.Sprintf("Your current rating is %.1f/5.0 with a %d%% response rate. ", rating, a.business.ResponseRate)
	switch {
	case rating >= 4.5:
		msg += "Excellent work! Keep maintaining this high quality service."
	case rating >= 4.0:
		msg += "Good performance! Focus on quick responses to improve further."
	default:
		msg += "There's room for improvement. Consider faster responses and better communication."
	}

	return &models.AgentResponse{
		Success: true,
		Type:    models.ResponseBusinessAnalytics,
		Message: msg,
		Metrics: map[string]float64{
			"average_rating": rating,
			"response_rate":  float64(a.business.ResponseRate),
			"total_reviews":  float64(a.business.TotalReviews),
		},
		Recommendations: []string{
			"Respond to inquiries within 1 hour",
			"Send updates during long jobs",
			"Ask satisfied customers for reviews",
		},
	}
}

func (a *ProviderAgent) fullAnalytics() *models.AgentResponse {
	b := a.business
	msg := "Here's your business overview:\n\n" +
		fmt.Sprintf("Total Inquiries: %d\n", b.TotalInquiries) +
		fmt.Sprintf("Pending: %d\n", b.PendingInquiries) +
		fmt.Sprintf("Completed Jobs: %d\n", b.CompletedJobs) +
		fmt.Sprintf("Revenue (This Month): Rs. %s\n", groupThousands(b.MonthRevenue)) +
		fmt.Sprintf("Average Rating: %.1f/5.0\n", b.AverageRating) +
		fmt.Sprintf("Response Rate: %d%%", b.ResponseRate)

	conversion := 0.0
	if b.TotalInquiries > 0 {
		conversion = float64(b.CompletedJobs) / float64(b.TotalInquiries) * 100
	}
	return &models.AgentResponse{
		Success: true,
		Type:    models.ResponseBusinessAnalytics,
		Message: msg,
		Metrics: map[string]float64{
			"total_inquiries":    float64(b.TotalInquiries),
			"pending_inquiries":  float64(b.PendingInquiries),
			"completed_jobs":     float64(b.CompletedJobs),
			"this_month_revenue": float64(b.MonthRevenue),
			"average_rating":     b.AverageRating,
			"response_rate":      float64(b.ResponseRate),
		},
		Insights: []string{
			fmt.Sprintf("%.0f%% of inquiries turned into completed jobs", conversion),
			fmt.Sprintf("%d inquiries are waiting for a reply", b.PendingInquiries),
		},
		ChartData: map[string]interface{}{
			"labels": []string{"Pending", "Completed"},
			"values": []int{b.PendingInquiries, b.CompletedJobs},
		},
		Inquiries: a.inquiries(),
	}
}

func (a *ProviderAgent) general(text string) *models.AgentResponse {
	words := tokens(text)
	var reply string
	switch {
	case words.any("hello", "hi", "hey"):
		reply = "Hello! I'm your KumbuK business assistant. I can help you manage inquiries, track revenue, view analytics, and improve your service ratings. What would you like to know?"
	case words.any("help", "how"):
		reply = "I can help you with:\n- View pending inquiries\n- Track revenue and earnings\n- Check your ratings and reviews\n- Get business analytics\n\nJust ask me about any of these!"
	default:
		reply = "I'm here to help you manage your service business! Ask me about inquiries, revenue, ratings, or analytics."
	}
	return &models.AgentResponse{
		Success:     true,
		Type:        models.ResponseText,
		Message:     reply,
		Suggestions: providerSuggestions,
	}
}

func containsAnyWord(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func direction(growth float64) string {
	if growth >= 0 {
		return "up"
	}
	return "down"
}

// groupThousands renders 125000 as "125,000".
func groupThousands(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
