package orchestration

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/models"
)

var (
	serviceResultActions = []models.Action{
		{Type: "view_provider", Label: "View Details"},
		{Type: "create_inquiry", Label: "Send Inquiry"},
	}
	recommendationActions = []models.Action{{Type: "view_details", Label: "Learn More"}}
	analyticsActions      = []models.Action{
		{Type: "view_dashboard", Label: "Open Dashboard"},
		{Type: "export_report", Label: "Export Report"},
	}
	inquiryActions = []models.Action{
		{Type: "respond_inquiry", Label: "Respond"},
		{Type: "view_details", Label: "View Details"},
	}
	errorActions = []models.Action{
		{Type: "retry", Label: "Try Again"},
		{Type: "contact_support", Label: "Contact Support"},
	}
	errorSuggestions = []string{
		"Try rephrasing your question",
		"Check your internet connection",
		"Contact support if the issue persists",
	}
	errorMessages = map[string]string{
		string(models.KindTimeout):        "I'm taking a bit longer than expected. Please try again.",
		string(models.KindAuthentication): "There was an authentication issue. Please log in again.",
		string(models.KindNotFound):       "I couldn't find what you're looking for. Could you provide more details?",
		string(models.KindGeneral):        "I encountered an issue processing your request. Please try again or rephrase your question.",
	}
)

const defaultTextMessage = "I'm here to help!"

// Handler formats agent responses for clients.
type Handler struct {
	verbose bool
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler creates a handler. verbose exposes raw error text in
// error_details.
func NewHandler(verbose bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{verbose: verbose, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// HandleResponse formats resp according to the routed agent and response type.
func (h *Handler) HandleResponse(resp *models.AgentResponse, d *models.RoutingDecision, userID string) *models.FormattedResponse {
	if resp == nil {
		return h.HandleError(models.NewError(models.KindAgentFailure, "handle_response", errors.New("empty agent response")), userID, "")
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "Unknown error"
		}
		kind := resp.ErrorKind
		if kind == "" {
			kind = models.KindOf(errors.New(msg))
		}
		return h.HandleError(models.NewError(kind, "", errors.New(msg)), userID, "")
	}
	if d == nil {
		d = &models.RoutingDecision{AgentType: resp.AgentType, Intent: models.IntentUnknown, Confidence: 1.0}
	}

	var out *models.FormattedResponse
	switch d.AgentType {
	case models.AgentConsumer:
		out = formatConsumer(resp)
	case models.AgentProvider:
		out = formatProvider(resp)
	default:
		out = h.formatDefault(resp)
	}

	out.Metadata = &models.ResponseMetadata{
		AgentType:  d.AgentType,
		Confidence: d.Confidence,
		Intent:     d.Intent,
		Timestamp:  h.now(),
		UserID:     userID,
	}
	out.ExecutionInfo = resp.ExecutionMetadata
	h.logger.Debug("Response formatted", zap.String("user_id", userID), zap.String("type", string(out.Type)))
	return out
}

func formatConsumer(resp *models.AgentResponse) *models.FormattedResponse {
	switch resp.Type {
	case models.ResponseServiceResults:
		n := len(resp.Providers)
		filters := resp.Filters
		if filters == nil {
			filters = &models.SearchFilters{Services: []string{}, Locations: []string{}}
		}
		return &models.FormattedResponse{
			Type:            models.ResponseServiceResults,
			Message:         resp.Message,
			Providers:       nonNilProviders(resp.Providers),
			TotalCount:      &n,
			FiltersApplied:  filters,
			Recommendations: resp.Recommendations,
			Actions:         serviceResultActions,
		}
	case models.ResponseRecommendation:
		return &models.FormattedResponse{
			Type:            models.ResponseRecommendation,
			Message:         resp.Message,
			Recommendations: resp.Recommendations,
			Reasoning:       resp.Reasoning,
			Actions:         recommendationActions,
		}
	default:
		return formatText(resp)
	}
}

func formatProvider(resp *models.AgentResponse) *models.FormattedResponse {
	switch resp.Type {
	case models.ResponseBusinessAnalytics:
		return &models.FormattedResponse{
			Type:            models.ResponseBusinessAnalytics,
			Message:         resp.Message,
			Metrics:         resp.Metrics,
			Insights:        resp.Insights,
			Trends:          resp.Trends,
			Recommendations: resp.Recommendations,
			ChartData:       resp.ChartData,
			Actions:         analyticsActions,
		}
	case models.ResponseInquiryManagement:
		pending := resp.PendingCount
		return &models.FormattedResponse{
			Type:         models.ResponseInquiryManagement,
			Message:      resp.Message,
			Inquiries:    resp.Inquiries,
			PendingCount: &pending,
			Actions:      inquiryActions,
		}
	default:
		return formatText(resp)
	}
}

func formatText(resp *models.AgentResponse) *models.FormattedResponse {
	return &models.FormattedResponse{
		Type:        models.ResponseText,
		Message:     resp.Message,
		Data:        resp.Data,
		Suggestions: resp.Suggestions,
	}
}

func (h *Handler) formatDefault(resp *models.AgentResponse) *models.FormattedResponse {
	msg := resp.Message
	if msg == "" {
		msg = defaultTextMessage
	}
	ts := h.now()
	return &models.FormattedResponse{Type: models.ResponseText, Message: msg, Data: resp.Data, Timestamp: &ts}
}

// HandleError maps err to one of the canned user-facing error responses.
func (h *Handler) HandleError(err error, userID, message string) *models.FormattedResponse {
	if err == nil {
		err = errors.New("unknown error")
	}
	class := models.KindOf(err).UserFacingClass()
	h.logger.Error("Handling error",
		zap.String("user_id", userID),
		zap.String("error_type", class),
		zap.Int("message_length", len(message)),
		zap.Error(err),
	)
	ts := h.now()
	out := &models.FormattedResponse{
		Type:        models.ResponseError,
		Message:     errorMessages[class],
		ErrorType:   class,
		Suggestions: errorSuggestions,
		Actions:     errorActions,
		Timestamp:   &ts,
	}
	if h.verbose {
		out.ErrorDetails = err.Error()
	}
	return out
}

func nonNilProviders(ps []models.ServiceProvider) []models.ServiceProvider {
	if ps == nil {
		return []models.ServiceProvider{}
	}
	return ps
}
