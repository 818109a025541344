package models

import (
	"strings"
	"time"
)

// AgentType names the downstream agent a request is routed to.
type AgentType string

const (
	AgentConsumer AgentType = "consumer"
	AgentProvider AgentType = "provider"
)

// NormalizeAgentType maps anything outside the known set to consumer.
func NormalizeAgentType(s string) AgentType {
	switch AgentType(strings.ToLower(strings.TrimSpace(s))) {
	case AgentProvider:
		return AgentProvider
	default:
		return AgentConsumer
	}
}

// Valid reports whether t is one of the routable agent types.
func (t AgentType) Valid() bool {
	return t == AgentConsumer || t == AgentProvider
}

// Intent labels
type Intent string

const (
	IntentServiceSearch Intent = "service_search"
	IntentBusinessQuery Intent = "business_query"
	IntentGeneral       Intent = "general"
	IntentUnknown       Intent = "unknown"
)

// User roles
const (
	RoleConsumer = "consumer"
	RoleProvider = "provider"
)

// PriceRange is a price mention pulled out of a message.
type PriceRange struct {
	Amount   int    `json:"amount"`
	Currency string `json:"currency"`
}

// Entities holds the structured mentions found in a message.
type Entities struct {
	Locations      []string    `json:"locations"`
	Services       []string    `json:"services"`
	PriceRange     *PriceRange `json:"price_range"`
	TimeReferences []string    `json:"time_references"`
}

// NewEntities returns an Entities value with non-nil slices.
func NewEntities() Entities {
	return Entities{
		Locations:      []string{},
		Services:       []string{},
		TimeReferences: []string{},
	}
}

// IsEmpty reports whether no entity of any kind was found.
func (e Entities) IsEmpty() bool {
	return len(e.Locations) == 0 && len(e.Services) == 0 && e.PriceRange == nil && len(e.TimeReferences) == 0
}

// Count returns the number of entity mentions.
func (e Entities) Count() int {
	n := len(e.Locations) + len(e.Services) + len(e.TimeReferences)
	if e.PriceRange != nil {
		n++
	}
	return n
}

// UserProfile is the slice of the user record the pipeline reads.
type UserProfile struct {
	UserID      string                 `json:"user_id" db:"user_id"`
	Role        string                 `json:"role" db:"role"`
	Name        string                 `json:"name,omitempty" db:"name"`
	Location    string                 `json:"location,omitempty" db:"location"`
	Preferences map[string]interface{} `json:"preferences,omitempty" db:"-"`
}

// SemanticAnalysis is the optional richer reading of a message.
type SemanticAnalysis struct {
	Intent           string   `json:"intent"`
	IntentConfidence float64  `json:"intent_confidence"`
	SemanticMeaning  string   `json:"semantic_meaning,omitempty"`
	Entities         Entities `json:"entities"`
	Sentiment        string   `json:"sentiment"`
	UrgencyLevel     string   `json:"urgency_level"`
	KeyPhrases       []string `json:"key_phrases,omitempty"`
	Quality          []string `json:"quality_requirements,omitempty"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	Confidence       float64  `json:"confidence"`
	Reasoning        string   `json:"reasoning,omitempty"`
	Processor        string   `json:"processor,omitempty"`
}

// HistoryMessage is one turn of prior conversation handed to the analyzer.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionContext is what the preprocessor knows about the ongoing session.
type SessionContext struct {
	SessionID    string                 `json:"session_id,omitempty"`
	MessageCount int                    `json:"message_count"`
	LastAgent    string                 `json:"last_agent,omitempty"`
	History      []HistoryMessage       `json:"history,omitempty"`
	Data         map[string]interface{} `json:"context_data,omitempty"`
}

// IsEmpty reports whether there is no session to speak of.
func (c SessionContext) IsEmpty() bool {
	return c.SessionID == "" && c.MessageCount == 0 && len(c.History) == 0
}

// RequestMetadata summarises a preprocessed request.
type RequestMetadata struct {
	MessageLength       int      `json:"message_length"`
	HasEntities         bool     `json:"has_entities"`
	HasSession          bool     `json:"has_session"`
	HasSemanticAnalysis bool     `json:"has_semantic_analysis"`
	SemanticConfidence  *float64 `json:"semantic_confidence"`
}

// PreprocessedRequest is the normalized, enriched form of a user message.
type PreprocessedRequest struct {
	OriginalText     string                 `json:"original_message"`
	NormalizedText   string                 `json:"message"`
	UserID           string                 `json:"user_id"`
	SessionID        string                 `json:"session_id,omitempty"`
	UserRole         string                 `json:"user_role"`
	UserProfile      *UserProfile           `json:"user_profile,omitempty"`
	Entities         Entities               `json:"entities"`
	Keywords         []string               `json:"keywords"`
	SemanticAnalysis *SemanticAnalysis      `json:"semantic_analysis"`
	SessionContext   SessionContext         `json:"session_context"`
	Context          map[string]interface{} `json:"context,omitempty"`
	Metadata         RequestMetadata        `json:"metadata"`
	Timestamp        time.Time              `json:"timestamp"`
	Error            string                 `json:"error,omitempty"`
}

// RoutingMetadata records the inputs the router looked at.
type RoutingMetadata struct {
	UserRole      string `json:"user_role"`
	MessageLength int    `json:"message_length"`
	HasContext    bool   `json:"has_context"`
}

// RoutingDecision names the agent that will handle a request. Treat as immutable.
type RoutingDecision struct {
	AgentType     AgentType            `json:"agent_type"`
	Intent        Intent               `json:"intent"`
	Confidence    float64              `json:"confidence"`
	Reason        string               `json:"reason"`
	Timestamp     time.Time            `json:"timestamp"`
	Metadata      RoutingMetadata      `json:"routing_metadata"`
	SourceRequest *PreprocessedRequest `json:"-"`
}

// Subtask is one advisory step of a plan.
type Subtask struct {
	TaskID      string                 `json:"task_id"`
	Description string                 `json:"description"`
	Priority    int                    `json:"priority"`
	Required    bool                   `json:"required"`
	Params      map[string]interface{} `json:"params,omitempty"`
}

// ExecutionStrategySequential is the only strategy plans use.
const ExecutionStrategySequential = "sequential"

// TaskPlan describes how an agent should approach a request.
type TaskPlan struct {
	PlanType             string               `json:"plan_type"`
	AgentType            AgentType            `json:"agent_type,omitempty"`
	Intent               Intent               `json:"intent"`
	Subtasks             []Subtask            `json:"subtasks"`
	DataSources          []string             `json:"data_sources"`
	ExecutionStrategy    string               `json:"execution_strategy"`
	EstimatedDurationMs  int                  `json:"estimated_duration_ms"`
	RequiresContext      bool                 `json:"requires_context,omitempty"`
	RequiresProviderAuth bool                 `json:"requires_provider_auth,omitempty"`
	RoutingDecision      *RoutingDecision     `json:"-"`
	Request              *PreprocessedRequest `json:"-"`
	CreatedAt            time.Time            `json:"created_at"`
}

// ResponseType tags the shape of an agent response.
type ResponseType string

const (
	ResponseServiceResults    ResponseType = "service_results"
	ResponseRecommendation    ResponseType = "recommendation"
	ResponseBusinessAnalytics ResponseType = "business_analytics"
	ResponseInquiryManagement ResponseType = "inquiry_management"
	ResponseText              ResponseType = "text"
	ResponseError             ResponseType = "error"
)

// ServiceProvider is a listing returned by the consumer agent.
type ServiceProvider struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Category   string  `json:"category"`
	Location   string  `json:"location"`
	Rating     float64 `json:"rating"`
	PriceRange string  `json:"price_range"`
	Available  bool    `json:"available"`
	Reviews    int     `json:"reviews"`
}

// Inquiry is a customer request waiting on a provider.
type Inquiry struct {
	ID       string    `json:"id"`
	Customer string    `json:"customer"`
	Service  string    `json:"service"`
	Location string    `json:"location"`
	Status   string    `json:"status"`
	Urgency  string    `json:"urgency"`
	Created  time.Time `json:"created"`
}

// SearchFilters echoes the filters a service search applied.
type SearchFilters struct {
	Services   []string    `json:"services"`
	Locations  []string    `json:"locations"`
	PriceRange *PriceRange `json:"price_range,omitempty"`
}

// ExecutionMetadata is attached by the dispatcher after an agent runs.
type ExecutionMetadata struct {
	AgentType            AgentType `json:"agent_type"`
	ExecutionTimeSeconds float64   `json:"execution_time_seconds"`
	TasksCompleted       int       `json:"tasks_completed"`
	Timestamp            time.Time `json:"timestamp"`
}

// AgentResponse is what an agent returns. Type selects which fields are meaningful.
type AgentResponse struct {
	Success bool         `json:"success"`
	Type    ResponseType `json:"type,omitempty"`
	Message string       `json:"message,omitempty"`

	// service_results / recommendation
	Providers       []ServiceProvider `json:"providers,omitempty"`
	Filters         *SearchFilters    `json:"filters_applied,omitempty"`
	Recommendations []string          `json:"recommendations,omitempty"`
	Reasoning       string            `json:"reasoning,omitempty"`

	// business_analytics
	Metrics   map[string]float64     `json:"metrics,omitempty"`
	Insights  []string               `json:"insights,omitempty"`
	Trends    map[string]interface{} `json:"trends,omitempty"`
	ChartData map[string]interface{} `json:"chart_data,omitempty"`

	// inquiry_management
	Inquiries    []Inquiry `json:"inquiries,omitempty"`
	PendingCount int       `json:"pending_count,omitempty"`

	// text
	Data        map[string]interface{} `json:"data,omitempty"`
	Suggestions []string               `json:"suggestions,omitempty"`

	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	AgentType AgentType `json:"agent_type,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	ExecutionMetadata *ExecutionMetadata `json:"execution_metadata,omitempty"`
}

// Action is a follow-up the client can offer the user.
type Action struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

// ResponseMetadata is appended to every formatted response.
type ResponseMetadata struct {
	AgentType  AgentType `json:"agent_type"`
	Confidence float64   `json:"confidence"`
	Intent     Intent    `json:"intent"`
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"user_id"`
}

// FormattedResponse is the client-facing payload.
type FormattedResponse struct {
	Type    ResponseType `json:"type"`
	Message string       `json:"message"`

	Providers       []ServiceProvider      `json:"providers,omitempty"`
	TotalCount      *int                   `json:"total_count,omitempty"`
	FiltersApplied  *SearchFilters         `json:"filters_applied,omitempty"`
	Recommendations []string               `json:"recommendations,omitempty"`
	Reasoning       string                 `json:"reasoning,omitempty"`
	Metrics         map[string]float64     `json:"metrics,omitempty"`
	Insights        []string               `json:"insights,omitempty"`
	Trends          map[string]interface{} `json:"trends,omitempty"`
	ChartData       map[string]interface{} `json:"chart_data,omitempty"`
	Inquiries       []Inquiry              `json:"inquiries,omitempty"`
	PendingCount    *int                   `json:"pending_count,omitempty"`
	Data            map[string]interface{} `json:"data,omitempty"`
	Suggestions     []string               `json:"suggestions,omitempty"`
	Actions         []Action               `json:"actions,omitempty"`

	ErrorType    string `json:"error_type,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`

	Metadata      *ResponseMetadata  `json:"metadata,omitempty"`
	ExecutionInfo *ExecutionMetadata `json:"execution_info,omitempty"`
	Timestamp     *time.Time         `json:"timestamp,omitempty"`
}

// Envelope is the result of one orchestration cycle.
type Envelope struct {
	Success       bool               `json:"success"`
	RequestID     string             `json:"request_id,omitempty"`
	Response      *FormattedResponse `json:"response,omitempty"`
	AgentType     AgentType          `json:"agent_type,omitempty"`
	SessionID     string             `json:"session_id,omitempty"`
	Error         string             `json:"error,omitempty"`
	ErrorResponse *FormattedResponse `json:"error_response,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// SessionState is the per (user, session) bookkeeping record.
type SessionState struct {
	UserID       string                 `json:"user_id"`
	SessionID    string                 `json:"session_id"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	MessageCount int                    `json:"message_count"`
	LastAgent    string                 `json:"last_agent,omitempty"`
	LastMessage  string                 `json:"last_message,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// SessionUpdate carries the fields merged into a SessionState.
type SessionUpdate struct {
	LastAgent   string
	LastMessage string
	Data        map[string]interface{}
	Timestamp   time.Time
}

// ConversationRecord is one persisted request/response exchange.
type ConversationRecord struct {
	ID        int64              `json:"id,omitempty"`
	UserID    string             `json:"user_id"`
	SessionID string             `json:"session_id"`
	Request   string             `json:"request"`
	Response  *FormattedResponse `json:"response"`
	AgentType AgentType          `json:"agent_type"`
	Timestamp time.Time          `json:"timestamp"`
}

// SessionSnapshot is returned by the session context lookup.
type SessionSnapshot struct {
	SessionID string               `json:"session_id"`
	State     *SessionState        `json:"state"`
	History   []ConversationRecord `json:"history"`
}
