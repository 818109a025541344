package orchestration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/agents"
	"github.com/kumbuk/orchestrator/internal/metrics"
	"github.com/kumbuk/orchestrator/internal/models"
	"github.com/kumbuk/orchestrator/internal/session"
	"github.com/kumbuk/orchestrator/internal/storage"
	"github.com/kumbuk/orchestrator/internal/streaming"
)

// Publisher delivers realtime events to a user.
type Publisher interface {
	SendRealtimeMessage(ctx context.Context, userID string, evt streaming.Event) error
}

// Deps are the collaborators of an Aggregator. Sessions, Conversations and
// Publisher may be nil.
type Deps struct {
	Preprocessor  *Preprocessor
	Router        *Router
	Planner       *Planner
	Dispatcher    *Dispatcher
	Handler       *Handler
	Sessions      session.Store
	Conversations storage.ConversationStore
	Publisher     Publisher
}

// Aggregator runs one chat message through every stage and records the
// exchange.
type Aggregator struct {
	pre           *Preprocessor
	router        *Router
	planner       *Planner
	dispatcher    *Dispatcher
	handler       *Handler
	sessions      session.Store
	conversations storage.ConversationStore
	publisher     Publisher
	logger        *zap.Logger
	now           func() time.Time
}

// NewAggregator wires the pipeline. Missing stages get defaults.
func NewAggregator(d Deps, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		pre:           d.Preprocessor,
		router:        d.Router,
		planner:       d.Planner,
		dispatcher:    d.Dispatcher,
		handler:       d.Handler,
		sessions:      d.Sessions,
		conversations: d.Conversations,
		publisher:     d.Publisher,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
	if a.pre == nil {
		a.pre = NewPreprocessor(nil, nil, nil, a.sessions, a.conversations, PreprocessorConfig{}, logger)
	}
	if a.router == nil {
		a.router = NewRouter(nil, logger)
	}
	if a.planner == nil {
		a.planner = NewPlanner(logger)
	}
	if a.dispatcher == nil {
		a.dispatcher = NewDispatcher(agents.DefaultRegistry(nil), logger)
	}
	if a.handler == nil {
		a.handler = NewHandler(false, logger)
	}
	logger.Info("Aggregator initialized")
	return a
}

// Dispatcher exposes the dispatcher for health reporting.
func (a *Aggregator) Dispatcher() *Dispatcher { return a.dispatcher }

// RequestID derives the request id from the submission time.
func RequestID(userID string, t time.Time) string {
	return fmt.Sprintf("%s_%d.%06d", userID, t.Unix(), t.Nanosecond()/1000)
}

// ProcessRequest runs the full pipeline. It never returns an error: failures
// come back as an envelope with Success false.
func (a *Aggregator) ProcessRequest(ctx context.Context, userID, message, sessionID string, extra map[string]interface{}) (env *models.Envelope) {
	start := time.Now()
	submitted := a.now()
	requestID := RequestID(userID, submitted)
	agentLabel := "none"

	defer func() {
		if r := recover(); r != nil {
			err := models.NewError(models.KindGeneral, "process_request", fmt.Errorf("panic: %v", r))
			env = a.failure(userID, message, err)
		}
		metrics.RequestsProcessed.WithLabelValues(agentLabel, metrics.Status(env.Success)).Inc()
		metrics.RequestDuration.WithLabelValues("sync").Observe(time.Since(start).Seconds())
	}()

	a.logger.Info("Processing request", zap.String("request_id", requestID), zap.String("user_id", userID))
	if err := ctx.Err(); err != nil {
		return a.failure(userID, message, err)
	}
	effectiveSession := sessionID
	if effectiveSession == "" {
		effectiveSession = requestID
	}

	req := a.pre.Process(ctx, userID, message, sessionID, extra)
	decision := a.router.Route(ctx, req)
	agentLabel = string(decision.AgentType)
	plan := a.planner.CreatePlan(ctx, decision, req)
	if err := ctx.Err(); err != nil {
		return a.failure(userID, message, err)
	}
	resp := a.dispatcher.Dispatch(ctx, plan, decision.AgentType, userID, effectiveSession)
	formatted := a.handler.HandleResponse(resp, decision, userID)

	a.record(ctx, userID, effectiveSession, message, formatted, decision.AgentType)

	a.logger.Info("Request processed",
		zap.String("request_id", requestID),
		zap.String("agent_type", agentLabel),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &models.Envelope{
		Success:   true,
		RequestID: requestID,
		Response:  formatted,
		AgentType: decision.AgentType,
		SessionID: effectiveSession,
		Timestamp: a.now(),
	}
}

// record persists the exchange and bumps session state. Failures are logged only.
func (a *Aggregator) record(ctx context.Context, userID, sessionID, message string, resp *models.FormattedResponse, agent models.AgentType) {
	ts := a.now()
	if a.conversations != nil {
		err := a.conversations.SaveConversation(ctx, models.ConversationRecord{
			UserID:    userID,
			SessionID: sessionID,
			Request:   message,
			Response:  resp,
			AgentType: agent,
			Timestamp: ts,
		})
		if err != nil {
			a.logger.Warn("Failed to save conversation", zap.String("user_id", userID), zap.Error(err))
		}
	}
	if a.sessions != nil {
		_, err := a.sessions.UpdateSessionState(ctx, userID, sessionID, models.SessionUpdate{
			LastAgent:   string(agent),
			LastMessage: message,
			Timestamp:   ts,
		})
		if err != nil {
			a.logger.Warn("Failed to update session state", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

func (a *Aggregator) failure(userID, message string, err error) *models.Envelope {
	a.logger.Error("Error processing request", zap.String("user_id", userID), zap.Error(err))
	return &models.Envelope{
		Success:       false,
		Error:         err.Error(),
		ErrorResponse: a.handler.HandleError(err, userID, message),
		Timestamp:     a.now(),
	}
}

// StreamResponse runs the pipeline and reports progress as realtime events:
// processing, routing, agent_processing, one response_chunk per agent chunk,
// then completed. An error event replaces completed on failure.
func (a *Aggregator) StreamResponse(ctx context.Context, userID, message, sessionID string) (string, error) {
	requestID := a.NewRequestID(userID)
	return requestID, a.StreamResponseWithID(ctx, requestID, userID, message, sessionID)
}

// NewRequestID mints a request id for userID from the aggregator clock.
func (a *Aggregator) NewRequestID(userID string) string {
	return RequestID(userID, a.now())
}

// StreamResponseWithID is StreamResponse with a caller-chosen request id, so
// the caller can filter the user's event channel before the first event arrives.
func (a *Aggregator) StreamResponseWithID(ctx context.Context, requestID, userID, message, sessionID string) (err error) {
	start := time.Now()
	agentLabel := "none"

	defer func() {
		if r := recover(); r != nil {
			err = models.NewError(models.KindGeneral, "stream_response", fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			a.logger.Error("Error in streaming response", zap.String("request_id", requestID), zap.Error(err))
			a.send(ctx, userID, streaming.Event{Type: streaming.TypeError, RequestID: requestID, Error: err.Error()})
		}
		metrics.RequestsProcessed.WithLabelValues(agentLabel, metrics.Status(err == nil)).Inc()
		metrics.RequestDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())
	}()

	effectiveSession := sessionID
	if effectiveSession == "" {
		effectiveSession = requestID
	}

	a.send(ctx, userID, streaming.Event{Type: streaming.TypeStatus, Status: streaming.StatusProcessing, RequestID: requestID})
	req := a.pre.Process(ctx, userID, message, sessionID, nil)

	a.send(ctx, userID, streaming.Event{Type: streaming.TypeStatus, Status: streaming.StatusRouting, RequestID: requestID})
	decision := a.router.Route(ctx, req)
	agentLabel = string(decision.AgentType)

	a.send(ctx, userID, streaming.Event{
		Type:      streaming.TypeStatus,
		Status:    streaming.StatusAgentProcessing,
		RequestID: requestID,
		AgentType: decision.AgentType,
	})
	plan := a.planner.CreatePlan(ctx, decision, req)

	var last *models.AgentResponse
	err = a.dispatcher.DispatchStream(ctx, plan, decision.AgentType, userID, effectiveSession, func(chunk *models.AgentResponse) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = chunk
		a.send(ctx, userID, streaming.Event{
			Type:      streaming.TypeResponseChunk,
			RequestID: requestID,
			AgentType: decision.AgentType,
			Chunk:     chunk,
		})
		return nil
	})
	if err != nil {
		return err
	}
	if last != nil {
		a.record(ctx, userID, effectiveSession, message, a.handler.HandleResponse(last, decision, userID), decision.AgentType)
	}

	a.send(ctx, userID, streaming.Event{Type: streaming.TypeStatus, Status: streaming.StatusCompleted, RequestID: requestID})
	return nil
}

func (a *Aggregator) send(ctx context.Context, userID string, evt streaming.Event) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.SendRealtimeMessage(ctx, userID, evt); err != nil {
		a.logger.Warn("Failed to send realtime message",
			zap.String("user_id", userID),
			zap.String("type", evt.Type),
			zap.Error(err),
		)
	}
}

// GetSessionContext returns the session state and its recent history.
func (a *Aggregator) GetSessionContext(ctx context.Context, sessionID, userID string) (*models.SessionSnapshot, error) {
	snap := &models.SessionSnapshot{SessionID: sessionID, History: []models.ConversationRecord{}}
	if a.sessions != nil {
		st, err := a.sessions.GetSessionState(ctx, userID, sessionID)
		if err != nil {
			a.logger.Error("Error getting session context", zap.String("session_id", sessionID), zap.Error(err))
			return nil, fmt.Errorf("session state: %w", err)
		}
		snap.State = st
	}
	if a.conversations != nil {
		hist, err := a.conversations.GetConversationHistory(ctx, userID, sessionID, storage.DefaultHistoryLimit)
		if err != nil {
			a.logger.Error("Error getting session context", zap.String("session_id", sessionID), zap.Error(err))
			return nil, fmt.Errorf("conversation history: %w", err)
		}
		if hist != nil {
			snap.History = hist
		}
	}
	return snap, nil
}

// ClearSession removes session state. It reports false only when the store
// failed; clearing an absent session succeeds.
func (a *Aggregator) ClearSession(ctx context.Context, sessionID, userID string) bool {
	if a.sessions == nil {
		return true
	}
	if err := a.sessions.ClearSession(ctx, userID, sessionID); err != nil {
		a.logger.Error("Error clearing session", zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	a.logger.Info("Session cleared", zap.String("session_id", sessionID), zap.String("user_id", userID))
	return true
}
