package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/orchestration"
	"github.com/kumbuk/orchestrator/internal/streaming"
)

const maxBodyBytes = 1 << 20

// ChatRequest is the body of message and stream calls.
type ChatRequest struct {
	Message   *string                `json:"message"`
	SessionID string                 `json:"session_id,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

func decodeChatRequest(r *http.Request) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.Message == nil {
		return nil, errors.New("message is required")
	}
	return &req, nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Kumbuk AI Agent System",
		"status":  "running",
		"version": Version,
	})
}

// handleMessage runs one message through the pipeline.
// POST /api/v1/chat/message
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	userID := callerID(r)
	s.logger.Info("Received message", zap.String("user_id", userID), zap.String("trace_id", TraceID(r.Context())))

	env := s.agg.ProcessRequest(r.Context(), userID, *req.Message, req.SessionID, req.Context)
	if !env.Success {
		detail := env.Error
		if detail == "" {
			detail = "Processing failed"
		}
		writeDetail(w, http.StatusInternalServerError, detail)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

// handleChatStream streams the realtime events of one request as SSE and
// ends with a complete or error event.
// POST /api/v1/chat/stream
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	userID := callerID(r)
	setSSEHeaders(w)

	var events chan streaming.Event
	if s.streams != nil {
		events = s.streams.Subscribe(userID, streaming.DefaultCapacity)
		defer s.streams.Unsubscribe(userID, events)
	}

	// Other requests of the same user share the channel; forward only ours.
	requestID := s.agg.NewRequestID(userID)
	done := make(chan error, 1)
	go func() {
		done <- s.agg.StreamResponseWithID(r.Context(), requestID, userID, *req.Message, req.SessionID)
	}()

	forward := func(evt streaming.Event) {
		if evt.RequestID != requestID {
			return
		}
		writeSSE(w, evt)
		flusher.Flush()
	}

	for {
		select {
		case evt := <-events:
			forward(evt)
		case err := <-done:
			for drained := false; !drained; {
				select {
				case evt := <-events:
					forward(evt)
				default:
					drained = true
				}
			}
			final := streaming.Event{Type: streaming.TypeComplete, RequestID: requestID, Timestamp: time.Now().UTC()}
			if err != nil {
				final = streaming.Event{Type: streaming.TypeError, RequestID: requestID, Error: sanitizeErr(err.Error()), Timestamp: time.Now().UTC()}
			}
			writeSSE(w, final)
			flusher.Flush()
			return
		}
	}
}

// handleGetSession returns session state and recent history.
// GET /api/v1/chat/session/{session_id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	snap, err := s.agg.GetSessionContext(r.Context(), sessionID, callerID(r))
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "session": snap})
}

// handleClearSession deletes session state.
// DELETE /api/v1/chat/session/{session_id}
func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	ok := s.agg.ClearSession(r.Context(), r.PathValue("session_id"), callerID(r))
	msg := "Session cleared"
	if !ok {
		msg = "Failed to clear session"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": ok, "message": msg})
}

// handleChatHealth reports pipeline components and agent health.
// GET /api/v1/chat/health
func (s *Server) handleChatHealth(w http.ResponseWriter, r *http.Request) {
	dh := s.agg.Dispatcher().HealthCheck(r.Context())
	status := "healthy"
	for _, st := range dh.Agents {
		if st != orchestration.StatusHealthy && st != orchestration.StatusNotInitialized {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"components": map[string]interface{}{
			"orchestrator": "ok",
			"router":       "ok",
			"preprocessor": "ok",
			"task_planner": "ok",
			"dispatcher":   dh,
		},
	})
}
