package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/auth"
	"github.com/kumbuk/orchestrator/internal/metrics"
	"github.com/kumbuk/orchestrator/internal/streaming"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // origin is enforced by the cors middleware
}

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
	wsWriteWait  = 10 * time.Second
)

// wsFrame is a server frame on the chat socket.
type wsFrame struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func isTokenUser(r *http.Request) bool {
	u, ok := auth.GetUserContext(r.Context())
	return ok && u.TokenType == "jwt"
}

// handleChatWS answers each client message with an ack frame followed by a
// response frame carrying the envelope. A malformed message ends the
// connection with an error frame.
// GET /api/v1/chat/ws/{user_id}
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if isTokenUser(r) && callerID(r) != userID {
		writeDetail(w, http.StatusForbidden, "user mismatch")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()
	s.logger.Info("WebSocket connection established", zap.String("user_id", userID))

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.logger.Info("WebSocket disconnected", zap.String("user_id", userID))
			return
		}
		var msg struct {
			Message   string                 `json:"message"`
			SessionID string                 `json:"session_id"`
			Context   map[string]interface{} `json:"context"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("WebSocket error", zap.String("user_id", userID), zap.Error(err))
			_ = conn.WriteJSON(wsFrame{Type: "error", Error: "invalid JSON", Timestamp: time.Now().UTC()})
			return
		}
		if err := conn.WriteJSON(wsFrame{Type: "ack", Timestamp: time.Now().UTC()}); err != nil {
			return
		}
		env := s.agg.ProcessRequest(ctx, userID, msg.Message, msg.SessionID, msg.Context)
		if err := conn.WriteJSON(wsFrame{Type: "response", Data: env, Timestamp: time.Now().UTC()}); err != nil {
			return
		}
	}
}

// handleStreamWS pushes a user's realtime events over a WebSocket.
// GET /stream/ws?user_id=<id>
func (s *Server) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	sub, err := parseSubscription(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := s.streams.Subscribe(sub.userID, streaming.DefaultCapacity)
	defer s.streams.Unsubscribe(sub.userID, ch)

	if sub.lastID > 0 {
		for _, evt := range s.streams.ReplaySince(sub.userID, sub.lastID) {
			if !sub.wants(evt) {
				continue
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case evt := <-ch:
			if !sub.wants(evt) {
				continue
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
