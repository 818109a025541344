// Package httpapi exposes the chat pipeline over HTTP, SSE and WebSocket.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/auth"
	"github.com/kumbuk/orchestrator/internal/orchestration"
	"github.com/kumbuk/orchestrator/internal/streaming"
)

// Version is reported by the service banner.
const Version = "1.0.0"

// Options configure a Server.
type Options struct {
	Aggregator  *orchestration.Aggregator
	Streams     *streaming.Manager
	Auth        *auth.Middleware
	RateLimiter *RateLimiter
	CORSOrigins []string
	Logger      *zap.Logger
}

// Server holds the HTTP handlers for the chat API.
type Server struct {
	agg     *orchestration.Aggregator
	streams *streaming.Manager
	auth    *auth.Middleware
	limiter *RateLimiter
	origins []string
	logger  *zap.Logger
}

// NewServer creates the API server. Auth and RateLimiter may be nil.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		agg:     opts.Aggregator,
		streams: opts.Streams,
		auth:    opts.Auth,
		limiter: opts.RateLimiter,
		origins: opts.CORSOrigins,
		logger:  logger,
	}
}

// protect wraps h with auth then rate limiting.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	var out http.Handler = h
	if s.limiter != nil {
		out = s.limiter.Middleware(out)
	}
	if s.auth != nil {
		out = s.auth.HTTPMiddleware(out)
	}
	return out
}

// Routes registers every endpoint on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/v1/chat/health", s.handleChatHealth)

	mux.Handle("POST /api/v1/chat/message", s.protect(s.handleMessage))
	mux.Handle("POST /api/v1/chat/stream", s.protect(s.handleChatStream))
	mux.Handle("GET /api/v1/chat/ws/{user_id}", s.protect(s.handleChatWS))
	mux.Handle("GET /api/v1/chat/session/{session_id}", s.protect(s.handleGetSession))
	mux.Handle("DELETE /api/v1/chat/session/{session_id}", s.protect(s.handleClearSession))

	if s.streams != nil {
		mux.Handle("GET /stream/sse", s.protect(s.handleSSE))
		mux.Handle("GET /stream/ws", s.protect(s.handleStreamWS))
	}
}

// Handler returns the full middleware chain around a fresh mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Routes(mux)
	return tracing(s.logger, cors(s.origins, mux))
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": sanitizeErr(detail)})
}

// sanitizeErr trims error messages for client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}

// callerID is the authenticated user, or "" when auth is not configured.
func callerID(r *http.Request) string {
	if u, ok := auth.GetUserContext(r.Context()); ok {
		return u.UserID
	}
	return ""
}
