package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/streaming"
)

const sseHeartbeat = 15 * time.Second

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w http.ResponseWriter, evt streaming.Event) {
	if evt.Seq > 0 {
		fmt.Fprintf(w, "id: %d\n", evt.Seq)
	}
	if evt.Type != "" {
		fmt.Fprintf(w, "event: %s\n", evt.Type)
	}
	fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
}

// subscription holds the parsed query of a realtime subscription.
type subscription struct {
	userID string
	types  map[string]struct{}
	lastID uint64
}

func (s subscription) wants(evt streaming.Event) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[evt.Type]
	return ok
}

// parseSubscription reads user_id, types and Last-Event-ID. The
// authenticated user wins over user_id when they differ and auth is real.
func parseSubscription(r *http.Request) (subscription, error) {
	sub := subscription{userID: r.URL.Query().Get("user_id"), types: map[string]struct{}{}}
	if caller := callerID(r); caller != "" && (sub.userID == "" || isTokenUser(r)) {
		sub.userID = caller
	}
	if sub.userID == "" {
		return sub, fmt.Errorf("user_id required")
	}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				sub.types[t] = struct{}{}
			}
		}
	}
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			sub.lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && sub.lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			sub.lastID = n
		}
	}
	return sub, nil
}

// handleSSE streams a user's realtime events via Server-Sent Events.
// GET /stream/sse?user_id=<id>
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sub, err := parseSubscription(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	setSSEHeaders(w)

	ch := s.streams.Subscribe(sub.userID, streaming.DefaultCapacity)
	defer s.streams.Unsubscribe(sub.userID, ch)

	fmt.Fprintf(w, ": connected to user %s\n\n", sub.userID)
	flusher.Flush()

	if sub.lastID > 0 {
		for _, evt := range s.streams.ReplaySince(sub.userID, sub.lastID) {
			if sub.wants(evt) {
				writeSSE(w, evt)
			}
		}
		flusher.Flush()
	}

	hb := time.NewTicker(sseHeartbeat)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected", zap.String("user_id", sub.userID))
			return
		case evt := <-ch:
			if !sub.wants(evt) {
				continue
			}
			writeSSE(w, evt)
			flusher.Flush()
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}
