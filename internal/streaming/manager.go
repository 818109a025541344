// Package streaming fans realtime chat events out to SSE and WebSocket subscribers.
package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/metrics"
	"github.com/kumbuk/orchestrator/internal/models"
)

// Event types
const (
	TypeStatus        = "status"
	TypeResponseChunk = "response_chunk"
	TypeError         = "error"
	TypeComplete      = "complete"
)

// Status values carried by TypeStatus events
const (
	StatusProcessing      = "processing"
	StatusRouting         = "routing"
	StatusAgentProcessing = "agent_processing"
	StatusCompleted       = "completed"
)

// Event is one realtime message for a user.
type Event struct {
	Type      string                `json:"type"`
	Status    string                `json:"status,omitempty"`
	RequestID string                `json:"request_id,omitempty"`
	AgentType models.AgentType      `json:"agent_type,omitempty"`
	Chunk     *models.AgentResponse `json:"chunk,omitempty"`
	Error     string                `json:"error,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
	Seq       uint64                `json:"seq"`
}

// Marshal returns JSON for event payloads in SSE or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Terminal reports whether no more events follow for the request.
func (e Event) Terminal() bool {
	return e.Type == TypeError || e.Type == TypeComplete || (e.Type == TypeStatus && e.Status == StatusCompleted)
}

// DefaultCapacity is the per-user replay ring size.
const DefaultCapacity = 256

// Manager provides in-memory pub/sub keyed by user id, with a per-user
// ring buffer for replay and Last-Event-ID support.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	logger      *zap.Logger
}

// NewManager creates a manager keeping capacity events per user for replay.
func NewManager(capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		logger:      logger,
	}
}

// Subscribe adds a subscriber channel for userID; caller must drain and call Unsubscribe.
func (m *Manager) Subscribe(userID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[userID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[userID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(userID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[userID]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		metrics.StreamSubscribers.Dec()
		if len(subs) == 0 {
			delete(m.subscribers, userID)
		}
	}
}

// Publish assigns the next sequence number, records evt for replay and sends
// it to every subscriber of userID. Slow subscribers miss events rather than
// block the publisher.
func (m *Manager) Publish(userID string, evt Event) Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	rg := m.history[userID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[userID] = rg
	}
	rg.nextSeq++
	evt.Seq = rg.nextSeq
	rg.push(evt)
	m.mu.Unlock()

	metrics.StreamEventsPublished.WithLabelValues(evt.Type).Inc()

	// send under the read lock so Unsubscribe cannot close a channel mid-send
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range m.subscribers[userID] {
		select {
		case ch <- evt:
		default:
			m.logger.Debug("Dropping event for slow subscriber",
				zap.String("user_id", userID),
				zap.Uint64("seq", evt.Seq),
			)
		}
	}
	return evt
}

// SendRealtimeMessage publishes evt to userID.
func (m *Manager) SendRealtimeMessage(ctx context.Context, userID string, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Publish(userID, evt)
	return nil
}

// ReplaySince returns events with Seq > since (best-effort within ring capacity).
func (m *Manager) ReplaySince(userID string, since uint64) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rg := m.history[userID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// ring is a fixed-capacity ring buffer of events
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
