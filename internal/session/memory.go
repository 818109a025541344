package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/metrics"
	"github.com/kumbuk/orchestrator/internal/models"
)

const backendMemory = "memory"

// MemoryStore keeps session state in process with LRU eviction.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*models.SessionState
	access      map[string]time.Time
	maxSessions int
	logger      *zap.Logger
}

// NewMemoryStore creates a store holding at most maxSessions sessions.
func NewMemoryStore(maxSessions int, logger *zap.Logger) *MemoryStore {
	if maxSessions <= 0 {
		maxSessions = 10000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		sessions:    make(map[string]*models.SessionState),
		access:      make(map[string]time.Time),
		maxSessions: maxSessions,
		logger:      logger,
	}
}

func (m *MemoryStore) GetSessionState(ctx context.Context, userID, sessionID string) (*models.SessionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := sessionKey(userID, sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil, nil
	}
	m.access[key] = time.Now()
	return clone(s), nil
}

func (m *MemoryStore) UpdateSessionState(ctx context.Context, userID, sessionID string, upd models.SessionUpdate) (*models.SessionState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validate(userID, sessionID); err != nil {
		metrics.SessionUpdates.WithLabelValues(backendMemory, metrics.Status(false)).Inc()
		return nil, err
	}
	key := sessionKey(userID, sessionID)

	m.mu.Lock()
	s, ok := m.sessions[key]
	if !ok {
		now := updateTime(upd)
		s = &models.SessionState{
			UserID:    userID,
			SessionID: sessionID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.sessions[key] = s
	}
	apply(s, upd)
	m.access[key] = time.Now()
	m.evict()
	out := clone(s)
	metrics.SessionCacheSize.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	metrics.SessionUpdates.WithLabelValues(backendMemory, metrics.Status(true)).Inc()
	return out, nil
}

func (m *MemoryStore) ClearSession(ctx context.Context, userID, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := sessionKey(userID, sessionID)

	m.mu.Lock()
	_, existed := m.sessions[key]
	delete(m.sessions, key)
	delete(m.access, key)
	metrics.SessionCacheSize.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	if existed {
		metrics.SessionsCleared.Inc()
		m.logger.Info("Cleared session", zap.String("user_id", userID), zap.String("session_id", sessionID))
	}
	return nil
}

// Len returns the number of sessions held.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// evict drops the least recently used half once the store is over capacity.
// Caller holds m.mu.
func (m *MemoryStore) evict() {
	if len(m.sessions) <= m.maxSessions {
		return
	}
	type entry struct {
		key string
		at  time.Time
	}
	entries := make([]entry, 0, len(m.sessions))
	for k := range m.sessions {
		entries = append(entries, entry{key: k, at: m.access[k]})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	toRemove := len(m.sessions) - m.maxSessions/2
	for i := 0; i < toRemove && i < len(entries); i++ {
		delete(m.sessions, entries[i].key)
		delete(m.access, entries[i].key)
		metrics.SessionCacheEvictions.Inc()
	}
	m.logger.Debug("Evicted sessions", zap.Int("count", toRemove))
}
