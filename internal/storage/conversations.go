// Package storage persists conversation exchanges and user profiles.
package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/metrics"
	"github.com/kumbuk/orchestrator/internal/models"
)

// DefaultHistoryLimit is used when a caller passes limit <= 0.
const DefaultHistoryLimit = 10

// ConversationStore is an append-only log of exchanges per user.
type ConversationStore interface {
	SaveConversation(ctx context.Context, rec models.ConversationRecord) error
	// GetConversationHistory returns at most limit records, most recent last.
	// An empty sessionID matches every session of the user.
	GetConversationHistory(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationRecord, error)
}

// MemoryConversations keeps exchanges in process.
type MemoryConversations struct {
	mu     sync.RWMutex
	byUser map[string][]models.ConversationRecord
	nextID int64
	logger *zap.Logger
}

// NewMemoryConversations creates an empty in-memory store.
func NewMemoryConversations(logger *zap.Logger) *MemoryConversations {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryConversations{byUser: make(map[string][]models.ConversationRecord), logger: logger}
}

func (m *MemoryConversations) SaveConversation(ctx context.Context, rec models.ConversationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	m.nextID++
	rec.ID = m.nextID
	m.byUser[rec.UserID] = append(m.byUser[rec.UserID], rec)
	m.mu.Unlock()

	metrics.ConversationsSaved.WithLabelValues("memory", metrics.Status(true)).Inc()
	return nil
}

func (m *MemoryConversations) GetConversationHistory(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.byUser[userID]
	out := make([]models.ConversationRecord, 0, limit)
	// walk backwards so only the newest matches are kept
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID != "" && all[i].SessionID != sessionID {
			continue
		}
		out = append(out, all[i])
	}
	reverse(out)
	return out, nil
}

func reverse(recs []models.ConversationRecord) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}
