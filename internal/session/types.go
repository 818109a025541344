package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kumbuk/orchestrator/internal/models"
)

var (
	// ErrInvalidSession is returned when a user or session id is missing
	ErrInvalidSession = errors.New("invalid session")
)

// DefaultTTL bounds how long an idle session is kept.
const DefaultTTL = 24 * time.Hour

// Store keeps per (user, session) state. Writes to the same key are
// serialized: concurrent updates never lose a message_count increment.
type Store interface {
	// GetSessionState returns nil, nil when the session has never been written.
	GetSessionState(ctx context.Context, userID, sessionID string) (*models.SessionState, error)
	// UpdateSessionState creates the state on first write, merges upd into it,
	// increments message_count and sets updated_at.
	UpdateSessionState(ctx context.Context, userID, sessionID string, upd models.SessionUpdate) (*models.SessionState, error)
	// ClearSession removes the state. Clearing an absent session is not an error.
	ClearSession(ctx context.Context, userID, sessionID string) error
}

// sessionKey length-prefixes the user id so ids containing ':' cannot collide.
func sessionKey(userID, sessionID string) string {
	return fmt.Sprintf("session:%d:%s:%s", len(userID), userID, sessionID)
}

func validate(userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return fmt.Errorf("%w: user_id and session_id are required", ErrInvalidSession)
	}
	return nil
}

func updateTime(upd models.SessionUpdate) time.Time {
	if upd.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return upd.Timestamp.UTC()
}

// apply merges upd into s in place.
func apply(s *models.SessionState, upd models.SessionUpdate) {
	now := updateTime(upd)
	if upd.LastAgent != "" {
		s.LastAgent = upd.LastAgent
	}
	if upd.LastMessage != "" {
		s.LastMessage = upd.LastMessage
	}
	if len(upd.Data) > 0 {
		if s.Data == nil {
			s.Data = make(map[string]interface{}, len(upd.Data))
		}
		for k, v := range upd.Data {
			s.Data[k] = v
		}
	}
	s.MessageCount++
	s.UpdatedAt = now
}

func clone(s *models.SessionState) *models.SessionState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Data != nil {
		out.Data = make(map[string]interface{}, len(s.Data))
		for k, v := range s.Data {
			out.Data[k] = v
		}
	}
	return &out
}
