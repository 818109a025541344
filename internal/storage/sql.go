package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/circuitbreaker"
	"github.com/kumbuk/orchestrator/internal/metrics"
	"github.com/kumbuk/orchestrator/internal/models"
)

const dbService = "conversation-store"

// Config holds database configuration.
type Config struct {
	Driver          string // sqlite3 or postgres
	DSN             string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
}

// Open connects, sizes the pool and verifies the connection.
func Open(cfg Config, logger *zap.Logger) (*sqlx.DB, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 5
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	if cfg.Driver == "sqlite3" {
		// a single connection keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger != nil {
		logger.Info("Database client initialized",
			zap.String("driver", cfg.Driver),
			zap.Int("max_connections", cfg.MaxConnections),
		)
	}
	return db, nil
}

var schema = map[string][]string{
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			request TEXT NOT NULL,
			response TEXT NOT NULL,
			agent_type TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, id)`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			role TEXT NOT NULL DEFAULT 'consumer',
			name TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT ''
		)`,
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			request TEXT NOT NULL,
			response JSONB NOT NULL,
			agent_type TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, id)`,
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id TEXT PRIMARY KEY,
			role TEXT NOT NULL DEFAULT 'consumer',
			name TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT ''
		)`,
	},
}

// Migrate creates the tables the stores use.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, ok := schema[db.DriverName()]
	if !ok {
		return fmt.Errorf("no schema for driver %q", db.DriverName())
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

type conversationRow struct {
	ID        int64     `db:"id"`
	UserID    string    `db:"user_id"`
	SessionID string    `db:"session_id"`
	Request   string    `db:"request"`
	Response  string    `db:"response"`
	AgentType string    `db:"agent_type"`
	CreatedAt time.Time `db:"created_at"`
}

// SQLConversations stores exchanges in the conversations table.
type SQLConversations struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
}

// NewSQLConversations wraps db with a breaker.
func NewSQLConversations(db *sqlx.DB, logger *zap.Logger) *SQLConversations {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLConversations{db: circuitbreaker.NewDatabaseWrapper(db, dbService, logger), logger: logger}
}

func (s *SQLConversations) SaveConversation(ctx context.Context, rec models.ConversationRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	resp, err := json.Marshal(rec.Response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO conversations (user_id, session_id, request, response, agent_type, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		rec.UserID, rec.SessionID, rec.Request, string(resp), string(rec.AgentType), rec.Timestamp.UTC())
	metrics.ConversationsSaved.WithLabelValues(s.db.DriverName(), metrics.Status(err == nil)).Inc()
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

func (s *SQLConversations) GetConversationHistory(ctx context.Context, userID, sessionID string, limit int) ([]models.ConversationRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var rows []conversationRow
	var err error
	if sessionID == "" {
		err = s.db.SelectContext(ctx, &rows,
			"SELECT id, user_id, session_id, request, response, agent_type, created_at FROM conversations WHERE user_id = ? ORDER BY id DESC LIMIT ?",
			userID, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows,
			"SELECT id, user_id, session_id, request, response, agent_type, created_at FROM conversations WHERE user_id = ? AND session_id = ? ORDER BY id DESC LIMIT ?",
			userID, sessionID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	out := make([]models.ConversationRecord, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		rec := models.ConversationRecord{
			ID:        r.ID,
			UserID:    r.UserID,
			SessionID: r.SessionID,
			Request:   r.Request,
			AgentType: models.AgentType(r.AgentType),
			Timestamp: r.CreatedAt.UTC(),
		}
		if r.Response != "" && r.Response != "null" {
			var resp models.FormattedResponse
			if err := json.Unmarshal([]byte(r.Response), &resp); err != nil {
				s.logger.Warn("Skipping unreadable response", zap.Int64("id", r.ID), zap.Error(err))
			} else {
				rec.Response = &resp
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// Ping checks the database through the breaker.
func (s *SQLConversations) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BreakerOpen reports whether the store is currently rejecting calls.
func (s *SQLConversations) BreakerOpen() bool {
	return s.db.IsCircuitBreakerOpen()
}

// SQLProfiles reads user_profiles, falling back to the default profile.
type SQLProfiles struct {
	db       *circuitbreaker.DatabaseWrapper
	fallback Profile
}

// NewSQLProfiles wraps db with a breaker.
func NewSQLProfiles(db *sqlx.DB, fallback Profile, logger *zap.Logger) *SQLProfiles {
	return &SQLProfiles{db: circuitbreaker.NewDatabaseWrapper(db, "profile-store", logger), fallback: fallback}
}

func (p *SQLProfiles) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var prof models.UserProfile
	err := p.db.GetContext(ctx, &prof,
		"SELECT user_id, role, name, location FROM user_profiles WHERE user_id = ?", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return p.fallback.For(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if prof.Role == "" {
		prof.Role = models.RoleConsumer
	}
	return &prof, nil
}

// UpsertUserProfile writes a profile row.
func (p *SQLProfiles) UpsertUserProfile(ctx context.Context, prof models.UserProfile) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO user_profiles (user_id, role, name, location) VALUES (?, ?, ?, ?) ON CONFLICT (user_id) DO UPDATE SET role = excluded.role, name = excluded.name, location = excluded.location",
		prof.UserID, prof.Role, prof.Name, prof.Location)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
