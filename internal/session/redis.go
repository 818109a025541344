package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/circuitbreaker"
	"github.com/kumbuk/orchestrator/internal/metrics"
	"github.com/kumbuk/orchestrator/internal/models"
)

const (
	backendRedis = "redis"
	dataPrefix   = "data:"
)

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore keeps each session as a hash. Updates run in MULTI/EXEC and
// bump message_count with HINCRBY, so concurrent writers never lose a count.
type RedisStore struct {
	client *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	client := circuitbreaker.NewRedisWrapper(redisClient, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreWithClient(client, opts.TTL, logger), nil
}

// NewRedisStoreWithClient builds a store over an existing wrapper.
func NewRedisStoreWithClient(client *circuitbreaker.RedisWrapper, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

func (s *RedisStore) GetSessionState(ctx context.Context, userID, sessionID string) (*models.SessionState, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(userID, sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return decodeState(fields)
}

func (s *RedisStore) UpdateSessionState(ctx context.Context, userID, sessionID string, upd models.SessionUpdate) (*models.SessionState, error) {
	if err := validate(userID, sessionID); err != nil {
		metrics.SessionUpdates.WithLabelValues(backendRedis, metrics.Status(false)).Inc()
		return nil, err
	}
	key := sessionKey(userID, sessionID)
	now := updateTime(upd).Format(time.RFC3339Nano)

	fields := map[string]interface{}{"updated_at": now}
	if upd.LastAgent != "" {
		fields["last_agent"] = upd.LastAgent
	}
	if upd.LastMessage != "" {
		fields["last_message"] = upd.LastMessage
	}
	for k, v := range upd.Data {
		b, err := json.Marshal(v)
		if err != nil {
			metrics.SessionUpdates.WithLabelValues(backendRedis, metrics.Status(false)).Inc()
			return nil, fmt.Errorf("failed to marshal session data %q: %w", k, err)
		}
		fields[dataPrefix+k] = string(b)
	}

	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSetNX(ctx, key, "user_id", userID)
		p.HSetNX(ctx, key, "session_id", sessionID)
		p.HSetNX(ctx, key, "created_at", now)
		p.HIncrBy(ctx, key, "message_count", 1)
		p.HSet(ctx, key, fields)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	metrics.SessionUpdates.WithLabelValues(backendRedis, metrics.Status(err == nil)).Inc()
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return s.GetSessionState(ctx, userID, sessionID)
}

func (s *RedisStore) ClearSession(ctx context.Context, userID, sessionID string) error {
	n, err := s.client.Del(ctx, sessionKey(userID, sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n > 0 {
		metrics.SessionsCleared.Inc()
		s.logger.Info("Cleared session", zap.String("user_id", userID), zap.String("session_id", sessionID))
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// RedisWrapper exposes the breaker-wrapped client for health checks.
func (s *RedisStore) RedisWrapper() *circuitbreaker.RedisWrapper {
	return s.client
}

func decodeState(fields map[string]string) (*models.SessionState, error) {
	st := &models.SessionState{
		UserID:      fields["user_id"],
		SessionID:   fields["session_id"],
		LastAgent:   fields["last_agent"],
		LastMessage: fields["last_message"],
	}
	var err error
	if v := fields["message_count"]; v != "" {
		if st.MessageCount, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("bad message_count %q: %w", v, err)
		}
	}
	if st.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, err
	}
	if st.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return nil, err
	}
	for k, raw := range fields {
		if !strings.HasPrefix(k, dataPrefix) {
			continue
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("bad session data %q: %w", k, err)
		}
		if st.Data == nil {
			st.Data = make(map[string]interface{})
		}
		st.Data[strings.TrimPrefix(k, dataPrefix)] = v
	}
	return st, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", v, err)
	}
	return t, nil
}
