package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisService = "session-store"

// RedisWrapper routes the Redis commands the session store uses through a breaker.
type RedisWrapper struct {
	client *redis.Client
	cb     *Breaker
	logger *zap.Logger
}

// NewRedisWrapper wraps client with a breaker configured from CB_REDIS_*.
func NewRedisWrapper(client *redis.Client, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := New("redis", RedisSettings(), logger)
	Metrics.Register(redisService, cb)
	return &RedisWrapper{client: client, cb: cb, logger: logger}
}

// run executes fn through the breaker. redis.Nil is a miss, not a failure.
func (rw *RedisWrapper) run(ctx context.Context, fn func() error) error {
	err := rw.cb.Execute(ctx, func() error {
		if err := fn(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		return nil
	})
	Metrics.Observe(redisService, rw.cb, err == nil)
	return err
}

// Ping checks connectivity.
func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	var cmd *redis.StatusCmd
	if err := rw.run(ctx, func() error {
		cmd = rw.client.Ping(ctx)
		return cmd.Err()
	}); err != nil && cmd == nil {
		cmd = redis.NewStatusCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// HGetAll reads a whole hash.
func (rw *RedisWrapper) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	var cmd *redis.MapStringStringCmd
	if err := rw.run(ctx, func() error {
		cmd = rw.client.HGetAll(ctx, key)
		return cmd.Err()
	}); err != nil && cmd == nil {
		cmd = redis.NewMapStringStringCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Del removes keys.
func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var cmd *redis.IntCmd
	if err := rw.run(ctx, func() error {
		cmd = rw.client.Del(ctx, keys...)
		return cmd.Err()
	}); err != nil && cmd == nil {
		cmd = redis.NewIntCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// TxPipelined runs fn inside MULTI/EXEC.
func (rw *RedisWrapper) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	var cmds []redis.Cmder
	err := rw.run(ctx, func() error {
		var err error
		cmds, err = rw.client.TxPipelined(ctx, fn)
		return err
	})
	return cmds, err
}

// Expire sets a key's TTL.
func (rw *RedisWrapper) Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	var cmd *redis.BoolCmd
	if err := rw.run(ctx, func() error {
		cmd = rw.client.Expire(ctx, key, ttl)
		return cmd.Err()
	}); err != nil && cmd == nil {
		cmd = redis.NewBoolCmd(ctx)
		cmd.SetErr(err)
	}
	return cmd
}

// Close closes the underlying client.
func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}

// IsCircuitBreakerOpen reports whether calls are currently being rejected.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.State() == StateOpen
}
