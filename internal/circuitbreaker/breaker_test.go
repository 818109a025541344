package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.FailureThreshold = 3
	s.SuccessThreshold = 2
	s.MaxRequests = 5
	s.Timeout = 50 * time.Millisecond
	s.Interval = time.Minute
	return s
}

func TestBreakerLifecycle(t *testing.T) {
	cb := New("test", testSettings(), zaptest.NewLogger(t))
	ctx := context.Background()
	boom := errors.New("boom")

	assert.Equal(t, StateClosed, cb.State())
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, func() error { return boom }), boom)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), ErrCircuitBreakerOpen)

	time.Sleep(70 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := New("test", testSettings(), zaptest.NewLogger(t))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, func() error { return errors.New("x") })
	}
	time.Sleep(70 * time.Millisecond)
	require.Equal(t, StateHalfOpen, cb.State())

	_ = cb.Execute(ctx, func() error { return errors.New("still down") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	s := testSettings()
	s.MaxRequests = 2
	s.SuccessThreshold = 5
	cb := New("test", s, zaptest.NewLogger(t))
	ctx := context.Background()

	cb.mu.Lock()
	cb.transition(StateHalfOpen, time.Now())
	cb.mu.Unlock()

	for i := 0; i < 2; i++ {
		require.NoError(t, cb.Execute(ctx, func() error { return nil }))
	}
	assert.ErrorIs(t, cb.Execute(ctx, func() error { return nil }), ErrTooManyRequests)
}

func TestBreakerCountsAndCallback(t *testing.T) {
	s := testSettings()
	s.FailureThreshold = 2
	var from, to State
	calls := 0
	s.OnStateChange = func(_ string, f, tt State) {
		calls++
		from, to = f, tt
	}
	cb := New("test", s, zaptest.NewLogger(t))
	ctx := context.Background()

	_ = cb.Execute(ctx, func() error { return nil })
	_ = cb.Execute(ctx, func() error { return errors.New("e") })
	counts := cb.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)

	_ = cb.Execute(ctx, func() error { return errors.New("e") })
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, from)
	assert.Equal(t, StateOpen, to)
}

func TestBreakerCountsPanicAsFailure(t *testing.T) {
	s := testSettings()
	s.FailureThreshold = 1
	cb := New("test", s, zaptest.NewLogger(t))

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func() error { panic("kaboom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerHonoursCancelledContext(t *testing.T) {
	cb := New("test", testSettings(), zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := cb.Execute(ctx, func() error { ran = true; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestRedisWrapperTreatsMissAsSuccess(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rw := NewRedisWrapper(client, zaptest.NewLogger(t))
	defer rw.Close()
	ctx := context.Background()

	require.NoError(t, rw.Ping(ctx).Err())

	_, err := rw.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, "h", "a", "1")
		p.HIncrBy(ctx, "h", "n", 2)
		return nil
	})
	require.NoError(t, err)

	vals, err := rw.HGetAll(ctx, "h").Result()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "n": "2"}, vals)

	assert.True(t, rw.Expire(ctx, "h", time.Minute).Val())
	assert.Equal(t, int64(1), rw.Del(ctx, "h").Val())
	assert.False(t, rw.IsCircuitBreakerOpen())
}

func TestRedisWrapperOpensWhenServerGone(t *testing.T) {
	t.Setenv("CB_REDIS_FAILURE_THRESHOLD", "2")
	t.Setenv("CB_REDIS_TIMEOUT", "1m")
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	rw := NewRedisWrapper(client, zaptest.NewLogger(t))
	defer rw.Close()
	ctx := context.Background()

	mr.Close()
	for i := 0; i < 2; i++ {
		assert.Error(t, rw.Ping(ctx).Err())
	}
	assert.True(t, rw.IsCircuitBreakerOpen())
	assert.ErrorIs(t, rw.HGetAll(ctx, "k").Err(), ErrCircuitBreakerOpen)
}

func TestHTTPWrapperClassifiesStatus(t *testing.T) {
	t.Setenv("CB_HTTP_FAILURE_THRESHOLD", "2")
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	hw := NewHTTPWrapper(srv.Client(), "analyzer-test", "analyzer", zaptest.NewLogger(t))
	do := func() (*http.Response, error) {
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		return hw.Do(req)
	}

	status = http.StatusBadRequest
	for i := 0; i < 3; i++ {
		resp, err := do()
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, StateClosed, hw.State())

	status = http.StatusBadGateway
	for i := 0; i < 2; i++ {
		resp, err := do()
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Equal(t, StateOpen, hw.State())

	_, err := do()
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("CB_DB_MAX_REQUESTS", "9")
	t.Setenv("CB_DB_TIMEOUT", "3s")
	t.Setenv("CB_DB_FAILURE_THRESHOLD", "not-a-number")

	s := DatabaseSettings()
	assert.Equal(t, uint32(9), s.MaxRequests)
	assert.Equal(t, 3*time.Second, s.Timeout)
	assert.Equal(t, uint32(5), s.FailureThreshold)
}
