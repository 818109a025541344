package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kumbuk/orchestrator/internal/circuitbreaker"
	"github.com/kumbuk/orchestrator/internal/models"
)

// getGauge returns a single-sample gauge value by metric name; 0 if missing
func getGauge(name string) float64 {
	mfs, _ := prometheus.DefaultGatherer.Gather()
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.Metric {
				if g := m.GetGauge(); g != nil {
					return g.GetValue()
				}
			}
		}
	}
	return 0
}

// getCounter returns a counter value by metric name; 0 if missing
func getCounter(name string) float64 {
	mfs, _ := prometheus.DefaultGatherer.Gather()
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.Metric {
				if c := m.GetCounter(); c != nil {
					return c.GetValue()
				}
			}
		}
	}
	return 0
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStoreWithClient(circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t)), time.Hour, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	got, err := s.GetSessionState(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	st, err := s.UpdateSessionState(ctx, "u1", "s1", models.SessionUpdate{
		LastAgent:   "consumer",
		LastMessage: "find a plumber",
		Data:        map[string]interface{}{"city": "Colombo"},
		Timestamp:   ts,
	})
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 1, st.MessageCount)
	assert.Equal(t, "u1", st.UserID)
	assert.Equal(t, "s1", st.SessionID)
	assert.Equal(t, "consumer", st.LastAgent)
	assert.True(t, st.CreatedAt.Equal(ts))
	assert.True(t, st.UpdatedAt.Equal(ts))

	later := ts.Add(time.Minute)
	st, err = s.UpdateSessionState(ctx, "u1", "s1", models.SessionUpdate{
		LastAgent: "provider",
		Data:      map[string]interface{}{"budget": "5000"},
		Timestamp: later,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, st.MessageCount)
	assert.Equal(t, "provider", st.LastAgent)
	assert.Equal(t, "find a plumber", st.LastMessage)
	assert.Equal(t, "Colombo", st.Data["city"])
	assert.Equal(t, "5000", st.Data["budget"])
	assert.True(t, st.CreatedAt.Equal(ts))
	assert.True(t, st.UpdatedAt.Equal(later))

	// other sessions of the same user are untouched
	other, err := s.GetSessionState(ctx, "u1", "s2")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, s.ClearSession(ctx, "u1", "s1"))
	require.NoError(t, s.ClearSession(ctx, "u1", "s1"))
	got, err = s.GetSessionState(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.UpdateSessionState(ctx, "", "s1", models.SessionUpdate{})
	assert.ErrorIs(t, err, ErrInvalidSession)
}

// concurrentIncrements checks that n parallel writers yield message_count n.
func concurrentIncrements(t *testing.T, s Store) {
	ctx := context.Background()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateSessionState(ctx, "u", "race", models.SessionUpdate{LastAgent: "consumer"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := s.GetSessionState(ctx, "u", "race")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, n, st.MessageCount)
}

// userIsolation checks that ids containing the key separator stay apart.
func userIsolation(t *testing.T, s Store) {
	ctx := context.Background()
	_, err := s.UpdateSessionState(ctx, "alice:x", "s", models.SessionUpdate{LastMessage: "secret revenue"})
	require.NoError(t, err)

	got, err := s.GetSessionState(ctx, "alice", "x:s")
	require.NoError(t, err)
	assert.Nil(t, got)

	st, err := s.UpdateSessionState(ctx, "alice", "x:s", models.SessionUpdate{LastMessage: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "alice", st.UserID)
	assert.Equal(t, 1, st.MessageCount)

	require.NoError(t, s.ClearSession(ctx, "alice", "x:s"))
	owner, err := s.GetSessionState(ctx, "alice:x", "s")
	require.NoError(t, err)
	require.NotNil(t, owner)
	assert.Equal(t, "secret revenue", owner.LastMessage)
	assert.Equal(t, 1, owner.MessageCount)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore(0, zaptest.NewLogger(t)))
}

func TestMemoryStoreKeepsUsersApart(t *testing.T) {
	userIsolation(t, NewMemoryStore(0, zaptest.NewLogger(t)))
}

func TestRedisStoreKeepsUsersApart(t *testing.T) {
	s, _ := newRedisStore(t)
	userIsolation(t, s)
}

func TestMemoryStoreConcurrentUpdates(t *testing.T) {
	concurrentIncrements(t, NewMemoryStore(0, zaptest.NewLogger(t)))
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore(0, zaptest.NewLogger(t))
	ctx := context.Background()
	st, err := s.UpdateSessionState(ctx, "u", "s", models.SessionUpdate{Data: map[string]interface{}{"k": "v"}})
	require.NoError(t, err)
	st.Data["k"] = "mutated"
	st.MessageCount = 99

	again, err := s.GetSessionState(ctx, "u", "s")
	require.NoError(t, err)
	assert.Equal(t, "v", again.Data["k"])
	assert.Equal(t, 1, again.MessageCount)
}

func TestMemoryStoreEvictionIncrementsCounter(t *testing.T) {
	s := NewMemoryStore(2, zaptest.NewLogger(t))
	ctx := context.Background()
	before := getCounter("kumbuk_session_cache_evictions_total")

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := s.UpdateSessionState(ctx, "u", id, models.SessionUpdate{})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	assert.LessOrEqual(t, s.Len(), 2)
	assert.Greater(t, getCounter("kumbuk_session_cache_evictions_total"), before)
	assert.Equal(t, float64(s.Len()), getGauge("kumbuk_session_cache_size"))

	// the most recent session survives
	st, err := s.GetSessionState(ctx, "u", "d")
	require.NoError(t, err)
	assert.NotNil(t, st)
}

func TestRedisStore(t *testing.T) {
	s, _ := newRedisStore(t)
	storeContract(t, s)
}

func TestRedisStoreConcurrentUpdates(t *testing.T) {
	s, _ := newRedisStore(t)
	concurrentIncrements(t, s)
}

func TestRedisStoreLayoutAndTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, err := s.UpdateSessionState(ctx, "u1", "s1", models.SessionUpdate{
		LastAgent: "consumer",
		Data:      map[string]interface{}{"count": 3},
	})
	require.NoError(t, err)

	key := sessionKey("u1", "s1")
	assert.Equal(t, "session:2:u1:s1", key)
	assert.Equal(t, "1", mr.HGet(key, "message_count"))
	assert.Equal(t, "consumer", mr.HGet(key, "last_agent"))
	assert.Equal(t, "3", mr.HGet(key, "data:count"))
	assert.Equal(t, time.Hour, mr.TTL(key))

	st, err := s.GetSessionState(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, float64(3), st.Data["count"])

	mr.FastForward(2 * time.Hour)
	st, err = s.GetSessionState(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestRedisStoreSurfacesOutage(t *testing.T) {
	s, mr := newRedisStore(t)
	mr.Close()

	_, err := s.UpdateSessionState(context.Background(), "u1", "s1", models.SessionUpdate{})
	assert.Error(t, err)
	_, err = s.GetSessionState(context.Background(), "u1", "s1")
	assert.Error(t, err)
}
