package health

import (
	"context"
	"encoding/json"
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

	"github.com/kumbuk/orchestrator/internal/circuitbreaker"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func fixed(name string, critical bool, status CheckStatus) Checker {
	return NewCustomHealthChecker(name, critical, time.Second, func(context.Context) CheckResult {
		return CheckResult{Status: status}
	})
}

func TestOverallHealth(t *testing.T) {
	tests := []struct {
		name      string
		checkers  []Checker
		want      CheckStatus
		wantReady bool
	}{
		{"no checkers", nil, StatusUnknown, false},
		{"all healthy", []Checker{fixed("a", true, StatusHealthy), fixed("b", false, StatusHealthy)}, StatusHealthy, true},
		{"critical down", []Checker{fixed("a", true, StatusUnhealthy), fixed("b", false, StatusHealthy)}, StatusUnhealthy, false},
		{"non-critical down", []Checker{fixed("a", true, StatusHealthy), fixed("b", false, StatusUnhealthy)}, StatusDegraded, true},
		{"degraded", []Checker{fixed("a", true, StatusDegraded)}, StatusDegraded, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(zaptest.NewLogger(t))
			for _, c := range tt.checkers {
				require.NoError(t, m.RegisterChecker(c))
			}
			o := m.GetOverallHealth(context.Background())
			assert.Equal(t, tt.want, o.Status)
			assert.Equal(t, tt.wantReady, o.Ready)
			assert.True(t, o.Live)
			assert.True(t, m.IsLive(context.Background()))
		})
	}
}

func TestRegisterChecker(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(fixed("a", true, StatusHealthy)))
	assert.Error(t, m.RegisterChecker(fixed("a", true, StatusHealthy)))
	assert.Error(t, m.RegisterChecker(fixed("", true, StatusHealthy)))
}

func TestCheckPanicAndTimeout(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(NewCustomHealthChecker("boom", false, time.Second, func(context.Context) CheckResult {
		panic("kaboom")
	})))
	require.NoError(t, m.RegisterChecker(NewCustomHealthChecker("slow", true, 20*time.Millisecond, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	})))

	d := m.GetDetailedHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, d.Components["boom"].Status)
	assert.Contains(t, d.Components["boom"].Error, "kaboom")
	assert.Equal(t, "slow", d.Components["slow"].Component)
	assert.True(t, d.Components["slow"].Critical)
	assert.Equal(t, 2, d.Summary.Unhealthy)
	assert.False(t, d.Overall.Ready)
	assert.Len(t, m.GetLastResults(), 2)
}

func TestRedisHealthChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	w := circuitbreaker.NewRedisWrapper(client, zaptest.NewLogger(t))
	c := NewRedisHealthChecker(w)

	res := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Contains(t, res.Details, "latency_ms")

	mr.Close()
	res = c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestDatabaseHealthChecker(t *testing.T) {
	ok := NewDatabaseHealthChecker(pingFunc(func(context.Context) error { return nil }), nil)
	assert.Equal(t, StatusHealthy, ok.Check(context.Background()).Status)

	down := NewDatabaseHealthChecker(pingFunc(func(context.Context) error { return errors.New("connection refused") }), nil)
	res := down.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "connection refused", res.Error)

	open := NewDatabaseHealthChecker(pingFunc(func(context.Context) error { return nil }), func() bool { return true })
	assert.Equal(t, "circuit breaker open", open.Check(context.Background()).Error)
}

func TestAgentsHealthChecker(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]string
		want     CheckStatus
	}{
		{"none", map[string]string{}, StatusUnhealthy},
		{"lazy", map[string]string{"consumer": "not_initialized", "provider": "not_initialized"}, StatusHealthy},
		{"one bad", map[string]string{"consumer": "healthy", "provider": "degraded"}, StatusDegraded},
		{"all bad", map[string]string{"consumer": "unhealthy"}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAgentsHealthChecker(func(context.Context) map[string]string { return tt.statuses })
			assert.Equal(t, tt.want, c.Check(context.Background()).Status)
		})
	}
}

func TestAnalyzerHealthChecker(t *testing.T) {
	state := circuitbreaker.StateClosed
	c := NewAnalyzerHealthChecker(func() circuitbreaker.State { return state })
	assert.False(t, c.IsCritical())
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
	state = circuitbreaker.StateOpen
	assert.Equal(t, StatusUnhealthy, c.Check(context.Background()).Status)

	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(c))
	require.NoError(t, m.RegisterChecker(fixed("database", true, StatusHealthy)))
	o := m.GetOverallHealth(context.Background())
	assert.Equal(t, StatusDegraded, o.Status)
	assert.True(t, o.Ready)
}

func TestHTTPHandler(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(fixed("database", true, StatusUnhealthy)))
	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	get := func(path string) (*httptest.ResponseRecorder, map[string]interface{}) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec, body
	}

	rec, body := get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])

	rec, _ = get("/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, body = get("/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["live"])

	rec, body = get("/health/detailed?cached=true")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	components := body["components"].(map[string]interface{})
	assert.Contains(t, components, "database")
}

func TestBackgroundChecks(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(fixed("a", true, StatusHealthy)))
	m.SetCheckInterval(10 * time.Millisecond)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool { return len(m.GetLastResults()) == 1 }, time.Second, 10*time.Millisecond)
}
