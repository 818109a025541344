package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kumbuk/orchestrator/internal/extract"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 8081, cfg.Server.AdminPort)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "test_user_123", cfg.Auth.DefaultUserID)
	assert.Equal(t, 3*time.Second, cfg.Analyzer.Timeout)
	assert.Equal(t, 3, cfg.Analyzer.HistorySize)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, BackendMemory, cfg.Session.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, 256, cfg.Streaming.Capacity)
	assert.Equal(t, "Colombo", cfg.Profiles.Default.Location)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kumbuk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
analyzer:
  timeout: 750ms
storage:
  backend: sqlite
  dsn: "file:kumbuk.db"
session:
  backend: redis
profiles:
  seed:
    - user_id: prov_1
      role: provider
      name: Silva Plumbing
      location: Colombo
`), 0o644))
	t.Setenv("KUMBUK_SERVER_PORT", "9100")
	t.Setenv("KUMBUK_SESSION_REDIS_ADDR", "redis:6380")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 750*time.Millisecond, cfg.Analyzer.Timeout)
	assert.Equal(t, "sqlite3", cfg.Storage.Driver())
	assert.Equal(t, "redis:6380", cfg.Session.RedisAddr)
	require.Len(t, cfg.Profiles.Seed, 1)
	assert.Equal(t, "provider", cfg.Profiles.Seed[0].Role)
}

func TestLoadUsesConfigPathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alt.yaml")
	require.NoError(t, os.WriteFile(path, []byte("verbose_errors: true\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.VerboseErrors)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Storage.Backend = BackendPostgres
	assert.ErrorContains(t, cfg.Validate(), "storage.dsn")

	cfg = base()
	cfg.Storage.Backend = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Session.Backend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Auth.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "jwt_secret")
	cfg.Auth.JWTSecret = "s3cret"
	assert.NoError(t, cfg.Validate())
}

func TestWatchVocabularyReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vocabulary.yaml")
	require.NoError(t, os.WriteFile(path, []byte("locations: [Atlantis]\n"), 0o644))

	x := extract.New(nil)
	w, err := WatchVocabulary(context.Background(), path, x, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer w.Stop()

	assert.Equal(t, []string{"Atlantis"}, x.Vocabulary().Locations)

	require.NoError(t, os.WriteFile(path, []byte("locations: [Lemuria, Atlantis]\n"), 0o644))
	require.Eventually(t, func() bool {
		return len(x.Vocabulary().Locations) == 2
	}, 3*time.Second, 20*time.Millisecond)

	// a broken file keeps the last good vocabulary
	require.NoError(t, os.WriteFile(path, []byte("locations: [unclosed\n"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, x.Vocabulary().Locations, 2)
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
