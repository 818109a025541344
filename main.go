package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kumbuk/orchestrator/internal/agents"
	"github.com/kumbuk/orchestrator/internal/auth"
	"github.com/kumbuk/orchestrator/internal/config"
	"github.com/kumbuk/orchestrator/internal/extract"
	"github.com/kumbuk/orchestrator/internal/health"
	"github.com/kumbuk/orchestrator/internal/httpapi"
	"github.com/kumbuk/orchestrator/internal/models"
	"github.com/kumbuk/orchestrator/internal/orchestration"
	"github.com/kumbuk/orchestrator/internal/semantic"
	"github.com/kumbuk/orchestrator/internal/session"
	"github.com/kumbuk/orchestrator/internal/storage"
	"github.com/kumbuk/orchestrator/internal/streaming"
	"github.com/kumbuk/orchestrator/internal/tracing"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := newLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Service failed", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	return zc.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		// tracing is optional; keep serving without it
		logger.Warn("Tracing initialization failed", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	hm := health.NewManager(logger)

	// Vocabulary
	x := extract.New(nil)
	if path := cfg.Vocabulary.Path; path != "" {
		if cfg.Vocabulary.Watch {
			w, err := config.WatchVocabulary(ctx, path, x, logger)
			if err != nil {
				return fmt.Errorf("vocabulary watcher: %w", err)
			}
			defer w.Stop()
		} else {
			v, err := extract.LoadVocabulary(path)
			if err != nil {
				return fmt.Errorf("load vocabulary: %w", err)
			}
			x.SetVocabulary(v)
		}
	}

	// Conversation and profile storage
	seeds := make([]models.UserProfile, 0, len(cfg.Profiles.Seed))
	for _, s := range cfg.Profiles.Seed {
		seeds = append(seeds, models.UserProfile{UserID: s.UserID, Role: s.Role, Name: s.Name, Location: s.Location})
	}
	var (
		conversations storage.ConversationStore
		profiles      storage.ProfileStore
	)
	switch cfg.Storage.Backend {
	case config.BackendSQLite, config.BackendPostgres:
		db, err := storage.Open(storage.Config{
			Driver:          cfg.Storage.Driver(),
			DSN:             cfg.Storage.DSN,
			MaxConnections:  cfg.Storage.MaxConnections,
			IdleConnections: cfg.Storage.IdleConnections,
			MaxLifetime:     cfg.Storage.MaxLifetime,
		}, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := storage.Migrate(ctx, db); err != nil {
			return err
		}
		sqlConv := storage.NewSQLConversations(db, logger)
		sqlProf := storage.NewSQLProfiles(db, cfg.Profiles.Default, logger)
		for _, p := range seeds {
			if err := sqlProf.UpsertUserProfile(ctx, p); err != nil {
				return err
			}
		}
		conversations, profiles = sqlConv, sqlProf
		if err := hm.RegisterChecker(health.NewDatabaseHealthChecker(sqlConv, sqlConv.BreakerOpen)); err != nil {
			return err
		}
	default:
		conversations = storage.NewMemoryConversations(logger)
		profiles = storage.NewMemoryProfiles(cfg.Profiles.Default, seeds...)
	}

	// Session state
	var sessions session.Store
	if cfg.Session.Backend == config.BackendRedis {
		rs, err := session.NewRedisStore(session.RedisOptions{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
			TTL:      cfg.Session.TTL,
		}, logger)
		if err != nil {
			return err
		}
		defer rs.Close()
		sessions = rs
		if err := hm.RegisterChecker(health.NewRedisHealthChecker(rs.RedisWrapper())); err != nil {
			return err
		}
	} else {
		sessions = session.NewMemoryStore(cfg.Session.MaxSessions, logger)
	}

	// Semantic analyzer
	var analyzer semantic.Analyzer
	switch {
	case !cfg.Analyzer.Enabled:
		logger.Info("Semantic analyzer disabled")
	case cfg.Analyzer.Endpoint != "":
		llm := semantic.NewLLMAnalyzer(semantic.LLMConfig{
			Endpoint: cfg.Analyzer.Endpoint,
			Model:    cfg.Analyzer.Model,
			Timeout:  cfg.Analyzer.Timeout,
		}, logger)
		analyzer = llm
		if err := hm.RegisterChecker(health.NewAnalyzerHealthChecker(llm.BreakerState)); err != nil {
			return err
		}
	default:
		analyzer = semantic.NewRuleAnalyzer(x)
	}

	// Pipeline
	streams := streaming.NewManager(cfg.Streaming.Capacity, logger)
	dispatcher := orchestration.NewDispatcher(agents.DefaultRegistry(x), logger)
	agg := orchestration.NewAggregator(orchestration.Deps{
		Preprocessor: orchestration.NewPreprocessor(x, analyzer, profiles, sessions, conversations, orchestration.PreprocessorConfig{
			AnalyzerTimeout: cfg.Analyzer.Timeout,
			HistorySize:     cfg.Analyzer.HistorySize,
		}, logger),
		Router:        orchestration.NewRouter(x, logger),
		Planner:       orchestration.NewPlanner(logger),
		Dispatcher:    dispatcher,
		Handler:       orchestration.NewHandler(cfg.VerboseErrors, logger),
		Sessions:      sessions,
		Conversations: conversations,
		Publisher:     streams,
	}, logger)
	if err := hm.RegisterChecker(health.NewAgentsHealthChecker(func(ctx context.Context) map[string]string {
		return dispatcher.HealthCheck(ctx).Agents
	})); err != nil {
		return err
	}

	// HTTP
	var jwtm *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtm = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	}
	api := httpapi.NewServer(httpapi.Options{
		Aggregator:  agg,
		Streams:     streams,
		Auth:        auth.NewMiddleware(jwtm, !cfg.Auth.Enabled, cfg.Auth.DefaultUserID, logger),
		RateLimiter: httpapi.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger),
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})

	adminMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	adminMux.Handle("GET /metrics", promhttp.Handler())

	servers := []*http.Server{
		{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: api.Handler(), ReadHeaderTimeout: 10 * time.Second},
		{Addr: fmt.Sprintf(":%d", cfg.Server.AdminPort), Handler: adminMux, ReadHeaderTimeout: 10 * time.Second},
	}
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	if err := hm.Start(ctx); err != nil {
		return err
	}
	defer hm.Stop()
	logger.Info("Kumbuk orchestrator started",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("sessions", cfg.Session.Backend),
		zap.Bool("auth", cfg.Auth.Enabled),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-errCh:
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("HTTP server shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	return runErr
}
