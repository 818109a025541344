// Package orchestration runs a chat message through the preprocess, route,
// plan, dispatch and format stages.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kumbuk/orchestrator/internal/extract"
	"github.com/kumbuk/orchestrator/internal/metrics"
	"github.com/kumbuk/orchestrator/internal/models"
	"github.com/kumbuk/orchestrator/internal/semantic"
	"github.com/kumbuk/orchestrator/internal/session"
	"github.com/kumbuk/orchestrator/internal/storage"
	"github.com/kumbuk/orchestrator/internal/tracing"
)

// PreprocessorConfig tunes the analyzer call.
type PreprocessorConfig struct {
	AnalyzerTimeout time.Duration
	HistorySize     int
}

// Preprocessor turns a raw message into a PreprocessedRequest.
type Preprocessor struct {
	x             *extract.Extractor
	analyzer      semantic.Analyzer
	profiles      storage.ProfileStore
	sessions      session.Store
	conversations storage.ConversationStore
	cfg           PreprocessorConfig
	logger        *zap.Logger
}

// NewPreprocessor wires the preprocessor. analyzer, sessions and
// conversations may be nil.
func NewPreprocessor(
	x *extract.Extractor,
	analyzer semantic.Analyzer,
	profiles storage.ProfileStore,
	sessions session.Store,
	conversations storage.ConversationStore,
	cfg PreprocessorConfig,
	logger *zap.Logger,
) *Preprocessor {
	if x == nil {
		x = extract.New(nil)
	}
	if profiles == nil {
		profiles = storage.NewMemoryProfiles(storage.DefaultProfile())
	}
	if cfg.AnalyzerTimeout <= 0 {
		cfg.AnalyzerTimeout = 3 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = semantic.HistoryWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preprocessor{
		x:             x,
		analyzer:      analyzer,
		profiles:      profiles,
		sessions:      sessions,
		conversations: conversations,
		cfg:           cfg,
		logger:        logger,
	}
}

// Process never fails. Internal errors, panics included, produce a minimal
// record carrying Error.
func (p *Preprocessor) Process(ctx context.Context, userID, message, sessionID string, extra map[string]interface{}) (req *models.PreprocessedRequest) {
	start := time.Now()
	ctx, span := tracing.StartStageSpan(ctx, "preprocess", userID)
	defer span.End()
	defer metrics.ObserveStage("preprocess", start)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("preprocess panic: %v", r)
			p.logger.Error("Error in pre-processing", zap.String("user_id", userID), zap.Error(err))
			req = minimalRequest(userID, message, sessionID, err)
		}
	}()

	req, err := p.process(ctx, userID, message, sessionID, extra)
	if err != nil {
		p.logger.Error("Error in pre-processing", zap.String("user_id", userID), zap.Error(err))
		return minimalRequest(userID, message, sessionID, err)
	}
	p.logger.Debug("Pre-processing complete",
		zap.String("user_id", userID),
		zap.Int("entities", req.Entities.Count()),
		zap.Int("keywords", len(req.Keywords)),
	)
	return req
}

func (p *Preprocessor) process(ctx context.Context, userID, message, sessionID string, extra map[string]interface{}) (*models.PreprocessedRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized := extract.Normalize(message)

	profile := p.profile(ctx, userID)
	sc := p.sessionContext(ctx, userID, sessionID)

	analysis := p.analyze(ctx, semantic.Request{
		UserID:  userID,
		Text:    normalized,
		History: sc.History,
		UserContext: semantic.UserContext{
			Role:        profile.Role,
			Location:    profile.Location,
			Preferences: profile.Preferences,
		},
	})

	entities := p.x.Entities(normalized)
	if analysis != nil && !analysis.Entities.IsEmpty() {
		entities = analysis.Entities
	}
	if extra == nil {
		extra = map[string]interface{}{}
	}

	req := &models.PreprocessedRequest{
		OriginalText:     message,
		NormalizedText:   normalized,
		UserID:           userID,
		SessionID:        sessionID,
		UserRole:         roleOf(profile),
		UserProfile:      profile,
		Entities:         entities,
		Keywords:         p.x.Keywords(normalized),
		SemanticAnalysis: analysis,
		SessionContext:   sc,
		Context:          extra,
		Timestamp:        time.Now().UTC(),
		Metadata: models.RequestMetadata{
			MessageLength:       utf8.RuneCountInString(normalized),
			HasEntities:         !entities.IsEmpty(),
			HasSession:          !sc.IsEmpty(),
			HasSemanticAnalysis: analysis != nil,
		},
	}
	if analysis != nil {
		c := analysis.Confidence
		req.Metadata.SemanticConfidence = &c
	}
	return req, nil
}

func roleOf(p *models.UserProfile) string {
	if p != nil && p.Role == models.RoleProvider {
		return models.RoleProvider
	}
	return models.RoleConsumer
}

func (p *Preprocessor) profile(ctx context.Context, userID string) *models.UserProfile {
	prof, err := p.profiles.GetUserProfile(ctx, userID)
	if err != nil || prof == nil {
		if err != nil {
			p.logger.Warn("Profile lookup failed, using defaults", zap.String("user_id", userID), zap.Error(err))
		}
		return &models.UserProfile{UserID: userID, Role: models.RoleConsumer, Preferences: map[string]interface{}{}}
	}
	return prof
}

func (p *Preprocessor) sessionContext(ctx context.Context, userID, sessionID string) models.SessionContext {
	if sessionID == "" {
		return models.SessionContext{}
	}
	sc := models.SessionContext{SessionID: sessionID, Data: map[string]interface{}{}}

	if p.sessions != nil {
		st, err := p.sessions.GetSessionState(ctx, userID, sessionID)
		if err != nil {
			p.logger.Warn("Session state lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		} else if st != nil {
			sc.MessageCount = st.MessageCount
			sc.LastAgent = st.LastAgent
			for k, v := range st.Data {
				sc.Data[k] = v
			}
		}
	}

	if p.conversations != nil {
		recs, err := p.conversations.GetConversationHistory(ctx, userID, sessionID, p.cfg.HistorySize)
		if err != nil {
			p.logger.Warn("History lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		for _, r := range recs {
			sc.History = append(sc.History, models.HistoryMessage{Role: "user", Content: r.Request})
			if r.Response != nil && r.Response.Message != "" {
				sc.History = append(sc.History, models.HistoryMessage{Role: "assistant", Content: r.Response.Message})
			}
		}
	}
	return sc
}

// analyze calls the analyzer under the configured timeout. Any failure,
// timeout or panic yields nil.
func (p *Preprocessor) analyze(ctx context.Context, req semantic.Request) *models.SemanticAnalysis {
	if p.analyzer == nil {
		return nil
	}
	name := p.analyzer.Name()
	req.History = semantic.LastMessages(req.History, semantic.HistoryWindow)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.AnalyzerTimeout)
	defer cancel()

	type result struct {
		a   *models.SemanticAnalysis
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: panic: %v", semantic.ErrAnalyzerUnavailable, r)}
			}
		}()
		a, err := p.analyzer.Analyze(ctx, req)
		done <- result{a: a, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res = result{err: ctx.Err()}
	}

	switch {
	case res.err == nil && res.a != nil:
		metrics.AnalyzerCalls.WithLabelValues(name, "success").Inc()
		return res.a
	case errors.Is(res.err, context.DeadlineExceeded):
		metrics.AnalyzerCalls.WithLabelValues(name, "timeout").Inc()
	default:
		metrics.AnalyzerCalls.WithLabelValues(name, "unavailable").Inc()
	}
	p.logger.Warn("Semantic analysis unavailable",
		zap.String("analyzer", name),
		zap.String("user_id", req.UserID),
		zap.Error(res.err),
	)
	return nil
}

func minimalRequest(userID, message, sessionID string, err error) *models.PreprocessedRequest {
	return &models.PreprocessedRequest{
		OriginalText:   message,
		NormalizedText: message,
		UserID:         userID,
		SessionID:      sessionID,
		UserRole:       models.RoleConsumer,
		Entities:       models.NewEntities(),
		Keywords:       []string{},
		Context:        map[string]interface{}{},
		Timestamp:      time.Now().UTC(),
		Error:          err.Error(),
		Metadata:       models.RequestMetadata{MessageLength: utf8.RuneCountInString(message)},
	}
}
