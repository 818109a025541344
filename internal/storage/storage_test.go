package storage

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kumbuk/orchestrator/internal/models"
)

func record(user, session, text string, ts time.Time) models.ConversationRecord {
	return models.ConversationRecord{
		UserID:    user,
		SessionID: session,
		Request:   text,
		Response:  &models.FormattedResponse{Type: models.ResponseText, Message: "re: " + text},
		AgentType: models.AgentConsumer,
		Timestamp: ts,
	}
}

// historyContract runs the behaviour every ConversationStore must share.
func historyContract(t *testing.T, s ConversationStore) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		session := "s1"
		if i%3 == 0 {
			session = "s2"
		}
		require.NoError(t, s.SaveConversation(ctx, record("u1", session, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.SaveConversation(ctx, record("u2", "s1", "other user", base)))

	recent, err := s.GetConversationHistory(ctx, "u1", "", 0)
	require.NoError(t, err)
	require.Len(t, recent, DefaultHistoryLimit)
	assert.Equal(t, "m5", recent[0].Request)
	assert.Equal(t, "m14", recent[len(recent)-1].Request)
	require.NotNil(t, recent[0].Response)
	assert.Equal(t, "re: m5", recent[0].Response.Message)

	s2, err := s.GetConversationHistory(ctx, "u1", "s2", 3)
	require.NoError(t, err)
	require.Len(t, s2, 3)
	assert.Equal(t, []string{"m6", "m9", "m12"}, []string{s2[0].Request, s2[1].Request, s2[2].Request})
	for _, r := range s2 {
		assert.Equal(t, "s2", r.SessionID)
	}

	none, err := s.GetConversationHistory(ctx, "nobody", "", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryConversations(t *testing.T) {
	historyContract(t, NewMemoryConversations(zaptest.NewLogger(t)))
}

func newSQLite(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(Config{Driver: "sqlite3", DSN: ":memory:"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func TestSQLiteConversations(t *testing.T) {
	historyContract(t, NewSQLConversations(newSQLite(t), zaptest.NewLogger(t)))
}

func TestSQLConversationsQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewSQLConversations(sqlx.NewDb(db, "sqlmock"), zaptest.NewLogger(t))
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO conversations (user_id, session_id, request, response, agent_type, created_at) VALUES (?, ?, ?, ?, ?, ?)",
	)).WithArgs("u1", "s1", "hello", sqlmock.AnyArg(), "consumer", ts).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.SaveConversation(ctx, record("u1", "s1", "hello", ts)))

	rows := sqlmock.NewRows([]string{"id", "user_id", "session_id", "request", "response", "agent_type", "created_at"}).
		AddRow(7, "u1", "s1", "second", `{"type":"text","message":"b"}`, "consumer", ts.Add(time.Minute)).
		AddRow(6, "u1", "s1", "first", `{"type":"text","message":"a"}`, "consumer", ts)
	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT id, user_id, session_id, request, response, agent_type, created_at FROM conversations WHERE user_id = ? AND session_id = ? ORDER BY id DESC LIMIT ?",
	)).WithArgs("u1", "s1", 2).WillReturnRows(rows)

	got, err := s.GetConversationHistory(ctx, "u1", "s1", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Request)
	assert.Equal(t, "b", got[1].Response.Message)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLConversationsSurfaceErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewSQLConversations(sqlx.NewDb(db, "sqlmock"), zaptest.NewLogger(t))

	mock.ExpectExec("INSERT INTO conversations").WillReturnError(fmt.Errorf("disk full"))
	err = s.SaveConversation(context.Background(), record("u1", "s1", "x", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestMemoryProfiles(t *testing.T) {
	p := NewMemoryProfiles(DefaultProfile(), models.UserProfile{UserID: "prov_1", Role: models.RoleProvider, Name: "Silva"})
	ctx := context.Background()

	got, err := p.GetUserProfile(ctx, "prov_1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleProvider, got.Role)

	got, err = p.GetUserProfile(ctx, "stranger")
	require.NoError(t, err)
	assert.Equal(t, "stranger", got.UserID)
	assert.Equal(t, models.RoleConsumer, got.Role)
	assert.Equal(t, "Demo User", got.Name)
	assert.Equal(t, "Colombo", got.Location)

	p.Put(models.UserProfile{UserID: "stranger"})
	got, err = p.GetUserProfile(ctx, "stranger")
	require.NoError(t, err)
	assert.Equal(t, models.RoleConsumer, got.Role)
}

func TestSQLProfiles(t *testing.T) {
	db := newSQLite(t)
	p := NewSQLProfiles(db, DefaultProfile(), zaptest.NewLogger(t))
	ctx := context.Background()

	got, err := p.GetUserProfile(ctx, "prov_1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleConsumer, got.Role)
	assert.Equal(t, "Demo User", got.Name)

	require.NoError(t, p.UpsertUserProfile(ctx, models.UserProfile{UserID: "prov_1", Role: models.RoleProvider, Name: "Silva", Location: "Kandy"}))
	require.NoError(t, p.UpsertUserProfile(ctx, models.UserProfile{UserID: "prov_1", Role: models.RoleProvider, Name: "Silva Plumbing", Location: "Kandy"}))

	got, err = p.GetUserProfile(ctx, "prov_1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleProvider, got.Role)
	assert.Equal(t, "Silva Plumbing", got.Name)
	assert.Equal(t, "Kandy", got.Location)
}
