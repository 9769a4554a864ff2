package conversation_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/conversation"
	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/infra/kv"
	"github.com/boddenberg/support-agent-go/internal/infra/sqlite"
)

func newManager(t *testing.T) (*conversation.StateManager, *sql.DB) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := kv.NewMemory(time.Minute)
	t.Cleanup(store.Close)
	return conversation.NewStateManager(store, db, zap.NewNop()), db
}

func TestCreateAndLoadSession(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)

	state, err := m.CreateSession(ctx, "agent-1", "tenant-1", "user-1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, state.SessionID)

	loaded, err := m.LoadSession(ctx, state.SessionID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, state.SessionID, loaded.SessionID)
	assert.Equal(t, "agent-1", loaded.AgentID)
	assert.NotNil(t, loaded.Messages)
}

func TestLoadSession_MissingIsNil(t *testing.T) {
	m, _ := newManager(t)
	state, err := m.LoadSession(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestCreateSession_KeepsGivenID(t *testing.T) {
	m, _ := newManager(t)
	state, err := m.CreateSession(context.Background(), "a", "t", "", "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", state.SessionID)
}

func TestMessageCountTracksExchanges(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	state, err := m.CreateSession(ctx, "a", "t", "", "")
	require.NoError(t, err)

	const turns = 4
	for i := 0; i < turns; i++ {
		m.AddMessage(state, domain.Message{Role: domain.RoleUser, Content: "question"})
		m.AddMessage(state, domain.Message{Role: domain.RoleAssistant, Content: "answer"})
		require.NoError(t, m.SaveSession(ctx, state))
	}

	loaded, err := m.LoadSession(ctx, state.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 2*turns, loaded.MessageCount)
	assert.Len(t, loaded.Messages, 2*turns)
	for _, msg := range loaded.Messages {
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.Timestamp.IsZero())
	}
}

func TestSaveSession_MirrorsRows(t *testing.T) {
	ctx := context.Background()
	m, db := newManager(t)
	state, err := m.CreateSession(ctx, "a", "t", "u", "s-mirror")
	require.NoError(t, err)

	m.AddMessage(state, domain.Message{Role: domain.RoleUser, Content: "hi"})
	require.NoError(t, m.SaveSession(ctx, state))
	// saving twice must not duplicate messages
	require.NoError(t, m.SaveSession(ctx, state))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT message_count FROM sessions WHERE id = ?`, "s-mirror").Scan(&count))
	assert.Equal(t, 1, count)
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, "s-mirror").Scan(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, m.DeleteSession(ctx, "s-mirror"))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&count))
	assert.Zero(t, count)
	gone, err := m.LoadSession(ctx, "s-mirror")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSaveSession_MirrorsOnlyNewMessages(t *testing.T) {
	ctx := context.Background()
	m, db := newManager(t)
	_, err := db.ExecContext(ctx, `
		CREATE TABLE mirror_attempts (id TEXT);
		CREATE TRIGGER count_mirror_attempts BEFORE INSERT ON messages
		BEGIN INSERT INTO mirror_attempts VALUES (NEW.id); END`)
	require.NoError(t, err)

	state, err := m.CreateSession(ctx, "a", "t", "", "s-incremental")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		m.AddMessage(state, domain.Message{Role: domain.RoleUser, Content: "question"})
		m.AddMessage(state, domain.Message{Role: domain.RoleAssistant, Content: "answer"})
		require.NoError(t, m.SaveSession(ctx, state))
	}

	var attempts, stored int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mirror_attempts`).Scan(&attempts))
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, "s-incremental").Scan(&stored))
	assert.Equal(t, 6, stored)
	assert.Equal(t, 6, attempts, "each message is written once")
}

func TestDeleteSession_FailureKeepsMirror(t *testing.T) {
	ctx := context.Background()
	m, db := newManager(t)
	state, err := m.CreateSession(ctx, "a", "t", "", "s-atomic")
	require.NoError(t, err)
	m.AddMessage(state, domain.Message{Role: domain.RoleUser, Content: "hi"})
	require.NoError(t, m.SaveSession(ctx, state))

	_, err = db.ExecContext(ctx, `
		CREATE TRIGGER keep_sessions BEFORE DELETE ON sessions
		BEGIN SELECT RAISE(ABORT, 'locked'); END`)
	require.NoError(t, err)

	require.Error(t, m.DeleteSession(ctx, "s-atomic"))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, "s-atomic").Scan(&count))
	assert.Equal(t, 1, count, "messages survive when the session row cannot be deleted")
}

func TestLoadFromLongTerm(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t)
	for _, id := range []string{"s1", "s2"} {
		state, err := m.CreateSession(ctx, "a", "t", "user-9", id)
		require.NoError(t, err)
		m.LogTopic(state, "dpi")
		require.NoError(t, m.SaveSession(ctx, state))
	}

	prev, err := m.LoadFromLongTerm(ctx, "user-9")
	require.NoError(t, err)
	require.Len(t, prev, 2)
	assert.Equal(t, []string{"dpi"}, prev[0].Topics)

	none, err := m.LoadFromLongTerm(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestLogs(t *testing.T) {
	m := conversation.NewStateManager(kv.NewMemory(time.Minute), nil, zap.NewNop())
	state := &domain.ConversationState{AgentID: "print-bot"}

	m.LogQuestion(state, "what is dpi", domain.Intent{Type: domain.IntentInformation})
	m.LogQuestion(state, "what is dpi", domain.Intent{Type: domain.IntentRepeat})
	m.LogAnswer(state, "dots per inch", "knowledge", "information", true)
	m.LogTopic(state, "dpi")
	m.LogTopic(state, "dpi")
	m.LogTopic(state, " ")

	assert.False(t, state.QuestionsAsked[0].WasAnswered)
	assert.True(t, state.QuestionsAsked[1].WasAnswered)
	assert.Equal(t, []string{"dpi"}, m.TopicsDiscussed(state))
	assert.Equal(t, 1, m.RepetitionCount(state))

	summary := m.ConversationSummary(state)
	assert.Equal(t, "Conversation with print-bot about dpi.", summary.Short)
}

func TestGoalAndPreferences(t *testing.T) {
	m := conversation.NewStateManager(kv.NewMemory(time.Minute), nil, zap.NewNop())
	state := &domain.ConversationState{}

	m.MarkGoalAchieved(state)
	assert.False(t, state.GoalAchieved())

	m.UpdateGoal(state, domain.UserGoal{Type: domain.IntentHowTo, Description: "export a PDF"})
	assert.False(t, state.UserGoal.IdentifiedAt.IsZero())
	m.MarkGoalAchieved(state)
	assert.True(t, state.GoalAchieved())

	m.RememberPreference(state, "units", "mm")
	v, ok := m.RecallPreference(state, "units")
	assert.True(t, ok)
	assert.Equal(t, "mm", v)
}

func TestMessagesView(t *testing.T) {
	m := conversation.NewStateManager(kv.NewMemory(time.Minute), nil, zap.NewNop())
	state := &domain.ConversationState{}
	_, ok := m.LastMessage(state)
	assert.False(t, ok)

	for _, c := range []string{"one", "two", "three"} {
		m.AddMessage(state, domain.Message{Role: domain.RoleUser, Content: c})
	}
	last := m.Messages(state, 2)
	require.Len(t, last, 2)
	assert.Equal(t, "two", last[0].Content)
	assert.Len(t, m.Messages(state, 0), 3)

	msg, ok := m.LastMessage(state)
	assert.True(t, ok)
	assert.Equal(t, "three", msg.Content)
}
