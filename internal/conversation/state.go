// Package conversation tracks per-session conversation state and analyzes
// it for repetition and user frustration.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/port"
)

var tracer = otel.Tracer("conversation")

// SessionTTL is how long an idle session stays in the KV store.
const SessionTTL = time.Hour

const previousSessionLimit = 5

// StateManager owns every mutation of a ConversationState and persists it:
// the KV copy is authoritative for live turns, the relational copy is a
// best-effort mirror for history and analytics.
type StateManager struct {
	kv     port.KVStore
	db     port.SQLStore
	logger *zap.Logger
	now    func() time.Time
}

// StateOption customizes a StateManager.
type StateOption func(*StateManager)

// WithStateClock overrides the time source.
func WithStateClock(now func() time.Time) StateOption {
	return func(m *StateManager) { m.now = now }
}

// NewStateManager creates a state manager. db may be nil to disable the
// relational mirror.
func NewStateManager(kv port.KVStore, db port.SQLStore, logger *zap.Logger, opts ...StateOption) *StateManager {
	m := &StateManager{kv: kv, db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func sessionKey(id string) string { return "session:" + id }

// ============================================================================
// Persistence
// ============================================================================

// CreateSession starts a new session and saves it. An empty sessionID gets a
// fresh UUID.
func (m *StateManager) CreateSession(ctx context.Context, agentID, tenantID, userID, sessionID string) (*domain.ConversationState, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := m.now()
	state := &domain.ConversationState{
		SessionID:       sessionID,
		AgentID:         agentID,
		TenantID:        tenantID,
		UserID:          userID,
		StartedAt:       now,
		LastMessageAt:   now,
		LastActivityAt:  now,
		ExpiresAt:       now.Add(SessionTTL),
		Messages:        []domain.Message{},
		QuestionsAsked:  []domain.QuestionLog{},
		AnswersGiven:    []domain.AnswerLog{},
		TopicsDiscussed: []string{},
		UserPreferences: map[string]any{},
		Metadata:        map[string]any{},
	}
	if err := m.SaveSession(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// LoadSession returns the stored session, or nil without error when absent.
func (m *StateManager) LoadSession(ctx context.Context, sessionID string) (*domain.ConversationState, error) {
	raw, ok, err := m.kv.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !ok {
		return nil, nil
	}

	var state domain.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	// sessions written by older versions may lack these
	if state.Messages == nil {
		state.Messages = []domain.Message{}
	}
	if state.QuestionsAsked == nil {
		state.QuestionsAsked = []domain.QuestionLog{}
	}
	if state.AnswersGiven == nil {
		state.AnswersGiven = []domain.AnswerLog{}
	}
	if state.TopicsDiscussed == nil {
		state.TopicsDiscussed = []string{}
	}
	if state.UserPreferences == nil {
		state.UserPreferences = map[string]any{}
	}
	if state.Metadata == nil {
		state.Metadata = map[string]any{}
	}
	return &state, nil
}

// SaveSession writes the session with a refreshed TTL and mirrors it to the
// relational store. Mirror failures are logged only.
func (m *StateManager) SaveSession(ctx context.Context, state *domain.ConversationState) error {
	ctx, span := tracer.Start(ctx, "StateManager.SaveSession")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", state.SessionID))

	now := m.now()
	state.LastActivityAt = now
	state.ExpiresAt = now.Add(SessionTTL)

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", state.SessionID, err)
	}
	if err := m.kv.Put(ctx, sessionKey(state.SessionID), raw, SessionTTL); err != nil {
		return fmt.Errorf("save session %s: %w", state.SessionID, err)
	}

	if err := m.persistToLongTerm(ctx, state); err != nil {
		m.logger.Warn("state: long-term mirror failed",
			zap.String("session_id", state.SessionID),
			zap.Error(err),
		)
	}
	return nil
}

// DeleteSession removes the session from the KV store and the mirror.
func (m *StateManager) DeleteSession(ctx context.Context, sessionID string) error {
	if err := m.kv.Delete(ctx, sessionKey(sessionID)); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	if m.db == nil {
		return nil
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete messages of %s: %w", sessionID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session row %s: %w", sessionID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete of %s: %w", sessionID, err)
	}
	return nil
}

func (m *StateManager) persistToLongTerm(ctx context.Context, state *domain.ConversationState) error {
	if m.db == nil {
		return nil
	}

	topics, _ := json.Marshal(state.TopicsDiscussed)
	meta, _ := json.Marshal(state.Metadata)
	var summary any
	if state.UserGoal != nil && state.UserGoal.Description != "" {
		summary = state.UserGoal.Description
	}
	var userID any
	if state.UserID != "" {
		userID = state.UserID
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, agent_id, tenant_id, user_id, started_at, last_activity_at,
			message_count, topics_discussed, goal_achieved, summary, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_activity_at = excluded.last_activity_at,
			message_count = excluded.message_count,
			topics_discussed = excluded.topics_discussed,
			goal_achieved = excluded.goal_achieved,
			summary = excluded.summary,
			metadata = excluded.metadata`,
		state.SessionID, state.AgentID, state.TenantID, userID,
		state.StartedAt.UnixNano(), state.LastActivityAt.UnixNano(),
		state.MessageCount, string(topics), boolToInt(state.GoalAchieved()), summary, string(meta),
	)
	if err != nil {
		return fmt.Errorf("upsert session row: %w", err)
	}

	// Messages are append-only and mirrored in order, so the stored rows
	// are a prefix of state.Messages.
	var mirrored int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, state.SessionID).Scan(&mirrored); err != nil {
		return fmt.Errorf("count mirrored messages: %w", err)
	}
	if mirrored > len(state.Messages) {
		mirrored = 0
	}

	for _, msg := range state.Messages[mirrored:] {
		var intent any
		if msg.Intent != nil {
			b, _ := json.Marshal(msg.Intent)
			intent = string(b)
		}
		msgMeta, _ := json.Marshal(msg.Metadata)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, role, content, intent, timestamp, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			msg.ID, state.SessionID, string(msg.Role), msg.Content, intent,
			msg.Timestamp.UnixNano(), string(msgMeta),
		); err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}
	}
	return tx.Commit()
}

// LoadFromLongTerm returns the user's five most recently active sessions.
func (m *StateManager) LoadFromLongTerm(ctx context.Context, userID string) ([]domain.SessionSummary, error) {
	if m.db == nil || userID == "" {
		return []domain.SessionSummary{}, nil
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, agent_id, started_at, last_activity_at, summary, topics_discussed
		FROM sessions
		WHERE user_id = ?
		ORDER BY last_activity_at DESC
		LIMIT ?`, userID, previousSessionLimit)
	if err != nil {
		return nil, fmt.Errorf("load previous sessions: %w", err)
	}
	defer rows.Close()

	out := []domain.SessionSummary{}
	for rows.Next() {
		var (
			s                 domain.SessionSummary
			started, activity int64
			summary           *string
			topics            string
		)
		if err := rows.Scan(&s.ID, &s.AgentID, &started, &activity, &summary, &topics); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		s.StartedAt = time.Unix(0, started)
		s.LastActivityAt = time.Unix(0, activity)
		if summary != nil {
			s.Summary = *summary
		}
		if err := json.Unmarshal([]byte(topics), &s.Topics); err != nil || s.Topics == nil {
			s.Topics = []string{}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ============================================================================
// Mutations
// ============================================================================

// AddMessage appends msg and keeps MessageCount equal to len(Messages).
func (m *StateManager) AddMessage(state *domain.ConversationState, msg domain.Message) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	state.Messages = append(state.Messages, msg)
	state.MessageCount = len(state.Messages)
	state.LastMessageAt = msg.Timestamp
	state.LastActivityAt = m.now()
}

// LogQuestion records a user question.
func (m *StateManager) LogQuestion(state *domain.ConversationState, question string, intent domain.Intent) {
	state.QuestionsAsked = append(state.QuestionsAsked, domain.QuestionLog{
		Question:  question,
		Intent:    intent.Clone(),
		Timestamp: m.now(),
	})
}

// LogAnswer records an answer and marks the latest question answered.
func (m *StateManager) LogAnswer(state *domain.ConversationState, answer, handler, answerType string, validationPassed bool) {
	state.AnswersGiven = append(state.AnswersGiven, domain.AnswerLog{
		Answer:           answer,
		Handler:          handler,
		Type:             answerType,
		Timestamp:        m.now(),
		ValidationPassed: validationPassed,
	})
	if n := len(state.QuestionsAsked); n > 0 {
		state.QuestionsAsked[n-1].WasAnswered = true
	}
}

// LogTopic adds topic once, keeping first-seen order.
func (m *StateManager) LogTopic(state *domain.ConversationState, topic string) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return
	}
	for _, t := range state.TopicsDiscussed {
		if t == topic {
			return
		}
	}
	state.TopicsDiscussed = append(state.TopicsDiscussed, topic)
}

// UpdateGoal replaces the user's goal.
func (m *StateManager) UpdateGoal(state *domain.ConversationState, goal domain.UserGoal) {
	if goal.IdentifiedAt.IsZero() {
		goal.IdentifiedAt = m.now()
	}
	state.UserGoal = &goal
}

// MarkGoalAchieved flags the current goal achieved. No-op without a goal.
func (m *StateManager) MarkGoalAchieved(state *domain.ConversationState) {
	if state.UserGoal != nil {
		state.UserGoal.Achieved = true
	}
}

// RememberPreference stores a user preference on the session.
func (m *StateManager) RememberPreference(state *domain.ConversationState, key string, value any) {
	if state.UserPreferences == nil {
		state.UserPreferences = map[string]any{}
	}
	state.UserPreferences[key] = value
}

// RecallPreference returns a stored preference.
func (m *StateManager) RecallPreference(state *domain.ConversationState, key string) (any, bool) {
	v, ok := state.UserPreferences[key]
	return v, ok
}

// ============================================================================
// Views
// ============================================================================

// Messages returns the last limit messages, or all when limit <= 0.
func (m *StateManager) Messages(state *domain.ConversationState, limit int) []domain.Message {
	if limit <= 0 || limit >= len(state.Messages) {
		return state.Messages
	}
	return state.Messages[len(state.Messages)-limit:]
}

// LastMessage returns the newest message, if any.
func (m *StateManager) LastMessage(state *domain.ConversationState) (domain.Message, bool) {
	if len(state.Messages) == 0 {
		return domain.Message{}, false
	}
	return state.Messages[len(state.Messages)-1], true
}

// TopicsDiscussed returns the ordered topic set.
func (m *StateManager) TopicsDiscussed(state *domain.ConversationState) []string {
	return state.TopicsDiscussed
}

// RepetitionCount counts logged questions whose intent was repeat.
func (m *StateManager) RepetitionCount(state *domain.ConversationState) int {
	n := 0
	for _, q := range state.QuestionsAsked {
		if q.Intent.Type == domain.IntentRepeat {
			n++
		}
	}
	return n
}

// ConversationSummary renders a short and a detailed summary.
func (m *StateManager) ConversationSummary(state *domain.ConversationState) domain.Summary {
	lines := make([]string, 0, len(state.Messages))
	for _, msg := range state.Messages {
		lines = append(lines, string(msg.Role)+": "+msg.Content)
	}
	return domain.Summary{
		Short:    fmt.Sprintf("Conversation with %s about %s.", state.AgentID, strings.Join(state.TopicsDiscussed, ", ")),
		Detailed: strings.Join(lines, "\n"),
		Topics:   append([]string(nil), state.TopicsDiscussed...),
	}
}

// Stats summarizes a session for operators.
func (m *StateManager) Stats(state *domain.ConversationState) domain.Stats {
	return domain.Stats{
		SessionID:       state.SessionID,
		MessageCount:    state.MessageCount,
		TopicsDiscussed: append([]string{}, state.TopicsDiscussed...),
		RepetitionCount: m.RepetitionCount(state),
		IsFrustrated:    state.IsFrustrationDetected,
		NeedsEscalation: state.NeedsEscalation,
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
