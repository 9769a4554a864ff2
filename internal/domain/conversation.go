package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of the conversation. Immutable once appended.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Intent    *Intent        `json:"intent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// QuestionLog is an append-only record of a user question.
type QuestionLog struct {
	Question    string    `json:"question"`
	Intent      Intent    `json:"intent"`
	Timestamp   time.Time `json:"timestamp"`
	WasAnswered bool      `json:"wasAnswered"`
}

// AnswerLog is an append-only record of an agent answer.
type AnswerLog struct {
	Answer           string    `json:"answer"`
	Handler          string    `json:"handler"`
	Type             string    `json:"type"`
	Timestamp        time.Time `json:"timestamp"`
	ValidationPassed bool      `json:"validationPassed"`
}

// UserGoal is what the user is trying to achieve in the session.
type UserGoal struct {
	Type         IntentType `json:"type"`
	Description  string     `json:"description"`
	IdentifiedAt time.Time  `json:"identifiedAt"`
	Achieved     bool       `json:"achieved"`
}

// ConversationState is the per-session state. It is mutated only through
// conversation.StateManager so that MessageCount stays monotonic and the
// question/answer logs stay append-only.
type ConversationState struct {
	SessionID      string    `json:"sessionId"`
	AgentID        string    `json:"agentId"`
	TenantID       string    `json:"tenantId"`
	UserID         string    `json:"userId,omitempty"`
	StartedAt      time.Time `json:"startedAt"`
	LastMessageAt  time.Time `json:"lastMessageAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`

	Messages     []Message `json:"messages"`
	MessageCount int       `json:"messageCount"`

	QuestionsAsked  []QuestionLog `json:"questionsAsked"`
	AnswersGiven    []AnswerLog   `json:"answersGiven"`
	TopicsDiscussed []string      `json:"topicsDiscussed"`

	IsFrustrationDetected bool `json:"isFrustrationDetected"`
	IsRepeatDetected      bool `json:"isRepeatDetected"`
	NeedsEscalation       bool `json:"needsEscalation"`

	UserGoal        *UserGoal      `json:"userGoal,omitempty"`
	UserPreferences map[string]any `json:"userPreferences,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// GoalAchieved reports whether a goal exists and has been achieved.
func (s *ConversationState) GoalAchieved() bool {
	return s.UserGoal != nil && s.UserGoal.Achieved
}

// Summary is a derived view of a conversation.
type Summary struct {
	Short    string   `json:"short"`
	Detailed string   `json:"detailed"`
	Topics   []string `json:"topics"`
}

// SessionSummary is a previous session loaded from long-term storage.
type SessionSummary struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agentId"`
	StartedAt      time.Time `json:"startedAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	Summary        string    `json:"summary,omitempty"`
	Topics         []string  `json:"topics"`
}

// Stats is a snapshot of a session for operators.
type Stats struct {
	SessionID       string   `json:"sessionId"`
	MessageCount    int      `json:"messageCount"`
	TopicsDiscussed []string `json:"topicsDiscussed"`
	RepetitionCount int      `json:"repetitionCount"`
	IsFrustrated    bool     `json:"isFrustrated"`
	NeedsEscalation bool     `json:"needsEscalation"`
}
