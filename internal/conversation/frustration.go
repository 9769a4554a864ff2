package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/port"
)

// FrustrationRule is one weighted signal of the frustration score.
type FrustrationRule struct {
	Name    string
	Pattern *regexp.Regexp
	Weight  int
}

// DefaultFrustrationRules are the keyword and punctuation signals.
var DefaultFrustrationRules = []FrustrationRule{
	{Name: "explicit", Pattern: regexp.MustCompile(`(?i)\b(frustrated|annoyed)\b`), Weight: 3},
	{Name: "giving_up", Pattern: regexp.MustCompile(`(?i)(give up|never mind|forget it)`), Weight: 4},
	{Name: "strong_negative", Pattern: regexp.MustCompile(`(?i)(terrible|awful|useless|horrible|worst)`), Weight: 3},
	{Name: "sounds", Pattern: regexp.MustCompile(`(?i)\b(ugh+|argh+|grr+)\b`), Weight: 2},
	{Name: "not_working", Pattern: regexp.MustCompile(`(?i)this (is|isn't) working`), Weight: 3},
	{Name: "nothing_working", Pattern: regexp.MustCompile(`(?i)nothing (is )?working`), Weight: 3},
	{Name: "profanity", Pattern: regexp.MustCompile(`(?i)\b(fuck|shit|damn|hell|crap)\b`), Weight: 9},
	{Name: "punctuation", Pattern: regexp.MustCompile(`[!?]{3,}`), Weight: 2},
}

// Heuristic weights and limits.
const (
	longConversationMessages = 10
	longConversationWeight   = 2
	repeatedTopicsWeight     = 2
	repeatedTopicsMin        = 2
	terseLength              = 10
	terseAfterMessages       = 3
	terseWeight              = 1
)

// courtesy replies are short by nature and never count as terse.
var courtesy = map[string]bool{
	"ok": true, "okay": true, "k": true, "yes": true, "no": true, "sure": true, "yep": true,
	"bye": true, "thanks": true, "thank you": true, "thx": true, "ty": true, "cool": true,
	"hi": true, "hey": true, "hello": true, "great": true, "nice": true,
}

// FrustrationHandler scores frustration as a pure function of the message
// and the session state.
type FrustrationHandler struct {
	db    port.SQLStore
	rules []FrustrationRule
	now   func() time.Time
}

// NewFrustrationHandler creates a handler. db may be nil, which disables
// LearnFromFrustration. nil rules select DefaultFrustrationRules.
func NewFrustrationHandler(db port.SQLStore, rules []FrustrationRule) *FrustrationHandler {
	if rules == nil {
		rules = DefaultFrustrationRules
	}
	return &FrustrationHandler{db: db, rules: rules, now: time.Now}
}

// Score returns the additive frustration score and the names of the
// signals that fired.
func (h *FrustrationHandler) Score(message string, state *domain.ConversationState) (int, []string) {
	score := 0
	var fired []string
	for _, r := range h.rules {
		if r.Pattern.MatchString(message) {
			score += r.Weight
			fired = append(fired, r.Name)
		}
	}
	if state == nil {
		return score, fired
	}

	if state.MessageCount > longConversationMessages && !state.GoalAchieved() {
		score += longConversationWeight
		fired = append(fired, "long_conversation")
	}

	start := max(0, len(state.QuestionsAsked)-questionWindow)
	recent := make([]string, 0, questionWindow)
	for _, q := range state.QuestionsAsked[start:] {
		recent = append(recent, q.Question)
	}
	if countRepeatedTopics(recent) >= repeatedTopicsMin {
		score += repeatedTopicsWeight
		fired = append(fired, "repeated_topics")
	}

	trimmed := strings.TrimSpace(message)
	if len(trimmed) < terseLength && state.MessageCount > terseAfterMessages && !isCourtesy(trimmed) {
		score += terseWeight
		fired = append(fired, "terse")
	}
	return score, fired
}

// DetectFrustrationLevel buckets Score into a level.
func (h *FrustrationHandler) DetectFrustrationLevel(message string, state *domain.ConversationState) domain.FrustrationLevel {
	score, _ := h.Score(message, state)
	return LevelForScore(score)
}

// LevelForScore maps 0 to none, 1-2 mild, 3-5 moderate, 6-8 high, 9+ critical.
func LevelForScore(score int) domain.FrustrationLevel {
	switch {
	case score <= 0:
		return domain.FrustrationNone
	case score <= 2:
		return domain.FrustrationMild
	case score <= 5:
		return domain.FrustrationModerate
	case score <= 8:
		return domain.FrustrationHigh
	default:
		return domain.FrustrationCritical
	}
}

// ShouldEscalate is true only at critical.
func (h *FrustrationHandler) ShouldEscalate(level domain.FrustrationLevel) bool {
	return level == domain.FrustrationCritical
}

// EmpatheticResponse wraps context in a level-appropriate preamble.
func (h *FrustrationHandler) EmpatheticResponse(level domain.FrustrationLevel, context string) string {
	switch level {
	case domain.FrustrationMild:
		return "I understand this might be confusing. Let me try to explain it more clearly. " + context
	case domain.FrustrationModerate:
		return "I can see you're having trouble with this. Let me break it down step by step. " + context
	case domain.FrustrationHigh:
		return "I apologize for the confusion. Let me start over and explain this in a simpler way. " + context
	case domain.FrustrationCritical:
		return "I'm really sorry this hasn't been helpful. Would you like me to connect you with a human expert who can assist you better?"
	default:
		return ""
	}
}

// EscalationMessage offers the user routes to human help.
func (h *FrustrationHandler) EscalationMessage() string {
	return "I understand you're frustrated, and I want to make sure you get the help you need. Would you like me to:\n" +
		"1. Connect you with a human support agent\n" +
		"2. Schedule a callback\n" +
		"3. Send you detailed documentation via email\n\n" +
		"Please let me know how I can best assist you."
}

// LearnFromFrustration stores a frustration event in agent_analytics.
func (h *FrustrationHandler) LearnFromFrustration(ctx context.Context, agentID, message string, level domain.FrustrationLevel, context string) error {
	if h.db == nil {
		return &domain.ErrNotConfigured{Capability: "analytics store"}
	}
	now := h.now()
	data, err := json.Marshal(map[string]any{
		"message":   message,
		"level":     level,
		"context":   context,
		"timestamp": now.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encode frustration event: %w", err)
	}
	_, err = h.db.ExecContext(ctx, `
		INSERT INTO agent_analytics (id, agent_id, event_type, event_data, created_at)
		VALUES (?, ?, 'frustration', ?, ?)`,
		uuid.NewString(), agentID, string(data), now.UnixNano())
	if err != nil {
		return fmt.Errorf("store frustration event: %w", err)
	}
	return nil
}

// countRepeatedTopics counts distinct words longer than four characters that
// occur at least twice across questions.
func countRepeatedTopics(questions []string) int {
	counts := map[string]int{}
	for _, q := range questions {
		for _, w := range strings.Fields(strings.ToLower(q)) {
			if len(w) > 4 {
				counts[w]++
			}
		}
	}
	n := 0
	for _, c := range counts {
		if c >= 2 {
			n++
		}
	}
	return n
}

func isCourtesy(s string) bool {
	s = strings.ToLower(strings.TrimRight(s, ".!? "))
	return courtesy[s]
}
