// Package foundation provides the handlers every agent starts with:
// greetings, repeats, frustration, knowledge-base answers, print-size
// calculations and a catch-all fallback. Specialized agents override them by
// registering higher-priority handlers for the same intents.
package foundation

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/empathy"
	"github.com/boddenberg/support-agent-go/internal/router"
)

// Version is reported by every foundation handler.
const Version = "1.0.0"

// Handler names.
const (
	GreetingName    = "GreetingHandler"
	RepeatName      = "RepeatHandler"
	FrustrationName = "FrustrationHandler"
	KnowledgeName   = "KnowledgeHandler"
	CalculationName = "CalculationHandler"
	FallbackName    = "FallbackHandler"
)

// Extra metadata keys written by foundation handlers.
const (
	ExtraUseLLMFallback   = "useLLMFallback"
	ExtraFrustrationLevel = "frustrationLevel"
	ExtraContextAware     = "contextAware"
	ExtraGrounded         = "grounded"
	ExtraCalculation      = "calculation"
	ExtraPromptTokens     = "promptTokens"
	ExtraCompletionTokens = "completionTokens"
)

type options struct {
	choose empathy.Chooser
}

// Option customizes the foundation handlers.
type Option func(*options)

// WithChooser fixes how canned phrasings are picked.
func WithChooser(c empathy.Chooser) Option {
	return func(o *options) { o.choose = c }
}

func buildOptions(opts []Option) options {
	o := options{choose: empathy.DefaultChooser()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Register installs the foundation handlers on r and makes the fallback
// handler the default.
func Register(r *router.Router, logger *zap.Logger, opts ...Option) {
	r.Register(NewGreetingHandler(opts...))
	r.Register(NewRepeatHandler(opts...))
	r.Register(NewFrustrationResponder())
	r.Register(NewKnowledgeHandler(logger))
	r.Register(NewCalculationHandler())
	r.SetDefault(NewFallbackHandler(opts...))
}

func reply(content string, confidence float64) *domain.Response {
	return &domain.Response{
		Content:  content,
		Metadata: domain.ResponseMetadata{Confidence: confidence, Extra: map[string]any{}},
	}
}

func pick(c empathy.Chooser, options []string) string {
	return options[c.IntN(len(options))]
}

// genericPhrases mark replies that ask the user to rephrase instead of
// answering.
var genericPhrases = []string{
	"could you rephrase",
	"could you tell me a bit more",
	"could you give me a bit more",
	"can you explain what you need",
	"could you clarify",
	"i don't have specific details",
}

// IsGeneric reports whether content is a non-answer that a language model
// could improve on.
func IsGeneric(content string) bool {
	lower := strings.ToLower(content)
	for _, p := range genericPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ============================================================================
// Prompting
// ============================================================================

// DefaultSystemPrompt is used when the agent profile has none.
const DefaultSystemPrompt = "You are a friendly support assistant. Answer briefly and in plain language."

const historyMessages = 10

// SystemPrompt assembles the system instruction from the profile, its
// constraints and any retrieved knowledge.
func SystemPrompt(profile *domain.AgentProfile, ragContext string) string {
	var b strings.Builder
	if profile != nil && profile.SystemPrompt != "" {
		b.WriteString(strings.TrimSpace(profile.SystemPrompt))
	} else {
		b.WriteString(DefaultSystemPrompt)
	}
	if profile != nil && len(profile.Constraints) > 0 {
		b.WriteString("\n\nRules:")
		for _, c := range profile.Constraints {
			fmt.Fprintf(&b, "\n- %s", c)
		}
	}
	if ragContext != "" {
		b.WriteString("\n\nAnswer using this knowledge base excerpt. Cite the source id when you use it.\n")
		b.WriteString(ragContext)
	}
	return b.String()
}

// History converts the tail of the conversation into model messages.
func History(state *domain.ConversationState) []domain.LLMMessage {
	if state == nil {
		return nil
	}
	msgs := state.Messages
	if len(msgs) > historyMessages {
		msgs = msgs[len(msgs)-historyMessages:]
	}
	out := make([]domain.LLMMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == domain.RoleSystem {
			continue
		}
		out = append(out, domain.LLMMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Request builds a generation request for the current turn. When the state
// does not yet hold message, it is appended as the final user turn.
func Request(profile *domain.AgentProfile, state *domain.ConversationState, message, ragContext string) *domain.LLMRequest {
	req := &domain.LLMRequest{
		SystemPrompt: SystemPrompt(profile, ragContext),
		Messages:     History(state),
	}
	if n := len(req.Messages); n == 0 || req.Messages[n-1].Role != domain.RoleUser || req.Messages[n-1].Content != message {
		req.Messages = append(req.Messages, domain.LLMMessage{Role: domain.RoleUser, Content: message})
	}
	if profile != nil {
		req.Temperature = profile.LLM.Temperature
		req.MaxTokens = profile.LLM.MaxTokens
	}
	return req
}
