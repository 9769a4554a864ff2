package foundation

import (
	"context"
	"strings"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/empathy"
	"github.com/boddenberg/support-agent-go/internal/router"
)

const recentMessages = 5

var fallbackReplies = []string{
	"I'm here to help! Could you tell me a bit more about what you need?",
	"I want to make sure I give you the right answer! Could you rephrase that or give me a bit more detail?",
	"I'm not following yet, but I really want to help! Can you explain what you need in a different way?",
	"Let me make sure I understand you correctly. Could you give me a bit more context about what you're looking for?",
}

// topicKeywords map conversation words to how the fallback refers to them.
var topicKeywords = []struct {
	words []string
	topic string
}{
	{[]string{"artwork", "dpi"}, "your artwork"},
	{[]string{"price", "cost"}, "pricing"},
	{[]string{"size", "dimension"}, "sizing"},
}

// FallbackHandler accepts every intent. Mid-conversation it refers back to
// the current topic instead of starting over.
type FallbackHandler struct {
	choose empathy.Chooser
}

// NewFallbackHandler creates the handler.
func NewFallbackHandler(opts ...Option) *FallbackHandler {
	return &FallbackHandler{choose: buildOptions(opts).choose}
}

func (h *FallbackHandler) Name() string    { return FallbackName }
func (h *FallbackHandler) Version() string { return Version }

func (h *FallbackHandler) CanHandle(domain.Intent, *router.HandlerContext) bool { return true }

func (h *FallbackHandler) Handle(_ context.Context, _ string, _ domain.Intent, hctx *router.HandlerContext) (*domain.Response, error) {
	if hctx != nil && hctx.State != nil && len(hctx.State.Messages) > 1 {
		resp := reply("I understand we're discussing "+CurrentTopic(hctx.State)+". Could you clarify what you'd like to know about that?", 0.7)
		resp.Metadata.Extra[ExtraContextAware] = true
		return resp, nil
	}

	resp := reply(pick(h.choose, fallbackReplies), 0.5)
	resp.Metadata.Extra[ExtraContextAware] = false
	resp.Suggestions = []domain.Suggestion{
		{Type: "rephrase", Text: "Try rephrasing your question", Action: "rephrase", Priority: "high"},
		{Type: "help", Text: "Ask for help", Action: "help", Priority: "medium"},
	}
	return resp, nil
}

// CurrentTopic names what the conversation is about: the latest logged
// topic, else a keyword match over the recent messages, else "this".
func CurrentTopic(state *domain.ConversationState) string {
	if n := len(state.TopicsDiscussed); n > 0 {
		return state.TopicsDiscussed[n-1]
	}
	msgs := state.Messages
	if len(msgs) > recentMessages {
		msgs = msgs[len(msgs)-recentMessages:]
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(strings.ToLower(m.Content))
		b.WriteByte('\n')
	}
	text := b.String()
	for _, k := range topicKeywords {
		for _, w := range k.words {
			if strings.Contains(text, w) {
				return k.topic
			}
		}
	}
	return "this"
}
