package foundation

import (
	"context"

	"github.com/boddenberg/support-agent-go/internal/conversation"
	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/router"
)

var frustrationFollowUps = map[domain.FrustrationLevel]string{
	domain.FrustrationMild:     "What's not quite working for you? Let's get this sorted out!",
	domain.FrustrationModerate: "What's the most important thing you're trying to do?",
	domain.FrustrationHigh:     "If you'd like, I can help you get in touch with our support team for more direct help. What would be most helpful for you right now?",
}

// FrustrationResponder de-escalates frustrated users and offers a human at
// the critical level.
type FrustrationResponder struct{}

// NewFrustrationResponder creates the handler.
func NewFrustrationResponder() *FrustrationResponder { return &FrustrationResponder{} }

func (h *FrustrationResponder) Name() string    { return FrustrationName }
func (h *FrustrationResponder) Version() string { return Version }

func (h *FrustrationResponder) CanHandle(intent domain.Intent, _ *router.HandlerContext) bool {
	return intent.Type == domain.IntentFrustration
}

func (h *FrustrationResponder) Handle(_ context.Context, message string, _ domain.Intent, hctx *router.HandlerContext) (*domain.Response, error) {
	scorer := conversation.NewFrustrationHandler(nil, nil)
	level := domain.FrustrationNone
	var state *domain.ConversationState
	if hctx != nil {
		state = hctx.State
		level = hctx.Signals.FrustrationLevel
		if hctx.Frustration != nil {
			scorer = hctx.Frustration
		}
	}
	if level == "" || level == domain.FrustrationNone {
		level = scorer.DetectFrustrationLevel(message, state)
	}
	// the intent said frustration even if the score did not
	if level == domain.FrustrationNone {
		level = domain.FrustrationMild
	}

	var content string
	if scorer.ShouldEscalate(level) {
		content = scorer.EscalationMessage()
	} else {
		content = scorer.EmpatheticResponse(level, frustrationFollowUps[level])
	}

	resp := reply(content, 0.95)
	resp.Metadata.FrustrationLevel = level
	resp.Metadata.NeedsEscalation = scorer.ShouldEscalate(level)
	resp.Metadata.Extra[ExtraFrustrationLevel] = string(level)
	resp.Suggestions = []domain.Suggestion{
		{Type: "human", Text: "Connect with a human", Action: "escalate", Priority: "high"},
		{Type: "restart", Text: "Start over", Action: "restart", Priority: "medium"},
	}
	return resp, nil
}
