package foundation

import (
	"context"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/empathy"
	"github.com/boddenberg/support-agent-go/internal/router"
)

var (
	firstGreetings = []string{
		"Hey there! 👋 I'm here to help make things easier for you. What are you working on today?",
		"Hi! I'm here to help with whatever you need. What can I do for you?",
		"Hello! Ready to help you out. What's on your mind?",
		"Hey! I'm here to make your day easier. What would you like help with?",
	}
	returningGreetings = []string{
		"Welcome back! Good to see you again. What can I help you with today?",
		"Hey! Great to have you back. What are you working on?",
		"Hi again! Ready to help with whatever you need.",
		"Welcome back! What can I do for you today?",
	}
	farewells = []string{
		"Take care! I'm here anytime you need help.",
		"Have a great day! Come back anytime.",
		"See you later! Feel free to reach out whenever you need.",
		"Bye! I'm here whenever you need anything.",
	}
)

// GreetingHandler answers greetings and farewells.
type GreetingHandler struct {
	choose empathy.Chooser
}

// NewGreetingHandler creates the handler.
func NewGreetingHandler(opts ...Option) *GreetingHandler {
	return &GreetingHandler{choose: buildOptions(opts).choose}
}

func (h *GreetingHandler) Name() string    { return GreetingName }
func (h *GreetingHandler) Version() string { return Version }

func (h *GreetingHandler) CanHandle(intent domain.Intent, _ *router.HandlerContext) bool {
	return intent.Type == domain.IntentGreeting || intent.Type == domain.IntentFarewell
}

// Handle greets first-time visitors differently from users who already
// talked in this session. The current message is already in the state.
func (h *GreetingHandler) Handle(_ context.Context, _ string, intent domain.Intent, hctx *router.HandlerContext) (*domain.Response, error) {
	if intent.Type == domain.IntentFarewell {
		return reply(pick(h.choose, farewells), 1.0), nil
	}
	if hctx != nil && hctx.State != nil && hctx.State.MessageCount > 1 {
		return reply(pick(h.choose, returningGreetings), 1.0), nil
	}
	return reply(pick(h.choose, firstGreetings), 1.0), nil
}
