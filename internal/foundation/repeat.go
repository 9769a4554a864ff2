package foundation

import (
	"context"

	"github.com/boddenberg/support-agent-go/internal/conversation"
	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/empathy"
	"github.com/boddenberg/support-agent-go/internal/router"
)

const noEarlierAnswer = "I don't have an earlier answer to repeat yet. What would you like to know?"

var repeatClosings = []string{
	"Is there a specific part you'd like me to explain differently?",
	"Does that make more sense?",
	"What part would you like me to clarify?",
	"Is there something specific that's confusing?",
}

// RepeatHandler replays an earlier answer with varied phrasing.
type RepeatHandler struct {
	choose empathy.Chooser
}

// NewRepeatHandler creates the handler.
func NewRepeatHandler(opts ...Option) *RepeatHandler {
	return &RepeatHandler{choose: buildOptions(opts).choose}
}

func (h *RepeatHandler) Name() string    { return RepeatName }
func (h *RepeatHandler) Version() string { return Version }

func (h *RepeatHandler) CanHandle(intent domain.Intent, _ *router.HandlerContext) bool {
	return intent.Type == domain.IntentRepeat
}

func (h *RepeatHandler) Handle(_ context.Context, _ string, _ domain.Intent, hctx *router.HandlerContext) (*domain.Response, error) {
	var state *domain.ConversationState
	var rep conversation.Repetition
	detector := conversation.NewRepetitionDetector()
	if hctx != nil {
		state = hctx.State
		rep = hctx.Signals.Repetition
		if hctx.Repetition != nil {
			detector = hctx.Repetition
		}
	}

	answer, ok := PreviousAnswer(state, rep)
	if !ok {
		resp := reply(noEarlierAnswer, 0.3)
		resp.Metadata.Extra[ExtraUseLLMFallback] = true
		return resp, nil
	}

	count := max(rep.Count, 1)
	content := detector.GenerateVariedResponse(answer, count) + "\n\n" + pick(h.choose, repeatClosings)
	resp := reply(content, 0.9)
	resp.Suggestions = []domain.Suggestion{
		{Type: "clarification", Text: "Ask for clarification on a specific part", Action: "clarify", Priority: "high"},
		{Type: "example", Text: "Ask for an example", Action: "example", Priority: "medium"},
	}
	return resp, nil
}

// PreviousAnswer finds the answer given to the question being repeated.
// Questions and answers are logged in pairs, so a matched question index is
// also its answer index. Matches that were themselves repeats are skipped in
// favour of the original answer. Without a usable match the most recent
// answer is returned.
func PreviousAnswer(state *domain.ConversationState, rep conversation.Repetition) (string, bool) {
	if state == nil || len(state.AnswersGiven) == 0 {
		return "", false
	}
	var fallback string
	for i := len(rep.Matches) - 1; i >= 0; i-- {
		idx := rep.Matches[i]
		if idx < 0 || idx >= len(state.AnswersGiven) {
			continue
		}
		if fallback == "" {
			fallback = state.AnswersGiven[idx].Answer
		}
		if idx < len(state.QuestionsAsked) && state.QuestionsAsked[idx].Intent.Type == domain.IntentRepeat {
			continue
		}
		return state.AnswersGiven[idx].Answer, true
	}
	if fallback != "" {
		return fallback, true
	}
	last := state.AnswersGiven[len(state.AnswersGiven)-1].Answer
	return last, last != ""
}
