package conversation_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/boddenberg/support-agent-go/internal/conversation"
	"github.com/boddenberg/support-agent-go/internal/domain"
)

func stateWithQuestions(questions ...string) *domain.ConversationState {
	s := &domain.ConversationState{}
	for _, q := range questions {
		s.QuestionsAsked = append(s.QuestionsAsked, domain.QuestionLog{Question: q})
	}
	return s
}

func TestDetectQuestionRepetition(t *testing.T) {
	d := conversation.NewRepetitionDetector()

	tests := []struct {
		name      string
		history   []string
		question  string
		repeated  bool
		prevIndex int
		count     int
	}{
		{name: "empty history", question: "What is DPI?", prevIndex: -1},
		{name: "second identical ask", history: []string{"What is DPI?"}, question: "what is dpi", repeated: true, prevIndex: 0, count: 1},
		{name: "third ask counts both", history: []string{"What is DPI?", "what is DPI"}, question: "What is DPI?", repeated: true, prevIndex: 1, count: 2},
		{name: "different question", history: []string{"What is DPI?"}, question: "How do I export a PDF?", prevIndex: -1},
		{name: "outside window", history: []string{"What is DPI?", "a", "b", "c", "d", "e"}, question: "What is DPI?", prevIndex: -1},
		{name: "punctuation only", history: []string{"???"}, question: "!!!", prevIndex: -1},
		{name: "meta question exempt", history: []string{"what did you just say"}, question: "What did you just say?", prevIndex: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := d.DetectQuestionRepetition(tt.question, stateWithQuestions(tt.history...))
			assert.Equal(t, tt.repeated, r.IsRepetition)
			assert.Equal(t, tt.prevIndex, r.PreviousIndex)
			assert.Equal(t, tt.count, r.Count)
			assert.Len(t, r.Matches, tt.count)
		})
	}
}

func TestDetectAnswerRepetition(t *testing.T) {
	d := conversation.NewRepetitionDetector()
	state := &domain.ConversationState{AnswersGiven: []domain.AnswerLog{
		{Answer: "DPI means dots per inch."},
		{Answer: "Use File then Export."},
	}}

	r := d.DetectAnswerRepetition("DPI means dots per inch", state)
	assert.True(t, r.IsRepetition)
	assert.Equal(t, 0, r.PreviousIndex)

	r = d.DetectAnswerRepetition("Bleed is the area outside the trim line.", state)
	assert.False(t, r.IsRepetition)
}

func TestGenerateVariedResponse(t *testing.T) {
	d := conversation.NewRepetitionDetector()
	assert.Equal(t, "As I mentioned earlier, 300 DPI.", d.GenerateVariedResponse("300 DPI.", 1))
	assert.Equal(t, "To reiterate: 300 DPI.", d.GenerateVariedResponse("300 DPI.", 2))
	assert.Equal(t, "To clarify: 300 DPI.", d.GenerateVariedResponse("300 DPI.", 42))

	for _, count := range []int{-3, 0} {
		out := d.GenerateVariedResponse("x", count)
		assert.True(t, strings.HasPrefix(out, "As I mentioned earlier, "), "count %d", count)
	}
}
