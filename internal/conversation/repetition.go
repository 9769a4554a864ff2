package conversation

import (
	"regexp"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/similarity"
)

// Repetition windows and thresholds.
const (
	questionWindow    = 5
	answerWindow      = 3
	questionThreshold = 0.8
	answerThreshold   = 0.7
)

// Repetition is the outcome of a repetition check. Count is the number of
// matches inside the window, not a session-wide counter.
type Repetition struct {
	IsRepetition bool
	Previous     string
	// PreviousIndex is the absolute log index of the most recent match, -1 when none.
	PreviousIndex int
	// Matches holds the absolute log indexes of every match, oldest first.
	Matches []int
	Count   int
}

// metaQuestions ask about the conversation itself; they are answered from
// history and never count as repetition.
var metaQuestions = []*regexp.Regexp{
	regexp.MustCompile(`(?i)what did (i|you) (just )?say`),
	regexp.MustCompile(`(?i)what (was|is) my (name|last message)`),
	regexp.MustCompile(`(?i)do you (remember|know) (what|my|about)`),
	regexp.MustCompile(`(?i)tell me (what|about) (i|we|my)`),
	regexp.MustCompile(`(?i)what (do you|have i) (know|said|told)`),
	regexp.MustCompile(`(?i)how many (messages|times|exchanges)`),
	regexp.MustCompile(`(?i)what's my (name|email|address|location)`),
	regexp.MustCompile(`(?i)did you (hear|understand|get|catch) (me|that|what i said)`),
	regexp.MustCompile(`(?i)are you (listening|paying attention)`),
	regexp.MustCompile(`(?i)can you (hear|understand) me`),
}

var variations = []string{
	"As I mentioned earlier, ",
	"To reiterate: ",
	"Let me explain this differently: ",
	"I understand this might be confusing. ",
	"To clarify: ",
}

// RepetitionDetector compares the current input or output against a bounded
// window of recent history using Jaccard similarity over word sets.
type RepetitionDetector struct{}

// NewRepetitionDetector creates a detector.
func NewRepetitionDetector() *RepetitionDetector { return &RepetitionDetector{} }

// IsMetaQuestion reports whether question asks about the conversation itself.
func (d *RepetitionDetector) IsMetaQuestion(question string) bool {
	for _, p := range metaQuestions {
		if p.MatchString(question) {
			return true
		}
	}
	return false
}

// DetectQuestionRepetition checks question against the last five logged questions.
func (d *RepetitionDetector) DetectQuestionRepetition(question string, state *domain.ConversationState) Repetition {
	if d.IsMetaQuestion(question) {
		return Repetition{PreviousIndex: -1}
	}
	texts := make([]string, len(state.QuestionsAsked))
	for i, q := range state.QuestionsAsked {
		texts[i] = q.Question
	}
	return detect(question, texts, questionWindow, questionThreshold)
}

// DetectAnswerRepetition checks answer against the last three logged answers.
func (d *RepetitionDetector) DetectAnswerRepetition(answer string, state *domain.ConversationState) Repetition {
	texts := make([]string, len(state.AnswersGiven))
	for i, a := range state.AnswersGiven {
		texts[i] = a.Answer
	}
	return detect(answer, texts, answerWindow, answerThreshold)
}

func detect(current string, history []string, window int, threshold float64) Repetition {
	out := Repetition{PreviousIndex: -1}
	normalized := similarity.Normalize(current)
	if normalized == "" {
		return out
	}

	start := max(0, len(history)-window)
	for i := start; i < len(history); i++ {
		if similarity.Jaccard(normalized, similarity.Normalize(history[i])) > threshold {
			out.Count++
			out.Previous = history[i]
			out.PreviousIndex = i
			out.Matches = append(out.Matches, i)
		}
	}
	out.IsRepetition = out.Count > 0
	return out
}

// GenerateVariedResponse prefixes answer with a phrasing chosen by the
// repetition count. Any count maps to a valid variant.
func (d *RepetitionDetector) GenerateVariedResponse(answer string, count int) string {
	idx := min(count-1, len(variations)-1)
	if idx < 0 {
		idx = 0
	}
	return variations[idx] + answer
}
