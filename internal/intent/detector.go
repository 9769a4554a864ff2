// Package intent classifies user messages with an ordered cascade of
// keyword patterns, refined by the conversation so far.
package intent

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/conversation"
	"github.com/boddenberg/support-agent-go/internal/domain"
)

var tracer = otel.Tracer("intent")

// Confidences assigned by the cascade.
const (
	confidenceExplicitCalculation = 1.0
	confidenceGreeting            = 0.95
	confidenceCalculation         = 0.85
	confidenceFollowUp            = 0.70
	confidenceHowTo               = 0.80
	confidenceFrustration         = 0.85
	confidenceRepeatedFrustration = 0.95
	confidenceTroubleshooting     = 0.75
	confidenceRepeat              = 0.90
	confidenceUnknown             = 0.30
	confidenceInformation         = 0.75
	confidenceDefault             = 0.60
	confidenceContextualFollowUp  = 0.85
)

const (
	maxTopicWords   = 3
	pronounMaxWords = 6
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile("(?i)" + p)
	}
	return out
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

var (
	// the UI appends artwork metadata to messages; it must not sway classification
	artworkContext = regexp.MustCompile(`(?s)\[Artwork Context:.*?\]`)

	pixelDims   = regexp.MustCompile(`(?i)(\d+)\s*x\s*(\d+)\s*(pixels?|px)?`)
	pixelsGiven = regexp.MustCompile(`(?i)\d+\s*x\s*\d+\s*(pixels?|px)`)
	dpiGiven    = regexp.MustCompile(`(?i)(\d+)\s*dpi`)

	greetingPatterns = compileAll(
		`^(hi|hello|hey|howdy|greetings|good morning|good afternoon|good evening)\b`,
		`^(what's up|sup|yo)\b`,
	)
	farewellPatterns = compileAll(
		`^(bye|goodbye|see you|later|farewell|take care|chat soon|got to go|gotta go)\b`,
		`^(thanks|thank you|that's all|that is all|i'm done|im done)\b`,
		`\b(bye|goodbye|farewell)\b`,
	)
	generalDPIQuestion = regexp.MustCompile(`(?i)what dpi (is )?(recommended|should|best)`)
	measurements       = regexp.MustCompile(`(?i)\d+\s*(cm|inch|in|px|pixel|x\d+)\b`)
	calculationPatterns = compileAll(
		`calculate`,
		`what.*dpi.*\b(at|for|if|need|use|cm|inch|px)\b`,
		`what.*(size|dimension).*can.*print`,
		`(what about|can i print).*(pixels|x\d+)`,
		`dpi (at|for|if|do i need|should i use)`,
		`how (big|large|wide|tall).*can.*(i|we).*(print|make)`,
		`how many pixels.*need`,
		`max(imum)? size`,
		`print size`,
	)
	followUpPatterns = compileAll(
		`^(and|also|what about|how about)\b`,
		`^(ok|okay|alright),?\s+(and|but|so)\b`,
		`^(yes|yeah|yep|sure),?\s+(and|but)\b`,
		`^what (was|were) (that|it)\b`,
		`^(where|when|why) (was|did|were)\b`,
	)
	// pronoun references only make a follow-up in short messages
	pronounReference = regexp.MustCompile(`(?i)\b(that|this|it)\b`)
	howToPatterns    = compileAll(
		`^how (do|can|to)\b`,
		`how (do i|can i)\b`,
		`what('s| is) the (best )?way to`,
		`can you (show|tell|explain)`,
		`show me how`,
		`teach me`,
		`tutorial`,
		`steps to`,
		`guide (for|to)`,
	)
	troublePatterns = compileAll(
		`(problem|issue|error|wrong|not working|doesn't work|broken)`,
		`\b(fix|solve|resolve)`,
		`why (is|does|can't|won't)\b`,
	)
	repeatPatterns = compileAll(
		`^(what\?|huh\??|pardon\??|sorry\??|excuse me\??)$`,
		`^what did you (say|mean)`,
		`can you repeat`,
		`say that again`,
		`didn't (understand|get|catch)`,
		`^again\??$`,
		`^come again`,
	)
	informationPatterns = compileAll(
		`^what is `,
		`^what are `,
		`^what can `,
		`^what does `,
		`^what's `,
		`^does (it|my|the)\b`,
		`tell me about`,
		`explain`,
		`define`,
		`^who (is|are) `,
		`^where is `,
		`^when is `,
		`^why is `,
	)
	fileInformationPatterns = compileAll(
		`how (big|large).*file`,
		`file size`,
		`what.*file.*size`,
		`size.*file`,
	)

	keyboardRows = []string{"qwertyuiop", "asdfghjkl", "zxcvbnm"}
	alnumOnly    = regexp.MustCompile(`(?i)^[a-z0-9]{3,}$`)

	software = []struct {
		pattern *regexp.Regexp
		name    string
	}{
		{regexp.MustCompile(`(?i)photoshop`), "Photoshop"},
		{regexp.MustCompile(`(?i)illustrator`), "Illustrator"},
		{regexp.MustCompile(`(?i)canva`), "Canva"},
		{regexp.MustCompile(`(?i)gimp`), "GIMP"},
		{regexp.MustCompile(`(?i)inkscape`), "Inkscape"},
	}
	actions = []struct {
		pattern *regexp.Regexp
		name    string
	}{
		{regexp.MustCompile(`(?i)increase|raise|boost`), "increase"},
		{regexp.MustCompile(`(?i)decrease|reduce|lower`), "decrease"},
		{regexp.MustCompile(`(?i)fix|correct|repair`), "fix"},
		{regexp.MustCompile(`(?i)create|make|generate`), "create"},
	}

	topicPunct = regexp.MustCompile(`[^\w\s'-]`)
)

// frustrationPatterns are the keyword rules of the frustration score.
// Punctuation alone is emphasis, not frustration.
var frustrationPatterns = func() []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, r := range conversation.DefaultFrustrationRules {
		if r.Name == "punctuation" {
			continue
		}
		out = append(out, r.Pattern)
	}
	return out
}()

var topicStopWords = map[string]bool{
	"what": true, "whats": true, "what's": true, "how": true, "why": true, "when": true, "where": true,
	"who": true, "which": true, "is": true, "are": true, "was": true, "were": true, "do": true,
	"does": true, "did": true, "can": true, "could": true, "should": true, "would": true, "will": true,
	"i": true, "me": true, "my": true, "you": true, "your": true, "we": true, "it": true, "its": true,
	"the": true, "a": true, "an": true, "of": true, "to": true, "for": true, "in": true, "on": true,
	"at": true, "and": true, "or": true, "about": true, "with": true, "tell": true, "explain": true,
	"please": true, "there": true, "this": true, "that": true, "be": true, "need": true, "get": true,
}

// Detector is the default keyword intent detector.
type Detector struct {
	logger *zap.Logger
}

// NewDetector creates a detector.
func NewDetector(logger *zap.Logger) *Detector {
	return &Detector{logger: logger}
}

// Detect classifies message. state may be nil; when present it refines the
// result using the logged questions and replies.
func (d *Detector) Detect(ctx context.Context, message string, state *domain.ConversationState) (domain.Intent, error) {
	_, span := tracer.Start(ctx, "Detector.Detect")
	defer span.End()

	clean := strings.TrimSpace(artworkContext.ReplaceAllString(message, ""))
	lower := strings.ToLower(clean)

	var intent domain.Intent
	if pixelsGiven.MatchString(clean) && dpiGiven.MatchString(clean) {
		intent = domain.Intent{
			Type:                domain.IntentCalculation,
			Confidence:          confidenceExplicitCalculation,
			RequiresCalculation: true,
			Entities:            calculationEntities(clean),
		}
	} else {
		intent = classify(lower)
		if state != nil {
			intent = refine(intent, lower, state)
		}
	}

	if topic := ExtractTopic(clean); topic != "" && carriesTopic(intent.Type) {
		if intent.Entities == nil {
			intent.Entities = map[string]any{}
		}
		intent.Entities["topic"] = topic
	}

	span.SetAttributes(
		attribute.String("intent.type", string(intent.Type)),
		attribute.Float64("intent.confidence", intent.Confidence),
	)
	d.logger.Debug("intent: detected",
		zap.String("type", string(intent.Type)),
		zap.Float64("confidence", intent.Confidence),
	)
	return intent, nil
}

// classify runs the pattern cascade on a lowercased message.
func classify(message string) domain.Intent {
	switch {
	case matchAny(greetingPatterns, message):
		return domain.Intent{Type: domain.IntentGreeting, Confidence: confidenceGreeting}
	case matchAny(farewellPatterns, message):
		return domain.Intent{Type: domain.IntentFarewell, Confidence: confidenceGreeting}
	case isCalculation(message):
		return domain.Intent{
			Type:                domain.IntentCalculation,
			Confidence:          confidenceCalculation,
			RequiresCalculation: true,
			Entities:            calculationEntities(message),
		}
	case isFollowUp(message):
		return domain.Intent{Type: domain.IntentFollowUp, Confidence: confidenceFollowUp}
	case matchAny(howToPatterns, message):
		return domain.Intent{
			Type:        domain.IntentHowTo,
			Confidence:  confidenceHowTo,
			RequiresRAG: true,
			Entities:    howToEntities(message),
		}
	case IsFrustration(message):
		return domain.Intent{Type: domain.IntentFrustration, Confidence: confidenceFrustration}
	case matchAny(troublePatterns, message):
		return domain.Intent{Type: domain.IntentTroubleshooting, Confidence: confidenceTroubleshooting, RequiresRAG: true}
	case matchAny(repeatPatterns, message):
		return domain.Intent{Type: domain.IntentRepeat, Confidence: confidenceRepeat}
	case IsGibberish(message):
		return domain.Intent{Type: domain.IntentUnknown, Confidence: confidenceUnknown}
	case matchAny(fileInformationPatterns, message) || matchAny(informationPatterns, message):
		return domain.Intent{Type: domain.IntentInformation, Confidence: confidenceInformation, RequiresRAG: true}
	}
	return domain.Intent{Type: domain.IntentInformation, Confidence: confidenceDefault, RequiresRAG: true}
}

// refine adjusts a pattern classification with conversation context.
func refine(intent domain.Intent, message string, state *domain.ConversationState) domain.Intent {
	if len(state.QuestionsAsked) > 3 && IsFrustration(message) {
		recent := state.QuestionsAsked[len(state.QuestionsAsked)-3:]
		if topics := repeatedTopics(recent); len(topics) > 0 {
			return domain.Intent{
				Type:       domain.IntentFrustration,
				Confidence: confidenceRepeatedFrustration,
				Entities: map[string]any{
					"repeatedTopics":     topics,
					"conversationLength": state.MessageCount,
				},
			}
		}
	}

	if intent.Type == domain.IntentFollowUp && len(state.QuestionsAsked) > 0 {
		last := state.QuestionsAsked[len(state.QuestionsAsked)-1]
		return domain.Intent{
			Type:        domain.IntentInformation,
			Confidence:  confidenceContextualFollowUp,
			RequiresRAG: true,
			Entities: map[string]any{
				"followUpContext": true,
				"previousIntent":  string(last.Intent.Type),
			},
		}
	}
	return intent
}

// IsFrustration reports whether message contains an explicit frustration
// expression.
func IsFrustration(message string) bool {
	return matchAny(frustrationPatterns, message)
}

func isCalculation(message string) bool {
	if dpiGiven.MatchString(message) {
		return true
	}
	if generalDPIQuestion.MatchString(message) {
		return false
	}
	return measurements.MatchString(message) || matchAny(calculationPatterns, message)
}

func isFollowUp(message string) bool {
	if matchAny(followUpPatterns, message) {
		return true
	}
	return len(strings.Fields(message)) <= pronounMaxWords &&
		pronounReference.MatchString(message) &&
		!IsFrustration(message)
}

// IsGibberish reports keyboard mashing and random character strings in
// short messages.
func IsGibberish(message string) bool {
	words := strings.Fields(message)
	compact := strings.ToLower(strings.Join(words, ""))
	if len(words) > 3 || len(compact) < 5 {
		return false
	}

	var vowels, consonants, digits int
	for _, r := range compact {
		switch {
		case strings.ContainsRune("aeiou", r):
			vowels++
		case r >= 'a' && r <= 'z':
			consonants++
		case r >= '0' && r <= '9':
			digits++
		}
	}
	if total := vowels + consonants; total > 0 {
		ratio := float64(vowels) / float64(total)
		if ratio < 0.15 || ratio > 0.85 {
			return true
		}
	}
	for _, row := range keyboardRows {
		if strings.Contains(row, compact) {
			return true
		}
	}
	if alnumOnly.MatchString(compact) && digits > 0 && consonants+vowels > 0 {
		if float64(digits)/float64(len(compact)) > 0.3 {
			return true
		}
	}
	return false
}

func calculationEntities(message string) map[string]any {
	entities := map[string]any{}
	if m := pixelDims.FindStringSubmatch(message); m != nil {
		w, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		entities["widthPixels"] = w
		entities["heightPixels"] = h
	}
	if m := dpiGiven.FindStringSubmatch(message); m != nil {
		dpi, _ := strconv.Atoi(m[1])
		entities["dpi"] = dpi
	}
	return entities
}

func howToEntities(message string) map[string]any {
	entities := map[string]any{}
	for _, s := range software {
		if s.pattern.MatchString(message) {
			entities["software"] = s.name
			break
		}
	}
	for _, a := range actions {
		if a.pattern.MatchString(message) {
			entities["action"] = a.name
			break
		}
	}
	return entities
}

// repeatedTopics returns the words longer than four characters that appear
// at least twice across questions.
func repeatedTopics(questions []domain.QuestionLog) []string {
	counts := map[string]int{}
	var order []string
	for _, q := range questions {
		for _, w := range strings.Fields(strings.ToLower(q.Question)) {
			if len(w) <= 4 {
				continue
			}
			if counts[w] == 0 {
				order = append(order, w)
			}
			counts[w]++
		}
	}
	var out []string
	for _, w := range order {
		if counts[w] >= 2 {
			out = append(out, w)
		}
	}
	return out
}

func carriesTopic(t domain.IntentType) bool {
	switch t {
	case domain.IntentInformation, domain.IntentHowTo, domain.IntentTroubleshooting, domain.IntentCalculation:
		return true
	}
	return false
}

// ExtractTopic returns up to three content words of message, skipping
// question words and fillers.
func ExtractTopic(message string) string {
	var words []string
	for _, w := range strings.Fields(strings.ToLower(topicPunct.ReplaceAllString(message, " "))) {
		w = strings.Trim(w, "'-")
		if w == "" || topicStopWords[w] {
			continue
		}
		words = append(words, w)
		if len(words) == maxTopicWords {
			break
		}
	}
	return strings.Join(words, " ")
}
