// Package empathy classifies user sentiment and prepends a tone-appropriate
// phrase to replies.
package empathy

import (
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"

	"github.com/boddenberg/support-agent-go/internal/domain"
)

// Context describes the turn the reply belongs to.
type Context struct {
	Sentiment          domain.Sentiment
	IsFirstMessage     bool
	HasIssue           bool
	IsUrgent           bool
	ConversationLength int
}

// Phrase tables. Each prefix ends with a space so it can be prepended as is.
var (
	welcomePhrases    = []string{"Hey there! 👋 ", "Hi! ", "Hello! ", "Hey! "}
	frustratedPhrases = []string{
		"I understand this can be frustrating! ",
		"I hear you - that's frustrating! ",
		"I can see why that's frustrating! ",
		"I'm really sorry about that! ",
	}
	confusedPhrases = []string{"No worries, let me explain! ", "Happy to clarify! ", "Let me break this down! ", "Good question! "}
	excitedPhrases  = []string{"That's awesome! ", "Love it! ", "Exciting! ", "Great! "}
	worriedPhrases  = []string{"Don't worry! ", "No need to worry! ", "It's going to be fine! ", "Let me help you with that! "}
	gratefulPhrases = []string{"You're very welcome! ", "Happy to help! ", "My pleasure! ", "Anytime! "}
)

const urgentPrefix = "I'm on it! "

// Marker lists that suppress a prefix when the reply already carries that tone.
var (
	greetingWords     = []string{"hey", "hi", "hello", "welcome"}
	empathyMarkers    = []string{"i understand", "i hear you", "i can see", "no worries", "don't worry", "frustrating", "sorry"}
	excitementMarkers = []string{"awesome", "great", "amazing", "love it", "exciting", "!"}
	reassuranceMarker = []string{"don't worry", "no need to worry", "it's fine", "it's going to be", "no problem"}
	gratitudeMarkers  = []string{"welcome", "happy to help", "pleasure", "anytime", "glad"}
)

type sentimentRule struct {
	sentiment domain.Sentiment
	patterns  []*regexp.Regexp
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// sentimentRules are checked in order; the first matching group wins.
var sentimentRules = []sentimentRule{
	{domain.SentimentFrustrated, compile(
		`(?i)not work`, `(?i)doesn't work`, `(?i)won't work`, `(?i)broken`, `(?i)terrible`, `(?i)awful`,
		`(?i)frustrated`, `(?i)annoyed`, `(?i)angry`, `(?i)wtf`, `(?i)what the`, `(?i)seriously`, `(?i)ridiculous`,
	)},
	{domain.SentimentConfused, compile(
		`(?i)don't understand`, `(?i)confused`, `(?i)what do you mean`, `(?i)explain`, `(?i)clarify`,
		`(?i)huh`, `(?i)what\?$`, `(?i)how do i`, `(?i)i don't get`,
	)},
	{domain.SentimentExcited, compile(
		`(?i)awesome`, `(?i)amazing`, `(?i)great`, `(?i)perfect`, `(?i)love`, `(?i)excited`, `(?i)can't wait`,
		`!`, `😊|😄|🎉|❤️`,
	)},
	{domain.SentimentWorried, compile(
		`(?i)worried`, `(?i)concerned`, `(?i)afraid`, `(?i)nervous`, `(?i)will it`, `(?i)what if`, `(?i)hope`,
	)},
	{domain.SentimentGrateful, compile(
		`(?i)thank`, `(?i)appreciate`, `(?i)grateful`, `(?i)helpful`,
	)},
}

// Chooser picks an index in [0, n).
type Chooser interface {
	IntN(n int) int
}

// lockedRand makes a *rand.Rand safe for concurrent turns.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// Injector adds empathy phrases to replies.
type Injector struct {
	choose Chooser
}

// Option customizes an Injector.
type Option func(*Injector)

// SeededChooser returns a deterministic Chooser that is safe for
// concurrent use.
func SeededChooser(seed uint64) Chooser {
	return &lockedRand{r: rand.New(rand.NewPCG(seed, seed))}
}

// DefaultChooser returns the Chooser backed by the global random source.
func DefaultChooser() Chooser { return globalRand{} }

// WithSeed makes phrase selection deterministic.
func WithSeed(seed uint64) Option {
	return func(i *Injector) { i.choose = SeededChooser(seed) }
}

// WithChooser replaces the random source.
func WithChooser(c Chooser) Option {
	return func(i *Injector) { i.choose = c }
}

// NewInjector creates an injector backed by the global random source unless
// an option says otherwise.
func NewInjector(opts ...Option) *Injector {
	i := &Injector{choose: globalRand{}}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// DetectSentiment classifies message. history is accepted for callers that
// have it and is not consulted by the keyword rules.
func (i *Injector) DetectSentiment(message string, history []string) domain.Sentiment {
	for _, rule := range sentimentRules {
		for _, p := range rule.patterns {
			if p.MatchString(message) {
				return rule.sentiment
			}
		}
	}
	return domain.SentimentNeutral
}

// AddEmpathy prepends a phrase matching ctx to response. Replies that
// already carry the tone are returned unchanged.
func (i *Injector) AddEmpathy(response string, ctx Context) string {
	if ctx.IsFirstMessage {
		if startsWithGreeting(response) {
			return response
		}
		return i.pick(welcomePhrases) + response
	}

	switch ctx.Sentiment {
	case domain.SentimentFrustrated:
		if ctx.IsUrgent {
			return urgentPrefix + response
		}
		return i.prefixUnless(response, frustratedPhrases, empathyMarkers)
	case domain.SentimentConfused:
		return i.prefixUnless(response, confusedPhrases, empathyMarkers)
	case domain.SentimentExcited:
		return i.prefixUnless(response, excitedPhrases, excitementMarkers)
	case domain.SentimentWorried:
		return i.prefixUnless(response, worriedPhrases, reassuranceMarker)
	case domain.SentimentGrateful:
		return i.prefixUnless(response, gratefulPhrases, gratitudeMarkers)
	default:
		return response
	}
}

func (i *Injector) prefixUnless(response string, phrases, markers []string) string {
	if containsAny(response, markers) {
		return response
	}
	return i.pick(phrases) + response
}

func (i *Injector) pick(phrases []string) string {
	return phrases[i.choose.IntN(len(phrases))]
}

// HasEmpathy reports whether text already contains an empathy marker.
func HasEmpathy(text string) bool { return containsAny(text, empathyMarkers) }

func containsAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func startsWithGreeting(text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) == 0 {
		return false
	}
	for _, g := range greetingWords {
		if strings.HasPrefix(fields[0], g) {
			return true
		}
	}
	return false
}
