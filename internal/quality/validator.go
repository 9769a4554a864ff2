// Package quality scores replies before they reach the user: a
// conversation-quality validator for tone and accuracy, and a technical
// validator for citations, numbers and contradictions.
package quality

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/similarity"
)

// PassScore is the minimum score for a reply to pass.
const PassScore = 70

// Penalties per issue type.
var penalties = map[domain.IssueType]int{
	domain.IssueVerbosity:     20,
	domain.IssueJargon:        15,
	domain.IssueHallucination: 40,
	domain.IssueRepetition:    30,
	domain.IssuePromise:       25,
	domain.IssueTone:          10,
	domain.IssueEmpathy:       15,
}

// Input is what a reply is judged against.
type Input struct {
	UserMessage string
	// AgentHistory holds earlier assistant replies, oldest first.
	AgentHistory []string
	// ProvidedData backs factual claims. Usually the reply's Extra metadata.
	ProvidedData map[string]any
	Sentiment    domain.Sentiment
	IntentType   domain.IntentType
}

// Check inspects content and reports at most one issue.
type Check func(content string, in Input) *domain.QualityIssue

// Validator runs every check and aggregates the score.
type Validator struct {
	checks []Check
}

// NewValidator creates a validator with the standard checks.
func NewValidator() *Validator {
	return &Validator{checks: []Check{
		CheckVerbosity,
		CheckJargon,
		CheckHallucination,
		CheckRepetition,
		CheckBrokenPromises,
		CheckTone,
		CheckEmpathy,
	}}
}

// Validate scores content. Every check runs; penalties add up and the score
// is clamped to [0, 100].
func (v *Validator) Validate(content string, in Input) domain.QualityResult {
	score := 100
	issues := []domain.QualityIssue{}
	for _, check := range v.checks {
		if issue := check(content, in); issue != nil {
			issues = append(issues, *issue)
			score -= penalties[issue.Type]
		}
	}
	score = max(0, min(100, score))
	return domain.QualityResult{
		Passed:      score >= PassScore,
		Score:       score,
		Issues:      issues,
		Suggestions: suggestions(issues),
	}
}

func suggestions(issues []domain.QualityIssue) []string {
	out := []string{}
	for _, i := range issues {
		if i.Severity == domain.SeverityCritical {
			out = append(out, "🚨 CRITICAL: "+i.Suggestion)
			break
		}
	}
	for _, i := range issues {
		if i.Severity == domain.SeverityHigh {
			out = append(out, "⚠️ HIGH: "+i.Suggestion)
			break
		}
	}
	if len(issues) > 3 {
		out = append(out, "💡 TIP: Focus on being concise, friendly, and accurate. Quality over quantity!")
	}
	return out
}

// ============================================================================
// Verbosity
// ============================================================================

var sentenceSplit = regexp.MustCompile(`[.!?]+`)

// CheckVerbosity caps word and sentence counts. How-to replies get a larger
// budget and no sentence limit.
func CheckVerbosity(content string, in Input) *domain.QualityIssue {
	words := len(strings.Fields(content))
	sentences := 0
	for _, s := range sentenceSplit.Split(content, -1) {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}

	howto := in.IntentType == domain.IntentHowTo
	maxWords, recommended := 300, 200
	if howto {
		maxWords, recommended = 1000, 500
	}

	switch {
	case words > maxWords:
		return &domain.QualityIssue{
			Type:       domain.IssueVerbosity,
			Severity:   domain.SeverityCritical,
			Message:    fmt.Sprintf("Response is %d words (should be under %d)", words, recommended),
			Suggestion: "Cut response by 50%. Lead with the most important information. Remove fluff.",
		}
	case words > recommended && !howto:
		return &domain.QualityIssue{
			Type:       domain.IssueVerbosity,
			Severity:   domain.SeverityHigh,
			Message:    fmt.Sprintf("Response is %d words (should be under %d)", words, recommended),
			Suggestion: "Be more concise. Get to the point faster. Remove unnecessary details.",
		}
	case sentences > 10 && !howto:
		return &domain.QualityIssue{
			Type:       domain.IssueVerbosity,
			Severity:   domain.SeverityMedium,
			Message:    fmt.Sprintf("Response has %d sentences (should be 2-6)", sentences),
			Suggestion: "Break into shorter responses or use bullet points.",
		}
	}
	return nil
}

// ============================================================================
// Jargon
// ============================================================================

// JargonTerm is a technical term and the plain-language phrases that count
// as explaining it.
type JargonTerm struct {
	Term         string
	Pattern      *regexp.Regexp
	Explanations []string
}

func term(t string, explanations ...string) JargonTerm {
	return JargonTerm{
		Term:         t,
		Pattern:      regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`),
		Explanations: explanations,
	}
}

// JargonTerms is the term table used by CheckJargon.
var JargonTerms = []JargonTerm{
	term("DPI", "dots per inch", "resolution", "quality"),
	term("ICC", "color profile", "color space"),
	term("CMYK", "color mode", "printing colors"),
	term("RGB", "screen colors", "red green blue"),
	term("alpha channel", "transparency"),
	term("halftone", "dot pattern", "dots"),
	term("vector", "scalable", "resolution independent"),
	term("raster", "pixel-based", "bitmap"),
	term("aspect ratio", "width to height", "proportions"),
}

// CheckJargon flags terms used without any of their explanations.
func CheckJargon(content string, _ Input) *domain.QualityIssue {
	lower := strings.ToLower(content)
	var unexplained []string
	for _, t := range JargonTerms {
		if !t.Pattern.MatchString(content) {
			continue
		}
		explained := false
		for _, e := range t.Explanations {
			if strings.Contains(lower, e) {
				explained = true
				break
			}
		}
		if !explained {
			unexplained = append(unexplained, t.Term)
		}
	}
	if len(unexplained) == 0 {
		return nil
	}
	return &domain.QualityIssue{
		Type:       domain.IssueJargon,
		Severity:   domain.SeverityMedium,
		Message:    "Technical terms used without explanation: " + strings.Join(unexplained, ", "),
		Suggestion: `Explain technical terms in plain language. Example: "DPI (dots per inch) measures quality"`,
	}
}

// ============================================================================
// Hallucination
// ============================================================================

// Claim is a statement that must be backed by ProvidedData[DataKey]. An
// empty DataKey means the claim is never acceptable.
type Claim struct {
	Pattern *regexp.Regexp
	DataKey string
}

// ProvenanceClaims cover fabricated file and image provenance.
var ProvenanceClaims = []Claim{
	{regexp.MustCompile(`(?i)created in (photoshop|illustrator|indesign|gimp)`), "software"},
	{regexp.MustCompile(`(?i)last modified on \d{1,2}/\d{1,2}/\d{2,4}`), ""},
	{regexp.MustCompile(`(?i)file was created by`), ""},
	{regexp.MustCompile(`(?i)photographer.*is`), ""},
	{regexp.MustCompile(`(?i)camera.*used`), ""},
	{regexp.MustCompile(`(?i)this image was taken`), ""},
	{regexp.MustCompile(`(?i)original source`), ""},
	{regexp.MustCompile(`(?i)copyright.*belongs to`), ""},
}

// SpecificClaims cover file properties that need supporting data.
var SpecificClaims = []Claim{
	{regexp.MustCompile(`(?i)embedded.*profile.*is.*adobe rgb`), "iccProfile"},
	{regexp.MustCompile(`(?i)color space.*is.*cmyk`), "colorSpace"},
	{regexp.MustCompile(`(?i)bit depth.*is.*16`), "bitDepth"},
	{regexp.MustCompile(`(?i)file size.*is.*\d+\s*mb`), "fileSize"},
}

// CheckHallucination flags provenance and property claims the provided
// data does not back.
func CheckHallucination(content string, in Input) *domain.QualityIssue {
	for _, c := range ProvenanceClaims {
		if c.Pattern.MatchString(content) && !backed(in.ProvidedData, c.DataKey) {
			return &domain.QualityIssue{
				Type:       domain.IssueHallucination,
				Severity:   domain.SeverityCritical,
				Message:    "Response contains unverified information (hallucination)",
				Suggestion: `Only state facts from provided data. Say "I don't have that information" if data is missing.`,
			}
		}
	}
	for _, c := range SpecificClaims {
		if c.Pattern.MatchString(content) && !backed(in.ProvidedData, c.DataKey) {
			return &domain.QualityIssue{
				Type:       domain.IssueHallucination,
				Severity:   domain.SeverityCritical,
				Message:    fmt.Sprintf("Response claims %s information not in provided data", c.DataKey),
				Suggestion: fmt.Sprintf(`Don't claim %s unless it's in the provided data. Say "I don't see %s information" instead.`, c.DataKey, c.DataKey),
			}
		}
	}
	return nil
}

func backed(data map[string]any, key string) bool {
	if key == "" || data == nil {
		return false
	}
	v, ok := data[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case bool:
		return t
	}
	return true
}

// ============================================================================
// Repetition
// ============================================================================

const (
	repetitionWindow    = 3
	repetitionThreshold = 0.8
)

// CheckRepetition compares content with the last three agent replies.
func CheckRepetition(content string, in Input) *domain.QualityIssue {
	start := max(0, len(in.AgentHistory)-repetitionWindow)
	for _, past := range in.AgentHistory[start:] {
		if similarity.WordOverlap(content, past) > repetitionThreshold {
			return &domain.QualityIssue{
				Type:       domain.IssueRepetition,
				Severity:   domain.SeverityHigh,
				Message:    "Response is very similar to a previous response",
				Suggestion: "Try a different approach. If you can't help, escalate to another agent or human.",
			}
		}
	}
	return nil
}

// ============================================================================
// Promises, tone, empathy
// ============================================================================

var promisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i'll get back to you`),
	regexp.MustCompile(`(?i)i'll check on that`),
	regexp.MustCompile(`(?i)i'll look into`),
	regexp.MustCompile(`(?i)i'll find out`),
	regexp.MustCompile(`(?i)i'll contact`),
	regexp.MustCompile(`(?i)someone will (email|call|message) you`),
	regexp.MustCompile(`(?i)we'll (reach out|follow up)`),
}

// CheckBrokenPromises flags deferrals nobody will follow up on.
func CheckBrokenPromises(content string, _ Input) *domain.QualityIssue {
	for _, p := range promisePatterns {
		if p.MatchString(content) {
			return &domain.QualityIssue{
				Type:       domain.IssuePromise,
				Severity:   domain.SeverityHigh,
				Message:    "Response promises future action without follow-through mechanism",
				Suggestion: `Either help NOW or escalate to someone who can. Don't promise "I'll get back to you".`,
			}
		}
	}
	return nil
}

var roboticPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(greetings|salutations)`),
	regexp.MustCompile(`(?i)as an ai (assistant|agent)`),
	regexp.MustCompile(`(?i)i am (programmed|designed|configured) to`),
	regexp.MustCompile(`(?i)my (programming|algorithms|systems)`),
	regexp.MustCompile(`(?i)i apologize.*i apologize`),
	regexp.MustCompile(`(?i)^(hello|hi)\.?\s+(i am|i'm) (an ai|your|a)`),
}

// CheckTone flags robotic or overly formal phrasing.
func CheckTone(content string, _ Input) *domain.QualityIssue {
	for _, p := range roboticPatterns {
		if p.MatchString(content) {
			return &domain.QualityIssue{
				Type:       domain.IssueTone,
				Severity:   domain.SeverityMedium,
				Message:    "Response sounds robotic or overly formal",
				Suggestion: "Be more conversational. Talk like a helpful friend, not a robot.",
			}
		}
	}
	return nil
}

// EmpathyPhrases count as acknowledging the user's state.
var EmpathyPhrases = []string{
	"i understand", "i can see", "that makes sense", "i hear you", "no worries", "don't worry",
	"that's frustrating", "that's confusing", "let me help", "i'm here to help",
	"that's awesome", "that's great", "exciting",
	"sorry", "happy to clarify", "let me explain", "let me break", "good question",
}

// CheckEmpathy requires an empathy phrase when the user is frustrated or confused.
func CheckEmpathy(content string, in Input) *domain.QualityIssue {
	if in.Sentiment != domain.SentimentFrustrated && in.Sentiment != domain.SentimentConfused {
		return nil
	}
	lower := strings.ToLower(content)
	for _, p := range EmpathyPhrases {
		if strings.Contains(lower, p) {
			return nil
		}
	}
	return &domain.QualityIssue{
		Type:       domain.IssueEmpathy,
		Severity:   domain.SeverityMedium,
		Message:    fmt.Sprintf("User is %s but response lacks empathy", in.Sentiment),
		Suggestion: fmt.Sprintf(`Add empathy: "I understand this can be %s!" or "No worries, let me help!"`, in.Sentiment),
	}
}
