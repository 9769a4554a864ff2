package quality

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/rag"
)

// ValidScore is the minimum technical score for a reply to be valid.
const ValidScore = 0.7

// SuggestedFix replaces replies that fail technical validation.
const SuggestedFix = "Please provide more specific information or rephrase your question."

// Technical penalties.
const (
	citationPenalty      = 0.2
	calculationPenalty   = 0.3
	hallucinationPenalty = 0.4
	relevancePenalty     = 0.2
	contradictionPenalty = 0.3

	relevanceFloor  = 0.5
	numberTolerance = 0.1
)

// Calculation lists the numbers a reply is expected to contain. Zero fields
// are not checked.
type Calculation struct {
	DPI    float64 `json:"dpi"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

var (
	datedClaim   = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},?\s+\d{4}\b`)
	percentage   = regexp.MustCompile(`\b\d+(\.\d+)?%`)
	bareURL      = regexp.MustCompile(`https?://\S+`)
	numberRe     = regexp.MustCompile(`\d+(\.\d+)?`)
	dpiValue     = regexp.MustCompile(`(?i)(\d+)\s*dpi`)
	yesButNo     = regexp.MustCompile(`(?i)\byes\b.*\bbut\b.*\bno\b`)
	noButYes     = regexp.MustCompile(`(?i)\bno\b.*\bbut\b.*\byes\b`)
	alternatives = regexp.MustCompile(`(?i)\b(or|range)\b`)
	wordPunct    = regexp.MustCompile(`[^\w\s]`)

	absolutes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\balways\b`),
		regexp.MustCompile(`(?i)\bnever\b`),
		regexp.MustCompile(`(?i)\beveryone\b`),
		regexp.MustCompile(`(?i)\bno one\b`),
		regexp.MustCompile(`\b100%`),
	}
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "being": true, "have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "should": true, "can": true, "could": true, "may": true,
	"might": true, "must": true, "shall": true, "of": true, "at": true, "by": true, "for": true,
	"with": true, "about": true, "against": true, "between": true, "into": true, "through": true,
	"during": true, "before": true, "after": true, "above": true, "below": true, "to": true,
	"from": true, "up": true, "down": true, "in": true, "out": true, "on": true, "off": true,
	"over": true, "under": true, "again": true, "further": true, "then": true, "once": true,
}

// ResponseValidator checks replies for technical accuracy.
type ResponseValidator struct{}

// NewResponseValidator creates a validator.
func NewResponseValidator() *ResponseValidator { return &ResponseValidator{} }

// Validate scores answer from 1.0 down. retrieval and calc are optional.
func (v *ResponseValidator) Validate(answer, question string, retrieval *domain.RAGResult, calc *Calculation) domain.ValidationResult {
	score := 1.0
	verified := []string{}
	unverified := []string{}

	if retrieval != nil && len(retrieval.Chunks) > 0 {
		if rag.ValidateCitations(answer, retrieval).Valid {
			verified = append(verified, "Citations match knowledge base")
		} else {
			score -= citationPenalty
			unverified = append(unverified, "Response lacks proper citations from knowledge base")
		}
	}

	if calc != nil {
		if checkCalculation(answer, *calc) {
			verified = append(verified, "Calculations are accurate")
		} else {
			score -= calculationPenalty
			unverified = append(unverified, "Calculations do not match provided data")
		}
	}

	if found := HallucinationSignals(answer); len(found) > 0 {
		score -= hallucinationPenalty
		unverified = append(unverified, found...)
	} else {
		verified = append(verified, "No hallucination patterns detected")
	}

	if Relevance(question, answer) < relevanceFloor {
		score -= relevancePenalty
		unverified = append(unverified, "Response may not be relevant to question")
	} else {
		verified = append(verified, "Response is relevant to question")
	}

	if Contradictory(answer) {
		score -= contradictionPenalty
		unverified = append(unverified, "Response contains contradictions")
	} else {
		verified = append(verified, "No contradictions detected")
	}

	score = math.Max(0, math.Min(1, score))
	// two decimals keep subtraction noise out of the threshold check
	score = math.Round(score*100) / 100
	out := domain.ValidationResult{
		IsValid:    score >= ValidScore,
		Score:      score,
		Verified:   verified,
		Unverified: unverified,
	}
	if !out.IsValid {
		out.SuggestedFix = SuggestedFix
	}
	return out
}

// HallucinationSignals lists the unsupported-claim patterns found in answer.
func HallucinationSignals(answer string) []string {
	var out []string
	lower := strings.ToLower(answer)
	if datedClaim.MatchString(answer) {
		out = append(out, "Contains specific dates without citation")
	}
	if percentage.MatchString(answer) && !strings.Contains(lower, "approximately") && !strings.Contains(lower, "about") {
		out = append(out, "Contains precise statistics without qualification")
	}
	for _, p := range absolutes {
		if p.MatchString(answer) {
			out = append(out, "Contains absolute statements that may be inaccurate")
			break
		}
	}
	if bareURL.MatchString(answer) && !strings.Contains(lower, "tutorial") && !strings.Contains(lower, "guide") {
		out = append(out, "Contains URLs without proper context")
	}
	return out
}

// Relevance is the share of the question's significant words found in the
// answer. A question without significant words is fully relevant.
func Relevance(question, answer string) float64 {
	q := significantWords(question)
	if len(q) == 0 {
		return 1
	}
	a := map[string]bool{}
	for _, w := range significantWords(answer) {
		a[w] = true
	}
	hits := 0
	for _, w := range q {
		if a[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(q))
}

// Contradictory reports yes-but-no phrasing or conflicting DPI values.
func Contradictory(answer string) bool {
	if yesButNo.MatchString(answer) || noButYes.MatchString(answer) {
		return true
	}
	matches := dpiValue.FindAllStringSubmatch(answer, -1)
	if len(matches) < 2 || alternatives.MatchString(answer) {
		return false
	}
	first := matches[0][1]
	for _, m := range matches[1:] {
		if m[1] != first {
			return true
		}
	}
	return false
}

func checkCalculation(answer string, calc Calculation) bool {
	var numbers []float64
	for _, m := range numberRe.FindAllString(answer, -1) {
		if n, err := strconv.ParseFloat(m, 64); err == nil {
			numbers = append(numbers, n)
		}
	}
	near := func(target, tolerance float64) bool {
		for _, n := range numbers {
			if math.Abs(n-target) <= tolerance {
				return true
			}
		}
		return false
	}
	if calc.DPI != 0 && !near(calc.DPI, 0) {
		return false
	}
	if calc.Width != 0 && !near(calc.Width, numberTolerance) {
		return false
	}
	if calc.Height != 0 && !near(calc.Height, numberTolerance) {
		return false
	}
	return true
}

func significantWords(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(wordPunct.ReplaceAllString(text, " "))) {
		if len(w) > 3 && !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}
