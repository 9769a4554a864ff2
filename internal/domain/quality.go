package domain

// IssueType categorizes a conversation quality issue.
type IssueType string

const (
	IssueVerbosity     IssueType = "verbosity"
	IssueJargon        IssueType = "jargon"
	IssueHallucination IssueType = "hallucination"
	IssueRepetition    IssueType = "repetition"
	IssuePromise       IssueType = "promise"
	IssueTone          IssueType = "tone"
	IssueEmpathy       IssueType = "empathy"
)

// Severity of a quality issue. Critical issues force a safe fallback.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// QualityIssue is one finding of the conversation quality validator.
type QualityIssue struct {
	Type       IssueType `json:"type"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion"`
}

// QualityResult is the outcome of the conversation quality gate.
type QualityResult struct {
	Passed      bool           `json:"passed"`
	Score       int            `json:"score"`
	Issues      []QualityIssue `json:"issues"`
	Suggestions []string       `json:"suggestions"`
}

// HasCritical reports whether any issue is critical.
func (r QualityResult) HasCritical() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ValidationResult is the outcome of the technical response validator.
type ValidationResult struct {
	IsValid      bool     `json:"isValid"`
	Score        float64  `json:"score"`
	Verified     []string `json:"verifiedFacts"`
	Unverified   []string `json:"unverifiedFacts"`
	SuggestedFix string   `json:"suggestedFix,omitempty"`
}

// ConstraintType classifies a business rule.
type ConstraintType string

const (
	ConstraintForbiddenPhrase     ConstraintType = "forbidden-phrase"
	ConstraintForbiddenAction     ConstraintType = "forbidden-action"
	ConstraintForbiddenCommitment ConstraintType = "forbidden-commitment"
	ConstraintRequiredResponse    ConstraintType = "required-response"
	ConstraintEscalationRequired  ConstraintType = "escalation-required"
)

// ConstraintRule is one business rule. Pattern is a case-insensitive
// regular expression matched against the reply, and also against the user
// message when MatchRequest is set.
type ConstraintRule struct {
	ID                string         `yaml:"id" json:"id"`
	Type              ConstraintType `yaml:"type" json:"type"`
	Severity          Severity       `yaml:"severity" json:"severity"`
	Pattern           string         `yaml:"pattern" json:"pattern"`
	Message           string         `yaml:"message" json:"message,omitempty"`
	SuggestedResponse string         `yaml:"suggested_response" json:"suggestedResponse,omitempty"`
	Replacement       string         `yaml:"replacement" json:"replacement,omitempty"`
	EscalateTo        string         `yaml:"escalate_to" json:"escalateTo,omitempty"`
	MatchRequest      bool           `yaml:"match_request" json:"matchRequest,omitempty"`
}

// ConstraintViolation is a rule that matched.
type ConstraintViolation struct {
	RuleID     string         `json:"ruleId"`
	Type       ConstraintType `json:"type"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message,omitempty"`
	Matched    string         `json:"matchedText"`
	InRequest  bool           `json:"inRequest,omitempty"`
	EscalateTo string         `json:"escalateTo,omitempty"`
}

// ConstraintResult is the outcome of the business rule check.
// SuggestedResponse, when set, replaces the reply.
type ConstraintResult struct {
	Passed             bool                  `json:"passed"`
	Violations         []ConstraintViolation `json:"violations,omitempty"`
	RequiresEscalation bool                  `json:"requiresEscalation"`
	EscalateTo         string                `json:"escalateTo,omitempty"`
	SuggestedResponse  string                `json:"suggestedResponse,omitempty"`
}
