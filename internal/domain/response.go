package domain

// Response is what a handler produces and what the pipeline returns.
// Pipeline stages may rewrite Content but only extend Metadata; the handler
// attribution fields are never overwritten.
type Response struct {
	Content     string           `json:"content"`
	Metadata    ResponseMetadata `json:"metadata"`
	Suggestions []Suggestion     `json:"suggestions,omitempty"`
}

// ResponseMetadata has required base fields written by handlers, turn fields
// written by the orchestrator, and an open Extra map for handler-specific data.
// Extra doubles as the providedData consulted by the hallucination check.
type ResponseMetadata struct {
	HandlerName      string   `json:"handlerName"`
	HandlerVersion   string   `json:"handlerVersion"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
	Confidence       float64  `json:"confidence"`
	Cached           bool     `json:"cached"`
	Sources          []Source `json:"sources,omitempty"`

	SessionID          string                `json:"sessionId,omitempty"`
	MessageID          string                `json:"messageId,omitempty"`
	OriginalIntent     IntentType            `json:"originalIntent,omitempty"`
	EffectiveIntent    IntentType            `json:"effectiveIntent,omitempty"`
	RepetitionDetected bool                  `json:"repetitionDetected"`
	RepetitionCount    int                   `json:"repetitionCount,omitempty"`
	FrustrationLevel   FrustrationLevel      `json:"frustrationLevel,omitempty"`
	NeedsEscalation    bool                  `json:"needsEscalation,omitempty"`
	UserSentiment      Sentiment             `json:"userSentiment,omitempty"`
	QualityScore       int                   `json:"conversationQualityScore"`
	QualityPassed      bool                  `json:"conversationQualityPassed"`
	QualityIssues      []QualityIssue        `json:"qualityIssues,omitempty"`
	ValidationPassed   bool                  `json:"validationPassed"`
	ValidationScore    float64               `json:"validationScore"`
	PolicyViolations   []ConstraintViolation `json:"policyViolations,omitempty"`
	Error              string                `json:"error,omitempty"`

	Extra map[string]any `json:"extra,omitempty"`
}

// Suggestion is a follow-up action offered to the user.
type Suggestion struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Action   string `json:"action"`
	Priority string `json:"priority"`
}

// Source is a knowledge-base document cited by a response.
type Source struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

// Clone returns a deep-enough copy for caching: slices and Extra are not shared.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	if r.Suggestions != nil {
		out.Suggestions = append([]Suggestion(nil), r.Suggestions...)
	}
	if r.Metadata.Sources != nil {
		out.Metadata.Sources = append([]Source(nil), r.Metadata.Sources...)
	}
	if r.Metadata.QualityIssues != nil {
		out.Metadata.QualityIssues = append([]QualityIssue(nil), r.Metadata.QualityIssues...)
	}
	if r.Metadata.PolicyViolations != nil {
		out.Metadata.PolicyViolations = append([]ConstraintViolation(nil), r.Metadata.PolicyViolations...)
	}
	if r.Metadata.Extra != nil {
		out.Metadata.Extra = make(map[string]any, len(r.Metadata.Extra))
		for k, v := range r.Metadata.Extra {
			out.Metadata.Extra[k] = v
		}
	}
	return &out
}
