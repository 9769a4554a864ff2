package domain

// IntentType is the classified purpose of a user message.
type IntentType string

const (
	IntentGreeting        IntentType = "greeting"
	IntentFarewell        IntentType = "farewell"
	IntentInformation     IntentType = "information"
	IntentCalculation     IntentType = "calculation"
	IntentHowTo           IntentType = "howto"
	IntentTroubleshooting IntentType = "troubleshooting"
	IntentRepeat          IntentType = "repeat"
	IntentFollowUp        IntentType = "followup"
	IntentFrustration     IntentType = "frustration"
	IntentUnknown         IntentType = "unknown"
)

// Intent is produced once per turn by intent detection. The pipeline may
// override Type (repeat, frustration); the original classification is kept
// separately in the response metadata.
type Intent struct {
	Type                IntentType     `json:"type"`
	Confidence          float64        `json:"confidence"`
	Entities            map[string]any `json:"entities,omitempty"`
	RequiresRAG         bool           `json:"requiresRag,omitempty"`
	RequiresCalculation bool           `json:"requiresCalculation,omitempty"`
}

// Clone returns a copy that does not share the entities map.
func (i Intent) Clone() Intent {
	out := i
	if i.Entities != nil {
		out.Entities = make(map[string]any, len(i.Entities))
		for k, v := range i.Entities {
			out.Entities[k] = v
		}
	}
	return out
}

// Topic returns the "topic" entity extracted by intent detection, if any.
func (i Intent) Topic() string {
	if i.Entities == nil {
		return ""
	}
	t, _ := i.Entities["topic"].(string)
	return t
}

// FrustrationLevel buckets the additive frustration score.
type FrustrationLevel string

const (
	FrustrationNone     FrustrationLevel = "none"
	FrustrationMild     FrustrationLevel = "mild"
	FrustrationModerate FrustrationLevel = "moderate"
	FrustrationHigh     FrustrationLevel = "high"
	FrustrationCritical FrustrationLevel = "critical"
)

// AtLeast reports whether l is at or above other in severity.
func (l FrustrationLevel) AtLeast(other FrustrationLevel) bool {
	return frustrationRank[l] >= frustrationRank[other]
}

var frustrationRank = map[FrustrationLevel]int{
	FrustrationNone:     0,
	FrustrationMild:     1,
	FrustrationModerate: 2,
	FrustrationHigh:     3,
	FrustrationCritical: 4,
}

// Sentiment is the user's detected emotional tone.
type Sentiment string

const (
	SentimentNeutral    Sentiment = "neutral"
	SentimentFrustrated Sentiment = "frustrated"
	SentimentConfused   Sentiment = "confused"
	SentimentExcited    Sentiment = "excited"
	SentimentWorried    Sentiment = "worried"
	SentimentGrateful   Sentiment = "grateful"
)
