package quality_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/quality"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func issueTypes(r domain.QualityResult) []domain.IssueType {
	out := []domain.IssueType{}
	for _, i := range r.Issues {
		out = append(out, i.Type)
	}
	return out
}

func TestValidate_CleanReply(t *testing.T) {
	v := quality.NewValidator()
	r := v.Validate("Hey! How can I help with your print files today?", quality.Input{})
	assert.True(t, r.Passed)
	assert.Equal(t, 100, r.Score)
	assert.Empty(t, r.Issues)
	assert.Empty(t, r.Suggestions)
}

func TestValidate_HallucinatedProvenance(t *testing.T) {
	v := quality.NewValidator()
	content := "This file was created in Photoshop."

	r := v.Validate(content, quality.Input{})
	require.True(t, r.HasCritical())
	assert.Equal(t, 60, r.Score)
	assert.False(t, r.Passed)
	assert.Contains(t, r.Suggestions[0], "CRITICAL")

	backed := v.Validate(content, quality.Input{ProvidedData: map[string]any{"software": "Adobe Photoshop 25.1"}})
	assert.False(t, backed.HasCritical(), "provenance backed by data is allowed")

	r = v.Validate("The camera used was a Nikon.", quality.Input{ProvidedData: map[string]any{"software": "x"}})
	assert.True(t, r.HasCritical())
}

func TestValidate_SpecificClaims(t *testing.T) {
	v := quality.NewValidator()
	content := "The color space is CMYK, which suits printing colors."
	assert.True(t, v.Validate(content, quality.Input{}).HasCritical())
	assert.False(t, v.Validate(content, quality.Input{ProvidedData: map[string]any{"colorSpace": "CMYK"}}).HasCritical())
}

func TestValidate_ScoreMonotoneAndClamped(t *testing.T) {
	v := quality.NewValidator()
	history := []string{"I'll look into the DPI created in Photoshop"}
	in := quality.Input{AgentHistory: history, Sentiment: domain.SentimentFrustrated}

	// each reply adds one more problem than the previous one
	replies := []string{
		"Set the page size first.",
		"Set the DPI first.",
		"Set the DPI first, I'll look into it.",
		"As an AI assistant: set the DPI first, I'll look into it.",
		"I'll look into the DPI created in Photoshop",
	}
	prev := 101
	for _, reply := range replies {
		r := v.Validate(reply, in)
		assert.Less(t, r.Score, prev, "reply %q", reply)
		assert.GreaterOrEqual(t, r.Score, 0)
		assert.LessOrEqual(t, r.Score, 100)
		prev = r.Score
	}

	long := strings.Repeat("word ", 400) + "DPI. As an AI assistant I'll look into it. created in gimp"
	r := v.Validate(long, in)
	assert.Equal(t, 0, r.Score, "penalties past 100 clamp at zero")
	assert.Contains(t, r.Suggestions[len(r.Suggestions)-1], "TIP")
}

func TestCheckVerbosity(t *testing.T) {
	words := func(n int) string { return strings.Repeat("ink ", n) }

	tests := []struct {
		name     string
		content  string
		intent   domain.IntentType
		severity domain.Severity
	}{
		{"short", words(50), domain.IntentInformation, ""},
		{"over recommended", words(250), domain.IntentInformation, domain.SeverityHigh},
		{"over max", words(350), domain.IntentInformation, domain.SeverityCritical},
		{"howto allows 600", words(600), domain.IntentHowTo, ""},
		{"howto over max", words(1100), domain.IntentHowTo, domain.SeverityCritical},
		{"too many sentences", strings.Repeat("Go. ", 11), domain.IntentInformation, domain.SeverityMedium},
		{"howto sentences ok", strings.Repeat("Go. ", 11), domain.IntentHowTo, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issue := quality.CheckVerbosity(tt.content, quality.Input{IntentType: tt.intent})
			if tt.severity == "" {
				assert.Nil(t, issue)
				return
			}
			require.NotNil(t, issue)
			assert.Equal(t, tt.severity, issue.Severity)
		})
	}
}

func TestCheckJargon(t *testing.T) {
	assert.NotNil(t, quality.CheckJargon("Use 300 DPI.", quality.Input{}))
	assert.Nil(t, quality.CheckJargon("Use 300 DPI (dots per inch).", quality.Input{}))
	issue := quality.CheckJargon("Convert RGB to CMYK.", quality.Input{})
	require.NotNil(t, issue)
	assert.Contains(t, issue.Message, "CMYK, RGB")
	assert.Nil(t, quality.CheckJargon("A vectorized logo", quality.Input{}), "terms match whole words only")
}

func TestCheckRepetition(t *testing.T) {
	in := quality.Input{AgentHistory: []string{"Bleed is the area outside the trim", "x", "y", "z"}}
	assert.Nil(t, quality.CheckRepetition("Bleed is the area outside the trim", in), "only the last three replies count")

	in.AgentHistory = append(in.AgentHistory, "Bleed is the area outside the trim")
	assert.NotNil(t, quality.CheckRepetition("bleed is the area outside the trim", in))
}

func TestCheckToneAndPromises(t *testing.T) {
	assert.NotNil(t, quality.CheckTone("Greetings, user.", quality.Input{}))
	assert.NotNil(t, quality.CheckTone("Hi. I'm your assistant.", quality.Input{}))
	assert.Nil(t, quality.CheckTone("Hi! What are you printing?", quality.Input{}))

	assert.NotNil(t, quality.CheckBrokenPromises("I'll get back to you tomorrow.", quality.Input{}))
	assert.NotNil(t, quality.CheckBrokenPromises("Someone will email you soon.", quality.Input{}))
	assert.Nil(t, quality.CheckBrokenPromises("Here is the answer.", quality.Input{}))
}

func TestCheckEmpathy(t *testing.T) {
	frustrated := quality.Input{Sentiment: domain.SentimentFrustrated}
	assert.NotNil(t, quality.CheckEmpathy("Re-export the file.", frustrated))
	assert.Nil(t, quality.CheckEmpathy("I hear you. Re-export the file.", frustrated))
	assert.Nil(t, quality.CheckEmpathy("Re-export the file.", quality.Input{Sentiment: domain.SentimentExcited}))
}

func TestValidate_AllIssueTypesReported(t *testing.T) {
	v := quality.NewValidator()
	r := v.Validate("As an AI assistant, use DPI. I'll get back to you.", quality.Input{Sentiment: domain.SentimentConfused})
	assert.ElementsMatch(t,
		[]domain.IssueType{domain.IssueJargon, domain.IssuePromise, domain.IssueTone, domain.IssueEmpathy},
		issueTypes(r))
	assert.Equal(t, 100-15-25-10-15, r.Score)
	assert.Len(t, r.Suggestions, 2, "one HIGH suggestion plus the tip")
}
