package empathy_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/empathy"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixed always picks the same index.
type fixed int

func (f fixed) IntN(n int) int { return int(f) % n }

func TestDetectSentiment(t *testing.T) {
	inj := empathy.NewInjector()
	tests := []struct {
		message string
		want    domain.Sentiment
	}{
		{"The export is broken", domain.SentimentFrustrated},
		{"I don't understand bleed", domain.SentimentConfused},
		{"How do I add crop marks", domain.SentimentConfused},
		{"This looks amazing", domain.SentimentExcited},
		{"What if the colors shift", domain.SentimentWorried},
		{"thanks a lot", domain.SentimentGrateful},
		{"Paper size A4", domain.SentimentNeutral},
		// frustration wins over the exclamation mark
		{"seriously, not working!", domain.SentimentFrustrated},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			assert.Equal(t, tt.want, inj.DetectSentiment(tt.message, nil))
		})
	}
}

func TestAddEmpathy(t *testing.T) {
	inj := empathy.NewInjector(empathy.WithChooser(fixed(0)))

	tests := []struct {
		name     string
		response string
		ctx      empathy.Context
		want     string
	}{
		{"first message welcome", "Ask me anything.", empathy.Context{IsFirstMessage: true}, "Hey there! 👋 Ask me anything."},
		{"first message already greets", "Hello, how can I help?", empathy.Context{IsFirstMessage: true}, "Hello, how can I help?"},
		{"frustrated", "Try re-exporting.", empathy.Context{Sentiment: domain.SentimentFrustrated}, "I understand this can be frustrating! Try re-exporting."},
		{"frustrated urgent", "Try re-exporting.", empathy.Context{Sentiment: domain.SentimentFrustrated, IsUrgent: true}, "I'm on it! Try re-exporting."},
		{"frustrated already empathic", "Sorry, try again.", empathy.Context{Sentiment: domain.SentimentFrustrated}, "Sorry, try again."},
		{"confused", "Bleed is extra margin.", empathy.Context{Sentiment: domain.SentimentConfused}, "No worries, let me explain! Bleed is extra margin."},
		{"excited already excited", "Great choice!", empathy.Context{Sentiment: domain.SentimentExcited}, "Great choice!"},
		{"worried", "Colors stay the same.", empathy.Context{Sentiment: domain.SentimentWorried}, "Don't worry! Colors stay the same."},
		{"grateful", "Bye for now.", empathy.Context{Sentiment: domain.SentimentGrateful}, "You're very welcome! Bye for now."},
		{"neutral", "A4 is 210 by 297 mm.", empathy.Context{Sentiment: domain.SentimentNeutral}, "A4 is 210 by 297 mm."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inj.AddEmpathy(tt.response, tt.ctx))
		})
	}
}

func TestWithSeed_Deterministic(t *testing.T) {
	ctx := empathy.Context{Sentiment: domain.SentimentConfused}
	a := empathy.NewInjector(empathy.WithSeed(42))
	b := empathy.NewInjector(empathy.WithSeed(42))
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.AddEmpathy("x", ctx), b.AddEmpathy("x", ctx))
	}
}

func TestWithSeed_ConcurrentUse(t *testing.T) {
	inj := empathy.NewInjector(empathy.WithSeed(7))
	ctx := empathy.Context{Sentiment: domain.SentimentWorried}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				out := inj.AddEmpathy("x", ctx)
				assert.True(t, strings.HasSuffix(out, "x"))
			}
		}()
	}
	wg.Wait()
}

func TestHasEmpathy(t *testing.T) {
	assert.True(t, empathy.HasEmpathy("I hear you, let's fix it"))
	assert.False(t, empathy.HasEmpathy("Set the DPI to 300"))
}
