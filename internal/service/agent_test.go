package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/empathy"
	"github.com/boddenberg/support-agent-go/internal/foundation"
	"github.com/boddenberg/support-agent-go/internal/infra/kv"
	"github.com/boddenberg/support-agent-go/internal/infra/observability"
	"github.com/boddenberg/support-agent-go/internal/infra/sqlite"
	"github.com/boddenberg/support-agent-go/internal/port"
	"github.com/boddenberg/support-agent-go/internal/quality"
	"github.com/boddenberg/support-agent-go/internal/router"
	"github.com/boddenberg/support-agent-go/internal/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Mocks ---

var vocabulary = []string{"dpi", "resolution", "print", "bleed", "refund"}

type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		v := make([]float32, len(vocabulary))
		for j, w := range vocabulary {
			v[j] = float32(strings.Count(lower, w))
		}
		out[i] = v
	}
	return out, nil
}

type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Generate(_ context.Context, _ *domain.LLMRequest) (*domain.LLMResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.LLMResponse{Content: f.reply, Model: "fake", PromptTokens: 30, CompletionTokens: 10}, nil
}

type failingDetector struct{}

func (failingDetector) Detect(context.Context, string, *domain.ConversationState) (domain.Intent, error) {
	return domain.Intent{}, errors.New("classifier offline")
}

type fixed int

func (f fixed) IntN(n int) int { return int(f) % n }

func newEnv(t *testing.T) port.Env {
	t.Helper()
	db, err := sqlite.Open(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	store := kv.NewMemory(0)
	t.Cleanup(func() {
		store.Close()
		db.Close()
	})
	return port.Env{KV: store, DB: db}
}

func testProfile() *domain.AgentProfile {
	return &domain.AgentProfile{ID: "agent-1", TenantID: "tenant-1", Name: "Print Support"}
}

func newAgent(t *testing.T, env port.Env, opts ...service.Option) *service.Agent {
	t.Helper()
	return newAgentFor(t, testProfile(), env, nil, opts...)
}

func newAgentFor(t *testing.T, profile *domain.AgentProfile, env port.Env, metrics *observability.Metrics, opts ...service.Option) *service.Agent {
	t.Helper()
	opts = append([]service.Option{
		service.WithEmpathy(empathy.NewInjector(empathy.WithSeed(1))),
		service.WithFoundationOptions(foundation.WithChooser(fixed(0))),
	}, opts...)
	a, err := service.NewAgent(profile, env, metrics, zap.NewNop(), opts...)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

// --- Construction ---

func TestNewAgent_RequiresStores(t *testing.T) {
	_, err := service.NewAgent(nil, port.Env{}, nil, zap.NewNop())
	var notConfigured *domain.ErrNotConfigured
	require.True(t, errors.As(err, &notConfigured))
}

// --- Pipeline ---

func TestProcessMessage_Greeting(t *testing.T) {
	a := newAgent(t, newEnv(t))
	ctx := context.Background()

	resp := a.ProcessMessage(ctx, "Hello!", "")
	require.NotNil(t, resp)
	assert.Empty(t, resp.Metadata.Error)
	assert.Equal(t, domain.IntentGreeting, resp.Metadata.EffectiveIntent)
	assert.Equal(t, foundation.GreetingName, resp.Metadata.HandlerName)
	assert.GreaterOrEqual(t, resp.Metadata.QualityScore, 70)
	assert.True(t, resp.Metadata.QualityPassed)
	require.NotEmpty(t, resp.Metadata.SessionID)
	assert.NotEmpty(t, resp.Metadata.MessageID)

	next := a.ProcessMessage(ctx, "What is DPI?", resp.Metadata.SessionID)
	assert.Equal(t, resp.Metadata.SessionID, next.Metadata.SessionID)
}

func TestProcessMessage_ReusesHeldSession(t *testing.T) {
	a := newAgent(t, newEnv(t))
	ctx := context.Background()

	first := a.ProcessMessage(ctx, "Hello!", "")
	second := a.ProcessMessage(ctx, "How do I add bleed in Photoshop?", "")
	assert.Equal(t, first.Metadata.SessionID, second.Metadata.SessionID)

	other := a.ProcessMessage(ctx, "Hello!", "explicit-session")
	assert.Equal(t, "explicit-session", other.Metadata.SessionID)
}

func TestProcessMessage_MessageCountIsTwicePerTurn(t *testing.T) {
	a := newAgent(t, newEnv(t))
	ctx := context.Background()

	messages := []string{"Hello!", "What is DPI?", "How do I export a PDF?", "Thanks, bye!"}
	var sessionID string
	for _, m := range messages {
		resp := a.ProcessMessage(ctx, m, sessionID)
		require.Empty(t, resp.Metadata.Error)
		sessionID = resp.Metadata.SessionID
	}

	stats, err := a.Stats(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 2*len(messages), stats.MessageCount)

	history, err := a.History(ctx, sessionID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2*len(messages))
	for i, msg := range history {
		want := domain.RoleUser
		if i%2 == 1 {
			want = domain.RoleAssistant
		}
		assert.Equal(t, want, msg.Role)
	}

	last, err := a.History(ctx, sessionID, 2)
	require.NoError(t, err)
	assert.Len(t, last, 2)
}

func TestProcessMessage_RepeatedQuestion(t *testing.T) {
	a := newAgent(t, newEnv(t))
	ctx := context.Background()

	first := a.ProcessMessage(ctx, "What is DPI?", "")
	sid := first.Metadata.SessionID
	assert.False(t, first.Metadata.RepetitionDetected)
	assert.Equal(t, domain.IntentInformation, first.Metadata.EffectiveIntent)

	second := a.ProcessMessage(ctx, "What is DPI?", sid)
	assert.True(t, second.Metadata.RepetitionDetected)
	assert.GreaterOrEqual(t, second.Metadata.RepetitionCount, 1)
	assert.Equal(t, domain.IntentInformation, second.Metadata.OriginalIntent)
	assert.Equal(t, domain.IntentRepeat, second.Metadata.EffectiveIntent)
	assert.Equal(t, foundation.RepeatName, second.Metadata.HandlerName)

	third := a.ProcessMessage(ctx, "What is DPI?", sid)
	assert.True(t, third.Metadata.RepetitionDetected)
	assert.Equal(t, domain.IntentRepeat, third.Metadata.EffectiveIntent)

	stats, err := a.Stats(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RepetitionCount)
}

func TestProcessMessage_CriticalHallucinationIsReplaced(t *testing.T) {
	a := newAgent(t, newEnv(t))
	a.Router().Register(&router.Func{
		HandlerName:     "provenance",
		HandlerVersion:  "0.1.0",
		HandlerPriority: 100,
		HandleFunc: func(context.Context, string, domain.Intent, *router.HandlerContext) (*domain.Response, error) {
			return &domain.Response{Content: "This file was created in Photoshop.", Metadata: domain.ResponseMetadata{Confidence: 0.9}}, nil
		},
	})

	resp := a.ProcessMessage(context.Background(), "Who made this file?", "")
	assert.Equal(t, service.QualityFallback, resp.Content)
	assert.NotContains(t, resp.Content, "Photoshop")
	assert.Equal(t, "provenance", resp.Metadata.HandlerName, "attribution survives the rewrite")
	assert.False(t, resp.Metadata.QualityPassed)

	var critical bool
	for _, issue := range resp.Metadata.QualityIssues {
		if issue.Type == domain.IssueHallucination && issue.Severity == domain.SeverityCritical {
			critical = true
		}
	}
	assert.True(t, critical)
}

func TestProcessMessage_HigherPriorityHandlerWins(t *testing.T) {
	a := newAgent(t, newEnv(t))
	a.Router().Register(&router.Func{
		HandlerName:     "dpi-expert",
		HandlerPriority: 100,
		CanHandleFunc:   router.ForIntents(domain.IntentInformation),
		HandleFunc: func(context.Context, string, domain.Intent, *router.HandlerContext) (*domain.Response, error) {
			return &domain.Response{Content: "DPI (dots per inch) measures print resolution.", Metadata: domain.ResponseMetadata{Confidence: 1}}, nil
		},
	})

	resp := a.ProcessMessage(context.Background(), "What is DPI?", "")
	assert.Equal(t, "dpi-expert", resp.Metadata.HandlerName)
	assert.Contains(t, resp.Content, "dots per inch")
}

func TestProcessMessage_Frustration(t *testing.T) {
	a := newAgent(t, newEnv(t))
	ctx := context.Background()

	moderate := a.ProcessMessage(ctx, "I'm so frustrated", "")
	assert.Equal(t, domain.IntentFrustration, moderate.Metadata.EffectiveIntent)
	assert.Equal(t, foundation.FrustrationName, moderate.Metadata.HandlerName)
	assert.Equal(t, domain.FrustrationModerate, moderate.Metadata.FrustrationLevel)
	assert.False(t, moderate.Metadata.NeedsEscalation)

	critical := a.ProcessMessage(ctx, "damn it", moderate.Metadata.SessionID)
	assert.Equal(t, domain.FrustrationCritical, critical.Metadata.FrustrationLevel)
	assert.True(t, critical.Metadata.NeedsEscalation)
	assert.Contains(t, critical.Content, "human support agent")

	stats, err := a.Stats(ctx, moderate.Metadata.SessionID)
	require.NoError(t, err)
	assert.True(t, stats.IsFrustrated)
	assert.True(t, stats.NeedsEscalation)
}

func TestProcessMessage_Calculation(t *testing.T) {
	a := newAgent(t, newEnv(t))

	resp := a.ProcessMessage(context.Background(), "What print size is 6000x4000 pixels at 300 DPI?", "")
	assert.Equal(t, domain.IntentCalculation, resp.Metadata.EffectiveIntent)
	assert.Equal(t, foundation.CalculationName, resp.Metadata.HandlerName)
	assert.True(t, resp.Metadata.ValidationPassed)
	assert.Contains(t, resp.Content, "20.00 x 13.33 inches")
}

func TestProcessMessage_GroundedAnswerCitesSource(t *testing.T) {
	env := newEnv(t)
	env.AI = keywordEmbedder{}
	a := newAgent(t, env)
	ctx := context.Background()

	ingested, err := a.IngestDocument(ctx, "DPI guide", "DPI means dots per inch. Higher DPI gives a sharper print resolution.")
	require.NoError(t, err)
	require.NotEmpty(t, ingested.DocumentID)

	resp := a.ProcessMessage(ctx, "What is DPI?", "")
	assert.Equal(t, foundation.KnowledgeName, resp.Metadata.HandlerName)
	require.Len(t, resp.Metadata.Sources, 1)
	assert.Equal(t, ingested.DocumentID, resp.Metadata.Sources[0].ID)
	assert.Contains(t, resp.Content, "DPI means dots per inch")
	assert.Contains(t, resp.Content, ingested.DocumentID)
	assert.True(t, resp.Metadata.ValidationPassed)
}

func TestProcessMessage_LLMFallback(t *testing.T) {
	env := newEnv(t)
	llm := &fakeLLM{reply: "Offset printing transfers ink from plates to a rubber blanket, then to paper."}
	env.LLM = llm
	a := newAgent(t, env)

	resp := a.ProcessMessage(context.Background(), "history of offset printing", "")
	assert.Equal(t, 1, llm.calls)
	assert.Contains(t, resp.Content, "Offset printing transfers ink")
	assert.Equal(t, foundation.KnowledgeName, resp.Metadata.HandlerName)
	assert.Equal(t, true, resp.Metadata.Extra[service.ExtraLLMFallback])
	assert.Equal(t, 0.8, resp.Metadata.Confidence)
}

func TestProcessMessage_LLMFailureKeepsRoutedReply(t *testing.T) {
	env := newEnv(t)
	env.LLM = &fakeLLM{err: errors.New("quota exceeded")}
	a := newAgent(t, env)

	resp := a.ProcessMessage(context.Background(), "history of offset printing", "")
	assert.Empty(t, resp.Metadata.Error)
	assert.Contains(t, resp.Content, "knowledge base")
	assert.NotContains(t, resp.Metadata.Extra, service.ExtraLLMFallback)
}

func TestProcessMessage_NoLLMCallForGreeting(t *testing.T) {
	env := newEnv(t)
	llm := &fakeLLM{reply: "generated"}
	env.LLM = llm
	a := newAgent(t, env)

	a.ProcessMessage(context.Background(), "Hello!", "")
	assert.Zero(t, llm.calls)
}

// --- Business rules ---

func TestProcessMessage_PolicyViolationEscalates(t *testing.T) {
	a := newAgent(t, newEnv(t))
	a.Router().Register(&router.Func{
		HandlerName:     "generous",
		HandlerPriority: 100,
		HandleFunc: func(context.Context, string, domain.Intent, *router.HandlerContext) (*domain.Response, error) {
			return &domain.Response{Content: "Good news, you'll get a full refund of $40.", Metadata: domain.ResponseMetadata{Confidence: 0.9}}, nil
		},
	})
	ctx := context.Background()

	resp := a.ProcessMessage(ctx, "My prints came out blurry", "")
	assert.Equal(t, fmt.Sprintf(quality.EscalationReplyFormat, "sales team"), resp.Content)
	assert.Equal(t, "generous", resp.Metadata.HandlerName, "attribution survives the rewrite")
	assert.True(t, resp.Metadata.NeedsEscalation)
	require.Len(t, resp.Metadata.PolicyViolations, 2)
	assert.Equal(t, "no-pricing", resp.Metadata.PolicyViolations[0].RuleID)
	assert.Equal(t, "no-refunds", resp.Metadata.PolicyViolations[1].RuleID)

	stats, err := a.Stats(ctx, resp.Metadata.SessionID)
	require.NoError(t, err)
	assert.True(t, stats.NeedsEscalation)

	history, err := a.History(ctx, resp.Metadata.SessionID, 1)
	require.NoError(t, err)
	assert.Equal(t, resp.Content, history[0].Content, "the stored reply is the policy reply")
}

func TestProcessMessage_AgentRuleOnRequest(t *testing.T) {
	profile := testProfile()
	profile.Policy.Agent = []domain.ConstraintRule{{
		ID:                "no-order-changes",
		Type:              domain.ConstraintForbiddenAction,
		Severity:          domain.SeverityCritical,
		Pattern:           `\bcancel\b.*\border\b`,
		MatchRequest:      true,
		SuggestedResponse: "I can't change orders, but our customer service team can.",
	}}
	a := newAgentFor(t, profile, newEnv(t), nil)

	resp := a.ProcessMessage(context.Background(), "Please cancel my order", "")
	assert.Equal(t, "I can't change orders, but our customer service team can.", resp.Content)
	assert.True(t, resp.Metadata.NeedsEscalation)
	require.Len(t, resp.Metadata.PolicyViolations, 1)
	assert.True(t, resp.Metadata.PolicyViolations[0].InRequest)

	clean := a.ProcessMessage(context.Background(), "Hello!", "other-session")
	assert.Empty(t, clean.Metadata.PolicyViolations)
	assert.False(t, clean.Metadata.NeedsEscalation)
}

func TestNewAgent_RejectsInvalidRule(t *testing.T) {
	profile := testProfile()
	profile.Policy.Tenant = []domain.ConstraintRule{{ID: "broken", Pattern: "(unclosed"}}

	_, err := service.NewAgent(profile, newEnv(t), nil, zap.NewNop())
	var validation *domain.ErrValidation
	assert.True(t, errors.As(err, &validation))
}

// --- Metrics ---

func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestProcessMessage_OneHandlerSelectionPerTurn(t *testing.T) {
	metrics := observability.NewMetrics()
	a := newAgentFor(t, testProfile(), newEnv(t), metrics)

	a.ProcessMessage(context.Background(), "Hello!", "")
	assert.Equal(t, 1.0, counterTotal(t, metrics.Registry, "agent_handler_selected_total"))

	a.ProcessMessage(context.Background(), "What is DPI?", "")
	assert.Equal(t, 2.0, counterTotal(t, metrics.Registry, "agent_handler_selected_total"))
}

// --- Failure paths ---

func TestProcessMessage_DetectorErrorBecomesApology(t *testing.T) {
	a := newAgent(t, newEnv(t), service.WithIntentDetector(failingDetector{}))

	resp := a.ProcessMessage(context.Background(), "Hello!", "")
	assert.Equal(t, service.ErrorReply, resp.Content)
	assert.Equal(t, service.ErrorHandlerName, resp.Metadata.HandlerName)
	assert.Zero(t, resp.Metadata.Confidence)
	assert.Contains(t, resp.Metadata.Error, "classifier offline")
	assert.NotEmpty(t, resp.Metadata.SessionID)
}

func TestProcessMessage_RoutingErrorBecomesApology(t *testing.T) {
	a := newAgent(t, newEnv(t))
	a.Router().Clear()

	resp := a.ProcessMessage(context.Background(), "Hello!", "")
	assert.Equal(t, service.ErrorReply, resp.Content)
	assert.Contains(t, resp.Metadata.Error, "no handler found")
}

func TestProcessMessage_PanicBecomesApology(t *testing.T) {
	a := newAgent(t, newEnv(t))
	a.Router().Register(&router.Func{
		HandlerName:     "broken",
		HandlerPriority: 100,
		HandleFunc: func(context.Context, string, domain.Intent, *router.HandlerContext) (*domain.Response, error) {
			panic("nil map")
		},
	})

	resp := a.ProcessMessage(context.Background(), "Hello!", "")
	assert.Equal(t, service.ErrorReply, resp.Content)
	assert.Contains(t, resp.Metadata.Error, "nil map")
	assert.Zero(t, resp.Metadata.Confidence)
}

// --- Sessions and knowledge ---

func TestSummaryAndClearSession(t *testing.T) {
	a := newAgent(t, newEnv(t))
	ctx := context.Background()

	resp := a.ProcessMessage(ctx, "How do I set up bleed in InDesign?", "")
	sid := resp.Metadata.SessionID

	summary, err := a.Summary(ctx, sid)
	require.NoError(t, err)
	assert.Contains(t, summary.Detailed, "user: How do I set up bleed in InDesign?")

	require.NoError(t, a.ClearSession(ctx, sid))

	_, err = a.History(ctx, sid, 0)
	var notFound *domain.ErrNotFound
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "session", notFound.Resource)

	fresh := a.ProcessMessage(ctx, "Hello!", "")
	assert.NotEqual(t, sid, fresh.Metadata.SessionID, "a cleared session is not resumed")
}

func TestClearSession_ConsolidatesGoalAndPreferences(t *testing.T) {
	env := newEnv(t)
	a := newAgent(t, env)
	a.Router().Register(&router.Func{
		HandlerName:     "formats",
		HandlerPriority: 100,
		HandleFunc: func(_ context.Context, _ string, _ domain.Intent, hctx *router.HandlerContext) (*domain.Response, error) {
			hctx.StateManager.RememberPreference(hctx.State, "format", "pdf")
			return &domain.Response{Content: "Use File, then Export, and pick PDF/X-4.", Metadata: domain.ResponseMetadata{Confidence: 0.9}}, nil
		},
	})
	ctx := context.Background()

	resp := a.ProcessMessage(ctx, "How do I export a PDF?", "")
	sid := resp.Metadata.SessionID
	a.ProcessMessage(ctx, "How do I add crop marks?", sid)
	require.NoError(t, a.ClearSession(ctx, sid))

	rows, err := env.DB.QueryContext(ctx, `SELECT content FROM semantic_memory WHERE agent_id = ? ORDER BY content`, "agent-1")
	require.NoError(t, err)
	defer rows.Close()
	var facts []string
	for rows.Next() {
		var c string
		require.NoError(t, rows.Scan(&c))
		facts = append(facts, c)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{
		"User goal (howto): How do I export a PDF?",
		"User prefers format: pdf",
	}, facts, "the first goal is kept and facts are stored once")
}

func TestSearchKnowledge(t *testing.T) {
	env := newEnv(t)
	env.AI = keywordEmbedder{}
	a := newAgent(t, env)
	ctx := context.Background()

	_, err := a.IngestDocument(ctx, "Refunds", "Refund requests are accepted within 30 days of the refund order.")
	require.NoError(t, err)
	count, err := a.DocumentCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	result, err := a.SearchKnowledge(ctx, "refund", 3)
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)
	assert.Equal(t, "Refunds", result.Sources[0].Title)

	_, err = a.SearchKnowledge(ctx, "  ", 3)
	var validation *domain.ErrValidation
	assert.True(t, errors.As(err, &validation))
}

func TestIngestDocument_WithoutEmbedder(t *testing.T) {
	a := newAgent(t, newEnv(t))

	_, err := a.IngestDocument(context.Background(), "Guide", "Some text.")
	var notConfigured *domain.ErrNotConfigured
	assert.True(t, errors.As(err, &notConfigured))
}
