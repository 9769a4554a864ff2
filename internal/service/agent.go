package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/conversation"
	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/empathy"
	"github.com/boddenberg/support-agent-go/internal/foundation"
	"github.com/boddenberg/support-agent-go/internal/infra/cache"
	"github.com/boddenberg/support-agent-go/internal/infra/observability"
	"github.com/boddenberg/support-agent-go/internal/intent"
	"github.com/boddenberg/support-agent-go/internal/memory"
	"github.com/boddenberg/support-agent-go/internal/port"
	"github.com/boddenberg/support-agent-go/internal/quality"
	"github.com/boddenberg/support-agent-go/internal/rag"
	"github.com/boddenberg/support-agent-go/internal/router"
)

var tracer = otel.Tracer("service/agent")

// Canned replies used when a gate rewrites the handler's content.
const (
	ErrorReply         = "I apologize, but I encountered an error processing your message. Please try again."
	QualityFallback    = "I want to make sure I give you accurate information. Could you rephrase your question so I can help you better?"
	ValidationFallback = "I'm having trouble formulating a proper response. Could you rephrase your question?"
)

// ErrorHandlerName is the handler attribution of apologetic error replies.
const ErrorHandlerName = "error"

// Extra keys written by the pipeline.
const (
	ExtraLLMFallback = "llmFallback"
	ExtraLLMModel    = "llmModel"
)

var urgentPattern = regexp.MustCompile(`(?i)\b(urgent|asap|immediately|right now|deadline)\b`)

// Agent runs the conversation pipeline for one agent profile.
type Agent struct {
	profile *domain.AgentProfile
	env     port.Env

	detector    port.IntentDetector
	router      *router.Router
	state       *conversation.StateManager
	memory      *memory.System
	rag         *rag.Engine
	frustration *conversation.FrustrationHandler
	repetition  *conversation.RepetitionDetector
	empathy     *empathy.Injector
	quality     *quality.Validator
	constraints *quality.ConstraintValidator
	validator   *quality.ResponseValidator

	responseCache *cache.InMemory[*domain.Response]
	metrics       *observability.Metrics
	logger        *zap.Logger

	mu        sync.Mutex
	sessionID string
}

// Option customizes an Agent.
type Option func(*agentOptions)

type agentOptions struct {
	detector       port.IntentDetector
	empathy        *empathy.Injector
	globalRules    []domain.ConstraintRule
	foundation     []foundation.Option
	routerCacheTTL time.Duration
	ragCacheTTL    time.Duration
	chunkSize      int
	now            func() time.Time
}

// WithIntentDetector replaces the keyword intent detector.
func WithIntentDetector(d port.IntentDetector) Option {
	return func(o *agentOptions) { o.detector = d }
}

// WithEmpathy replaces the empathy injector, typically with a seeded one.
func WithEmpathy(e *empathy.Injector) Option {
	return func(o *agentOptions) { o.empathy = e }
}

// WithGlobalRules replaces the default global business rules.
func WithGlobalRules(rules ...domain.ConstraintRule) Option {
	return func(o *agentOptions) { o.globalRules = append(o.globalRules, rules...) }
}

// WithFoundationOptions configures the built-in handlers.
func WithFoundationOptions(opts ...foundation.Option) Option {
	return func(o *agentOptions) { o.foundation = append(o.foundation, opts...) }
}

// WithRouterCacheTTL sets the response cache lifetime. Zero disables it.
func WithRouterCacheTTL(d time.Duration) Option {
	return func(o *agentOptions) { o.routerCacheTTL = d }
}

// WithRAGCacheTTL sets the retrieval cache lifetime. Zero disables it.
func WithRAGCacheTTL(d time.Duration) Option {
	return func(o *agentOptions) { o.ragCacheTTL = d }
}

// WithChunkSize sets the ingestion chunk budget in characters.
func WithChunkSize(n int) Option {
	return func(o *agentOptions) { o.chunkSize = n }
}

// WithClock sets the clock used for session and memory timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *agentOptions) { o.now = now }
}

// NewAgent wires the pipeline. env.KV and env.DB are required; env.AI and
// env.LLM are optional.
func NewAgent(profile *domain.AgentProfile, env port.Env, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) (*Agent, error) {
	if env.KV == nil || env.DB == nil {
		return nil, &domain.ErrNotConfigured{Capability: "kv and db stores"}
	}
	if profile == nil {
		profile = &domain.AgentProfile{ID: "default"}
	}
	o := agentOptions{routerCacheTTL: router.DefaultCacheTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.detector == nil {
		o.detector = intent.NewDetector(logger)
	}
	if o.empathy == nil {
		o.empathy = empathy.NewInjector()
	}

	constraints, err := quality.NewConstraintValidator(o.globalRules...)
	if err != nil {
		return nil, fmt.Errorf("global rules: %w", err)
	}
	if err := constraints.RegisterTenant(profile.TenantID, profile.Policy.Tenant); err != nil {
		return nil, fmt.Errorf("tenant rules: %w", err)
	}
	if err := constraints.RegisterAgent(profile.ID, profile.Policy.Agent); err != nil {
		return nil, fmt.Errorf("agent rules: %w", err)
	}

	a := &Agent{
		profile:     profile,
		env:         env,
		detector:    o.detector,
		router:      router.New(logger),
		state:       conversation.NewStateManager(env.KV, env.DB, logger, conversation.WithStateClock(o.now)),
		memory:      memory.NewSystem(env.KV, env.DB, logger, memory.WithClock(o.now)),
		frustration: conversation.NewFrustrationHandler(env.DB, nil),
		repetition:  conversation.NewRepetitionDetector(),
		empathy:     o.empathy,
		quality:     quality.NewValidator(),
		constraints: constraints,
		validator:   quality.NewResponseValidator(),
		metrics:     metrics,
		logger:      logger,
	}
	a.rag = rag.NewEngine(env.DB, env.AI, env.KV, rag.Options{
		Model:     profile.Embedding.Model,
		ChunkSize: o.chunkSize,
		CacheTTL:  o.ragCacheTTL,
	}, metrics, logger)

	a.router.Use(router.LoggingMiddleware(logger))
	if o.routerCacheTTL > 0 {
		a.responseCache = cache.New[*domain.Response](o.routerCacheTTL)
		a.router.Use(router.CachingMiddleware(a.responseCache, nil, metrics))
	}
	a.router.Use(router.AnalyticsMiddleware(metrics))
	foundation.Register(a.router, logger, o.foundation...)

	return a, nil
}

// Router exposes the handler registry so specialized agents can register
// higher-priority handlers.
func (a *Agent) Router() *router.Router { return a.router }

// Profile returns the agent profile.
func (a *Agent) Profile() *domain.AgentProfile { return a.profile }

// Close stops background cache sweeping.
func (a *Agent) Close() {
	if a.responseCache != nil {
		a.responseCache.Close()
	}
}

// ============================================================================
// Conversation pipeline
// ============================================================================

type turn struct {
	start     time.Time
	state     *domain.ConversationState
	original  domain.Intent
	effective domain.Intent
	rep       conversation.Repetition
	level     domain.FrustrationLevel
	hctx      *router.HandlerContext
	log       *zap.Logger
}

// ProcessMessage runs one conversation turn. It never returns an error:
// failures become an apologetic Response with Metadata.Error set. An empty
// sessionID continues the session this Agent last served, or starts one.
func (a *Agent) ProcessMessage(ctx context.Context, message, sessionID string) (resp *domain.Response) {
	ctx, span := tracer.Start(ctx, "Agent.ProcessMessage")
	defer span.End()

	t := &turn{start: time.Now(), log: a.logger}
	defer func() {
		a.metrics.RecordRequestDuration("process_message", time.Since(t.start))
	}()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			t.log.Error("agent: turn panicked", zap.Any("panic", r))
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			resp = a.fail(ctx, t, err)
		}
	}()

	resp, err := a.run(ctx, t, message, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return a.fail(ctx, t, err)
	}

	span.SetAttributes(
		attribute.String("session.id", t.state.SessionID),
		attribute.String("intent.original", string(t.original.Type)),
		attribute.String("intent.effective", string(t.effective.Type)),
		attribute.String("handler.name", resp.Metadata.HandlerName),
		attribute.Int("quality.score", resp.Metadata.QualityScore),
	)
	return resp
}

func (a *Agent) run(ctx context.Context, t *turn, message, sessionID string) (*domain.Response, error) {
	// --- Step 1: Load or create the session ---
	state, err := a.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	t.state = state
	t.log = observability.SessionLogger(a.logger, state.AgentID, state.SessionID)

	// --- Step 2: Build the user message ---
	userMsg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   message,
		Timestamp: time.Now(),
	}

	// --- Step 3: Detect intent ---
	detected, err := a.detector.Detect(ctx, message, state)
	if err != nil {
		return nil, fmt.Errorf("intent detection: %w", err)
	}
	t.original = detected.Clone()
	t.effective = detected.Clone()
	userMsg.Intent = &t.original

	// --- Step 4: Append the user message ---
	a.state.AddMessage(state, userMsg)

	// --- Step 5: Repetition ---
	t.rep = a.repetition.DetectQuestionRepetition(message, state)
	if t.rep.IsRepetition {
		state.IsRepeatDetected = true
		t.effective.Type = domain.IntentRepeat
		a.metrics.IncrIntentOverride(domain.IntentRepeat)
		t.log.Info("agent: repeated question",
			zap.Int("count", t.rep.Count),
		)
	}

	// --- Step 6: Frustration ---
	t.level = a.frustration.DetectFrustrationLevel(message, state)
	if t.level != domain.FrustrationNone {
		state.IsFrustrationDetected = true
		if t.level.AtLeast(domain.FrustrationModerate) {
			t.effective.Type = domain.IntentFrustration
			a.metrics.IncrIntentOverride(domain.IntentFrustration)
		}
		if a.frustration.ShouldEscalate(t.level) {
			state.NeedsEscalation = true
		}
		if err := a.frustration.LearnFromFrustration(ctx, state.AgentID, message, t.level, string(t.original.Type)); err != nil {
			t.log.Warn("agent: frustration event not recorded", zap.Error(err))
		}
	}

	// --- Step 7: Handler context ---
	t.hctx = &router.HandlerContext{
		State:        state,
		Profile:      a.profile,
		Env:          a.env,
		StateManager: a.state,
		Memory:       a.memory,
		RAG:          a.rag,
		Frustration:  a.frustration,
		Repetition:   a.repetition,
		Signals: router.Signals{
			OriginalIntent:   t.original.Type,
			Repetition:       t.rep,
			FrustrationLevel: t.level,
			NeedsEscalation:  state.NeedsEscalation,
		},
		Metadata: map[string]any{"sessionId": state.SessionID, "messageId": userMsg.ID},
	}

	// --- Step 8: Route ---
	routed, err := a.router.Route(ctx, message, t.effective, t.hctx)
	if err != nil {
		return nil, err
	}
	resp := routed.Clone()
	if resp.Metadata.Extra == nil {
		resp.Metadata.Extra = map[string]any{}
	}

	// --- Step 8b: Language model fallback ---
	if a.needsLLM(t, resp) {
		a.generate(ctx, t, message, resp)
	}
	a.metrics.RecordTokens(intExtra(resp, foundation.ExtraPromptTokens), intExtra(resp, foundation.ExtraCompletionTokens))

	// --- Step 9: Sentiment and empathy ---
	sentiment := a.empathy.DetectSentiment(message, userHistory(state))
	resp.Content = a.empathy.AddEmpathy(resp.Content, empathy.Context{
		Sentiment:          sentiment,
		IsFirstMessage:     len(state.Messages) == 1,
		HasIssue:           state.IsFrustrationDetected,
		IsUrgent:           urgentPattern.MatchString(message),
		ConversationLength: len(state.Messages),
	})

	// --- Step 10: Quality gate ---
	outcome := observability.OutcomeSuccess
	qr := a.quality.Validate(resp.Content, quality.Input{
		UserMessage:  message,
		AgentHistory: answerHistory(state),
		ProvidedData: resp.Metadata.Extra,
		Sentiment:    sentiment,
		IntentType:   t.effective.Type,
	})
	a.metrics.RecordQuality(qr)
	if !qr.Passed || qr.HasCritical() {
		t.log.Warn("agent: quality gate failed",
			zap.Int("score", qr.Score),
			zap.Any("issues", qr.Issues),
			zap.Strings("suggestions", qr.Suggestions),
		)
	}
	if qr.HasCritical() {
		resp.Content = QualityFallback
		outcome = observability.OutcomeFallback
	}

	// --- Step 10b: Business rules ---
	policy := a.constraints.Validate(resp.Content, message, state.TenantID, state.AgentID)
	policyReply := false
	if !policy.Passed {
		for _, v := range policy.Violations {
			a.metrics.IncrConstraintViolation(v.RuleID, v.Severity)
		}
		t.log.Warn("agent: business rule violated",
			zap.Any("violations", policy.Violations),
			zap.Bool("escalate", policy.RequiresEscalation),
			zap.String("escalate_to", policy.EscalateTo),
		)
		if policy.RequiresEscalation {
			state.NeedsEscalation = true
		}
		if policy.SuggestedResponse != "" {
			resp.Content = policy.SuggestedResponse
			policyReply = true
			outcome = observability.OutcomeFallback
		}
	}

	// --- Step 11: Technical validation ---
	// A policy reply is final; validation is still recorded.
	validation := a.validator.Validate(resp.Content, message, t.hctx.Retrieval, calculationOf(resp))
	if !validation.IsValid {
		a.metrics.IncrValidationFailure()
		t.log.Warn("agent: response failed validation",
			zap.Float64("score", validation.Score),
			zap.Strings("unverified", validation.Unverified),
		)
	}
	if !validation.IsValid && !policyReply {
		if validation.SuggestedFix != "" {
			resp.Content = validation.SuggestedFix
		} else {
			resp.Content = ValidationFallback
		}
		outcome = observability.OutcomeFallback
	}

	// --- Step 12: Assistant message ---
	assistantMsg := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   resp.Content,
		Timestamp: time.Now(),
		Intent:    &t.effective,
		Metadata: map[string]any{
			"handlerName":      resp.Metadata.HandlerName,
			"confidence":       resp.Metadata.Confidence,
			"qualityScore":     qr.Score,
			"qualityPassed":    qr.Passed,
			"validationPassed": validation.IsValid,
			"validationScore":  validation.Score,
			"policyPassed":     policy.Passed,
		},
	}
	a.state.AddMessage(state, assistantMsg)

	// --- Step 13: Question, answer and topic logs ---
	a.state.LogQuestion(state, message, t.effective)
	a.state.LogAnswer(state, resp.Content, resp.Metadata.HandlerName, string(t.effective.Type), validation.IsValid)
	topic := t.original.Topic()
	a.state.LogTopic(state, topic)
	if state.UserGoal == nil && goalIntents[t.effective.Type] {
		a.state.UpdateGoal(state, domain.UserGoal{Type: t.effective.Type, Description: message})
	}

	// --- Step 14: Short-term memory ---
	a.remember(ctx, state, assistantMsg.ID, message, resp.Content, t.effective.Type, sentiment, qr.Score, topic)

	// --- Step 15: Persist the session ---
	if err := a.state.SaveSession(ctx, state); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	// --- Step 16: Enrich the response ---
	md := &resp.Metadata
	md.SessionID = state.SessionID
	md.MessageID = assistantMsg.ID
	md.OriginalIntent = t.original.Type
	md.EffectiveIntent = t.effective.Type
	md.RepetitionDetected = t.rep.IsRepetition
	md.RepetitionCount = t.rep.Count
	md.FrustrationLevel = t.level
	md.NeedsEscalation = state.NeedsEscalation
	md.UserSentiment = sentiment
	md.QualityScore = qr.Score
	md.QualityPassed = qr.Passed
	md.QualityIssues = qr.Issues
	md.ValidationPassed = validation.IsValid
	md.ValidationScore = validation.Score
	md.PolicyViolations = policy.Violations
	md.ProcessingTimeMs = time.Since(t.start).Milliseconds()

	a.metrics.IncrTurn(outcome)
	return resp, nil
}

// session resolves the turn's session: the given id, else the one held by
// the agent, else a new one.
func (a *Agent) session(ctx context.Context, sessionID string) (*domain.ConversationState, error) {
	a.mu.Lock()
	if sessionID == "" {
		sessionID = a.sessionID
	}
	a.mu.Unlock()

	var state *domain.ConversationState
	if sessionID != "" {
		loaded, err := a.state.LoadSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		state = loaded
	}
	if state == nil {
		created, err := a.state.CreateSession(ctx, a.profile.ID, a.profile.TenantID, "", sessionID)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		state = created
	}

	a.mu.Lock()
	a.sessionID = state.SessionID
	a.mu.Unlock()
	return state, nil
}

// needsLLM reports whether the routed reply should be replaced by a
// generated one.
func (a *Agent) needsLLM(t *turn, resp *domain.Response) bool {
	if a.env.LLM == nil {
		return false
	}
	if use, _ := resp.Metadata.Extra[foundation.ExtraUseLLMFallback].(bool); use {
		return true
	}
	switch t.effective.Type {
	case domain.IntentUnknown:
		return true
	case domain.IntentInformation:
		if grounded, ok := resp.Metadata.Extra[foundation.ExtraGrounded].(bool); ok && !grounded {
			return true
		}
	}
	return foundation.IsGeneric(resp.Content)
}

// generate replaces the reply with a model completion. The routed handler
// stays the attributed one. On failure the routed reply is kept.
func (a *Agent) generate(ctx context.Context, t *turn, message string, resp *domain.Response) {
	out, err := a.env.LLM.Generate(ctx, foundation.Request(a.profile, t.state, message, t.hctx.RAGContext))
	if err != nil {
		a.metrics.IncrExternalError("llm")
		t.log.Warn("agent: language model fallback failed", zap.Error(err))
		return
	}
	content := strings.TrimSpace(out.Content)
	if content == "" {
		return
	}
	resp.Content = content
	resp.Metadata.Confidence = 0.8
	resp.Metadata.Extra[ExtraLLMFallback] = true
	resp.Metadata.Extra[ExtraLLMModel] = out.Model
	resp.Metadata.Extra[foundation.ExtraPromptTokens] = out.PromptTokens
	resp.Metadata.Extra[foundation.ExtraCompletionTokens] = out.CompletionTokens
}

func (a *Agent) remember(ctx context.Context, state *domain.ConversationState, messageID, question, answer string, intentType domain.IntentType, sentiment domain.Sentiment, score int, topic string) {
	entries := map[string]any{
		"msg_" + messageID: map[string]any{
			"question":     question,
			"answer":       answer,
			"intent":       intentType,
			"sentiment":    sentiment,
			"qualityScore": score,
			"timestamp":    time.Now().UnixMilli(),
		},
		memory.KeyLastIntent: intentType,
	}
	if topic != "" {
		entries[memory.KeyLastTopic] = topic
	}
	if len(state.UserPreferences) > 0 {
		entries[memory.KeyUserPreferences] = state.UserPreferences
	}
	if facts := sessionFacts(state); len(facts) > 0 {
		entries[memory.KeyImportantFacts] = facts
	}
	for key, value := range entries {
		if err := a.memory.SetShortTerm(ctx, state.SessionID, key, value); err != nil {
			a.logger.Warn("agent: short-term memory write failed", zap.String("key", key), zap.Error(err))
		}
	}
}

// goalIntents open a user goal when the session has none yet.
var goalIntents = map[domain.IntentType]bool{
	domain.IntentHowTo:           true,
	domain.IntentTroubleshooting: true,
}

// sessionFacts lists what the session learned about the user. ClearSession
// consolidates them into long-term memory.
func sessionFacts(state *domain.ConversationState) []string {
	var facts []string
	if g := state.UserGoal; g != nil {
		fact := fmt.Sprintf("User goal (%s): %s", g.Type, g.Description)
		if g.Achieved {
			fact += " [achieved]"
		}
		facts = append(facts, fact)
	}
	keys := make([]string, 0, len(state.UserPreferences))
	for k := range state.UserPreferences {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		facts = append(facts, fmt.Sprintf("User prefers %s: %v", k, state.UserPreferences[k]))
	}
	return facts
}

// fail builds the apologetic reply and saves whatever state the turn had.
func (a *Agent) fail(ctx context.Context, t *turn, err error) *domain.Response {
	a.metrics.IncrTurn(observability.OutcomeError)

	var routing *domain.ErrRouting
	if errors.As(err, &routing) {
		t.log.Error("agent: no handler for intent", zap.String("intent", string(routing.IntentType)))
	} else {
		t.log.Error("agent: turn failed", zap.Error(err))
	}

	resp := &domain.Response{
		Content: ErrorReply,
		Metadata: domain.ResponseMetadata{
			HandlerName:      ErrorHandlerName,
			HandlerVersion:   foundation.Version,
			Confidence:       0,
			Error:            err.Error(),
			ProcessingTimeMs: time.Since(t.start).Milliseconds(),
			Extra:            map[string]any{},
		},
	}
	if t.state == nil {
		return resp
	}
	resp.Metadata.SessionID = t.state.SessionID
	resp.Metadata.OriginalIntent = t.original.Type
	resp.Metadata.EffectiveIntent = t.effective.Type
	if saveErr := a.state.SaveSession(ctx, t.state); saveErr != nil {
		t.log.Warn("agent: session not saved after failure", zap.Error(saveErr))
	}
	return resp
}

func userHistory(state *domain.ConversationState) []string {
	var out []string
	for _, m := range state.Messages {
		if m.Role == domain.RoleUser {
			out = append(out, m.Content)
		}
	}
	return out
}

func answerHistory(state *domain.ConversationState) []string {
	out := make([]string, 0, len(state.AnswersGiven))
	for _, a := range state.AnswersGiven {
		out = append(out, a.Answer)
	}
	return out
}

func calculationOf(resp *domain.Response) *quality.Calculation {
	if c, ok := resp.Metadata.Extra[foundation.ExtraCalculation].(quality.Calculation); ok {
		return &c
	}
	return nil
}

func intExtra(resp *domain.Response, key string) int {
	switch v := resp.Metadata.Extra[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// ============================================================================
// Knowledge and sessions
// ============================================================================

// IngestDocument chunks, embeds and stores a document for this agent.
func (a *Agent) IngestDocument(ctx context.Context, title, content string) (*domain.IngestResult, error) {
	ctx, span := tracer.Start(ctx, "Agent.IngestDocument")
	defer span.End()

	if strings.TrimSpace(content) == "" {
		return nil, &domain.ErrValidation{Field: "content", Message: "must not be empty"}
	}
	return a.rag.IngestDocument(ctx, a.profile.ID, domain.Document{Title: title, Content: content})
}

// DeleteDocument removes a document and its chunks.
func (a *Agent) DeleteDocument(ctx context.Context, documentID string) error {
	return a.rag.DeleteDocument(ctx, a.profile.ID, documentID)
}

// DocumentCount reports how many documents the agent has.
func (a *Agent) DocumentCount(ctx context.Context) (int, error) {
	return a.rag.DocumentCount(ctx, a.profile.ID)
}

// SearchKnowledge retrieves up to limit chunks for query using the
// profile's similarity threshold.
func (a *Agent) SearchKnowledge(ctx context.Context, query string, limit int) (*domain.RAGResult, error) {
	ctx, span := tracer.Start(ctx, "Agent.SearchKnowledge")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, &domain.ErrValidation{Field: "query", Message: "must not be empty"}
	}
	if limit <= 0 {
		limit = a.profile.Retrieval.TopK
	}
	return a.rag.Retrieve(ctx, a.profile.ID, query, limit, a.profile.Retrieval.MinSimilarity)
}

func (a *Agent) load(ctx context.Context, sessionID string) (*domain.ConversationState, error) {
	state, err := a.state.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, &domain.ErrNotFound{Resource: "session", ID: sessionID}
	}
	return state, nil
}

// History returns the last limit messages of a session, all when limit <= 0.
func (a *Agent) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	state, err := a.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return a.state.Messages(state, limit), nil
}

// Summary describes a session.
func (a *Agent) Summary(ctx context.Context, sessionID string) (domain.Summary, error) {
	state, err := a.load(ctx, sessionID)
	if err != nil {
		return domain.Summary{}, err
	}
	return a.state.ConversationSummary(state), nil
}

// Stats reports counters for a session.
func (a *Agent) Stats(ctx context.Context, sessionID string) (domain.Stats, error) {
	state, err := a.load(ctx, sessionID)
	if err != nil {
		return domain.Stats{}, err
	}
	return a.state.Stats(state), nil
}

// ClearSession consolidates the session's important facts into long-term
// memory and deletes it.
func (a *Agent) ClearSession(ctx context.Context, sessionID string) error {
	state, err := a.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if n, err := a.memory.Consolidate(ctx, sessionID, state.AgentID); err != nil {
		a.logger.Warn("agent: memory consolidation failed", zap.String("session_id", sessionID), zap.Error(err))
	} else if n > 0 {
		a.logger.Info("agent: consolidated facts", zap.String("session_id", sessionID), zap.Int("facts", n))
	}
	if err := a.state.DeleteSession(ctx, sessionID); err != nil {
		return err
	}

	a.mu.Lock()
	if a.sessionID == sessionID {
		a.sessionID = ""
	}
	a.mu.Unlock()
	return nil
}

// CleanupMemory removes long-term memory older than daysToKeep days.
func (a *Agent) CleanupMemory(ctx context.Context, daysToKeep int) (int64, error) {
	return a.memory.Cleanup(ctx, a.profile.ID, daysToKeep)
}
