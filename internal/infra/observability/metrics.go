package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/boddenberg/support-agent-go/internal/domain"
)

// Metrics holds all Prometheus metrics for the agent. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	turnsTotal       *prometheus.CounterVec
	handlerSelected  *prometheus.CounterVec
	intentOverrides  *prometheus.CounterVec
	qualityScore     prometheus.Histogram
	qualityIssues    *prometheus.CounterVec
	validationFailed prometheus.Counter
	policyViolations *prometheus.CounterVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	tokensUsed       *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_operation_duration_seconds",
				Help:    "Duration of operations (turns, retrieval, ingestion).",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		turnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_turns_total",
				Help: "Conversation turns processed, by outcome.",
			},
			[]string{"outcome"},
		),
		handlerSelected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_handler_selected_total",
				Help: "Handler selections by the response router.",
			},
			[]string{"handler", "intent"},
		),
		intentOverrides: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_intent_overrides_total",
				Help: "Intents overridden by repetition or frustration detection.",
			},
			[]string{"override"},
		),
		qualityScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agent_quality_score",
				Help:    "Conversation quality score of outgoing responses.",
				Buckets: []float64{0, 30, 50, 70, 80, 90, 100},
			},
		),
		qualityIssues: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_quality_issues_total",
				Help: "Quality issues found, by type and severity.",
			},
			[]string{"type", "severity"},
		),
		validationFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_validation_failures_total",
				Help: "Responses rejected by technical validation.",
			},
		),
		policyViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_policy_violations_total",
				Help: "Business rule violations, by rule and severity.",
			},
			[]string{"rule", "severity"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_llm_tokens_total",
				Help: "Total LLM tokens consumed.",
			},
			[]string{"type"},
		),
	}
}

// Turn outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFallback = "fallback"
	OutcomeError    = "error"
)

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrTurn counts a finished turn.
func (m *Metrics) IncrTurn(outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

// IncrHandler counts a router selection.
func (m *Metrics) IncrHandler(handler string, intent domain.IntentType) {
	if m == nil {
		return
	}
	m.handlerSelected.WithLabelValues(handler, string(intent)).Inc()
}

// IncrIntentOverride counts a repeat or frustration override.
func (m *Metrics) IncrIntentOverride(override domain.IntentType) {
	if m == nil {
		return
	}
	m.intentOverrides.WithLabelValues(string(override)).Inc()
}

// RecordQuality records a quality gate outcome.
func (m *Metrics) RecordQuality(result domain.QualityResult) {
	if m == nil {
		return
	}
	m.qualityScore.Observe(float64(result.Score))
	for _, issue := range result.Issues {
		m.qualityIssues.WithLabelValues(string(issue.Type), string(issue.Severity)).Inc()
	}
}

// IncrValidationFailure counts a technical validation rejection.
func (m *Metrics) IncrValidationFailure() {
	if m == nil {
		return
	}
	m.validationFailed.Inc()
}

// IncrConstraintViolation counts a business rule violation.
func (m *Metrics) IncrConstraintViolation(rule string, severity domain.Severity) {
	if m == nil {
		return
	}
	m.policyViolations.WithLabelValues(rule, string(severity)).Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	if m == nil {
		return
	}
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	if m == nil {
		return
	}
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// Snapshot returns cumulative agent metrics for GET /v1/metrics/agent.
func (m *Metrics) Snapshot() *domain.AgentMetrics {
	if m == nil {
		return &domain.AgentMetrics{Period: "all_time"}
	}

	success := getCounterValue(m.turnsTotal, OutcomeSuccess)
	fallback := getCounterValue(m.turnsTotal, OutcomeFallback)
	errs := getCounterValue(m.turnsTotal, OutcomeError)
	total := success + fallback + errs

	tokens := getCounterValue(m.tokensUsed, "prompt") + getCounterValue(m.tokensUsed, "completion")

	var hits, misses float64
	for _, c := range []string{"router", "rag"} {
		hits += getCounterValue(m.cacheHits, c)
		misses += getCounterValue(m.cacheMisses, c)
	}

	var critical float64
	for _, t := range []domain.IssueType{
		domain.IssueVerbosity, domain.IssueHallucination, domain.IssueRepetition,
		domain.IssuePromise, domain.IssueTone, domain.IssueJargon, domain.IssueEmpathy,
	} {
		critical += getCounterValue(m.qualityIssues, string(t), string(domain.SeverityCritical))
	}

	out := &domain.AgentMetrics{
		TotalTurns:          int64(total),
		RepeatOverrides:     int64(getCounterValue(m.intentOverrides, string(domain.IntentRepeat))),
		FrustrationOverride: int64(getCounterValue(m.intentOverrides, string(domain.IntentFrustration))),
		CriticalQuality:     int64(critical),
		Period:              "all_time",
	}
	if total > 0 {
		out.ErrorRate = errs / total
		out.FallbackRate = fallback / total
		out.AvgTokensPerTurn = tokens / total
	}
	if hits+misses > 0 {
		out.CacheHitRate = hits / (hits + misses)
	}
	return out
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
