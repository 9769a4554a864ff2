package embedding

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/infra/observability"
	"github.com/boddenberg/support-agent-go/internal/infra/resilience"
	"github.com/boddenberg/support-agent-go/internal/port"
)

// Providers accepted by New.
const (
	ProviderGenAI  = "genai"
	ProviderOllama = "ollama"
	ProviderNone   = "none"
)

// Config selects and configures an embedding provider.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	OllamaURL  string
	HTTPClient *http.Client
	Resilience resilience.Config
}

// New builds the configured embedder wrapped in a breaker, retries and a
// bulkhead. Provider "none" or "" returns nil: retrieval is disabled.
func New(ctx context.Context, cfg Config, metrics *observability.Metrics, logger *zap.Logger) (port.Embedder, error) {
	var inner port.Embedder
	switch cfg.Provider {
	case "", ProviderNone:
		logger.Info("embedding: no provider configured, retrieval disabled")
		return nil, nil
	case ProviderGenAI:
		g, err := NewGenAI(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		inner = g
	case ProviderOllama:
		inner = NewOllama(cfg.HTTPClient, cfg.OllamaURL, cfg.Model)
	default:
		return nil, fmt.Errorf("embedding: unknown provider %q", cfg.Provider)
	}
	logger.Info("embedding: provider ready", zap.String("provider", cfg.Provider), zap.String("model", cfg.Model))
	return NewGuarded(inner, "embedding", resilience.NewCircuitBreaker("embedding"), cfg.Resilience, metrics), nil
}

// Guarded protects an embedder with a circuit breaker, retries and a
// concurrency limit. Failures surface as domain errors.
type Guarded struct {
	inner    port.Embedder
	service  string
	cb       *gobreaker.CircuitBreaker
	cfg      resilience.Config
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
}

// NewGuarded wraps inner.
func NewGuarded(inner port.Embedder, service string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics) *Guarded {
	return &Guarded{
		inner:    inner,
		service:  service,
		cb:       cb,
		cfg:      cfg,
		bulkhead: resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics:  metrics,
	}
}

func (g *Guarded) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	var out [][]float32
	err := g.bulkhead.Do(ctx, func() error {
		var err error
		out, err = resilience.Call(ctx, g.cb, g.cfg, g.service, func(ctx context.Context) ([][]float32, error) {
			return g.inner.Embed(ctx, model, texts)
		})
		return err
	})
	if err != nil {
		g.metrics.IncrExternalError(g.service)
		return nil, err
	}
	return out, nil
}
