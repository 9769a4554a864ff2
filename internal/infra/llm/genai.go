// Package llm provides the port.LLM implementation backed by the Gemini API.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/infra/observability"
	"github.com/boddenberg/support-agent-go/internal/infra/resilience"
)

var tracer = otel.Tracer("llm")

// DefaultModel is used when the profile names none.
const DefaultModel = "gemini-2.5-flash"

// Generator turns an LLMRequest into a completion. GenAI implements it;
// tests substitute their own.
type Generator interface {
	Generate(ctx context.Context, req *domain.LLMRequest) (*domain.LLMResponse, error)
}

// GenAI generates text with the Gemini API.
type GenAI struct {
	client *genai.Client
	model  string
}

// NewGenAI creates a Gemini generator.
func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	if apiKey == "" {
		return nil, errors.New("genai: API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: failed to create client: %w", err)
	}
	return &GenAI{client: client, model: model}, nil
}

// Generate sends the history with the system prompt as system instruction.
func (g *GenAI) Generate(ctx context.Context, req *domain.LLMRequest) (*domain.LLMResponse, error) {
	ctx, span := tracer.Start(ctx, "GenAI.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", g.model), attribute.Int("llm.messages", len(req.Messages)))

	contents := Contents(req.Messages)
	if len(contents) == 0 {
		return nil, &domain.ErrValidation{Field: "messages", Message: "at least one message is required"}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, Config(req))
	if err != nil {
		return nil, fmt.Errorf("genai: generate failed: %w", err)
	}

	out := &domain.LLMResponse{Content: resp.Text(), Model: g.model}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	span.SetAttributes(attribute.Int("llm.prompt_tokens", out.PromptTokens), attribute.Int("llm.completion_tokens", out.CompletionTokens))
	return out, nil
}

// Contents maps history onto Gemini roles. System messages are dropped;
// the system prompt travels as the system instruction instead.
func Contents(msgs []domain.LLMMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var role genai.Role
		switch m.Role {
		case domain.RoleUser:
			role = genai.RoleUser
		case domain.RoleAssistant:
			role = genai.RoleModel
		default:
			continue
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

// Config builds the generation config. Zero temperature and token limits
// leave the model defaults in place.
func Config(req *domain.LLMRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}

// Guarded protects a generator with a circuit breaker, retries and a
// concurrency limit.
type Guarded struct {
	inner    Generator
	cb       *gobreaker.CircuitBreaker
	cfg      resilience.Config
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
}

// NewGuarded wraps inner.
func NewGuarded(inner Generator, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics) *Guarded {
	return &Guarded{
		inner:    inner,
		cb:       cb,
		cfg:      cfg,
		bulkhead: resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics:  metrics,
	}
}

func (g *Guarded) Generate(ctx context.Context, req *domain.LLMRequest) (*domain.LLMResponse, error) {
	var out *domain.LLMResponse
	err := g.bulkhead.Do(ctx, func() error {
		var err error
		out, err = resilience.Call(ctx, g.cb, g.cfg, "llm", func(ctx context.Context) (*domain.LLMResponse, error) {
			return g.inner.Generate(ctx, req)
		})
		return err
	})
	if err != nil {
		g.metrics.IncrExternalError("llm")
		return nil, err
	}
	return out, nil
}
