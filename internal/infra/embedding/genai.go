// Package embedding provides port.Embedder implementations backed by the
// Gemini API and by a local Ollama server.
package embedding

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"
)

var tracer = otel.Tracer("embedding")

// DefaultGenAIModel is used when neither the profile nor the call names one.
const DefaultGenAIModel = "gemini-embedding-001"

const taskSemanticSimilarity = "SEMANTIC_SIMILARITY"

// GenAI embeds text with the Gemini API.
type GenAI struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGenAI creates a Gemini embedder. Documents and queries share the
// semantic-similarity task type so their vectors are comparable.
func NewGenAI(ctx context.Context, apiKey, model string) (*GenAI, error) {
	if apiKey == "" {
		return nil, errors.New("genai: API key is required")
	}
	if model == "" {
		model = DefaultGenAIModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai: failed to create client: %w", err)
	}
	return &GenAI{client: client, model: model, taskType: taskSemanticSimilarity}, nil
}

// Embed returns one vector per text in a single batch call. model overrides
// the configured model when set.
func (e *GenAI) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if model == "" {
		model = e.model
	}
	ctx, span := tracer.Start(ctx, "GenAI.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("embedding.model", model), attribute.Int("embedding.texts", len(texts)))

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{TaskType: e.taskType})
	if err != nil {
		return nil, fmt.Errorf("genai: embed failed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai: got %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Name identifies the engine in logs.
func (e *GenAI) Name() string { return "genai:" + e.model }
