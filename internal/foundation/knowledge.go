package foundation

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/router"
)

var tracer = otel.Tracer("foundation")

const (
	additionalChunks = 2
	excerptLength    = 100
)

var ungroundedReplies = map[domain.IntentType]string{
	domain.IntentInformation:     "I'd be happy to provide information about that! However, I don't have specific details in my knowledge base at the moment. Could you rephrase your question or ask about something else I might be able to help with?",
	domain.IntentHowTo:           "I'd be happy to walk you through that! I don't have specific details for it in my knowledge base yet. Could you tell me a bit more, like which software you're using?",
	domain.IntentTroubleshooting: "Sorry you're running into that! I don't have specific details on this problem in my knowledge base yet. Could you tell me a bit more about what happens and when?",
}

// KnowledgeHandler answers information, how-to and troubleshooting
// questions from the agent's knowledge base, optionally phrased by the
// language model.
type KnowledgeHandler struct {
	logger *zap.Logger
}

// NewKnowledgeHandler creates the handler.
func NewKnowledgeHandler(logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{logger: logger}
}

func (h *KnowledgeHandler) Name() string    { return KnowledgeName }
func (h *KnowledgeHandler) Version() string { return Version }

func (h *KnowledgeHandler) CanHandle(intent domain.Intent, _ *router.HandlerContext) bool {
	switch intent.Type {
	case domain.IntentInformation, domain.IntentHowTo, domain.IntentTroubleshooting:
		return true
	}
	return false
}

// Handle retrieves matching chunks and records them on hctx so later
// stages can check citations.
func (h *KnowledgeHandler) Handle(ctx context.Context, message string, intent domain.Intent, hctx *router.HandlerContext) (*domain.Response, error) {
	ctx, span := tracer.Start(ctx, "KnowledgeHandler.Handle")
	defer span.End()

	result := h.retrieve(ctx, message, hctx)
	if result == nil || len(result.Chunks) == 0 {
		span.SetAttributes(attribute.Bool("knowledge.grounded", false))
		text, ok := ungroundedReplies[intent.Type]
		if !ok {
			text = ungroundedReplies[domain.IntentInformation]
		}
		resp := reply(text, 0.5)
		resp.Metadata.Extra[ExtraGrounded] = false
		return resp, nil
	}
	span.SetAttributes(attribute.Int("knowledge.chunks", len(result.Chunks)))

	ragContext := FormatContext(result)
	hctx.Retrieval = result
	hctx.RAGContext = ragContext

	resp := reply("", result.Confidence)
	resp.Metadata.Sources = sourcesWithExcerpts(result)
	resp.Metadata.Extra[ExtraGrounded] = true

	if hctx.Env.LLM != nil {
		out, err := hctx.Env.LLM.Generate(ctx, Request(hctx.Profile, hctx.State, message, ragContext))
		if err != nil {
			h.logger.Warn("knowledge: generation failed, answering from chunks", zap.Error(err))
		} else {
			resp.Content = strings.TrimSpace(out.Content)
			resp.Metadata.Extra[ExtraPromptTokens] = out.PromptTokens
			resp.Metadata.Extra[ExtraCompletionTokens] = out.CompletionTokens
		}
	}
	if resp.Content == "" {
		resp.Content = FormatAnswer(result)
	}
	resp.Content = withCitations(resp.Content, result.Sources)
	return resp, nil
}

func (h *KnowledgeHandler) retrieve(ctx context.Context, message string, hctx *router.HandlerContext) *domain.RAGResult {
	if hctx == nil || hctx.RAG == nil || !hctx.RAG.Enabled() {
		return nil
	}
	agentID := "default"
	var topK int
	var minSim float64
	if hctx.State != nil && hctx.State.AgentID != "" {
		agentID = hctx.State.AgentID
	}
	if hctx.Profile != nil {
		topK = hctx.Profile.Retrieval.TopK
		minSim = hctx.Profile.Retrieval.MinSimilarity
	}
	result, err := hctx.RAG.Retrieve(ctx, agentID, message, topK, minSim)
	if err != nil {
		h.logger.Warn("knowledge: retrieval failed", zap.String("agent_id", agentID), zap.Error(err))
		return nil
	}
	return result
}

// FormatAnswer builds a reply from the best chunk plus up to two more.
func FormatAnswer(result *domain.RAGResult) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(result.Chunks[0].Text))
	rest := result.Chunks[1:]
	if len(rest) > additionalChunks {
		rest = rest[:additionalChunks]
	}
	if len(rest) > 0 {
		b.WriteString("\n\nAdditional information:\n")
		for _, c := range rest {
			b.WriteString("\n• " + strings.TrimSpace(c.Text))
		}
	}
	return b.String()
}

// FormatContext joins the retrieved chunks for prompting, each tagged with
// its document id.
func FormatContext(result *domain.RAGResult) string {
	var b strings.Builder
	for i, c := range result.Chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s", c.DocumentID, strings.TrimSpace(c.Text))
	}
	return b.String()
}

func withCitations(content string, sources []domain.Source) string {
	if len(sources) == 0 {
		return content
	}
	var missing []string
	for _, s := range sources {
		if strings.Contains(content, s.ID) {
			continue
		}
		if s.Title != "" {
			missing = append(missing, fmt.Sprintf("%s (%s)", s.Title, s.ID))
		} else {
			missing = append(missing, s.ID)
		}
	}
	if len(missing) == 0 {
		return content
	}
	return content + "\n\nSource: " + strings.Join(missing, "; ")
}

func sourcesWithExcerpts(result *domain.RAGResult) []domain.Source {
	out := make([]domain.Source, len(result.Sources))
	for i, s := range result.Sources {
		out[i] = s
		for _, c := range result.Chunks {
			if c.DocumentID == s.ID {
				out[i].Excerpt = excerpt(c.Text)
				break
			}
		}
	}
	return out
}

func excerpt(text string) string {
	r := []rune(strings.TrimSpace(text))
	if len(r) <= excerptLength {
		return string(r)
	}
	return string(r[:excerptLength]) + "…"
}
