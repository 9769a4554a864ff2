// Package domain defines the entities shared by the conversation pipeline:
// profiles, intents, conversation state, responses, knowledge and errors.
package domain

// AgentProfile describes one agent. Loaded from YAML by the config package.
type AgentProfile struct {
	ID           string `yaml:"id" json:"id"`
	TenantID     string `yaml:"tenant_id" json:"tenantId"`
	Name         string `yaml:"name" json:"name"`
	SystemPrompt string `yaml:"system_prompt" json:"systemPrompt"`

	LLM struct {
		Provider    string  `yaml:"provider" json:"provider"`
		Model       string  `yaml:"model" json:"model"`
		Temperature float64 `yaml:"temperature" json:"temperature"`
		MaxTokens   int     `yaml:"max_tokens" json:"maxTokens"`
	} `yaml:"llm" json:"llm"`

	Embedding struct {
		Model string `yaml:"model" json:"model"`
	} `yaml:"embedding" json:"embedding"`

	Retrieval struct {
		TopK          int     `yaml:"top_k" json:"topK"`
		MinSimilarity float64 `yaml:"min_similarity" json:"minSimilarity"`
	} `yaml:"retrieval" json:"retrieval"`

	Constraints []string `yaml:"constraints" json:"constraints,omitempty"`

	// Policy holds enforced business rules. Tenant rules apply to every
	// agent of the tenant; agent rules to this profile only.
	Policy struct {
		Tenant []ConstraintRule `yaml:"tenant" json:"tenant,omitempty"`
		Agent  []ConstraintRule `yaml:"agent" json:"agent,omitempty"`
	} `yaml:"policy" json:"policy"`
}

// LLMMessage is one turn of history sent to a language model.
type LLMMessage struct {
	Role    Role
	Content string
}

// LLMRequest is a generation request.
type LLMRequest struct {
	SystemPrompt string
	Messages     []LLMMessage
	Temperature  float64
	MaxTokens    int
}

// LLMResponse is a generation result.
type LLMResponse struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	FinishReason     string
}

// AgentMetrics is the snapshot served by GET /v1/metrics/agent.
type AgentMetrics struct {
	TotalTurns          int64   `json:"total_turns"`
	ErrorRate           float64 `json:"error_rate"`
	FallbackRate        float64 `json:"fallback_rate"`
	RepeatOverrides     int64   `json:"repeat_overrides"`
	FrustrationOverride int64   `json:"frustration_overrides"`
	CriticalQuality     int64   `json:"critical_quality_issues"`
	AvgTokensPerTurn    float64 `json:"avg_tokens_per_turn"`
	CacheHitRate        float64 `json:"cache_hit_rate"`
	Period              string  `json:"period"`
}
