package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/boddenberg/support-agent-go/internal/domain"
)

//go:embed profile.yaml
var defaultProfileYAML []byte

// LoadProfile reads the agent profile at path, or the embedded default when
// path is empty. Environment overrides from cfg are applied last.
func LoadProfile(path string, cfg *Config) (*domain.AgentProfile, error) {
	raw := defaultProfileYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read profile %s: %w", path, err)
		}
		raw = b
	}

	p, err := ParseProfile(raw)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		cfg.applyTo(p)
	}
	return p, nil
}

// ParseProfile decodes a YAML profile and validates it. Unknown keys are
// rejected so typos do not pass silently.
func ParseProfile(raw []byte) (*domain.AgentProfile, error) {
	var p domain.AgentProfile
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	if strings.TrimSpace(p.ID) == "" {
		return nil, &domain.ErrValidation{Field: "id", Message: "profile id is required"}
	}
	if p.TenantID == "" {
		p.TenantID = "default"
	}
	if p.Retrieval.MinSimilarity < 0 || p.Retrieval.MinSimilarity > 1 {
		return nil, &domain.ErrValidation{Field: "retrieval.min_similarity", Message: "must be between 0 and 1"}
	}
	if p.Retrieval.TopK < 0 {
		return nil, &domain.ErrValidation{Field: "retrieval.top_k", Message: "must not be negative"}
	}
	return &p, nil
}

// DefaultProfile returns the embedded profile.
func DefaultProfile() *domain.AgentProfile {
	p, err := ParseProfile(defaultProfileYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded profile is invalid: %v", err))
	}
	return p
}

func (c *Config) applyTo(p *domain.AgentProfile) {
	if c.LLMModel != "" {
		p.LLM.Model = c.LLMModel
	}
	if c.LLMTemperature > 0 {
		p.LLM.Temperature = c.LLMTemperature
	}
	if c.EmbeddingModel != "" {
		p.Embedding.Model = c.EmbeddingModel
	}
	if c.MinSimilarity > 0 {
		p.Retrieval.MinSimilarity = c.MinSimilarity
	}
}
