package domain

import "time"

// Fact is a semantic-memory record scoped to an agent.
type Fact struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	LearnedAt time.Time      `json:"learnedAt"`
}

// Pattern is a learned behavioural pattern stored as a typed fact.
type Pattern struct {
	Pattern     string   `json:"pattern"`
	Description string   `json:"description"`
	Examples    []string `json:"examples,omitempty"`
}

// Episode is an episodic-memory record scoped to a user and agent.
type Episode struct {
	ID         string         `json:"id"`
	Summary    string         `json:"summary"`
	Importance float64        `json:"importance"`
	Metadata   map[string]any `json:"metadata"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Recall is the unified view returned by the memory system.
type Recall struct {
	ShortTerm map[string]any `json:"shortTerm"`
	Facts     []Fact         `json:"facts"`
	Episodes  []Episode      `json:"episodes"`
}
