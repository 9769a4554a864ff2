package domain

import "time"

// Document is a knowledge-base document owned by an agent.
type Document struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Type      string         `json:"type"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
}

// Chunk is a slice of a document with exactly one embedding.
type Chunk struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	DocumentID string         `json:"documentId"`
	ChunkIndex int            `json:"chunkIndex"`
	Similarity float64        `json:"similarity,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RAGResult is the outcome of a retrieval.
type RAGResult struct {
	Chunks     []Chunk  `json:"chunks"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
	Cached     bool     `json:"cached"`
}

// IngestResult reports how a document was stored.
type IngestResult struct {
	DocumentID string `json:"documentId"`
	Chunks     int    `json:"chunks"`
	Embeddings int    `json:"embeddings"`
}

// CitationCheck reports chunks whose content is used without citing the source.
type CitationCheck struct {
	Valid   bool     `json:"valid"`
	Missing []string `json:"missingCitations"`
}
