// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the conversation
// pipeline from the concrete KV, SQL, embedding and LLM backends.
package port

import (
	"context"
	"database/sql"
	"time"

	"github.com/boddenberg/support-agent-go/internal/domain"
)

// KVStore is a key/value store with per-key TTL. Get reports a miss with
// ok=false and a nil error.
type KVStore interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SQLStore is the subset of *sql.DB the agent needs. Multi-statement
// writes go through BeginTx.
type SQLStore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// LLM generates text completions.
type LLM interface {
	Generate(ctx context.Context, req *domain.LLMRequest) (*domain.LLMResponse, error)
}

// IntentDetector classifies a user message in the context of a session.
type IntentDetector interface {
	Detect(ctx context.Context, message string, state *domain.ConversationState) (domain.Intent, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// Env bundles the environment bindings handed to an agent. KV and DB are
// required; AI and LLM are optional and disable retrieval or generation
// when nil.
type Env struct {
	KV  KVStore
	DB  SQLStore
	AI  Embedder
	LLM LLM
}
