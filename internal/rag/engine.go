// Package rag implements retrieval-augmented generation support: document
// chunking, embedding at ingestion, brute-force cosine retrieval over an
// agent's chunks, and citation checks on generated answers.
package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/infra/observability"
	"github.com/boddenberg/support-agent-go/internal/port"
	"github.com/boddenberg/support-agent-go/internal/similarity"
)

var tracer = otel.Tracer("rag")

// Retrieval defaults.
const (
	DefaultTopK          = 5
	DefaultMinSimilarity = 0.7
	embedBatchSize       = 16
)

// Options configures an Engine.
type Options struct {
	// Model is passed to the embedder on every call.
	Model string
	// ChunkSize caps chunk length in characters. Zero means DefaultChunkSize.
	ChunkSize int
	// CacheTTL enables the KV retrieval cache when positive.
	CacheTTL time.Duration
}

// Engine stores and retrieves document chunks for agents.
type Engine struct {
	db      port.SQLStore
	ai      port.Embedder
	kv      port.KVStore
	opts    Options
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine creates a RAG engine. ai may be nil, in which case ingestion and
// retrieval fail with *domain.ErrNotConfigured. kv may be nil to disable caching.
func NewEngine(db port.SQLStore, ai port.Embedder, kv port.KVStore, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Engine{
		db:      db,
		ai:      ai,
		kv:      kv,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Enabled reports whether an embedder is wired.
func (e *Engine) Enabled() bool { return e.ai != nil }

// ============================================================================
// Ingestion
// ============================================================================

// IngestDocument stores doc, splits it into chunks and embeds each chunk
// once. Re-ingesting an existing document id replaces its chunks.
func (e *Engine) IngestDocument(ctx context.Context, agentID string, doc domain.Document) (*domain.IngestResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.IngestDocument")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	start := e.now()
	defer func() { e.metrics.RecordRequestDuration("rag_ingest", time.Since(start)) }()

	if e.ai == nil {
		return nil, &domain.ErrNotConfigured{Capability: "embeddings"}
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, &domain.ErrValidation{Field: "content", Message: "document content is empty"}
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Type == "" {
		doc.Type = "text"
	}
	if doc.Title == "" {
		doc.Title = doc.ID
	}

	chunks := SplitChunks(doc.Content, e.opts.ChunkSize)
	vectors, err := e.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	meta, _ := json.Marshal(nonNil(doc.Metadata))
	now := e.now().UnixNano()

	// Document row and chunks are replaced together or not at all.
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, agent_id, title, file_type, file_size, content, status, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'processed', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			file_type = excluded.file_type,
			file_size = excluded.file_size,
			content = excluded.content,
			metadata = excluded.metadata`,
		doc.ID, agentID, doc.Title, doc.Type, len(doc.Content), doc.Content, string(meta), now,
	); err != nil {
		return nil, fmt.Errorf("store document %s: %w", doc.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rag_chunks WHERE agent_id = ? AND document_id = ?`, agentID, doc.ID); err != nil {
		return nil, fmt.Errorf("clear chunks of %s: %w", doc.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO rag_chunks (id, document_id, agent_id, chunk_index, text, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	chunkMeta, _ := json.Marshal(map[string]any{"title": doc.Title, "type": doc.Type})
	for i, text := range chunks {
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), doc.ID, agentID, i, text, similarity.EncodeVector(vectors[i]), string(chunkMeta), now,
		); err != nil {
			return nil, fmt.Errorf("store chunk %d of %s: %w", i, doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit document %s: %w", doc.ID, err)
	}

	e.bumpGeneration(ctx, agentID)

	e.logger.Info("document ingested",
		zap.String("agent_id", agentID),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(chunks)),
	)

	return &domain.IngestResult{DocumentID: doc.ID, Chunks: len(chunks), Embeddings: len(vectors)}, nil
}

func (e *Engine) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for startIdx := 0; startIdx < len(texts); startIdx += embedBatchSize {
		end := min(startIdx+embedBatchSize, len(texts))
		vecs, err := e.ai.Embed(ctx, e.opts.Model, texts[startIdx:end])
		if err != nil {
			e.metrics.IncrExternalError("embedding")
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		if len(vecs) != end-startIdx {
			return nil, &domain.ErrExternalService{
				Service: "embedding",
				Err:     fmt.Errorf("expected %d vectors, got %d", end-startIdx, len(vecs)),
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// ============================================================================
// Retrieval
// ============================================================================

// Retrieve returns the agent's chunks most similar to query. topK <= 0 and
// minSimilarity <= 0 select the defaults.
func (e *Engine) Retrieve(ctx context.Context, agentID, query string, topK int, minSimilarity float64) (*domain.RAGResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	start := e.now()
	defer func() { e.metrics.RecordRequestDuration("rag_retrieve", time.Since(start)) }()

	if e.ai == nil {
		return nil, &domain.ErrNotConfigured{Capability: "embeddings"}
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if minSimilarity <= 0 {
		minSimilarity = DefaultMinSimilarity
	}

	cacheKey := e.cacheKey(ctx, agentID, query, topK, minSimilarity)
	if cached := e.cached(ctx, cacheKey); cached != nil {
		return cached, nil
	}

	var (
		queryVec []float32
		stored   []storedChunk
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := e.ai.Embed(gctx, e.opts.Model, []string{query})
		if err != nil {
			e.metrics.IncrExternalError("embedding")
			return fmt.Errorf("embed query: %w", err)
		}
		if len(vecs) != 1 {
			return &domain.ErrExternalService{Service: "embedding", Err: fmt.Errorf("expected 1 vector, got %d", len(vecs))}
		}
		queryVec = vecs[0]
		return nil
	})
	g.Go(func() error {
		var err error
		stored, err = e.loadChunks(gctx, agentID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scored := make([]domain.Chunk, 0, len(stored))
	for _, c := range stored {
		sim := similarity.Cosine(queryVec, c.vector)
		if sim < minSimilarity {
			continue
		}
		c.chunk.Similarity = sim
		scored = append(scored, c.chunk)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if len(scored) > topK {
		scored = scored[:topK]
	}

	sources, err := e.resolveSources(ctx, scored)
	if err != nil {
		return nil, err
	}

	result := &domain.RAGResult{Chunks: scored, Sources: sources}
	if len(scored) > 0 {
		result.Confidence = scored[0].Similarity
	}

	e.store(ctx, cacheKey, result)
	span.SetAttributes(attribute.Int("rag.chunks", len(scored)))
	return result, nil
}

type storedChunk struct {
	chunk  domain.Chunk
	vector []float32
}

func (e *Engine) loadChunks(ctx context.Context, agentID string) ([]storedChunk, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, text, embedding, metadata
		FROM rag_chunks WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	var out []storedChunk
	for rows.Next() {
		var (
			c    domain.Chunk
			blob []byte
			meta string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Text, &blob, &meta); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		_ = json.Unmarshal([]byte(meta), &c.Metadata)
		out = append(out, storedChunk{chunk: c, vector: similarity.DecodeVector(blob)})
	}
	return out, rows.Err()
}

func (e *Engine) resolveSources(ctx context.Context, chunks []domain.Chunk) ([]domain.Source, error) {
	var ids []string
	seen := map[string]bool{}
	for _, c := range chunks {
		if !seen[c.DocumentID] {
			seen[c.DocumentID] = true
			ids = append(ids, c.DocumentID)
		}
	}
	if len(ids) == 0 {
		return []domain.Source{}, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := e.db.QueryContext(ctx,
		`SELECT id, title FROM documents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve sources: %w", err)
	}
	defer rows.Close()

	titles := map[string]string{}
	for rows.Next() {
		var id, title string
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		titles[id] = title
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sources := make([]domain.Source, 0, len(ids))
	for _, id := range ids {
		title, ok := titles[id]
		if !ok {
			continue
		}
		sources = append(sources, domain.Source{ID: id, Title: title})
	}
	return sources, nil
}

// ============================================================================
// Documents
// ============================================================================

// DeleteDocument removes a document and its chunks.
func (e *Engine) DeleteDocument(ctx context.Context, agentID, documentID string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE agent_id = ? AND id = ?`, agentID, documentID)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ErrNotFound{Resource: "document", ID: documentID}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rag_chunks WHERE agent_id = ? AND document_id = ?`, agentID, documentID); err != nil {
		return fmt.Errorf("delete chunks of %s: %w", documentID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete of %s: %w", documentID, err)
	}
	e.bumpGeneration(ctx, agentID)
	return nil
}

// DocumentCount returns how many documents the agent owns.
func (e *Engine) DocumentCount(ctx context.Context, agentID string) (int, error) {
	var n int
	err := e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE agent_id = ?`, agentID).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// ============================================================================
// Citations
// ============================================================================

// ValidateCitations delegates to the package-level check.
func (e *Engine) ValidateCitations(answer string, result *domain.RAGResult) domain.CitationCheck {
	return ValidateCitations(answer, result)
}

// ValidateCitations flags chunks that share more than three long words
// (over four characters) with answer while their document id is absent from it.
func ValidateCitations(answer string, result *domain.RAGResult) domain.CitationCheck {
	check := domain.CitationCheck{Valid: true, Missing: []string{}}
	if result == nil {
		return check
	}

	lower := strings.ToLower(answer)
	flagged := map[string]bool{}
	for _, c := range result.Chunks {
		shared := 0
		for _, w := range strings.Fields(strings.ToLower(c.Text)) {
			if len(w) > 4 && strings.Contains(lower, w) {
				shared++
			}
		}
		if shared > 3 && !strings.Contains(answer, c.DocumentID) && !flagged[c.DocumentID] {
			flagged[c.DocumentID] = true
			check.Missing = append(check.Missing, c.DocumentID)
		}
	}
	check.Valid = len(check.Missing) == 0
	return check
}

// ============================================================================
// Cache
// ============================================================================

func (e *Engine) cachingEnabled() bool { return e.kv != nil && e.opts.CacheTTL > 0 }

func generationKey(agentID string) string { return "rag:gen:" + agentID }

func (e *Engine) generation(ctx context.Context, agentID string) string {
	raw, ok, err := e.kv.Get(ctx, generationKey(agentID))
	if err != nil || !ok {
		return "0"
	}
	return string(raw)
}

// bumpGeneration invalidates every cached retrieval of the agent.
func (e *Engine) bumpGeneration(ctx context.Context, agentID string) {
	if !e.cachingEnabled() {
		return
	}
	next := strconv.FormatInt(e.now().UnixNano(), 10)
	if err := e.kv.Put(ctx, generationKey(agentID), []byte(next), 0); err != nil {
		e.logger.Warn("rag: failed to bump cache generation", zap.String("agent_id", agentID), zap.Error(err))
	}
}

func (e *Engine) cacheKey(ctx context.Context, agentID, query string, topK int, minSim float64) string {
	if !e.cachingEnabled() {
		return ""
	}
	return fmt.Sprintf("rag:%s:%s:%d:%.3f:%s",
		agentID, e.generation(ctx, agentID), topK, minSim, similarity.Normalize(query))
}

func (e *Engine) cached(ctx context.Context, key string) *domain.RAGResult {
	if key == "" {
		return nil
	}
	raw, ok, err := e.kv.Get(ctx, key)
	if err != nil || !ok {
		e.metrics.IncrCacheMiss("rag")
		return nil
	}
	var result domain.RAGResult
	if err := json.Unmarshal(raw, &result); err != nil {
		e.metrics.IncrCacheMiss("rag")
		return nil
	}
	e.metrics.IncrCacheHit("rag")
	result.Cached = true
	return &result
}

func (e *Engine) store(ctx context.Context, key string, result *domain.RAGResult) {
	if key == "" {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := e.kv.Put(ctx, key, raw, e.opts.CacheTTL); err != nil {
		e.logger.Warn("rag: failed to cache retrieval", zap.Error(err))
	}
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
