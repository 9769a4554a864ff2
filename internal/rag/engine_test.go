package rag_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/infra/kv"
	"github.com/boddenberg/support-agent-go/internal/infra/observability"
	"github.com/boddenberg/support-agent-go/internal/infra/sqlite"
	"github.com/boddenberg/support-agent-go/internal/rag"
)

// --- Mocks ---

// keywordEmbedder maps text onto a fixed keyword vocabulary, so similarity
// follows shared keywords.
type keywordEmbedder struct {
	mu    sync.Mutex
	calls int
	texts int
	err   error
}

var vocabulary = []string{"dpi", "resolution", "print", "color", "cmyk", "refund", "shipping", "order"}

func (k *keywordEmbedder) Embed(_ context.Context, _ string, texts []string) ([][]float32, error) {
	k.mu.Lock()
	k.calls++
	k.texts += len(texts)
	k.mu.Unlock()
	if k.err != nil {
		return nil, k.err
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		lower := strings.ToLower(t)
		v := make([]float32, len(vocabulary))
		for j, w := range vocabulary {
			v[j] = float32(strings.Count(lower, w))
		}
		out[i] = v
	}
	return out, nil
}

func newEngine(t *testing.T, ai *keywordEmbedder, cacheTTL time.Duration) *rag.Engine {
	t.Helper()
	engine, _ := newEngineWithDB(t, ai, rag.Options{Model: "test", CacheTTL: cacheTTL})
	return engine
}

func newEngineWithDB(t *testing.T, ai *keywordEmbedder, opts rag.Options) (*rag.Engine, *sql.DB) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := kv.NewMemory(time.Minute)
	t.Cleanup(store.Close)

	return rag.NewEngine(db, ai, store, opts, observability.NewMetrics(), zap.NewNop()), db
}

const dpiDoc = `DPI means dots per inch. Higher DPI gives a sharper print resolution.

Refunds are issued within 14 days of an order. Shipping costs are not refunded.`

// --- Tests ---

func TestSplitChunks(t *testing.T) {
	t.Run("packs paragraphs up to the limit", func(t *testing.T) {
		chunks := rag.SplitChunks("aaa\n\nbbb\n\n\nccc", 8)
		assert.Equal(t, []string{"aaa\n\nbbb", "ccc"}, chunks)
	})

	t.Run("splits oversize paragraphs on word boundaries", func(t *testing.T) {
		long := strings.Repeat("word ", 300)
		chunks := rag.SplitChunks(long, rag.DefaultChunkSize)
		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len([]rune(c)), rag.DefaultChunkSize)
			assert.False(t, strings.HasPrefix(c, " "))
		}
	})

	t.Run("empty content", func(t *testing.T) {
		assert.Empty(t, rag.SplitChunks("\n\n  \n\n", 100))
	})
}

func TestIngestAndRetrieve(t *testing.T) {
	ctx := context.Background()
	ai := &keywordEmbedder{}
	engine := newEngine(t, ai, 0)

	res, err := engine.IngestDocument(ctx, "agent-1", domain.Document{
		ID:      "doc-dpi",
		Title:   "Print guide",
		Content: strings.Repeat("DPI and print resolution matter. ", 10) + "\n\n" + strings.Repeat("Refund order shipping. ", 20),
	})
	require.NoError(t, err)
	assert.Equal(t, "doc-dpi", res.DocumentID)
	assert.Equal(t, res.Chunks, res.Embeddings)
	assert.Equal(t, res.Chunks, ai.texts, "one embedding per chunk")

	result, err := engine.Retrieve(ctx, "agent-1", "what dpi for print resolution", 5, 0.7)
	require.NoError(t, err)
	require.NotEmpty(t, result.Chunks)
	assert.Contains(t, result.Chunks[0].Text, "DPI")
	assert.Equal(t, result.Chunks[0].Similarity, result.Confidence)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, domain.Source{ID: "doc-dpi", Title: "Print guide"}, result.Sources[0])

	for i := 1; i < len(result.Chunks); i++ {
		assert.GreaterOrEqual(t, result.Chunks[i-1].Similarity, result.Chunks[i].Similarity)
	}
	for _, c := range result.Chunks {
		assert.GreaterOrEqual(t, c.Similarity, 0.7)
	}
}

func TestRetrieve_IsolatedPerAgent(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, &keywordEmbedder{}, 0)

	_, err := engine.IngestDocument(ctx, "agent-a", domain.Document{ID: "d1", Title: "A", Content: dpiDoc})
	require.NoError(t, err)

	result, err := engine.Retrieve(ctx, "agent-b", "dpi", 5, 0.1)
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)
	assert.Zero(t, result.Confidence)
	assert.Empty(t, result.Sources)
}

func TestRetrieve_TopK(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, &keywordEmbedder{}, 0)

	var paragraphs []string
	for i := 0; i < 6; i++ {
		paragraphs = append(paragraphs, strings.Repeat("dpi print ", 30))
	}
	_, err := engine.IngestDocument(ctx, "agent-1", domain.Document{Title: "many", Content: strings.Join(paragraphs, "\n\n")})
	require.NoError(t, err)

	result, err := engine.Retrieve(ctx, "agent-1", "dpi print", 2, 0.5)
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 2)
}

func TestReingestReplacesChunks(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, &keywordEmbedder{}, 0)

	_, err := engine.IngestDocument(ctx, "agent-1", domain.Document{ID: "d1", Title: "v1", Content: "dpi dpi dpi"})
	require.NoError(t, err)
	_, err = engine.IngestDocument(ctx, "agent-1", domain.Document{ID: "d1", Title: "v2", Content: "refund refund"})
	require.NoError(t, err)

	result, err := engine.Retrieve(ctx, "agent-1", "dpi", 5, 0.1)
	require.NoError(t, err)
	assert.Empty(t, result.Chunks)

	n, err := engine.DocumentCount(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func chunkTexts(t *testing.T, db *sql.DB, documentID string) []string {
	t.Helper()
	rows, err := db.QueryContext(context.Background(),
		`SELECT text FROM rag_chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	require.NoError(t, err)
	defer rows.Close()
	var out []string
	for rows.Next() {
		var text string
		require.NoError(t, rows.Scan(&text))
		out = append(out, text)
	}
	require.NoError(t, rows.Err())
	return out
}

func documentTitle(t *testing.T, db *sql.DB, documentID string) string {
	t.Helper()
	var title string
	require.NoError(t, db.QueryRowContext(context.Background(),
		`SELECT title FROM documents WHERE id = ?`, documentID).Scan(&title))
	return title
}

func TestReingest_FailedChunkWriteKeepsPreviousVersion(t *testing.T) {
	ctx := context.Background()
	engine, db := newEngineWithDB(t, &keywordEmbedder{}, rag.Options{Model: "test", ChunkSize: 5})

	_, err := engine.IngestDocument(ctx, "agent-1", domain.Document{ID: "d1", Title: "v1", Content: "dpi\n\nprint\n\ncolor"})
	require.NoError(t, err)
	require.Equal(t, []string{"dpi", "print", "color"}, chunkTexts(t, db, "d1"))

	_, err = db.ExecContext(ctx, `
		CREATE TRIGGER fail_second_chunk BEFORE INSERT ON rag_chunks
		WHEN NEW.chunk_index = 1
		BEGIN SELECT RAISE(ABORT, 'disk full'); END`)
	require.NoError(t, err)

	_, err = engine.IngestDocument(ctx, "agent-1", domain.Document{ID: "d1", Title: "v2", Content: "cmyk\n\norder\n\nship"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store chunk 1 of d1")

	assert.Equal(t, []string{"dpi", "print", "color"}, chunkTexts(t, db, "d1"))
	assert.Equal(t, "v1", documentTitle(t, db, "d1"))
}

func TestDeleteDocument_FailedChunkDeleteKeepsDocument(t *testing.T) {
	ctx := context.Background()
	engine, db := newEngineWithDB(t, &keywordEmbedder{}, rag.Options{Model: "test"})

	_, err := engine.IngestDocument(ctx, "agent-1", domain.Document{ID: "d1", Title: "t", Content: dpiDoc})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		CREATE TRIGGER keep_chunks BEFORE DELETE ON rag_chunks
		BEGIN SELECT RAISE(ABORT, 'locked'); END`)
	require.NoError(t, err)

	require.Error(t, engine.DeleteDocument(ctx, "agent-1", "d1"))

	n, err := engine.DocumentCount(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "document row survives a failed delete")
	assert.NotEmpty(t, chunkTexts(t, db, "d1"))
}

func TestDeleteDocument(t *testing.T) {
	ctx := context.Background()
	engine := newEngine(t, &keywordEmbedder{}, 0)

	_, err := engine.IngestDocument(ctx, "agent-1", domain.Document{ID: "d1", Title: "t", Content: dpiDoc})
	require.NoError(t, err)
	require.NoError(t, engine.DeleteDocument(ctx, "agent-1", "d1"))

	n, err := engine.DocumentCount(ctx, "agent-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	var nf *domain.ErrNotFound
	assert.ErrorAs(t, engine.DeleteDocument(ctx, "agent-1", "d1"), &nf)
}

func TestRetrieve_CacheInvalidatedOnIngest(t *testing.T) {
	ctx := context.Background()
	ai := &keywordEmbedder{}
	engine := newEngine(t, ai, time.Minute)

	_, err := engine.IngestDocument(ctx, "agent-1", domain.Document{ID: "d1", Title: "t", Content: "dpi print"})
	require.NoError(t, err)

	first, err := engine.Retrieve(ctx, "agent-1", "dpi print", 5, 0.5)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := engine.Retrieve(ctx, "agent-1", "DPI   print", 5, 0.5)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Chunks, second.Chunks)

	_, err = engine.IngestDocument(ctx, "agent-1", domain.Document{ID: "d2", Title: "t2", Content: "dpi print again"})
	require.NoError(t, err)

	third, err := engine.Retrieve(ctx, "agent-1", "dpi print", 5, 0.5)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Len(t, third.Chunks, 2)
}

func TestEngine_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no embedder", func(t *testing.T) {
		db, err := sqlite.Open(ctx, sqlite.MemoryPath)
		require.NoError(t, err)
		defer db.Close()
		engine := rag.NewEngine(db, nil, nil, rag.Options{}, nil, zap.NewNop())

		var nc *domain.ErrNotConfigured
		_, err = engine.Retrieve(ctx, "a", "q", 0, 0)
		assert.ErrorAs(t, err, &nc)
		assert.False(t, engine.Enabled())
	})

	t.Run("embedder failure", func(t *testing.T) {
		engine := newEngine(t, &keywordEmbedder{err: errors.New("quota")}, 0)
		_, err := engine.IngestDocument(ctx, "a", domain.Document{Content: "x"})
		assert.Error(t, err)
	})

	t.Run("empty content", func(t *testing.T) {
		engine := newEngine(t, &keywordEmbedder{}, 0)
		var ve *domain.ErrValidation
		_, err := engine.IngestDocument(ctx, "a", domain.Document{Content: "   "})
		assert.ErrorAs(t, err, &ve)
	})
}

func TestValidateCitations(t *testing.T) {
	result := &domain.RAGResult{Chunks: []domain.Chunk{{
		DocumentID: "doc-42",
		Text:       "Refunds are processed within fourteen business days after approval",
	}}}

	uncited := "Refunds are processed within fourteen business days."
	check := rag.ValidateCitations(uncited, result)
	assert.False(t, check.Valid)
	assert.Equal(t, []string{"doc-42"}, check.Missing)

	cited := uncited + " Source: Policy (doc-42)"
	assert.True(t, rag.ValidateCitations(cited, result).Valid)

	unrelated := "Hello there, how can I help?"
	assert.True(t, rag.ValidateCitations(unrelated, result).Valid)
	assert.True(t, rag.ValidateCitations("anything", nil).Valid)
}
