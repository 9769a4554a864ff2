package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/infra/kv"
	"github.com/boddenberg/support-agent-go/internal/infra/sqlite"
	"github.com/boddenberg/support-agent-go/internal/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newSystem(t *testing.T) (*memory.System, *clock) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), sqlite.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := kv.NewMemory(time.Minute)
	t.Cleanup(store.Close)

	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return memory.NewSystem(store, db, zap.NewNop(), memory.WithClock(c.now)), c
}

func TestShortTerm_ScopedToSession(t *testing.T) {
	ctx := context.Background()
	sys, _ := newSystem(t)

	require.NoError(t, sys.SetShortTerm(ctx, "s1", memory.KeyLastTopic, "dpi"))

	var topic string
	ok, err := sys.GetShortTerm(ctx, "s1", memory.KeyLastTopic, &topic)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "dpi", topic)

	ok, err = sys.GetShortTerm(ctx, "s2", memory.KeyLastTopic, &topic)
	require.NoError(t, err)
	assert.False(t, ok, "short-term memory must not leak across sessions")
}

func TestShortTerm_SessionIDWithSeparator(t *testing.T) {
	ctx := context.Background()
	sys, _ := newSystem(t)

	require.NoError(t, sys.SetShortTerm(ctx, "alice:secret", "note", "alice private"))

	var note string
	ok, err := sys.GetShortTerm(ctx, "alice", "secret:note", &note)
	require.NoError(t, err)
	assert.False(t, ok, "a crafted session id must not reach another session's keys")
	assert.Empty(t, note)

	ok, err = sys.GetShortTerm(ctx, "alice:secret", "note", &note)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice private", note)
}

func TestFacts_NewestFirstAndFiltered(t *testing.T) {
	ctx := context.Background()
	sys, c := newSystem(t)

	for _, f := range []string{"customers prefer email", "100% cotton shirts", "refunds take 14 days"} {
		require.NoError(t, sys.StoreFact(ctx, "agent-1", f, nil))
		c.advance(time.Second)
	}
	require.NoError(t, sys.StoreFact(ctx, "agent-2", "other agent fact", nil))

	facts, err := sys.Facts(ctx, "agent-1", "")
	require.NoError(t, err)
	require.Len(t, facts, 3)
	assert.Equal(t, "refunds take 14 days", facts[0].Content)

	facts, err = sys.Facts(ctx, "agent-1", "refund")
	require.NoError(t, err)
	require.Len(t, facts, 1)

	// LIKE wildcards in the query are literal
	facts, err = sys.Facts(ctx, "agent-1", "100%")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "100% cotton shirts", facts[0].Content)
}

func TestFacts_LimitedToTen(t *testing.T) {
	ctx := context.Background()
	sys, c := newSystem(t)
	for i := 0; i < 15; i++ {
		require.NoError(t, sys.StoreFact(ctx, "a", "fact", nil))
		c.advance(time.Millisecond)
	}
	facts, err := sys.Facts(ctx, "a", "")
	require.NoError(t, err)
	assert.Len(t, facts, 10)
}

func TestPatterns(t *testing.T) {
	ctx := context.Background()
	sys, c := newSystem(t)

	require.NoError(t, sys.StoreFact(ctx, "a", "plain fact", nil))
	c.advance(time.Second)
	require.NoError(t, sys.StorePattern(ctx, "a", domain.Pattern{
		Pattern:     "asks about dpi after upload",
		Description: "Users ask about DPI right after uploading",
		Examples:    []string{"what dpi is this?"},
	}))

	patterns, err := sys.Patterns(ctx, "a")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "asks about dpi after upload", patterns[0].Pattern)
	assert.Equal(t, []string{"what dpi is this?"}, patterns[0].Examples)
}

func TestEpisodes_OrderedByRecencyThenImportance(t *testing.T) {
	ctx := context.Background()
	sys, c := newSystem(t)

	require.NoError(t, sys.StoreEpisode(ctx, "u1", "a", "old", 0.9, nil))
	c.advance(time.Hour)
	require.NoError(t, sys.StoreEpisode(ctx, "u1", "a", "recent-low", 0.1, nil))
	require.NoError(t, sys.StoreEpisode(ctx, "u1", "a", "recent-high", 0.8, nil))

	episodes, err := sys.Episodes(ctx, "u1", "a", 5)
	require.NoError(t, err)
	require.Len(t, episodes, 3)
	assert.Equal(t, []string{"recent-high", "recent-low", "old"},
		[]string{episodes[0].Summary, episodes[1].Summary, episodes[2].Summary})
}

func TestRecall(t *testing.T) {
	ctx := context.Background()
	sys, c := newSystem(t)

	require.NoError(t, sys.SetShortTerm(ctx, "s1", memory.KeyLastIntent, "information"))
	require.NoError(t, sys.StoreFact(ctx, "a", "DPI questions are common", nil))
	for i := 0; i < 5; i++ {
		require.NoError(t, sys.StoreEpisode(ctx, "u1", "a", "episode", 0.5, nil))
		c.advance(time.Minute)
	}

	r, err := sys.Recall(ctx, "s1", "u1", "a", "DPI")
	require.NoError(t, err)
	assert.Equal(t, "information", r.ShortTerm[memory.KeyLastIntent])
	assert.NotContains(t, r.ShortTerm, memory.KeyLastTopic)
	assert.Len(t, r.Facts, 1)
	assert.Len(t, r.Episodes, 3)

	anon, err := sys.Recall(ctx, "s1", "", "a", "DPI")
	require.NoError(t, err)
	assert.Empty(t, anon.Episodes)
}

func TestConsolidate(t *testing.T) {
	ctx := context.Background()
	sys, _ := newSystem(t)

	require.NoError(t, sys.SetShortTerm(ctx, "s1", memory.KeyImportantFacts, []string{"likes matte paper", ""}))
	n, err := sys.Consolidate(ctx, "s1", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	facts, err := sys.Facts(ctx, "a", "matte")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "consolidation", facts[0].Metadata["source"])

	n, err = sys.Consolidate(ctx, "s1", "a")
	require.NoError(t, err)
	assert.Zero(t, n, "consolidated facts are cleared from short-term")
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	sys, c := newSystem(t)

	require.NoError(t, sys.StoreFact(ctx, "a", "ancient", nil))
	require.NoError(t, sys.StoreEpisode(ctx, "u", "a", "ancient", 0.5, nil))
	c.advance(100 * 24 * time.Hour)
	require.NoError(t, sys.StoreFact(ctx, "a", "fresh", nil))

	removed, err := sys.Cleanup(ctx, "a", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, removed)

	facts, err := sys.Facts(ctx, "a", "")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "fresh", facts[0].Content)
}
