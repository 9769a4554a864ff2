// Package memory is the agent's multi-level memory: session-scoped
// short-term entries in the KV store, and semantic facts and episodic
// records in the relational store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boddenberg/support-agent-go/internal/domain"
	"github.com/boddenberg/support-agent-go/internal/port"
)

var tracer = otel.Tracer("memory")

const (
	// ShortTermTTL bounds every short-term entry.
	ShortTermTTL = time.Hour
	// DefaultRetentionDays is used by Cleanup when no retention is given.
	DefaultRetentionDays = 90

	factLimit      = 10
	recallEpisodes = 3
)

// Short-term keys read by Recall and Consolidate.
const (
	KeyLastIntent      = "lastIntent"
	KeyLastTopic       = "lastTopic"
	KeyUserPreferences = "userPreferences"
	KeyImportantFacts  = "importantFacts"
)

// System reads and writes every memory level.
type System struct {
	kv     port.KVStore
	db     port.SQLStore
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes a System.
type Option func(*System)

// WithClock overrides the time source used for timestamps and retention.
func WithClock(now func() time.Time) Option {
	return func(s *System) { s.now = now }
}

// NewSystem creates a memory system over the given stores.
func NewSystem(kv port.KVStore, db port.SQLStore, logger *zap.Logger, opts ...Option) *System {
	s := &System{kv: kv, db: db, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ============================================================================
// Short-term
// ============================================================================

// shortTermKey length-prefixes the session id so that ids containing ':'
// cannot address another session's keys.
func shortTermKey(sessionID, key string) string {
	return fmt.Sprintf("stm:%d:%s:%s", len(sessionID), sessionID, key)
}

// SetShortTerm stores value as JSON under the session for ShortTermTTL.
func (s *System) SetShortTerm(ctx context.Context, sessionID, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode short-term %s: %w", key, err)
	}
	return s.kv.Put(ctx, shortTermKey(sessionID, key), raw, ShortTermTTL)
}

// GetShortTerm decodes the stored value into dst. Reports false on a miss.
func (s *System) GetShortTerm(ctx context.Context, sessionID, key string, dst any) (bool, error) {
	raw, ok, err := s.kv.Get(ctx, shortTermKey(sessionID, key))
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode short-term %s: %w", key, err)
	}
	return true, nil
}

// DeleteShortTerm drops one short-term entry.
func (s *System) DeleteShortTerm(ctx context.Context, sessionID, key string) error {
	return s.kv.Delete(ctx, shortTermKey(sessionID, key))
}

// ============================================================================
// Semantic
// ============================================================================

// StoreFact appends a fact to the agent's semantic memory.
func (s *System) StoreFact(ctx context.Context, agentID, content string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode fact metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO semantic_memory (id, agent_id, content, metadata, learned_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), agentID, content, string(meta), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("store fact: %w", err)
	}
	return nil
}

// Facts returns the ten most recent facts, optionally filtered by a
// substring match on content.
func (s *System) Facts(ctx context.Context, agentID, query string) ([]domain.Fact, error) {
	q := `SELECT id, content, metadata, learned_at FROM semantic_memory WHERE agent_id = ?`
	args := []any{agentID}
	if query != "" {
		q += ` AND content LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(query)+"%")
	}
	q += ` ORDER BY learned_at DESC LIMIT ?`
	args = append(args, factLimit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	facts := []domain.Fact{}
	for rows.Next() {
		var (
			f    domain.Fact
			meta string
			ts   int64
		)
		if err := rows.Scan(&f.ID, &f.Content, &meta, &ts); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Metadata = decodeMeta(meta)
		f.LearnedAt = time.Unix(0, ts)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// StorePattern records a learned pattern as a typed fact.
func (s *System) StorePattern(ctx context.Context, agentID string, p domain.Pattern) error {
	examples := p.Examples
	if examples == nil {
		examples = []string{}
	}
	return s.StoreFact(ctx, agentID, p.Description, map[string]any{
		"type":     "pattern",
		"pattern":  p.Pattern,
		"examples": examples,
	})
}

// Patterns returns the patterns among the agent's most recent facts.
func (s *System) Patterns(ctx context.Context, agentID string) ([]domain.Pattern, error) {
	facts, err := s.Facts(ctx, agentID, "")
	if err != nil {
		return nil, err
	}
	var out []domain.Pattern
	for _, f := range facts {
		if f.Metadata["type"] != "pattern" {
			continue
		}
		p := domain.Pattern{Description: f.Content}
		p.Pattern, _ = f.Metadata["pattern"].(string)
		if raw, ok := f.Metadata["examples"].([]any); ok {
			for _, e := range raw {
				if str, ok := e.(string); ok {
					p.Examples = append(p.Examples, str)
				}
			}
		}
		out = append(out, p)
	}
	return out, nil
}

// ============================================================================
// Episodic
// ============================================================================

// StoreEpisode records an interaction summary for a user.
func (s *System) StoreEpisode(ctx context.Context, userID, agentID, summary string, importance float64, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encode episode metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodic_memory (id, user_id, agent_id, summary, importance, metadata, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, agentID, summary, importance, string(meta), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("store episode: %w", err)
	}
	return nil
}

// Episodes returns the user's most recent episodes, newest first and then
// by importance.
func (s *System) Episodes(ctx context.Context, userID, agentID string, limit int) ([]domain.Episode, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, summary, importance, metadata, occurred_at
		FROM episodic_memory
		WHERE user_id = ? AND agent_id = ?
		ORDER BY occurred_at DESC, importance DESC
		LIMIT ?`, userID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()

	episodes := []domain.Episode{}
	for rows.Next() {
		var (
			e    domain.Episode
			meta string
			ts   int64
		)
		if err := rows.Scan(&e.ID, &e.Summary, &e.Importance, &meta, &ts); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		e.Metadata = decodeMeta(meta)
		e.OccurredAt = time.Unix(0, ts)
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}

// ============================================================================
// Unified
// ============================================================================

// Recall gathers short-term entries, facts matching query and, when a user
// is known, their three latest episodes.
func (s *System) Recall(ctx context.Context, sessionID, userID, agentID, query string) (*domain.Recall, error) {
	ctx, span := tracer.Start(ctx, "System.Recall")
	defer span.End()

	out := &domain.Recall{ShortTerm: map[string]any{}, Facts: []domain.Fact{}, Episodes: []domain.Episode{}}

	for _, key := range []string{KeyLastIntent, KeyLastTopic, KeyUserPreferences} {
		var v any
		ok, err := s.GetShortTerm(ctx, sessionID, key, &v)
		if err != nil {
			return nil, err
		}
		if ok && v != nil {
			out.ShortTerm[key] = v
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		facts, err := s.Facts(gctx, agentID, query)
		if err != nil {
			return err
		}
		out.Facts = facts
		return nil
	})
	if userID != "" {
		g.Go(func() error {
			episodes, err := s.Episodes(gctx, userID, agentID, recallEpisodes)
			if err != nil {
				return err
			}
			out.Episodes = episodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Consolidate moves the session's importantFacts into semantic memory and
// clears them from short-term. Returns how many facts were stored.
func (s *System) Consolidate(ctx context.Context, sessionID, agentID string) (int, error) {
	var facts []string
	ok, err := s.GetShortTerm(ctx, sessionID, KeyImportantFacts, &facts)
	if err != nil || !ok {
		return 0, err
	}

	stored := 0
	for _, f := range facts {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if err := s.StoreFact(ctx, agentID, f, map[string]any{"source": "consolidation", "sessionId": sessionID}); err != nil {
			return stored, err
		}
		stored++
	}
	if err := s.DeleteShortTerm(ctx, sessionID, KeyImportantFacts); err != nil {
		s.logger.Warn("memory: failed to clear consolidated facts", zap.String("session_id", sessionID), zap.Error(err))
	}
	return stored, nil
}

// Cleanup deletes facts and episodes older than daysToKeep days.
// Returns the number of rows removed.
func (s *System) Cleanup(ctx context.Context, agentID string, daysToKeep int) (int64, error) {
	if daysToKeep <= 0 {
		daysToKeep = DefaultRetentionDays
	}
	cutoff := s.now().AddDate(0, 0, -daysToKeep).UnixNano()

	var total int64
	for _, q := range []string{
		`DELETE FROM semantic_memory WHERE agent_id = ? AND learned_at < ?`,
		`DELETE FROM episodic_memory WHERE agent_id = ? AND occurred_at < ?`,
	} {
		res, err := s.db.ExecContext(ctx, q, agentID, cutoff)
		if err != nil {
			return total, fmt.Errorf("memory cleanup: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	s.logger.Info("memory cleanup finished",
		zap.String("agent_id", agentID),
		zap.Int("days_to_keep", daysToKeep),
		zap.Int64("removed", total),
	)
	return total, nil
}

func decodeMeta(raw string) map[string]any {
	m := map[string]any{}
	_ = json.Unmarshal([]byte(raw), &m)
	return m
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
