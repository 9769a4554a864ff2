package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/boddenberg/support-agent-go/internal/config"
	"github.com/boddenberg/support-agent-go/internal/infra/embedding"
	"github.com/boddenberg/support-agent-go/internal/infra/kv"
	"github.com/boddenberg/support-agent-go/internal/infra/llm"
	"github.com/boddenberg/support-agent-go/internal/infra/observability"
	"github.com/boddenberg/support-agent-go/internal/infra/resilience"
	"github.com/boddenberg/support-agent-go/internal/infra/sqlite"
	"github.com/boddenberg/support-agent-go/internal/infra/supabase"
	"github.com/boddenberg/support-agent-go/internal/port"
	"github.com/boddenberg/support-agent-go/internal/service"
)

// app owns everything a command needs and releases it in Close.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	db      *sql.DB
	kv      port.KVStore
	agent   *service.Agent

	closers []func()
}

// overrides are the root command's persistent flags. Zero values keep the
// environment's setting.
type overrides struct {
	profile string
	port    int
}

func newApp(ctx context.Context, o overrides) (*app, error) {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()
	if o.profile != "" {
		cfg.ProfilePath = o.profile
	}
	if o.port > 0 {
		cfg.Port = o.port
	}

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("kv_backend", cfg.KVBackend),
		zap.String("database_path", cfg.DatabasePath),
		zap.String("embedding_provider", cfg.EmbeddingProvider),
		zap.Bool("llm_enabled", cfg.LLMEnabled()),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	a := &app{cfg: cfg, logger: logger}
	a.closers = append(a.closers, func() { _ = logger.Sync() })

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "support-agent")
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.closers = append(a.closers, func() { _ = shutdown(context.Background()) })

	// --- Metrics ---
	if cfg.MetricsEnabled {
		a.metrics = observability.NewMetrics()
	}

	// --- Storage ---
	db, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() { _ = db.Close() })

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	if err := a.openKV(resilienceCfg, httpClient); err != nil {
		a.Close()
		return nil, err
	}

	// --- Agent profile ---
	profile, err := config.LoadProfile(cfg.ProfilePath, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	// --- Embeddings and generation ---
	embedder, err := embedding.New(ctx, embedding.Config{
		Provider:   cfg.EmbeddingProvider,
		Model:      profile.Embedding.Model,
		APIKey:     cfg.GoogleAPIKey,
		OllamaURL:  cfg.OllamaURL,
		HTTPClient: httpClient,
		Resilience: resilienceCfg,
	}, a.metrics, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	env := port.Env{KV: a.kv, DB: db}
	if embedder != nil {
		env.AI = embedder
	}
	if cfg.LLMEnabled() {
		gen, err := llm.NewGenAI(ctx, cfg.GoogleAPIKey, profile.LLM.Model)
		if err != nil {
			a.Close()
			return nil, err
		}
		env.LLM = llm.NewGuarded(gen, resilience.NewCircuitBreaker("llm"), resilienceCfg, a.metrics)
		logger.Info("llm fallback enabled", zap.String("model", profile.LLM.Model))
	} else {
		logger.Warn("llm: GOOGLE_API_KEY not set, generation disabled")
	}

	// --- Agent ---
	agent, err := service.NewAgent(profile, env, a.metrics, logger,
		service.WithRouterCacheTTL(cfg.RouterCacheTTL),
		service.WithRAGCacheTTL(cfg.RAGCacheTTL),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.agent = agent
	a.closers = append(a.closers, agent.Close)

	logger.Info("agent ready",
		zap.String("agent_id", profile.ID),
		zap.String("tenant_id", profile.TenantID),
		zap.String("name", profile.Name),
	)
	return a, nil
}

func (a *app) openKV(resilienceCfg resilience.Config, httpClient *http.Client) error {
	switch a.cfg.KVBackend {
	case config.KVMemory:
		store := kv.NewMemory(0)
		a.kv = store
		a.closers = append(a.closers, store.Close)
	case config.KVSQLite:
		a.kv = kv.NewSQLite(a.db)
	case config.KVSupabase:
		if a.cfg.SupabaseURL == "" {
			return fmt.Errorf("kv backend %q requires SUPABASE_URL", config.KVSupabase)
		}
		a.logger.Info("using Supabase as KV backend",
			zap.String("supabase_url", a.cfg.SupabaseURL),
		)
		client := supabase.NewClient(
			httpClient,
			a.cfg.SupabaseURL,
			a.cfg.SupabaseAnonKey,
			a.cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilienceCfg,
			a.logger,
		)
		a.kv = supabase.NewKVStore(client)
	default:
		return fmt.Errorf("unknown kv backend %q", a.cfg.KVBackend)
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
