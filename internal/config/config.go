package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// KV backends.
const (
	KVMemory   = "memory"
	KVSQLite   = "sqlite"
	KVSupabase = "supabase"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port           int
	LogLevel       string
	RequestTimeout time.Duration

	// Agent
	ProfilePath string

	// Storage
	DatabasePath string
	KVBackend    string

	// Supabase
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// Embeddings and generation
	EmbeddingProvider string
	EmbeddingModel    string
	OllamaURL         string
	GoogleAPIKey      string
	LLMModel          string
	LLMTemperature    float64
	MinSimilarity     float64

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	RouterCacheTTL time.Duration
	RAGCacheTTL    time.Duration

	// Observability
	OTLPEndpoint   string
	MetricsEnabled bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:           getEnvInt("PORT", 8080),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),

		ProfilePath: getEnv("AGENT_PROFILE", ""),

		DatabasePath: getEnv("DATABASE_PATH", "agent.db"),
		KVBackend:    strings.ToLower(getEnv("KV_BACKEND", KVSQLite)),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		EmbeddingProvider: strings.ToLower(getEnv("EMBEDDING_PROVIDER", "none")),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", ""),
		OllamaURL:         getEnv("OLLAMA_URL", "http://localhost:11434"),
		GoogleAPIKey:      getEnv("GOOGLE_API_KEY", ""),
		LLMModel:          getEnv("LLM_MODEL", ""),
		LLMTemperature:    getEnvFloat("LLM_TEMPERATURE", 0),
		MinSimilarity:     getEnvFloat("RAG_MIN_SIMILARITY", 0),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		RouterCacheTTL: getEnvDuration("ROUTER_CACHE_TTL", 60*time.Second),
		RAGCacheTTL:    getEnvDuration("RAG_CACHE_TTL", 5*time.Minute),

		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", true),
	}
}

// LLMEnabled reports whether generation can be wired.
func (c *Config) LLMEnabled() bool { return c.GoogleAPIKey != "" }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
