// Package sqlite opens the relational store backing sessions, knowledge,
// memory and analytics, and creates its schema.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Open opens (or creates) the database at path and applies the schema.
// MemoryPath yields a single-connection in-memory database, so every caller
// sees the same data.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	var dsn string
	if path == MemoryPath || path == "" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if path == MemoryPath || path == "" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

// Migrate creates every table the agent uses. Safe to run repeatedly.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Timestamps are stored as unix nanoseconds so ORDER BY matches wall-clock order.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	user_id TEXT,
	started_at INTEGER NOT NULL,
	last_activity_at INTEGER NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	topics_discussed TEXT NOT NULL DEFAULT '[]',
	goal_achieved INTEGER NOT NULL DEFAULT 0,
	summary TEXT,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_activity ON sessions(user_id, last_activity_at);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	intent TEXT,
	timestamp INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, timestamp);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	title TEXT NOT NULL,
	file_type TEXT NOT NULL DEFAULT 'text',
	file_size INTEGER NOT NULL DEFAULT 0,
	content TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'processed',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_agent ON documents(agent_id);

CREATE TABLE IF NOT EXISTS rag_chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	text TEXT NOT NULL,
	embedding BLOB NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL,
	UNIQUE(agent_id, document_id, chunk_index)
);
CREATE INDEX IF NOT EXISTS idx_rag_chunks_agent ON rag_chunks(agent_id);

CREATE TABLE IF NOT EXISTS semantic_memory (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	learned_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_semantic_agent ON semantic_memory(agent_id, learned_at);

CREATE TABLE IF NOT EXISTS episodic_memory (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	summary TEXT NOT NULL,
	importance REAL NOT NULL DEFAULT 0.5,
	metadata TEXT NOT NULL DEFAULT '{}',
	occurred_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_episodic_user_agent ON episodic_memory(user_id, agent_id, occurred_at);

CREATE TABLE IF NOT EXISTS agent_analytics (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analytics_agent_type ON agent_analytics(agent_id, event_type);

CREATE TABLE IF NOT EXISTS kv_entries (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv_entries(expires_at);
`
