package supabase

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// KVTable is the PostgREST table holding the entries:
//
//	create table kv_entries (
//	  key text primary key,
//	  value text not null,
//	  expires_at timestamptz
//	);
const KVTable = "kv_entries"

// kvRow maps the kv_entries columns. Values are base64 so arbitrary bytes
// survive the JSON round trip.
type kvRow struct {
	Key       string     `json:"key"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// KVStore implements port.KVStore on a Supabase table.
type KVStore struct {
	client *Client
	table  string
	now    func() time.Time
}

// NewKVStore creates a store over KVTable.
func NewKVStore(client *Client) *KVStore {
	return &KVStore{client: client, table: KVTable, now: time.Now}
}

// Get returns the value for key. Expired rows read as a miss and are
// deleted in passing.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.KV.Get")
	defer span.End()
	span.SetAttributes(attribute.String("kv.key", key))

	path := fmt.Sprintf("%s?key=eq.%s&select=key,value,expires_at&limit=1", s.table, url.QueryEscape(key))
	body, err := s.client.call(ctx, "kv_get", func(ctx context.Context) ([]byte, error) {
		return s.client.doRequest(ctx, http.MethodGet, path, nil, "")
	})
	if err != nil {
		return nil, false, err
	}
	if body == nil {
		return nil, false, nil
	}

	var rows []kvRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, false, fmt.Errorf("failed to decode kv entry: %w", err)
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	row := rows[0]
	if row.ExpiresAt != nil && !row.ExpiresAt.After(s.now()) {
		if err := s.Delete(ctx, key); err != nil {
			s.client.logger.Warn("supabase: failed to drop expired key", zap.String("key", key), zap.Error(err))
		}
		return nil, false, nil
	}

	value, err := base64.StdEncoding.DecodeString(row.Value)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode kv value: %w", err)
	}
	return value, true, nil
}

// Put upserts key. A ttl <= 0 stores the key without expiry.
func (s *KVStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "Supabase.KV.Put")
	defer span.End()
	span.SetAttributes(attribute.String("kv.key", key))

	row := kvRow{Key: key, Value: base64.StdEncoding.EncodeToString(value)}
	if ttl > 0 {
		exp := s.now().Add(ttl).UTC()
		row.ExpiresAt = &exp
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return err
	}

	path := s.table + "?on_conflict=key"
	_, err = s.client.call(ctx, "kv_put", func(ctx context.Context) ([]byte, error) {
		return s.client.doRequest(ctx, http.MethodPost, path, bytes.NewReader(payload), "resolution=merge-duplicates,return=minimal")
	})
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KVStore) Delete(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "Supabase.KV.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("kv.key", key))

	path := fmt.Sprintf("%s?key=eq.%s", s.table, url.QueryEscape(key))
	_, err := s.client.call(ctx, "kv_delete", func(ctx context.Context) ([]byte, error) {
		return s.client.doRequest(ctx, http.MethodDelete, path, nil, "return=minimal")
	})
	return err
}
