package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/linkscan/internal/storage"
)

// DefaultHistoryMax is the default bounded history size.
const DefaultHistoryMax = 50

// HistoryEntry is one recorded notification attempt.
type HistoryEntry struct {
	Channel           string    `json:"channel"`
	DatasetType       string    `json:"dataset_type"`
	Context           string    `json:"context,omitempty"`
	Status            string    `json:"status"`
	Timestamp         time.Time `json:"timestamp"`
	Signature         string    `json:"signature"`
	Severity          string    `json:"severity"`
	SeverityThreshold string    `json:"severity_threshold,omitempty"`
	RecipientCount    int       `json:"recipient_count,omitempty"`
	WebhookCode       int       `json:"webhook_code,omitempty"`
	Error             string    `json:"error,omitempty"`
	Reason            string    `json:"reason,omitempty"`
}

// History is the bounded, persisted notification log. Append is batched:
// one persisted write per call regardless of entry count.
type History interface {
	Load(ctx context.Context) ([]HistoryEntry, error)
	Append(ctx context.Context, entries []HistoryEntry) error
}

// RedisHistory keeps history in a Redis list, newest first, truncated with
// LTRIM in the same pipeline as the push.
type RedisHistory struct {
	client redis.UniversalClient
	key    string
	max    int
}

// NewRedisHistory creates a Redis-backed history capped at max entries.
func NewRedisHistory(client redis.UniversalClient, key string, max int) *RedisHistory {
	if max <= 0 {
		max = DefaultHistoryMax
	}
	return &RedisHistory{client: client, key: key, max: max}
}

// Load returns history entries, newest first.
func (h *RedisHistory) Load(ctx context.Context) ([]HistoryEntry, error) {
	raw, err := h.client.LRange(ctx, h.key, 0, int64(h.max-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load notification history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(raw))
	for _, item := range raw {
		var entry HistoryEntry
		if unmarshalErr := json.Unmarshal([]byte(item), &entry); unmarshalErr != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Append pushes entries and truncates in one pipeline.
func (h *RedisHistory) Append(ctx context.Context, entries []HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := h.client.Pipeline()
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode history entry: %w", err)
		}
		pipe.LPush(ctx, h.key, data)
	}
	pipe.LTrim(ctx, h.key, 0, int64(h.max-1))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append notification history: %w", err)
	}
	return nil
}

// StoreHistory keeps history as a JSON array in the option store, for
// deployments without Redis.
type StoreHistory struct {
	store storage.OptionStore
	key   string
	max   int
}

// NewStoreHistory creates an option-store-backed history capped at max.
func NewStoreHistory(store storage.OptionStore, key string, max int) *StoreHistory {
	if max <= 0 {
		max = DefaultHistoryMax
	}
	return &StoreHistory{store: store, key: key, max: max}
}

// Load returns history entries, newest first.
func (h *StoreHistory) Load(ctx context.Context) ([]HistoryEntry, error) {
	raw, ok, err := h.store.Get(ctx, h.key)
	if err != nil {
		return nil, fmt.Errorf("load notification history: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var entries []HistoryEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode notification history: %w", err)
	}
	return entries, nil
}

// Append prepends entries, truncates from the oldest end and writes once.
func (h *StoreHistory) Append(ctx context.Context, entries []HistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}

	existing, err := h.Load(ctx)
	if err != nil {
		return err
	}

	merged := make([]HistoryEntry, 0, len(entries)+len(existing))
	for i := len(entries) - 1; i >= 0; i-- {
		merged = append(merged, entries[i])
	}
	merged = append(merged, existing...)
	if len(merged) > h.max {
		merged = merged[:h.max]
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode notification history: %w", err)
	}
	if err := h.store.Set(ctx, h.key, string(data), 0); err != nil {
		return fmt.Errorf("persist notification history: %w", err)
	}
	return nil
}
