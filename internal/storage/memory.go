package storage

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process OptionStore for tests and single-process
// deployments. Expiry is checked lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value    string
	expireAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (e memoryEntry) expired(at time.Time) bool {
	return !e.expireAt.IsZero() && !at.Before(e.expireAt)
}

func (s *MemoryStore) get(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if entry.expired(s.now()) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) put(key, value string, ttl time.Duration) {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expireAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
}

// Get returns the value for key and whether it exists.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.get(key)
	if !ok {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key with an optional TTL.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(key, value, ttl)
	return nil
}

// SetNX stores value only if key does not exist.
func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.get(key); exists {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// CompareAndDelete removes key only when its value matches expect.
func (s *MemoryStore) CompareAndDelete(_ context.Context, key, expect string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.get(key)
	if !ok || entry.value != expect {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// Increment atomically increments the counter at key.
func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if key == "" {
		return 0, ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if entry, ok := s.get(key); ok {
		parsed, err := strconv.ParseInt(entry.value, 10, 64)
		if err == nil {
			current = parsed
		}
	}
	current++
	s.put(key, strconv.FormatInt(current, 10), ttl)
	return current, nil
}
