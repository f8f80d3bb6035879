package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	keys      []string
	expiresAt time.Time
}

// MemoryStore is an in-memory lookup cache. It is suitable for
// single-instance deployments and as a fallback when Redis is unavailable.
type MemoryStore struct {
	mu            sync.RWMutex
	recordTypes   map[string]memoryEntry
	comboKeys     map[string]memoryEntry
	recordTypeTTL time.Duration
	comboKeyTTL   time.Duration
}

func NewMemoryStore(recordTypeTTL, comboKeyTTL time.Duration) *MemoryStore {
	return &MemoryStore{
		recordTypes:   make(map[string]memoryEntry),
		comboKeys:     make(map[string]memoryEntry),
		recordTypeTTL: recordTypeTTL,
		comboKeyTTL:   comboKeyTTL,
	}
}

func (s *MemoryStore) GetRecordTypeID(_ context.Context, developerName string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.recordTypes[developerName]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false
	}
	return e.value, true
}

func (s *MemoryStore) SetRecordTypeID(_ context.Context, developerName, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordTypes[developerName] = memoryEntry{value: id, expiresAt: time.Now().Add(s.recordTypeTTL)}
}

func (s *MemoryStore) GetComboKeys(_ context.Context, email string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.comboKeys[strings.ToLower(email)]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	keys := make([]string, len(e.keys))
	copy(keys, e.keys)
	return keys, true
}

func (s *MemoryStore) SetComboKeys(_ context.Context, email string, keys []string) {
	stored := make([]string, len(keys))
	copy(stored, keys)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.comboKeys[strings.ToLower(email)] = memoryEntry{keys: stored, expiresAt: time.Now().Add(s.comboKeyTTL)}
}

func (s *MemoryStore) Close() error {
	return nil
}
