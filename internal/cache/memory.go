package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
)

type memoryEntry struct {
	raw       []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-instance deployments and
// tests. Entries are copied through JSON so callers never share state with
// the store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get loads the context for conversationID, dropping it if expired.
func (s *MemoryStore) Get(_ context.Context, conversationID string) (*domain.ConversationContext, error) {
	s.mu.Lock()
	e, ok := s.entries[Key(conversationID)]
	if ok && !s.now().Before(e.expiresAt) {
		delete(s.entries, Key(conversationID))
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var c domain.ConversationContext
	if err := json.Unmarshal(e.raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Put stores c under conversationID for ttl.
func (s *MemoryStore) Put(_ context.Context, conversationID string, c *domain.ConversationContext, ttl time.Duration) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[Key(conversationID)] = memoryEntry{raw: raw, expiresAt: s.now().Add(ttl)}
	return nil
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked() {
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
