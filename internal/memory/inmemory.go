package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process archive for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]ConversationRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]ConversationRecord)}
}

func (s *InMemoryStore) SaveConversation(_ context.Context, record ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	s.records[record.EntityID] = append(s.records[record.EntityID], record)
	return nil
}

func (s *InMemoryStore) RecentSummaries(_ context.Context, entityID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.records[entityID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]string, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		if arr[i].Summary != "" {
			out = append(out, arr[i].Summary)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
