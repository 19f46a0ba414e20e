package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.feedmesh.dev/internal/message"
)

// MemoryStore is an in-process Store backed by a mutex-guarded map. It
// satisfies the same claim/commit contract as the SQLite store; it does
// not persist across restarts.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*Item
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Item)}
}

func (s *MemoryStore) Put(ctx context.Context, item Item) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	stored := item
	stored.ID = id
	stored.CreatedAt = time.Now()
	stored.InProgressAt = nil
	s.items[id] = &stored
	return id, nil
}

func (s *MemoryStore) Claim(ctx context.Context, now time.Time, limit int) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*Item
	for _, it := range s.items {
		if it.InProgressAt == nil {
			candidates = append(candidates, it)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	claimed := make([]*Item, 0, len(candidates))
	for _, it := range candidates {
		t := now
		it.InProgressAt = &t
		claimed = append(claimed, cloneItem(it))
	}
	return claimed, nil
}

func (s *MemoryStore) ClaimDeadLetters(ctx context.Context, now time.Time, limit int) ([]*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-DeadLetterDelta)
	var candidates []*Item
	for _, it := range s.items {
		if it.InProgressAt != nil && it.InProgressAt.Before(cutoff) {
			candidates = append(candidates, it)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].InProgressAt.Before(*candidates[j].InProgressAt) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	claimed := make([]*Item, 0, len(candidates))
	for _, it := range candidates {
		t := now
		it.InProgressAt = &t
		claimed = append(claimed, cloneItem(it))
	}
	return claimed, nil
}

func (s *MemoryStore) Commit(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneItem(it *Item) *Item {
	cp := *it
	if it.InProgressAt != nil {
		t := *it.InProgressAt
		cp.InProgressAt = &t
	}
	msgs := make([]message.Message, len(it.Messages))
	copy(msgs, it.Messages)
	cp.Messages = msgs
	return &cp
}
