package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// InMemoryLongTermStore keeps memory items in process with brute-force
// cosine ranking. It implements the full LongTermStore contract and is
// the default backing for dev and tests.
type InMemoryLongTermStore struct {
	mu        sync.RWMutex
	items     map[string]types.MemoryItem
	dimension int
	logger    *zap.Logger
}

// NewInMemoryLongTermStore creates a store with a fixed embedding
// dimensionality.
func NewInMemoryLongTermStore(dimension int, logger *zap.Logger) *InMemoryLongTermStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryLongTermStore{
		items:     make(map[string]types.MemoryItem),
		dimension: dimension,
		logger:    logger.With(zap.String("component", "long_term_inmemory")),
	}
}

func (s *InMemoryLongTermStore) Upsert(ctx context.Context, item types.MemoryItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(item.Embedding) != s.dimension {
		return types.NewError(types.ErrDimensionMismatch,
			"embedding dimension does not match store")
	}
	if item.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "memory item requires an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *InMemoryLongTermStore) Search(ctx context.Context, query []float32, k int, filter Filter) ([]types.ScoredItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != s.dimension {
		return nil, types.NewError(types.ErrDimensionMismatch,
			"query dimension does not match store")
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	scored := make([]types.ScoredItem, 0, len(s.items))
	for _, item := range s.items {
		if !matchesFilter(item, filter) {
			continue
		}
		scored = append(scored, types.ScoredItem{
			Item:  cloneItem(item),
			Score: cosineSimilarity(query, item.Embedding),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Item.LastAccessed.After(scored[j].Item.LastAccessed)
	})
	if len(scored) > k {
		scored = scored[:k]
	}

	s.touch(scored)
	return scored, nil
}

// touch bumps LastAccessed on returned items. Best effort; search
// results already carry the pre-touch timestamps.
func (s *InMemoryLongTermStore) touch(results []types.ScoredItem) {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		if item, ok := s.items[r.Item.ID]; ok {
			item.LastAccessed = now
			s.items[r.Item.ID] = item
		}
	}
}

func (s *InMemoryLongTermStore) Get(ctx context.Context, id string) (types.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return types.MemoryItem{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return types.MemoryItem{}, types.NewError(types.ErrItemNotFound, "memory item not found: "+id)
	}
	return cloneItem(item), nil
}

func (s *InMemoryLongTermStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *InMemoryLongTermStore) Dimension() int { return s.dimension }

func (s *InMemoryLongTermStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *InMemoryLongTermStore) Close(ctx context.Context) error { return nil }

// Len reports the number of stored items. Test helper.
func (s *InMemoryLongTermStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func matchesFilter(item types.MemoryItem, filter Filter) bool {
	if filter.SessionID != "" && item.SessionID != filter.SessionID {
		return false
	}
	if filter.Kind != "" && item.Kind != filter.Kind {
		return false
	}
	if item.Importance < filter.MinImportance {
		return false
	}
	return true
}

func cloneItem(item types.MemoryItem) types.MemoryItem {
	out := item
	out.Embedding = append([]float32(nil), item.Embedding...)
	out.Tags = append([]string(nil), item.Tags...)
	return out
}

var _ LongTermStore = (*InMemoryLongTermStore)(nil)
