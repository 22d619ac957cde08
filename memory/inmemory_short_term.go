package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/memflow/types"
)

type sessionWindow struct {
	turns []types.Turn
	seq   uint64
}

// InMemoryShortTermStore is an in-process short-term store for dev and
// tests. It mirrors the Redis contract, including FIFO eviction and
// session-scoped sequence numbers.
type InMemoryShortTermStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionWindow
	window   int
}

// NewInMemoryShortTermStore creates an in-memory store with the given
// window bound.
func NewInMemoryShortTermStore(windowSize int) *InMemoryShortTermStore {
	if windowSize <= 0 {
		windowSize = 20
	}
	return &InMemoryShortTermStore{
		sessions: make(map[string]*sessionWindow),
		window:   windowSize,
	}
}

func (s *InMemoryShortTermStore) Append(ctx context.Context, sessionID string, role types.Role, text string) (types.Turn, error) {
	if err := ctx.Err(); err != nil {
		return types.Turn{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.sessions[sessionID]
	if !ok {
		w = &sessionWindow{}
		s.sessions[sessionID] = w
	}

	w.seq++
	turn := types.Turn{
		SessionID: sessionID,
		Seq:       w.seq,
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	w.turns = append(w.turns, turn)
	if len(w.turns) > s.window {
		w.turns = w.turns[len(w.turns)-s.window:]
	}
	return turn, nil
}

func (s *InMemoryShortTermStore) ReadWindow(ctx context.Context, sessionID string, max int) ([]types.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	turns := w.turns
	if max > 0 && len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	return append([]types.Turn(nil), turns...), nil
}

func (s *InMemoryShortTermStore) Clear(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.sessions[sessionID]; ok {
		w.turns = nil
	}
	return nil
}

func (s *InMemoryShortTermStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *InMemoryShortTermStore) Close() error { return nil }

var _ ShortTermStore = (*InMemoryShortTermStore)(nil)
