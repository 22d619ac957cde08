package bus

import (
	"context"
	"sync"

	"github.com/BaSui01/memflow/types"
)

// InMemoryBus is a channel-backed bus for dev mode and tests. It keeps
// the delivery semantics of the stream bus: failed handling retries up
// to MaxAttempts, then the event lands in the dead-letter slice.
type InMemoryBus struct {
	events      chan types.ConsolidationEvent
	maxAttempts int

	mu   sync.Mutex
	dead []types.ConsolidationEvent
}

// NewInMemoryBus creates a bus with a bounded buffer.
func NewInMemoryBus(buffer, maxAttempts int) *InMemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &InMemoryBus{
		events:      make(chan types.ConsolidationEvent, buffer),
		maxAttempts: maxAttempts,
	}
}

func (b *InMemoryBus) Publish(ctx context.Context, event types.ConsolidationEvent) error {
	select {
	case b.events <- event:
		return nil
	case <-ctx.Done():
		return types.NewError(types.ErrEventPublishFailure, "publish consolidation event").
			WithCause(ctx.Err()).WithRetryable(true)
	}
}

// Consume delivers events until ctx is canceled. Each event is handled
// on its own goroutine, mirroring the stream bus, so consumers that
// partition work internally see concurrent deliveries.
func (b *InMemoryBus) Consume(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-b.events:
			wg.Add(1)
			go func(event types.ConsolidationEvent) {
				defer wg.Done()
				b.deliver(ctx, event, handler)
			}(event)
		}
	}
}

func (b *InMemoryBus) deliver(ctx context.Context, event types.ConsolidationEvent, handler Handler) {
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if err := handler(ctx, event); err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
	b.mu.Lock()
	b.dead = append(b.dead, event)
	b.mu.Unlock()
}

// DeadLetters returns a copy of dead-lettered events. Test helper.
func (b *InMemoryBus) DeadLetters() []types.ConsolidationEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]types.ConsolidationEvent(nil), b.dead...)
}

var (
	_ Publisher = (*InMemoryBus)(nil)
	_ Consumer  = (*InMemoryBus)(nil)
)
