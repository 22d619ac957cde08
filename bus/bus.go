package bus

import (
	"context"

	"github.com/BaSui01/memflow/types"
)

// Handler processes one delivered event. Returning an error triggers
// redelivery until the attempt bound, then dead-lettering.
type Handler func(ctx context.Context, event types.ConsolidationEvent) error

// Publisher emits consolidation events.
type Publisher interface {
	Publish(ctx context.Context, event types.ConsolidationEvent) error
}

// Consumer delivers events to a handler until the context is canceled.
type Consumer interface {
	// Consume blocks, invoking handler for each delivery. It returns when
	// ctx is canceled or the transport fails unrecoverably.
	Consume(ctx context.Context, handler Handler) error
}
