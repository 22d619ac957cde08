package memory

import (
	"context"

	"github.com/BaSui01/memflow/types"
)

// ShortTermStore holds a bounded, sequence-ordered window of recent turns
// per session. Appending past the bound evicts the oldest turn (pure
// FIFO); recency is the only signal at this tier.
type ShortTermStore interface {
	// Append assigns the next sequence number for the session, writes the
	// turn, and enforces the window bound. The returned Turn carries the
	// assigned Seq and timestamp.
	Append(ctx context.Context, sessionID string, role types.Role, text string) (types.Turn, error)

	// ReadWindow returns up to max turns in chronological order, most
	// recent last. max <= 0 returns the whole window. The result is
	// deterministic for a fixed store state.
	ReadWindow(ctx context.Context, sessionID string, max int) ([]types.Turn, error)

	// Clear drops the session window.
	Clear(ctx context.Context, sessionID string) error

	// Ping reports store reachability.
	Ping(ctx context.Context) error

	Close() error
}
