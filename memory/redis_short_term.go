package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// RedisShortTermConfig configures the Redis-backed short-term store.
type RedisShortTermConfig struct {
	// WindowSize bounds the number of turns kept per session.
	WindowSize int
	// TTL expires idle session windows; 0 keeps them forever.
	TTL time.Duration
	// KeyPrefix namespaces all keys. Defaults to "memflow:".
	KeyPrefix string
}

// RedisShortTermStore keeps per-session turn windows in Redis lists.
// The sequence counter lives in a separate key so numbers survive window
// eviction and stay strictly increasing.
type RedisShortTermStore struct {
	client *redis.Client
	config RedisShortTermConfig
	logger *zap.Logger
}

// NewRedisShortTermStore creates a short-term store on an existing Redis
// client. The client is shared; Close does not close it.
func NewRedisShortTermStore(client *redis.Client, config RedisShortTermConfig, logger *zap.Logger) *RedisShortTermStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 20
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "memflow:"
	}
	return &RedisShortTermStore{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "short_term_redis")),
	}
}

func (s *RedisShortTermStore) turnsKey(sessionID string) string {
	return s.config.KeyPrefix + "sess:" + sessionID + ":turns"
}

func (s *RedisShortTermStore) seqKey(sessionID string) string {
	return s.config.KeyPrefix + "sess:" + sessionID + ":seq"
}

// Append assigns the next sequence number and pushes the turn, trimming
// the list to the window bound in the same pipeline.
func (s *RedisShortTermStore) Append(ctx context.Context, sessionID string, role types.Role, text string) (types.Turn, error) {
	seq, err := s.client.Incr(ctx, s.seqKey(sessionID)).Result()
	if err != nil {
		return types.Turn{}, types.StoreUnavailable("assign turn sequence", err)
	}

	turn := types.Turn{
		SessionID: sessionID,
		Seq:       uint64(seq),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return types.Turn{}, fmt.Errorf("marshal turn: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.turnsKey(sessionID), data)
	pipe.LTrim(ctx, s.turnsKey(sessionID), -int64(s.config.WindowSize), -1)
	if s.config.TTL > 0 {
		pipe.Expire(ctx, s.turnsKey(sessionID), s.config.TTL)
		pipe.Expire(ctx, s.seqKey(sessionID), s.config.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return types.Turn{}, types.StoreUnavailable("append turn", err)
	}

	return turn, nil
}

// ReadWindow returns the most recent turns in chronological order.
func (s *RedisShortTermStore) ReadWindow(ctx context.Context, sessionID string, max int) ([]types.Turn, error) {
	start := int64(0)
	if max > 0 {
		start = -int64(max)
	}
	raw, err := s.client.LRange(ctx, s.turnsKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, types.StoreUnavailable("read turn window", err)
	}

	turns := make([]types.Turn, 0, len(raw))
	for _, entry := range raw {
		var t types.Turn
		if err := json.Unmarshal([]byte(entry), &t); err != nil {
			s.logger.Warn("skipping undecodable turn entry",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
			continue
		}
		turns = append(turns, t)
	}
	return turns, nil
}

// Clear drops the session window but keeps the sequence counter so
// numbers are never reused within the TTL.
func (s *RedisShortTermStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.turnsKey(sessionID)).Err(); err != nil {
		return types.StoreUnavailable("clear session window", err)
	}
	return nil
}

// Ping reports Redis reachability.
func (s *RedisShortTermStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return types.StoreUnavailable("ping", err)
	}
	return nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (s *RedisShortTermStore) Close() error { return nil }

var _ ShortTermStore = (*RedisShortTermStore)(nil)
