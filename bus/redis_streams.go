package bus

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// RedisStreamsConfig configures the stream-backed bus.
type RedisStreamsConfig struct {
	// Stream is the topic stream key. The dead-letter stream is
	// "<Stream>:dead".
	Stream string
	// Group is the consumer group name, created on first consume.
	Group string
	// Consumer names this consumer within the group.
	Consumer string
	// Block bounds each read; short values keep shutdown responsive.
	Block time.Duration
	// MaxAttempts bounds deliveries before dead-lettering.
	MaxAttempts int
	// BatchSize bounds messages per read.
	BatchSize int64
	// MaxInFlight bounds messages handled concurrently.
	MaxInFlight int
}

// RedisStreamsBus publishes and consumes consolidation events over a
// Redis stream with a consumer group.
//
// Failed deliveries are re-enqueued with an incremented attempt counter
// and the original entry is acked, so redelivery works without relying
// on pending-entry claims. Events that exhaust MaxAttempts move to the
// dead-letter stream.
type RedisStreamsBus struct {
	client *redis.Client
	config RedisStreamsConfig
	logger *zap.Logger
}

// NewRedisStreamsBus creates a bus on an existing client.
func NewRedisStreamsBus(client *redis.Client, config RedisStreamsConfig, logger *zap.Logger) *RedisStreamsBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Stream == "" {
		config.Stream = "memflow:events"
	}
	if config.Group == "" {
		config.Group = "consolidation"
	}
	if config.Consumer == "" {
		config.Consumer = "consumer-1"
	}
	if config.Block <= 0 {
		config.Block = 5 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = 16
	}
	return &RedisStreamsBus{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "bus_redis_streams")),
	}
}

// DeadLetterStream returns the dead-letter stream key.
func (b *RedisStreamsBus) DeadLetterStream() string {
	return b.config.Stream + ":dead"
}

func eventValues(event types.ConsolidationEvent, attempts int) map[string]any {
	return map[string]any{
		"session_id": event.SessionID,
		"from_seq":   strconv.FormatUint(event.FromSeq, 10),
		"to_seq":     strconv.FormatUint(event.ToSeq, 10),
		"emitted_at": event.EmittedAt.UTC().Format(time.RFC3339Nano),
		"attempts":   strconv.Itoa(attempts),
	}
}

func parseEvent(values map[string]any) (types.ConsolidationEvent, int, error) {
	str := func(key string) string {
		if v, ok := values[key].(string); ok {
			return v
		}
		return ""
	}

	fromSeq, err := strconv.ParseUint(str("from_seq"), 10, 64)
	if err != nil {
		return types.ConsolidationEvent{}, 0, errors.New("bad from_seq field")
	}
	toSeq, err := strconv.ParseUint(str("to_seq"), 10, 64)
	if err != nil {
		return types.ConsolidationEvent{}, 0, errors.New("bad to_seq field")
	}
	emittedAt, _ := time.Parse(time.RFC3339Nano, str("emitted_at"))
	attempts, _ := strconv.Atoi(str("attempts"))

	event := types.ConsolidationEvent{
		SessionID: str("session_id"),
		FromSeq:   fromSeq,
		ToSeq:     toSeq,
		EmittedAt: emittedAt,
	}
	if event.SessionID == "" {
		return types.ConsolidationEvent{}, 0, errors.New("missing session_id field")
	}
	return event, attempts, nil
}

func (b *RedisStreamsBus) Publish(ctx context.Context, event types.ConsolidationEvent) error {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.config.Stream,
		Values: eventValues(event, 0),
	}).Err()
	if err != nil {
		return types.NewError(types.ErrEventPublishFailure, "publish consolidation event").
			WithCause(err).WithRetryable(true)
	}
	return nil
}

func (b *RedisStreamsBus) ensureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.config.Stream, b.config.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return types.StoreUnavailable("create consumer group", err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// Consume reads the group until ctx is canceled. Each message is
// handled on its own goroutine, bounded by MaxInFlight, so one slow
// handler cannot stall the rest of the stream. The ack or retry for a
// message happens only after its handler returns.
func (b *RedisStreamsBus) Consume(ctx context.Context, handler Handler) error {
	if err := b.ensureGroup(ctx); err != nil {
		return err
	}

	inFlight := make(chan struct{}, b.config.MaxInFlight)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.config.Group,
			Consumer: b.config.Consumer,
			Streams:  []string{b.config.Stream, ">"},
			Count:    b.config.BatchSize,
			Block:    b.config.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warn("stream read failed, backing off", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				select {
				case inFlight <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}
				wg.Add(1)
				go func(msg redis.XMessage) {
					defer wg.Done()
					defer func() { <-inFlight }()
					b.handleMessage(ctx, msg, handler)
				}(msg)
			}
		}
	}
}

func (b *RedisStreamsBus) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	event, attempts, err := parseEvent(msg.Values)
	if err != nil {
		b.logger.Warn("dead-lettering malformed event",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		b.deadLetter(ctx, msg.Values)
		b.ack(ctx, msg.ID)
		return
	}

	if err := handler(ctx, event); err != nil {
		b.retryOrDeadLetter(ctx, msg, event, attempts, err)
		return
	}
	b.ack(ctx, msg.ID)
}

func (b *RedisStreamsBus) retryOrDeadLetter(ctx context.Context, msg redis.XMessage, event types.ConsolidationEvent, attempts int, cause error) {
	attempts++
	if attempts >= b.config.MaxAttempts {
		b.logger.Error("event exhausted delivery attempts, dead-lettering",
			zap.String("session_id", event.SessionID),
			zap.Uint64("from_seq", event.FromSeq),
			zap.Uint64("to_seq", event.ToSeq),
			zap.Int("attempts", attempts),
			zap.Error(cause),
		)
		b.deadLetter(ctx, eventValues(event, attempts))
		b.ack(ctx, msg.ID)
		return
	}

	b.logger.Warn("event handling failed, re-enqueueing",
		zap.String("session_id", event.SessionID),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.config.Stream,
		Values: eventValues(event, attempts),
	}).Err()
	if err != nil {
		// Leave the original pending so the group can redeliver it later.
		b.logger.Error("re-enqueue failed, leaving message pending", zap.Error(err))
		return
	}
	b.ack(ctx, msg.ID)
}

func (b *RedisStreamsBus) deadLetter(ctx context.Context, values map[string]any) {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.DeadLetterStream(),
		Values: values,
	}).Err()
	if err != nil {
		b.logger.Error("dead-letter write failed", zap.Error(err))
	}
}

func (b *RedisStreamsBus) ack(ctx context.Context, id string) {
	if err := b.client.XAck(ctx, b.config.Stream, b.config.Group, id).Err(); err != nil {
		b.logger.Warn("ack failed", zap.String("message_id", id), zap.Error(err))
	}
}

var (
	_ Publisher = (*RedisStreamsBus)(nil)
	_ Consumer  = (*RedisStreamsBus)(nil)
)
