package consolidation

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/bus"
	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/types"
)

// Config tunes the consolidation pipeline.
type Config struct {
	// Workers is the number of parallel consumers. Events for one session
	// always land on the same worker, so per-session processing stays
	// serialized.
	Workers int
	// ImportanceThreshold gates promotion; turns scoring below it are
	// dropped.
	ImportanceThreshold float64
	// SummarizeEvery writes an extractive window summary after this many
	// consolidated ranges per session. 0 disables summaries.
	SummarizeEvery int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ImportanceThreshold <= 0 {
		c.ImportanceThreshold = 0.5
	}
	return c
}

type job struct {
	event types.ConsolidationEvent
	reply chan error
}

// Pipeline promotes announced turn ranges into long-term memory.
type Pipeline struct {
	shortTerm memory.ShortTermStore
	longTerm  memory.LongTermStore
	embedder  embedding.Provider
	scorer    Scorer
	collector *metrics.Collector
	config    Config
	logger    *zap.Logger

	workers []chan job
	wg      sync.WaitGroup

	mu     sync.Mutex
	ranges map[string]int
}

// New creates a pipeline. scorer defaults to the heuristic scorer and
// collector may be nil.
func New(
	shortTerm memory.ShortTermStore,
	longTerm memory.LongTermStore,
	embedder embedding.Provider,
	scorer Scorer,
	collector *metrics.Collector,
	config Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scorer == nil {
		scorer = NewHeuristicScorer()
	}
	return &Pipeline{
		shortTerm: shortTerm,
		longTerm:  longTerm,
		embedder:  embedder,
		scorer:    scorer,
		collector: collector,
		config:    config.withDefaults(),
		logger:    logger.With(zap.String("component", "consolidation")),
		ranges:    make(map[string]int),
	}
}

// Run consumes events until ctx is canceled. It blocks; callers run it
// in a goroutine and cancel ctx to stop.
func (p *Pipeline) Run(ctx context.Context, consumer bus.Consumer) error {
	p.workers = make([]chan job, p.config.Workers)
	for i := range p.workers {
		ch := make(chan job)
		p.workers[i] = ch
		p.wg.Add(1)
		go p.worker(ctx, ch)
	}
	defer p.wg.Wait()

	return consumer.Consume(ctx, p.dispatch)
}

func (p *Pipeline) worker(ctx context.Context, jobs <-chan job) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-jobs:
			j.reply <- p.Handle(ctx, j.event)
		}
	}
}

// dispatch routes the event to its session's worker and waits for the
// outcome, so the bus ack tracks actual processing.
func (p *Pipeline) dispatch(ctx context.Context, event types.ConsolidationEvent) error {
	idx := int(partitionKey(event.SessionID)) % len(p.workers)
	j := job{event: event, reply: make(chan error, 1)}

	select {
	case p.workers[idx] <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func partitionKey(sessionID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return h.Sum32()
}

// Handle processes a single event. Exported so tests and the dead-letter
// replay tool can drive it without a bus.
func (p *Pipeline) Handle(ctx context.Context, event types.ConsolidationEvent) error {
	if event.SessionID == "" || event.ToSeq < event.FromSeq {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("malformed consolidation event: %+v", event))
	}

	window, err := p.shortTerm.ReadWindow(ctx, event.SessionID, 0)
	if err != nil {
		return types.NewError(types.ErrConsolidationFailure, "read session window").
			WithCause(err).WithRetryable(true)
	}

	var inRange []types.Turn
	for _, turn := range window {
		if turn.Seq >= event.FromSeq && turn.Seq <= event.ToSeq {
			inRange = append(inRange, turn)
		}
	}
	// The range may have been evicted or expired since emission. That is
	// a success, not an error: retrying cannot bring the turns back.
	if len(inRange) == 0 {
		p.logger.Debug("consolidation range already evicted",
			zap.String("session_id", event.SessionID),
			zap.Uint64("from_seq", event.FromSeq),
			zap.Uint64("to_seq", event.ToSeq),
		)
		p.observe("noop", 0)
		return nil
	}

	promoted, err := p.promote(ctx, event, inRange)
	if err != nil {
		p.observe("failed", 0)
		return err
	}
	p.observe("promoted", promoted)

	if p.config.SummarizeEvery > 0 && p.bumpRangeCount(event.SessionID)%p.config.SummarizeEvery == 0 {
		if err := p.summarize(ctx, event.SessionID, window); err != nil {
			// The promotion already happened; a summary failure only logs.
			p.logger.Warn("window summary failed",
				zap.String("session_id", event.SessionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// promote scores, embeds, and upserts the qualifying turns. Item IDs
// derive from the event, so replays overwrite rather than duplicate.
func (p *Pipeline) promote(ctx context.Context, event types.ConsolidationEvent, turns []types.Turn) (int, error) {
	var (
		candidates []types.Turn
		scores     []float64
	)
	for _, turn := range turns {
		score := p.scorer.Score(turn)
		if score >= p.config.ImportanceThreshold {
			candidates = append(candidates, turn)
			scores = append(scores, score)
		}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	texts := make([]string, len(candidates))
	for i, turn := range candidates {
		texts[i] = turn.Text
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, types.NewError(types.ErrConsolidationFailure, "embed promoted turns").
			WithCause(err).WithRetryable(true)
	}

	now := time.Now().UTC()
	for i, turn := range candidates {
		item := types.MemoryItem{
			ID:           event.ItemID(turn.Seq),
			SessionID:    turn.SessionID,
			Kind:         types.MemoryMessage,
			Text:         turn.Text,
			Embedding:    vectors[i],
			Importance:   scores[i],
			Tags:         []string{"role:" + string(turn.Role)},
			CreatedAt:    turn.CreatedAt,
			LastAccessed: now,
		}
		if err := p.longTerm.Upsert(ctx, item); err != nil {
			return i, types.NewError(types.ErrConsolidationFailure, "upsert memory item").
				WithCause(err).WithRetryable(true)
		}
	}

	p.logger.Info("promoted turns to long-term memory",
		zap.String("session_id", event.SessionID),
		zap.Uint64("from_seq", event.FromSeq),
		zap.Uint64("to_seq", event.ToSeq),
		zap.Int("promoted", len(candidates)),
	)
	return len(candidates), nil
}

// summarize writes an extractive summary of the current window: the
// window text joined in order, stored at importance 1.0 under a
// window-derived ID.
func (p *Pipeline) summarize(ctx context.Context, sessionID string, window []types.Turn) error {
	if len(window) == 0 {
		return nil
	}

	var b strings.Builder
	for i, turn := range window {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Text)
	}
	text := b.String()

	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return err
	}

	fromSeq := window[0].Seq
	toSeq := window[len(window)-1].Seq
	item := types.MemoryItem{
		ID:           types.SummaryID(sessionID, fromSeq, toSeq),
		SessionID:    sessionID,
		Kind:         types.MemorySummary,
		Text:         text,
		Embedding:    vec,
		Importance:   1.0,
		CreatedAt:    time.Now().UTC(),
		LastAccessed: time.Now().UTC(),
	}
	if err := p.longTerm.Upsert(ctx, item); err != nil {
		return err
	}
	if p.collector != nil {
		p.collector.SummaryWritten()
	}
	return nil
}

func (p *Pipeline) bumpRangeCount(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ranges[sessionID]++
	return p.ranges[sessionID]
}

func (p *Pipeline) observe(outcome string, promoted int) {
	if p.collector != nil {
		p.collector.ObserveConsolidation(outcome, promoted)
	}
}
