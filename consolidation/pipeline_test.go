package consolidation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/bus"
	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/types"
)

type scorerFunc func(turn types.Turn) float64

func (f scorerFunc) Score(turn types.Turn) float64 { return f(turn) }

type pipelineFixture struct {
	shortTerm *memory.InMemoryShortTermStore
	longTerm  *memory.InMemoryLongTermStore
	pipeline  *Pipeline
}

func newPipelineFixture(t *testing.T, config Config, scorer Scorer) *pipelineFixture {
	t.Helper()

	shortTerm := memory.NewInMemoryShortTermStore(20)
	embedder := embedding.NewHashProvider(16)
	longTerm := memory.NewInMemoryLongTermStore(embedder.Dimensions(), nil)

	return &pipelineFixture{
		shortTerm: shortTerm,
		longTerm:  longTerm,
		pipeline:  New(shortTerm, longTerm, embedder, scorer, nil, config, nil),
	}
}

func (fx *pipelineFixture) appendTurns(t *testing.T, sessionID string, texts ...string) []types.Turn {
	t.Helper()
	turns := make([]types.Turn, len(texts))
	for i, text := range texts {
		turn, err := fx.shortTerm.Append(context.Background(), sessionID, types.RoleUser, text)
		require.NoError(t, err)
		turns[i] = turn
	}
	return turns
}

func promoteAll(types.Turn) float64 { return 1.0 }

func TestHandlePromotesAboveThreshold(t *testing.T) {
	fx := newPipelineFixture(t, Config{ImportanceThreshold: 0.5}, scorerFunc(func(turn types.Turn) float64 {
		if strings.Contains(turn.Text, "important") {
			return 0.9
		}
		return 0.1
	}))
	ctx := context.Background()

	turns := fx.appendTurns(t, "s1", "important fact", "small talk")
	event := types.ConsolidationEvent{
		SessionID: "s1",
		FromSeq:   turns[0].Seq,
		ToSeq:     turns[1].Seq,
		EmittedAt: time.Now().UTC(),
	}

	require.NoError(t, fx.pipeline.Handle(ctx, event))
	assert.Equal(t, 1, fx.longTerm.Len())

	item, err := fx.longTerm.Get(ctx, event.ItemID(turns[0].Seq))
	require.NoError(t, err)
	assert.Equal(t, "important fact", item.Text)
	assert.Equal(t, types.MemoryMessage, item.Kind)
	assert.Equal(t, 0.9, item.Importance)
	assert.Contains(t, item.Tags, "role:user")
}

func TestHandleIsIdempotentUnderRedelivery(t *testing.T) {
	fx := newPipelineFixture(t, Config{ImportanceThreshold: 0.5}, scorerFunc(promoteAll))
	ctx := context.Background()

	turns := fx.appendTurns(t, "s1", "alpha", "beta")
	event := types.ConsolidationEvent{
		SessionID: "s1",
		FromSeq:   turns[0].Seq,
		ToSeq:     turns[1].Seq,
		EmittedAt: time.Now().UTC(),
	}

	require.NoError(t, fx.pipeline.Handle(ctx, event))
	require.NoError(t, fx.pipeline.Handle(ctx, event))

	assert.Equal(t, 2, fx.longTerm.Len())
}

func TestHandleEvictedRangeIsNoop(t *testing.T) {
	fx := newPipelineFixture(t, Config{ImportanceThreshold: 0.5}, scorerFunc(promoteAll))
	ctx := context.Background()

	fx.appendTurns(t, "s1", "current turn")
	event := types.ConsolidationEvent{
		SessionID: "s1",
		FromSeq:   100,
		ToSeq:     101,
		EmittedAt: time.Now().UTC(),
	}

	require.NoError(t, fx.pipeline.Handle(ctx, event))
	assert.Equal(t, 0, fx.longTerm.Len())
}

func TestHandleUnknownSessionIsNoop(t *testing.T) {
	fx := newPipelineFixture(t, Config{ImportanceThreshold: 0.5}, scorerFunc(promoteAll))

	err := fx.pipeline.Handle(context.Background(), types.ConsolidationEvent{
		SessionID: "never-seen",
		FromSeq:   1,
		ToSeq:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, fx.longTerm.Len())
}

func TestHandleRejectsMalformedEvent(t *testing.T) {
	fx := newPipelineFixture(t, Config{}, scorerFunc(promoteAll))

	err := fx.pipeline.Handle(context.Background(), types.ConsolidationEvent{
		SessionID: "s1",
		FromSeq:   5,
		ToSeq:     2,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	err = fx.pipeline.Handle(context.Background(), types.ConsolidationEvent{FromSeq: 1, ToSeq: 2})
	require.Error(t, err)
}

func TestHandleWritesSummaryEveryN(t *testing.T) {
	fx := newPipelineFixture(t, Config{ImportanceThreshold: 0.5, SummarizeEvery: 2}, scorerFunc(promoteAll))
	ctx := context.Background()

	first := fx.appendTurns(t, "s1", "turn one")
	require.NoError(t, fx.pipeline.Handle(ctx, types.ConsolidationEvent{
		SessionID: "s1", FromSeq: first[0].Seq, ToSeq: first[0].Seq,
	}))

	second := fx.appendTurns(t, "s1", "turn two")
	require.NoError(t, fx.pipeline.Handle(ctx, types.ConsolidationEvent{
		SessionID: "s1", FromSeq: second[0].Seq, ToSeq: second[0].Seq,
	}))

	// Two promoted turns plus one window summary.
	assert.Equal(t, 3, fx.longTerm.Len())

	summary, err := fx.longTerm.Get(ctx, types.SummaryID("s1", first[0].Seq, second[0].Seq))
	require.NoError(t, err)
	assert.Equal(t, types.MemorySummary, summary.Kind)
	assert.Equal(t, 1.0, summary.Importance)
	assert.Contains(t, summary.Text, "turn one")
	assert.Contains(t, summary.Text, "turn two")
}

func TestPipelineProcessesSessionsConcurrently(t *testing.T) {
	const workers = 4
	slow := "session-slow"
	fast := "session-fast"
	for i := 0; partitionKey(slow)%workers == partitionKey(fast)%workers; i++ {
		fast = fmt.Sprintf("session-fast-%d", i)
	}

	var slowStarted sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	fx := newPipelineFixture(t, Config{Workers: workers, ImportanceThreshold: 0.5},
		scorerFunc(func(turn types.Turn) float64 {
			if turn.SessionID == slow {
				slowStarted.Do(func() { close(started) })
				<-release
			}
			return 1.0
		}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slowTurns := fx.appendTurns(t, slow, "blocking fact")
	fastTurns := fx.appendTurns(t, fast, "quick fact")

	b := bus.NewInMemoryBus(8, 3)
	go func() { _ = fx.pipeline.Run(ctx, b) }()

	require.NoError(t, b.Publish(ctx, types.ConsolidationEvent{
		SessionID: slow, FromSeq: slowTurns[0].Seq, ToSeq: slowTurns[0].Seq,
	}))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("slow session never entered scoring")
	}

	// With the slow session still blocked, the other session must land.
	require.NoError(t, b.Publish(ctx, types.ConsolidationEvent{
		SessionID: fast, FromSeq: fastTurns[0].Seq, ToSeq: fastTurns[0].Seq,
	}))
	require.Eventually(t, func() bool {
		return fx.longTerm.Len() == 1
	}, 5*time.Second, 10*time.Millisecond, "pipeline is serial across sessions")

	close(release)
	require.Eventually(t, func() bool {
		return fx.longTerm.Len() == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestPipelineEndToEndOverBus(t *testing.T) {
	fx := newPipelineFixture(t, Config{Workers: 2, ImportanceThreshold: 0.5}, scorerFunc(promoteAll))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	turns := fx.appendTurns(t, "s1", "durable fact")
	event := types.ConsolidationEvent{
		SessionID: "s1",
		FromSeq:   turns[0].Seq,
		ToSeq:     turns[0].Seq,
		EmittedAt: time.Now().UTC(),
	}

	b := bus.NewInMemoryBus(8, 3)
	go func() { _ = fx.pipeline.Run(ctx, b) }()

	// Redelivery: the same event published twice converges on one item.
	require.NoError(t, b.Publish(ctx, event))
	require.NoError(t, b.Publish(ctx, event))

	require.Eventually(t, func() bool {
		return fx.longTerm.Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	item, err := fx.longTerm.Get(ctx, event.ItemID(turns[0].Seq))
	require.NoError(t, err)
	assert.Equal(t, "durable fact", item.Text)
}
