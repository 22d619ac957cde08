package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/inference"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/types"
)

type fakeGenerator struct {
	fn func(ctx context.Context, req inference.Request) (inference.Response, error)
}

func (g *fakeGenerator) Generate(ctx context.Context, req inference.Request) (inference.Response, error) {
	return g.fn(ctx, req)
}

func (g *fakeGenerator) GenerateStream(ctx context.Context, req inference.Request) (<-chan inference.Chunk, error) {
	resp, err := g.fn(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan inference.Chunk, 2)
	out <- inference.Chunk{Delta: resp.Text}
	out <- inference.Chunk{Done: true}
	close(out)
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.ConsolidationEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event types.ConsolidationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Events() []types.ConsolidationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.ConsolidationEvent(nil), p.events...)
}

type failingLongTerm struct {
	memory.LongTermStore
}

func (f *failingLongTerm) Search(context.Context, []float32, int, memory.Filter) ([]types.ScoredItem, error) {
	return nil, types.StoreUnavailable("search", errors.New("store down"))
}

// failingShortTermReads fails window reads while appends keep working,
// so persistence is still exercised on the degraded path.
type failingShortTermReads struct {
	memory.ShortTermStore
}

func (f *failingShortTermReads) ReadWindow(context.Context, string, int) ([]types.Turn, error) {
	return nil, types.StoreUnavailable("read window", errors.New("store down"))
}

// rendezvousShortTerm blocks the window read until the long-term search
// has started, to observe whether the two retrieval tiers overlap.
type rendezvousShortTerm struct {
	memory.ShortTermStore
	arrived chan struct{}
	other   chan struct{}
}

func (s *rendezvousShortTerm) ReadWindow(ctx context.Context, sessionID string, max int) ([]types.Turn, error) {
	close(s.arrived)
	select {
	case <-s.other:
	case <-ctx.Done():
	}
	return s.ShortTermStore.ReadWindow(ctx, sessionID, max)
}

type rendezvousLongTerm struct {
	memory.LongTermStore
	arrived chan struct{}
	other   chan struct{}
}

func (s *rendezvousLongTerm) Search(ctx context.Context, query []float32, k int, filter memory.Filter) ([]types.ScoredItem, error) {
	close(s.arrived)
	select {
	case <-s.other:
	case <-ctx.Done():
	}
	return s.LongTermStore.Search(ctx, query, k, filter)
}

type engineFixture struct {
	shortTerm *memory.InMemoryShortTermStore
	longTerm  *memory.InMemoryLongTermStore
	embedder  *embedding.HashProvider
	publisher *recordingPublisher
	engine    *Engine
}

func newFixture(t *testing.T, generate func(ctx context.Context, req inference.Request) (inference.Response, error)) *engineFixture {
	t.Helper()

	shortTerm := memory.NewInMemoryShortTermStore(20)
	embedder := embedding.NewHashProvider(32)
	longTerm := memory.NewInMemoryLongTermStore(embedder.Dimensions(), nil)
	publisher := &recordingPublisher{}
	merger := memory.NewMerger(memory.MergerConfig{ItemBudget: 16}, nil, nil)

	eng := New(
		shortTerm,
		longTerm,
		embedder,
		merger,
		&fakeGenerator{fn: generate},
		publisher,
		nil,
		Config{PublishBackoff: time.Millisecond},
		nil,
	)
	return &engineFixture{
		shortTerm: shortTerm,
		longTerm:  longTerm,
		embedder:  embedder,
		publisher: publisher,
		engine:    eng,
	}
}

func echoGenerate(_ context.Context, req inference.Request) (inference.Response, error) {
	return inference.Response{Text: "echo: " + req.Prompt}, nil
}

func TestExecuteHappyPath(t *testing.T) {
	fx := newFixture(t, echoGenerate)
	ctx := context.Background()

	// Seed prior conversation and a long-term memory.
	_, err := fx.shortTerm.Append(ctx, "s1", types.RoleUser, "my name is Ada")
	require.NoError(t, err)
	vec, err := fx.embedder.EmbedQuery(ctx, "favorite color is blue")
	require.NoError(t, err)
	require.NoError(t, fx.longTerm.Upsert(ctx, types.MemoryItem{
		ID:        "m1",
		SessionID: "s1",
		Kind:      types.MemoryMessage,
		Text:      "favorite color is blue",
		Embedding: vec,
	}))

	result, err := fx.engine.Execute(ctx, "s1", "what is my favorite color?")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "echo: what is my favorite color?", result.Response)
	assert.False(t, result.Degraded)
	assert.NotEmpty(t, result.Context.Entries)

	// Both turns persisted with consecutive sequence numbers.
	turns, err := fx.shortTerm.ReadWindow(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, types.RoleUser, turns[1].Role)
	assert.Equal(t, types.RoleAssistant, turns[2].Role)
	assert.Equal(t, result.UserSeq+1, result.AssistantSeq)

	// One consolidation event covering exactly the persisted range.
	events := fx.publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, result.UserSeq, events[0].FromSeq)
	assert.Equal(t, result.AssistantSeq, events[0].ToSeq)

	for _, stage := range []StageID{StageRetrieveShort, StageRetrieveLong, StageMerge, StageGenerate, StagePersistShort, StageEmitEvent} {
		assert.Contains(t, result.StageDurations, stage)
	}
}

func TestExecuteRejectsEmptyInput(t *testing.T) {
	fx := newFixture(t, echoGenerate)

	_, err := fx.engine.Execute(context.Background(), "", "hello")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))

	_, err = fx.engine.Execute(context.Background(), "s1", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestExecuteDegradesWhenLongTermDown(t *testing.T) {
	fx := newFixture(t, echoGenerate)
	fx.engine.longTerm = &failingLongTerm{}

	result, err := fx.engine.Execute(context.Background(), "s1", "hello")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.True(t, result.Degraded)
	assert.Len(t, fx.publisher.Events(), 1)
}

func TestExecuteDegradesWhenShortTermDown(t *testing.T) {
	fx := newFixture(t, echoGenerate)
	ctx := context.Background()

	vec, err := fx.embedder.EmbedQuery(ctx, "favorite color is blue")
	require.NoError(t, err)
	require.NoError(t, fx.longTerm.Upsert(ctx, types.MemoryItem{
		ID:        "m1",
		SessionID: "s1",
		Kind:      types.MemoryMessage,
		Text:      "favorite color is blue",
		Embedding: vec,
	}))
	fx.engine.shortTerm = &failingShortTermReads{ShortTermStore: fx.shortTerm}

	result, err := fx.engine.Execute(ctx, "s1", "what is my favorite color?")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.True(t, result.Degraded)
	assert.NotEmpty(t, result.Context.Entries)
	assert.Equal(t, types.SourceLongTerm, result.Context.Entries[0].Source)

	// Both turns persisted and the event emitted despite the degraded read.
	turns, err := fx.shortTerm.ReadWindow(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
	assert.Len(t, fx.publisher.Events(), 1)
}

func TestExecuteRunsRetrievalTiersConcurrently(t *testing.T) {
	shortTerm := memory.NewInMemoryShortTermStore(20)
	embedder := embedding.NewHashProvider(32)
	longTerm := memory.NewInMemoryLongTermStore(embedder.Dimensions(), nil)
	merger := memory.NewMerger(memory.MergerConfig{ItemBudget: 16}, nil, nil)

	shortArrived := make(chan struct{})
	longArrived := make(chan struct{})
	eng := New(
		&rendezvousShortTerm{ShortTermStore: shortTerm, arrived: shortArrived, other: longArrived},
		&rendezvousLongTerm{LongTermStore: longTerm, arrived: longArrived, other: shortArrived},
		embedder,
		merger,
		&fakeGenerator{fn: echoGenerate},
		nil,
		nil,
		Config{RetrieveTimeout: 250 * time.Millisecond, PublishBackoff: time.Millisecond},
		nil,
	)

	// Each tier blocks until the other has started. If the stages ran
	// serially the first would hit its timeout and degrade.
	result, err := eng.Execute(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.False(t, result.Degraded)
}

func TestExecuteFailsOnInferenceError(t *testing.T) {
	fx := newFixture(t, func(context.Context, inference.Request) (inference.Response, error) {
		return inference.Response{}, types.NewError(types.ErrInferenceTimeout, "timed out")
	})
	ctx := context.Background()

	result, err := fx.engine.Execute(ctx, "s1", "hello")
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, types.ErrInferenceTimeout, types.GetErrorCode(err))

	// Nothing persisted, nothing emitted.
	turns, err := fx.shortTerm.ReadWindow(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
	assert.Empty(t, fx.publisher.Events())
}

func TestExecuteCancelDuringGenerateSkipsPersist(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fx := newFixture(t, func(context.Context, inference.Request) (inference.Response, error) {
		// The caller disconnects while generation succeeds anyway.
		cancel()
		return inference.Response{Text: "late response"}, nil
	})

	result, err := fx.engine.Execute(ctx, "s1", "hello")
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.ErrorIs(t, err, context.Canceled)

	turns, err := fx.shortTerm.ReadWindow(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
	assert.Empty(t, fx.publisher.Events())
}

func TestExecutePublishFailureDoesNotFailRequest(t *testing.T) {
	fx := newFixture(t, echoGenerate)
	fx.publisher.err = errors.New("bus down")

	result, err := fx.engine.Execute(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)

	turns, err := fx.shortTerm.ReadWindow(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}
