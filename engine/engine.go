package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/memflow/bus"
	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/inference"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/types"
)

// State is the lifecycle of one workflow execution.
type State string

const (
	StatePending    State = "PENDING"
	StateRetrieving State = "RETRIEVING"
	StateMerging    State = "MERGING"
	StateGenerating State = "GENERATING"
	StatePersisting State = "PERSISTING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Config tunes the workflow engine.
type Config struct {
	// RetrieveShort / RetrieveLong bound candidates per tier.
	RetrieveShort int
	RetrieveLong  int
	// RetrieveTimeout bounds each retrieval stage; an expired tier
	// degrades to an empty contribution.
	RetrieveTimeout time.Duration
	// LongTermMinImportance filters low-value items out of retrieval.
	LongTermMinImportance float64
	// PublishRetries / PublishBackoff bound consolidation event emission.
	PublishRetries int
	PublishBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetrieveShort <= 0 {
		c.RetrieveShort = 10
	}
	if c.RetrieveLong <= 0 {
		c.RetrieveLong = 3
	}
	if c.RetrieveTimeout <= 0 {
		c.RetrieveTimeout = 5 * time.Second
	}
	if c.PublishRetries <= 0 {
		c.PublishRetries = 3
	}
	if c.PublishBackoff <= 0 {
		c.PublishBackoff = 100 * time.Millisecond
	}
	return c
}

// Result reports one finished execution.
type Result struct {
	State    State
	Response string
	// Context is the merged window fed to generation.
	Context types.RetrievalResult
	// Degraded marks executions where at least one retrieval tier failed.
	Degraded bool
	// UserSeq / AssistantSeq are the persisted turn sequence numbers.
	UserSeq      uint64
	AssistantSeq uint64
	// StageDurations holds wall time per executed stage.
	StageDurations map[StageID]time.Duration
}

// Engine executes the conversation workflow.
type Engine struct {
	graph     *Graph
	shortTerm memory.ShortTermStore
	longTerm  memory.LongTermStore
	embedder  embedding.Provider
	merger    *memory.Merger
	generator inference.Generator
	publisher bus.Publisher
	collector *metrics.Collector
	tracer    trace.Tracer
	config    Config
	logger    *zap.Logger
}

// New creates an engine. publisher and collector may be nil; a nil
// publisher skips event emission, a nil collector skips metrics.
func New(
	shortTerm memory.ShortTermStore,
	longTerm memory.LongTermStore,
	embedder embedding.Provider,
	merger *memory.Merger,
	generator inference.Generator,
	publisher bus.Publisher,
	collector *metrics.Collector,
	config Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		graph:     conversationGraph(),
		shortTerm: shortTerm,
		longTerm:  longTerm,
		embedder:  embedder,
		merger:    merger,
		generator: generator,
		publisher: publisher,
		collector: collector,
		tracer:    otel.Tracer("memflow/engine"),
		config:    config.withDefaults(),
		logger:    logger.With(zap.String("component", "engine")),
	}
}

// Graph exposes the validated stage graph.
func (e *Engine) Graph() *Graph { return e.graph }

type execution struct {
	sessionID string
	message   string
	state     State

	// mu guards degraded and durations, which both retrieval goroutines
	// touch concurrently.
	mu        sync.Mutex
	degraded  bool
	durations map[StageID]time.Duration

	turns   []types.Turn
	hits    []types.ScoredItem
	context types.RetrievalResult

	response      inference.Response
	userTurn      types.Turn
	assistantTurn types.Turn
}

// stageStates maps each stage onto the workflow state entered when its
// wave starts.
var stageStates = map[StageID]State{
	StageRetrieveShort: StateRetrieving,
	StageRetrieveLong:  StateRetrieving,
	StageMerge:         StateMerging,
	StageGenerate:      StateGenerating,
	StagePersistShort:  StatePersisting,
	StageEmitEvent:     StatePersisting,
}

func (x *execution) markDegraded() {
	x.mu.Lock()
	x.degraded = true
	x.mu.Unlock()
}

func (x *execution) isDegraded() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.degraded
}

func (e *Engine) transition(exec *execution, next State) {
	if next == exec.state {
		return
	}
	e.logger.Debug("workflow state transition",
		zap.String("session_id", exec.sessionID),
		zap.String("from", string(exec.state)),
		zap.String("to", string(next)),
	)
	exec.state = next
}

func (e *Engine) timeStage(exec *execution, stage StageID, start time.Time) {
	d := time.Since(start)
	exec.mu.Lock()
	exec.durations[stage] = d
	exec.mu.Unlock()
	if e.collector != nil {
		e.collector.ObserveStageDuration(string(stage), d)
	}
}

// Execute runs one conversation turn through the workflow. On failure
// the returned Result still carries the final state and stage timings.
func (e *Engine) Execute(ctx context.Context, sessionID, message string) (Result, error) {
	if sessionID == "" || message == "" {
		return Result{State: StateFailed}, types.NewError(types.ErrInvalidRequest,
			"session_id and message are required")
	}

	ctx, span := e.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	exec := &execution{
		sessionID: sessionID,
		message:   message,
		state:     StatePending,
		durations: make(map[StageID]time.Duration, 6),
	}

	stages := map[StageID]func(context.Context, *execution) error{
		StageRetrieveShort: e.retrieveShort,
		StageRetrieveLong:  e.retrieveLong,
		StageMerge:         e.merge,
		StageGenerate:      e.generate,
		StagePersistShort:  e.persist,
		StageEmitEvent:     e.emitEvent,
	}

	// Scheduling is driven by the graph: each wave holds stages whose
	// dependencies are all satisfied, and a multi-stage wave runs
	// concurrently.
	for _, wave := range e.graph.Waves() {
		e.transition(exec, stageStates[wave[0]])

		var err error
		if len(wave) == 1 {
			err = stages[wave[0]](ctx, exec)
		} else {
			g, gctx := errgroup.WithContext(ctx)
			for _, stage := range wave {
				run := stages[stage]
				g.Go(func() error { return run(gctx, exec) })
			}
			err = g.Wait()
		}
		if err != nil {
			return e.fail(exec, err)
		}
	}

	e.transition(exec, StateCompleted)
	if e.collector != nil {
		e.collector.ObserveWorkflowExecution(string(StateCompleted))
	}
	return Result{
		State:          StateCompleted,
		Response:       exec.response.Text,
		Context:        exec.context,
		Degraded:       exec.isDegraded(),
		UserSeq:        exec.userTurn.Seq,
		AssistantSeq:   exec.assistantTurn.Seq,
		StageDurations: exec.durations,
	}, nil
}

func (e *Engine) fail(exec *execution, err error) (Result, error) {
	e.transition(exec, StateFailed)
	if e.collector != nil {
		e.collector.ObserveWorkflowExecution(string(StateFailed))
	}
	e.logger.Warn("workflow execution failed",
		zap.String("session_id", exec.sessionID),
		zap.Error(err),
	)
	return Result{
		State:          StateFailed,
		Context:        exec.context,
		Degraded:       exec.isDegraded(),
		StageDurations: exec.durations,
	}, err
}

// retrieveShort loads the recency window. A failed or timed-out read
// logs, marks the execution degraded, and contributes nothing;
// retrieval never fails the request.
func (e *Engine) retrieveShort(ctx context.Context, exec *execution) error {
	start := time.Now()
	defer e.timeStage(exec, StageRetrieveShort, start)

	_, span := e.tracer.Start(ctx, string(StageRetrieveShort))
	defer span.End()

	stageCtx, cancel := context.WithTimeout(ctx, e.config.RetrieveTimeout)
	defer cancel()

	turns, err := e.shortTerm.ReadWindow(stageCtx, exec.sessionID, e.config.RetrieveShort)
	if err != nil {
		e.logger.Warn("short-term retrieval degraded",
			zap.String("session_id", exec.sessionID),
			zap.Error(err),
		)
		exec.markDegraded()
		return nil
	}
	exec.turns = turns
	return nil
}

// retrieveLong embeds the message and searches long-term memory, with
// the same degradation contract as retrieveShort.
func (e *Engine) retrieveLong(ctx context.Context, exec *execution) error {
	start := time.Now()
	defer e.timeStage(exec, StageRetrieveLong, start)

	_, span := e.tracer.Start(ctx, string(StageRetrieveLong))
	defer span.End()

	stageCtx, cancel := context.WithTimeout(ctx, e.config.RetrieveTimeout)
	defer cancel()

	query, err := e.embedder.EmbedQuery(stageCtx, exec.message)
	if err == nil {
		var hits []types.ScoredItem
		hits, err = e.longTerm.Search(stageCtx, query, e.config.RetrieveLong, memory.Filter{
			SessionID:     exec.sessionID,
			MinImportance: e.config.LongTermMinImportance,
		})
		if err == nil {
			exec.hits = hits
			return nil
		}
	}
	e.logger.Warn("long-term retrieval degraded",
		zap.String("session_id", exec.sessionID),
		zap.Error(err),
	)
	exec.markDegraded()
	return nil
}

func (e *Engine) merge(ctx context.Context, exec *execution) error {
	start := time.Now()
	defer e.timeStage(exec, StageMerge, start)

	_, span := e.tracer.Start(ctx, string(StageMerge))
	defer span.End()

	exec.context = e.merger.Merge(exec.turns, exec.hits)
	if e.collector != nil {
		short, long := 0, 0
		for _, entry := range exec.context.Entries {
			if entry.Source == types.SourceShortTerm {
				short++
			} else {
				long++
			}
		}
		e.collector.ObserveRetrieval(string(types.SourceShortTerm), short, exec.context.Truncated)
		e.collector.ObserveRetrieval(string(types.SourceLongTerm), long, false)
	}
	return nil
}

func (e *Engine) generate(ctx context.Context, exec *execution) error {
	start := time.Now()
	defer e.timeStage(exec, StageGenerate, start)

	genCtx, span := e.tracer.Start(ctx, string(StageGenerate))
	defer span.End()

	response, err := e.generator.Generate(genCtx, inference.Request{
		Context: exec.context.Texts(),
		Prompt:  exec.message,
	})
	if err != nil {
		return err
	}
	exec.response = response
	return nil
}

func (e *Engine) persist(ctx context.Context, exec *execution) error {
	start := time.Now()
	defer e.timeStage(exec, StagePersistShort, start)

	// Cancellation barrier: a cancel observed here aborts cleanly with
	// nothing persisted. Once the writes start they always complete.
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	persistCtx, span := e.tracer.Start(ctx, string(StagePersistShort))
	defer span.End()

	userTurn, err := e.shortTerm.Append(persistCtx, exec.sessionID, types.RoleUser, exec.message)
	if err != nil {
		return err
	}
	assistantTurn, err := e.shortTerm.Append(persistCtx, exec.sessionID, types.RoleAssistant, exec.response.Text)
	if err != nil {
		return err
	}
	exec.userTurn = userTurn
	exec.assistantTurn = assistantTurn
	return nil
}

// emitEvent publishes the consolidation event with bounded backoff.
// Exhausting retries never fails the request; the window stays in
// short-term until a later event covers it or it expires.
func (e *Engine) emitEvent(ctx context.Context, exec *execution) error {
	start := time.Now()
	defer e.timeStage(exec, StageEmitEvent, start)

	if e.publisher == nil {
		return nil
	}

	emitCtx, span := e.tracer.Start(context.WithoutCancel(ctx), string(StageEmitEvent))
	defer span.End()

	event := types.ConsolidationEvent{
		SessionID: exec.sessionID,
		FromSeq:   exec.userTurn.Seq,
		ToSeq:     exec.assistantTurn.Seq,
		EmittedAt: time.Now().UTC(),
	}

	backoff := e.config.PublishBackoff
	var lastErr error
	for attempt := 1; attempt <= e.config.PublishRetries; attempt++ {
		lastErr = e.publisher.Publish(emitCtx, event)
		if lastErr == nil {
			if e.collector != nil {
				e.collector.EventPublished()
			}
			return nil
		}
		if attempt < e.config.PublishRetries {
			select {
			case <-time.After(backoff):
			case <-emitCtx.Done():
				lastErr = emitCtx.Err()
				attempt = e.config.PublishRetries
			}
			backoff *= 2
		}
	}

	e.logger.Warn("consolidation event publish exhausted retries",
		zap.String("session_id", exec.sessionID),
		zap.Uint64("from_seq", event.FromSeq),
		zap.Uint64("to_seq", event.ToSeq),
		zap.Error(lastErr),
	)
	if e.collector != nil {
		e.collector.EventPublishFailed()
	}
	return nil
}
