// Package orche wires planning, tool-name validation and step execution into the single
// question answering entry point.
package orche

import (
	"context"
	"fmt"
	"time"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/events"
	"kgqa_agent/internal/executor"
	"kgqa_agent/internal/planner"
	"kgqa_agent/internal/router"
	"kgqa_agent/internal/telemetry"
	"kgqa_agent/pkg/logger"

	"github.com/google/uuid"
)

// PlanningFailedAnswer is the final answer when no plan could be produced.
const PlanningFailedAnswer = "I encountered an error while planning how to answer your question."

// MetaSessionID is the meta key carrying the session identifier.
const MetaSessionID = "session_id"

type ChunkKind string

const (
	ChunkPlan  ChunkKind = "plan"
	ChunkStep  ChunkKind = "step"
	ChunkFinal ChunkKind = "final"
)

// Chunk is one self-describing piece of an answer stream.
type Chunk struct {
	Kind      ChunkKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	StepIndex int       `json:"step_index,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
}

// Planner produces an unvalidated plan.
type Planner interface {
	Generate(ctx context.Context, in planner.Input) (common.Plan, error)
}

// Recorder persists answered rounds and provides earlier ones as planning context.
type Recorder interface {
	History(ctx context.Context, sessionID string) ([]common.Exchange, error)
	SaveRound(ctx context.Context, sessionID string, r common.Round) error
}

// Compactor shrinks session history before it reaches the planner.
type Compactor interface {
	Compact(ctx context.Context, history []common.Exchange) []common.Exchange
}

type Pipeline struct {
	planner  Planner
	executor *executor.Executor
	registry *router.Registry
	emitter  events.Emitter
	recorder Recorder
	compact  Compactor
	metrics  *logger.Metrics
	prom     *telemetry.Metrics
	buffer   int
}

type Option func(*Pipeline)

// WithEmitter receives every event of every request, in addition to the stream.
func WithEmitter(em events.Emitter) Option {
	return func(p *Pipeline) {
		if em != nil {
			p.emitter = em
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func WithCompactor(c Compactor) Option {
	return func(p *Pipeline) { p.compact = c }
}

func WithMetrics(m *logger.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func WithTelemetry(m *telemetry.Metrics) Option {
	return func(p *Pipeline) { p.prom = m }
}

func New(pl Planner, ex *executor.Executor, reg *router.Registry, opts ...Option) (*Pipeline, error) {
	if pl == nil || ex == nil || reg == nil {
		return nil, fmt.Errorf("orche: planner, executor and registry are required")
	}
	p := &Pipeline{planner: pl, executor: ex, registry: reg, emitter: events.NopEmitter{}, buffer: 16}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Answer streams the answer to question. The channel carries an optional plan chunk,
// one chunk per executed step and exactly one final chunk, then closes. When ctx is
// cancelled the stream stops early and may end without a final chunk.
// meta is passed through untouched except for MetaSessionID.
func (p *Pipeline) Answer(ctx context.Context, question string, meta map[string]any) <-chan Chunk {
	sessionID, _ := meta[MetaSessionID].(string)
	if sessionID == "" {
		sessionID = "sess_" + uuid.NewString()
	}
	out := make(chan Chunk, p.buffer)
	go func() {
		defer close(out)
		p.run(ctx, question, sessionID, out)
	}()
	return out
}

func (p *Pipeline) run(ctx context.Context, question, sessionID string, out chan<- Chunk) {
	timer := logger.NewTimer()
	start := time.Now()
	send := func(c Chunk) bool {
		c.SessionID = sessionID
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	plan, err := p.plan(ctx, question, sessionID)
	if err != nil {
		p.prom.RecordRequest("plan_error", time.Since(start))
		if ctx.Err() != nil {
			return
		}
		send(Chunk{Kind: ChunkFinal, Text: PlanningFailedAnswer})
		p.record(ctx, sessionID, common.Round{Question: question, Answer: PlanningFailedAnswer, Errors: []string{err.Error()}})
		return
	}

	if len(plan.Steps) > 0 && !send(Chunk{Kind: ChunkPlan, Text: common.FormatPlanOverview(plan)}) {
		p.prom.RecordRequest("abandoned", time.Since(start))
		return
	}

	stream := events.FuncEmitter(func(e events.Event) {
		if e.Type != events.TypeStepResult {
			return
		}
		var d events.StepResultData
		if err := e.Decode(&d); err != nil {
			logger.Warnf("[Pipeline] undecodable step event: %v", err)
			return
		}
		send(Chunk{
			Kind:      ChunkStep,
			StepIndex: d.Index,
			Failed:    d.Failed,
			Text:      fmt.Sprintf("**Step %d: %s**\nResult: %s", d.Index+1, d.Instruction, d.Result),
		})
	})
	st := p.executor.Bind(events.Tee{p.emitter, stream}, sessionID).Run(ctx, &plan)

	if ctx.Err() != nil {
		logger.Warnf("[Pipeline] %s abandoned after %dms: %v", sessionID, timer.ElapsedMs(), ctx.Err())
		p.prom.RecordRequest("abandoned", time.Since(start))
		return
	}
	send(Chunk{Kind: ChunkFinal, Text: st.FinalAnswer})

	outcome := "ok"
	if len(st.Errors) > 0 {
		outcome = "partial"
	}
	p.prom.RecordRequest(outcome, time.Since(start))
	p.metrics.Emit(logger.MetricsEvent{
		LogType: logger.LTFinalOutput, Phase: logger.PhaseFinish, Event: logger.EventFinalOutput,
		DurationMs: timer.ElapsedMs(), TotalSteps: len(plan.Steps), Input: question,
		Output: common.TruncateStr(st.FinalAnswer, 2000),
	})
	p.record(ctx, sessionID, common.Round{Question: question, Plan: plan, Answer: st.FinalAnswer, Errors: st.Errors})
}

// plan generates a plan and rewrites every unknown tool name before execution.
func (p *Pipeline) plan(ctx context.Context, question, sessionID string) (common.Plan, error) {
	in := planner.Input{Question: question, SessionID: sessionID}
	if p.recorder != nil {
		h, err := p.recorder.History(ctx, sessionID)
		if err != nil {
			logger.Warnf("[Pipeline] history for %s unavailable: %v", sessionID, err)
		}
		if p.compact != nil && len(h) > 0 {
			h = p.compact.Compact(ctx, h)
		}
		in.History = h
	}

	plan, err := p.planner.Generate(ctx, in)
	if err != nil {
		logger.Errorf("[Pipeline] planning failed for %s: %v", sessionID, err)
		return common.Plan{}, err
	}

	for _, r := range planner.Validate(&plan, p.registry.Names(), p.registry) {
		p.prom.RecordRemap(r.To)
		p.emitter.Emit(events.NewEvent(events.TypeGuardRemap, sessionID, events.RemapData{
			StepIndex: r.StepIndex, From: r.From, To: r.To,
		}))
		p.metrics.Emit(logger.MetricsEvent{
			LogType: logger.LTGuardRemap, Phase: logger.PhaseGuard, Event: logger.EventPlanParsed,
			StepIndex: r.StepIndex, Tool: r.To, Input: r.From,
		})
	}
	p.emitter.Emit(planner.PlanCreatedEvent(sessionID, plan))
	return plan, nil
}

func (p *Pipeline) record(ctx context.Context, sessionID string, r common.Round) {
	if p.recorder == nil {
		return
	}
	if err := p.recorder.SaveRound(context.WithoutCancel(ctx), sessionID, r); err != nil {
		logger.Warnf("[Pipeline] failed to save round for %s: %v", sessionID, err)
	}
}
