package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/events"
	"kgqa_agent/internal/reducer"
	"kgqa_agent/internal/router"
	"kgqa_agent/internal/telemetry"
	"kgqa_agent/pkg/logger"
)

// DefaultMaxErrors is the circuit breaker bound: execution stops once more than this
// many step errors have accumulated.
const DefaultMaxErrors = 3

const (
	noPlanAnswer    = "No plan was provided to execute."
	noResultsAnswer = "No results available."
)

var ErrNoPlan = errors.New("no plan provided")

// Invoker is a free-text capability (graph query, semantic retrieval).
type Invoker interface {
	Invoke(ctx context.Context, instruction string) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, instruction string) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, instruction string) (string, error) {
	return f(ctx, instruction)
}

// ReasoningInput is what the reasoning capability sees: the instruction, the results of
// earlier completed steps, and every tool result gathered so far.
type ReasoningInput struct {
	Instruction    string
	CurrentResults []common.PriorResult
	PartialResults []any
}

type Reasoner interface {
	Reason(ctx context.Context, in ReasoningInput) (string, error)
}

type ReasonerFunc func(ctx context.Context, in ReasoningInput) (string, error)

func (f ReasonerFunc) Reason(ctx context.Context, in ReasoningInput) (string, error) {
	return f(ctx, in)
}

// UtilityRunner executes a named structured lookup, deriving its arguments from the
// step instruction.
type UtilityRunner interface {
	Run(ctx context.Context, name, instruction string) (string, error)
}

// Capabilities are the collaborators a step can be routed to. Nil members fail the
// step that needs them.
type Capabilities struct {
	GraphQuery Invoker
	Semantic   Invoker
	Reasoning  Reasoner
	Utilities  UtilityRunner
}

// Executor drives plans through the step state machine. It holds no per-request state
// and may be shared across goroutines; Bind derives a request-scoped copy.
type Executor struct {
	registry  *router.Registry
	caps      Capabilities
	emitter   events.Emitter
	metrics   *logger.Metrics
	prom      *telemetry.Metrics
	maxErrors int
	sessionID string
}

type Option func(*Executor)

func WithEmitter(em events.Emitter) Option {
	return func(e *Executor) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithMaxErrors overrides the circuit breaker bound. Values below zero are ignored.
func WithMaxErrors(n int) Option {
	return func(e *Executor) {
		if n >= 0 {
			e.maxErrors = n
		}
	}
}

func WithMetrics(m *logger.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func WithTelemetry(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.prom = m }
}

// New creates an Executor. The registry is required.
func New(reg *router.Registry, caps Capabilities, opts ...Option) (*Executor, error) {
	if reg == nil {
		return nil, errors.New("executor: nil registry")
	}
	e := &Executor{
		registry:  reg,
		caps:      caps,
		emitter:   events.NopEmitter{},
		maxErrors: DefaultMaxErrors,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Bind returns a copy of e that reports events for one request.
func (e *Executor) Bind(em events.Emitter, sessionID string) *Executor {
	cp := *e
	if em != nil {
		cp.emitter = em
	}
	cp.sessionID = sessionID
	return &cp
}

// Run executes plan to completion and returns the final state. It never returns an
// error: step failures, an empty plan and cancellation all end in Finish with a
// best-effort answer.
func (e *Executor) Run(ctx context.Context, plan *common.Plan) *RunState {
	st := NewRunState(plan)
	timer := logger.NewTimer()
	e.metrics.Emit(logger.MetricsEvent{
		LogType: logger.LTExecutorStart, Phase: logger.PhaseExecutor, Event: logger.EventPhaseStart,
		TotalSteps: st.totalSteps(),
	})

	phase := PhaseCheckPlan
	for phase != PhaseDone {
		phase = e.Transition(ctx, st, phase)
	}

	logger.Infof("[Executor] done in %dms: executed=%d errors=%d", timer.ElapsedMs(), st.CurrentStepIndex, len(st.Errors))
	e.metrics.Emit(logger.MetricsEvent{
		LogType: logger.LTExecutorEnd, Phase: logger.PhaseExecutor, Event: logger.EventPhaseEnd,
		TotalSteps: st.totalSteps(), DurationMs: timer.ElapsedMs(),
		Detail: map[string]int{"executed": st.CurrentStepIndex, "errors": len(st.Errors)},
	})
	return st
}

// Transition performs the work of phase p on st and returns the next phase.
// A cancelled context short-circuits every phase except Finish to Finish.
func (e *Executor) Transition(ctx context.Context, st *RunState, p Phase) Phase {
	if p != PhaseFinish && p != PhaseDone && ctx.Err() != nil {
		logger.Warnf("[Executor] context done in %s: %v", p, ctx.Err())
		return PhaseFinish
	}
	switch p {
	case PhaseCheckPlan:
		return e.checkPlan(st)
	case PhaseExecuteStep:
		return e.executeStep(ctx, st)
	case PhaseReflect:
		return e.reflect(st)
	case PhaseFinish:
		return e.finish(st)
	default:
		return PhaseDone
	}
}

func (e *Executor) checkPlan(st *RunState) Phase {
	p := st.Plan
	switch {
	case p != nil && len(p.Steps) == 0 && p.DirectResponse != "":
		logger.Infof("[Executor] direct response, skipping execution")
		st.setFinalAnswer(p.DirectResponse)
		return PhaseFinish
	case p != nil && len(p.Steps) > 0:
		logger.Infof("[Executor] plan has %d steps, goal: %s", len(p.Steps), p.Goal)
		return PhaseExecuteStep
	default:
		logger.Warnf("[Executor] no plan or steps available")
		st.Errors = reducer.AppendTyped(st.Errors, []string{ErrNoPlan.Error()}, false)
		st.setFinalAnswer(noPlanAnswer)
		return PhaseFinish
	}
}

func (e *Executor) executeStep(ctx context.Context, st *RunState) Phase {
	i := st.CurrentStepIndex
	if i >= st.totalSteps() {
		logger.Infof("[Executor] all steps completed")
		return PhaseFinish
	}
	step := &st.Plan.Steps[i]
	desc := e.registry.Route(step.SuggestedTool)
	logger.Infof("[Executor] step %d/%d via %s: %s", i+1, len(st.Plan.Steps), desc.Name, step.Instruction)
	e.emit(events.TypeStepStarted, events.StepStartedData{
		Index: i, Instruction: step.Instruction, Tool: desc.Name, TotalSteps: len(st.Plan.Steps),
	})

	e.metrics.Emit(logger.MetricsEvent{
		LogType: logger.LTStepResult, Phase: logger.PhaseExecutor, Event: logger.EventStepStart,
		StepIndex: i, Tool: desc.Name, Input: step.Instruction,
	})

	timer := logger.NewTimer()
	result, err := e.invoke(ctx, desc, st)
	elapsed := timer.ElapsedMs()

	tr := common.ToolResult{ToolName: desc.Name, StepIndex: i}
	if err != nil {
		logger.Errorf("[Executor] step %d failed after %dms: %v", i+1, elapsed, err)
		tr.Error = err.Error()
		step.Complete(fmt.Sprintf("Error: %v", err))
		st.Errors = reducer.AppendTyped(st.Errors, []string{fmt.Sprintf("Step %d failed: %v", i+1, err)}, false)
		e.emit(events.TypeStepError, events.ErrorData{Phase: logger.PhaseExecutor, Message: err.Error(), StepIndex: i})
		e.metrics.Emit(logger.MetricsEvent{
			LogType: logger.LTStepError, Phase: logger.PhaseExecutor, Event: logger.EventStepError,
			StepIndex: i, Tool: desc.Name, DurationMs: elapsed, Error: err.Error(),
		})
	} else {
		logger.Infof("[Executor] step %d completed in %dms (%d chars)", i+1, elapsed, len(result))
		tr.Result = result
		step.Complete(result)
		e.metrics.Emit(logger.MetricsEvent{
			LogType: logger.LTStepResult, Phase: logger.PhaseExecutor, Event: logger.EventStepEnd,
			StepIndex: i, Tool: desc.Name, DurationMs: elapsed, Output: common.TruncateStr(result, 2000),
		})
	}
	e.prom.RecordStep(desc.Name, err != nil)
	e.emit(events.TypeStepResult, events.StepResultData{
		Index: i, Instruction: step.Instruction, Tool: desc.Name,
		Result: common.TruncateStr(step.Result, 2000), Failed: err != nil, DurationMs: elapsed,
	})

	st.ToolResults = reducer.AppendTyped(st.ToolResults, []common.ToolResult{tr}, false)
	st.CurrentStepIndex = i + 1
	return PhaseReflect
}

func (e *Executor) reflect(st *RunState) Phase {
	if st.CurrentStepIndex >= st.totalSteps() {
		return PhaseFinish
	}
	if len(st.Errors) > e.maxErrors {
		logger.Errorf("[Executor] too many errors (%d > %d), stopping at step %d/%d",
			len(st.Errors), e.maxErrors, st.CurrentStepIndex, st.totalSteps())
		e.emit(events.TypeCircuitOpen, events.ErrorData{
			Phase:     logger.PhaseExecutor,
			Message:   fmt.Sprintf("stopped after %d errors", len(st.Errors)),
			StepIndex: st.CurrentStepIndex,
		})
		e.metrics.Emit(logger.MetricsEvent{
			LogType: logger.LTCircuitBreaker, Phase: logger.PhaseExecutor, Event: logger.EventPhaseError,
			StepIndex: st.CurrentStepIndex, TotalSteps: st.totalSteps(),
		})
		return PhaseFinish
	}
	e.metrics.Emit(logger.MetricsEvent{
		LogType: logger.LTReflect, Phase: logger.PhaseExecutor, Event: logger.EventLoopEnter,
		StepIndex: st.CurrentStepIndex, TotalSteps: st.totalSteps(),
		Detail: map[string]int{"errors": len(st.Errors)},
	})
	return PhaseExecuteStep
}

func (e *Executor) finish(st *RunState) Phase {
	if st.IsComplete {
		return PhaseDone
	}
	if len(st.Errors) > 0 {
		logger.Warnf("[Executor] completed with %d errors", len(st.Errors))
	}
	if st.FinalAnswer == "" {
		st.setFinalAnswer(composeAnswer(st))
	}
	st.IsComplete = true
	e.emit(events.TypeFinalAnswer, events.FinalAnswerData{
		Answer:     st.FinalAnswer,
		ContentLen: len(st.FinalAnswer),
		TotalSteps: st.totalSteps(),
		Executed:   st.CurrentStepIndex,
		Errors:     len(st.Errors),
	})
	return PhaseDone
}

// composeAnswer builds the report from completed steps, or falls back to the direct
// response when nothing was executed.
func composeAnswer(st *RunState) string {
	if len(st.ToolResults) == 0 {
		if st.Plan != nil && st.Plan.DirectResponse != "" {
			return st.Plan.DirectResponse
		}
		return noResultsAnswer
	}
	var sb strings.Builder
	sb.WriteString("**Goal:** " + st.Plan.Goal + "\n")
	for i, s := range st.Plan.Steps {
		if !s.IsComplete {
			continue
		}
		sb.WriteString(fmt.Sprintf("\n**Step %d: %s**\n", i+1, s.Instruction))
		if s.Result != "" {
			sb.WriteString("Result: " + s.Result + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// invoke calls the capability for the current step. Panics are converted to errors.
func (e *Executor) invoke(ctx context.Context, desc router.Descriptor, st *RunState) (res string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[Executor] capability %s panicked: %v\n%s", desc.Name, r, debug.Stack())
			err = fmt.Errorf("capability %s panicked: %v", desc.Name, r)
		}
	}()

	instruction := st.Plan.Steps[st.CurrentStepIndex].Instruction
	switch desc.Kind {
	case router.KindGraphQuery:
		if e.caps.GraphQuery == nil {
			return "", errUnavailable(desc.Name)
		}
		return e.caps.GraphQuery.Invoke(ctx, instruction)
	case router.KindSemanticRetrieval:
		if e.caps.Semantic == nil {
			return "", errUnavailable(desc.Name)
		}
		return e.caps.Semantic.Invoke(ctx, instruction)
	case router.KindUtility:
		if e.caps.Utilities == nil {
			return "", errUnavailable(desc.Name)
		}
		return e.caps.Utilities.Run(ctx, desc.Name, instruction)
	default:
		if e.caps.Reasoning == nil {
			return "", errUnavailable(desc.Name)
		}
		return e.caps.Reasoning.Reason(ctx, st.reasoningInput(instruction))
	}
}

func (e *Executor) emit(eventType string, data any) {
	e.emitter.Emit(events.NewEvent(eventType, e.sessionID, data))
}

func errUnavailable(name string) error {
	return fmt.Errorf("capability %s is not configured", name)
}
