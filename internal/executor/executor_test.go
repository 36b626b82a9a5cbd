package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/events"
	"kgqa_agent/internal/router"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func newTestExecutor(t *testing.T, caps Capabilities, opts ...Option) *Executor {
	t.Helper()
	e, err := New(router.NewRegistry(), caps, opts...)
	require.NoError(t, err)
	return e
}

func failing(rec *recorder) Invoker {
	return InvokerFunc(func(_ context.Context, instruction string) (string, error) {
		rec.add(instruction)
		return "", errors.New("neo4j unavailable")
	})
}

func TestNewRequiresRegistry(t *testing.T) {
	_, err := New(nil, Capabilities{})
	require.Error(t, err)
}

func TestEmptyPlanFinishesWithExplanation(t *testing.T) {
	e := newTestExecutor(t, Capabilities{})
	for _, plan := range []*common.Plan{nil, {}} {
		st := e.Run(context.Background(), plan)
		require.True(t, st.IsComplete)
		require.Equal(t, noPlanAnswer, st.FinalAnswer)
		require.Equal(t, []string{ErrNoPlan.Error()}, st.Errors)
	}
}

func TestDirectResponseBypassesExecution(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(t, Capabilities{GraphQuery: failing(rec), Semantic: failing(rec)})
	st := e.Run(context.Background(), &common.Plan{DirectResponse: "Hello"})
	require.True(t, st.IsComplete)
	require.Equal(t, "Hello", st.FinalAnswer)
	require.Empty(t, rec.calls)
	require.Empty(t, st.ToolResults)
}

func TestSingleStepFailureDoesNotAbort(t *testing.T) {
	rec := &recorder{}
	caps := Capabilities{
		GraphQuery: failing(rec),
		Semantic: InvokerFunc(func(_ context.Context, instruction string) (string, error) {
			return "found 3 chunks", nil
		}),
	}
	e := newTestExecutor(t, caps)
	plan := &common.Plan{Goal: "describe projects", Steps: []common.Step{
		{Instruction: "count projects", SuggestedTool: "cypher_query_agent"},
		{Instruction: "describe flora", SuggestedTool: "hybrid_graphRAG_agent"},
	}}

	st := e.Run(context.Background(), plan)

	require.Len(t, st.Errors, 1)
	require.Len(t, st.ToolResults, 2)
	require.True(t, st.ToolResults[0].Failed())
	require.Nil(t, st.ToolResults[0].Result)
	require.Equal(t, "found 3 chunks", st.ToolResults[1].Result)
	require.Equal(t, 2, st.CurrentStepIndex)
	require.True(t, st.IsComplete)
	require.True(t, plan.IsComplete())
	require.True(t, strings.HasPrefix(plan.Steps[0].Result, "Error: "))
	require.Contains(t, st.FinalAnswer, "**Goal:** describe projects")
	require.Contains(t, st.FinalAnswer, "**Step 2: describe flora**")
	require.Contains(t, st.FinalAnswer, "Result: found 3 chunks")
}

func TestCircuitBreakerStopsEarly(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(t, Capabilities{GraphQuery: failing(rec)})
	plan := &common.Plan{Goal: "g"}
	for i := 0; i < 5; i++ {
		plan.Steps = append(plan.Steps, common.Step{Instruction: "q", SuggestedTool: "cypher"})
	}

	st := e.Run(context.Background(), plan)

	require.True(t, st.IsComplete)
	require.LessOrEqual(t, st.CurrentStepIndex, 4)
	require.Equal(t, 4, len(st.Errors))
	require.Len(t, rec.calls, 4)
	require.False(t, plan.Steps[4].IsComplete)
	require.NotEmpty(t, st.FinalAnswer)
}

func TestMaxErrorsOption(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(t, Capabilities{GraphQuery: failing(rec)}, WithMaxErrors(0))
	plan := &common.Plan{Steps: []common.Step{
		{Instruction: "a", SuggestedTool: "cypher"},
		{Instruction: "b", SuggestedTool: "cypher"},
	}}
	st := e.Run(context.Background(), plan)
	require.Equal(t, 1, st.CurrentStepIndex)
}

func TestReasoningReceivesPriorResults(t *testing.T) {
	var got ReasoningInput
	caps := Capabilities{
		GraphQuery: InvokerFunc(func(context.Context, string) (string, error) { return "12 projects", nil }),
		Reasoning: ReasonerFunc(func(_ context.Context, in ReasoningInput) (string, error) {
			got = in
			return "twelve", nil
		}),
	}
	e := newTestExecutor(t, caps)
	plan := &common.Plan{Steps: []common.Step{
		{Instruction: "count", SuggestedTool: "cypher_query_agent"},
		{Instruction: "summarize", SuggestedTool: "SomeMadeUpTool"},
	}}
	st := e.Run(context.Background(), plan)

	require.Equal(t, "summarize", got.Instruction)
	require.Equal(t, []common.PriorResult{{Step: 1, Instruction: "count", Result: "12 projects"}}, got.CurrentResults)
	require.Equal(t, []any{"12 projects"}, got.PartialResults)
	require.Equal(t, router.ReasoningTool, st.ToolResults[1].ToolName)
}

type utilityFunc func(ctx context.Context, name, instruction string) (string, error)

func (f utilityFunc) Run(ctx context.Context, name, instruction string) (string, error) {
	return f(ctx, name, instruction)
}

func TestUtilityRoutedByExactName(t *testing.T) {
	reg := router.NewRegistry()
	reg.Register(router.Descriptor{Name: "list_regions", Kind: router.KindUtility})
	var gotName string
	e, err := New(reg, Capabilities{Utilities: utilityFunc(func(_ context.Context, name, _ string) (string, error) {
		gotName = name
		return `{"regions":["Los Lagos"],"count":1}`, nil
	})})
	require.NoError(t, err)

	st := e.Run(context.Background(), &common.Plan{Steps: []common.Step{{Instruction: "list all regions", SuggestedTool: "list_regions"}}})
	require.Equal(t, "list_regions", gotName)
	require.Empty(t, st.Errors)
}

func TestPanicAndMissingCapabilityBecomeStepErrors(t *testing.T) {
	caps := Capabilities{
		GraphQuery: InvokerFunc(func(context.Context, string) (string, error) { panic("driver nil") }),
	}
	e := newTestExecutor(t, caps)
	plan := &common.Plan{Steps: []common.Step{
		{Instruction: "a", SuggestedTool: "cypher"},
		{Instruction: "b", SuggestedTool: "hybrid"},
	}}
	st := e.Run(context.Background(), plan)
	require.Len(t, st.Errors, 2)
	require.Contains(t, st.ToolResults[0].Error, "panicked: driver nil")
	require.Contains(t, st.ToolResults[1].Error, "not configured")
	require.True(t, st.IsComplete)
}

func TestCancelledContextJumpsToFinish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &recorder{}
	e := newTestExecutor(t, Capabilities{GraphQuery: failing(rec)})
	st := e.Run(ctx, &common.Plan{DirectResponse: "fallback", Steps: []common.Step{{Instruction: "a", SuggestedTool: "cypher"}}})
	require.True(t, st.IsComplete)
	require.Empty(t, rec.calls)
	require.Equal(t, "fallback", st.FinalAnswer)
}

func TestFinishIsIdempotent(t *testing.T) {
	var finals int
	em := events.FuncEmitter(func(evt events.Event) {
		if evt.Type == events.TypeFinalAnswer {
			finals++
		}
	})
	e := newTestExecutor(t, Capabilities{
		Reasoning: ReasonerFunc(func(context.Context, ReasoningInput) (string, error) { return "ok", nil }),
	}).Bind(em, "s1")
	plan := &common.Plan{Goal: "g", Steps: []common.Step{{Instruction: "think", SuggestedTool: "reasoning_agent"}}}
	st := e.Run(context.Background(), plan)
	answer := st.FinalAnswer

	require.Equal(t, PhaseDone, e.Transition(context.Background(), st, PhaseFinish))
	require.Equal(t, answer, st.FinalAnswer)
	require.Equal(t, 1, finals)
	require.Len(t, st.ToolResults, 1)
}

func TestTransitionsAreDataDriven(t *testing.T) {
	e := newTestExecutor(t, Capabilities{
		Reasoning: ReasonerFunc(func(context.Context, ReasoningInput) (string, error) { return "ok", nil }),
	})
	st := NewRunState(&common.Plan{Steps: []common.Step{{Instruction: "a"}, {Instruction: "b"}}})
	ctx := context.Background()

	var trace []Phase
	for p := PhaseCheckPlan; p != PhaseDone; p = e.Transition(ctx, st, p) {
		trace = append(trace, p)
	}
	require.Equal(t, []Phase{
		PhaseCheckPlan,
		PhaseExecuteStep, PhaseReflect,
		PhaseExecuteStep, PhaseReflect,
		PhaseFinish,
	}, trace)
	require.Equal(t, "reflect", PhaseReflect.String())
}

func TestStepEventsCarrySession(t *testing.T) {
	var mu sync.Mutex
	var types []string
	em := events.FuncEmitter(func(evt events.Event) {
		mu.Lock()
		defer mu.Unlock()
		require.Equal(t, "sess-1", evt.SessionID)
		types = append(types, evt.Type)
	})
	e := newTestExecutor(t, Capabilities{
		Reasoning: ReasonerFunc(func(context.Context, ReasoningInput) (string, error) { return "ok", nil }),
	}).Bind(em, "sess-1")
	e.Run(context.Background(), &common.Plan{Steps: []common.Step{{Instruction: "a"}}})
	require.Equal(t, []string{events.TypeStepStarted, events.TypeStepResult, events.TypeFinalAnswer}, types)
}
