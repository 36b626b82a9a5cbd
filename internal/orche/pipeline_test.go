package orche

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/events"
	"kgqa_agent/internal/executor"
	"kgqa_agent/internal/planner"
	"kgqa_agent/internal/router"
	"kgqa_agent/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type plannerFunc func(ctx context.Context, in planner.Input) (common.Plan, error)

func (f plannerFunc) Generate(ctx context.Context, in planner.Input) (common.Plan, error) {
	return f(ctx, in)
}

type memRecorder struct {
	mu     sync.Mutex
	rounds map[string][]common.Round
}

func (m *memRecorder) History(_ context.Context, id string) ([]common.Exchange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []common.Exchange
	for _, r := range m.rounds[id] {
		out = append(out, common.Exchange{Question: r.Question, Answer: r.Answer})
	}
	return out, nil
}

func (m *memRecorder) SaveRound(_ context.Context, id string, r common.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rounds == nil {
		m.rounds = map[string][]common.Round{}
	}
	m.rounds[id] = append(m.rounds[id], r)
	return nil
}

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func finals(chunks []Chunk) int {
	n := 0
	for _, c := range chunks {
		if c.Kind == ChunkFinal {
			n++
		}
	}
	return n
}

func newExecutor(t *testing.T, reg *router.Registry, caps executor.Capabilities) *executor.Executor {
	t.Helper()
	ex, err := executor.New(reg, caps)
	require.NoError(t, err)
	return ex
}

func TestAnswerStreamsPlanStepsAndOneFinal(t *testing.T) {
	reg := router.NewRegistry()
	var seenTools []string
	var mu sync.Mutex
	caps := executor.Capabilities{
		GraphQuery: executor.InvokerFunc(func(context.Context, string) (string, error) { return "4 projects", nil }),
		Reasoning: executor.ReasonerFunc(func(_ context.Context, in executor.ReasoningInput) (string, error) {
			return "Coquimbo has 4 projects", nil
		}),
	}
	var histories [][]common.Exchange
	pl := plannerFunc(func(_ context.Context, in planner.Input) (common.Plan, error) {
		histories = append(histories, in.History)
		return common.Plan{Goal: "count", Steps: []common.Step{
			{Instruction: "count projects in Coquimbo", SuggestedTool: "Cypher_Query_Agent"},
			{Instruction: "summarize", SuggestedTool: "web_search"},
		}}, nil
	})
	em := events.FuncEmitter(func(e events.Event) {
		if e.Type == events.TypeGuardRemap {
			var d events.RemapData
			_ = e.Decode(&d)
			mu.Lock()
			seenTools = append(seenTools, d.From+"->"+d.To)
			mu.Unlock()
		}
	})
	rec := &memRecorder{}
	prom := telemetry.NewMetrics()
	p, err := New(pl, newExecutor(t, reg, caps), reg, WithEmitter(em), WithRecorder(rec), WithTelemetry(prom))
	require.NoError(t, err)

	chunks := collect(t, p.Answer(context.Background(), "How many projects in Coquimbo?", map[string]any{MetaSessionID: "s-1"}))
	require.Len(t, chunks, 4)
	require.Equal(t, []ChunkKind{ChunkPlan, ChunkStep, ChunkStep, ChunkFinal},
		[]ChunkKind{chunks[0].Kind, chunks[1].Kind, chunks[2].Kind, chunks[3].Kind})
	for _, c := range chunks {
		require.Equal(t, "s-1", c.SessionID)
	}
	require.Contains(t, chunks[0].Text, "**Goal**: count")
	require.Equal(t, "**Step 1: count projects in Coquimbo**\nResult: 4 projects", chunks[1].Text)
	require.Equal(t, 1, chunks[2].StepIndex)
	require.Contains(t, chunks[3].Text, "Coquimbo has 4 projects")

	require.Equal(t, []string{"web_search->reasoning_agent"}, seenTools)
	require.Equal(t, 1.0, testutil.ToFloat64(prom.GuardRemaps.WithLabelValues(router.ReasoningTool)))
	require.Equal(t, 1.0, testutil.ToFloat64(prom.Requests.WithLabelValues("ok")))

	require.Len(t, rec.rounds["s-1"], 1)
	require.Equal(t, router.ReasoningTool, rec.rounds["s-1"][0].Plan.Steps[1].SuggestedTool)

	collect(t, p.Answer(context.Background(), "And in Los Lagos?", map[string]any{MetaSessionID: "s-1"}))
	require.Len(t, histories, 2)
	require.Empty(t, histories[0])
	require.Equal(t, "How many projects in Coquimbo?", histories[1][0].Question)
}

type compactorFunc func(ctx context.Context, h []common.Exchange) []common.Exchange

func (f compactorFunc) Compact(ctx context.Context, h []common.Exchange) []common.Exchange {
	return f(ctx, h)
}

func TestCompactorShapesPlannerHistory(t *testing.T) {
	reg := router.NewRegistry()
	rec := &memRecorder{}
	require.NoError(t, rec.SaveRound(context.Background(), "s-2", common.Round{Question: "old", Answer: "long answer"}))

	var got []common.Exchange
	pl := plannerFunc(func(_ context.Context, in planner.Input) (common.Plan, error) {
		got = in.History
		return common.Plan{DirectResponse: "ok"}, nil
	})
	calls := 0
	compact := compactorFunc(func(_ context.Context, h []common.Exchange) []common.Exchange {
		calls++
		return []common.Exchange{{Question: "summary", Answer: "user asked about " + h[0].Question}}
	})
	p, err := New(pl, newExecutor(t, reg, executor.Capabilities{}), reg, WithRecorder(rec), WithCompactor(compact))
	require.NoError(t, err)

	collect(t, p.Answer(context.Background(), "new", map[string]any{MetaSessionID: "s-2"}))
	require.Equal(t, []common.Exchange{{Question: "summary", Answer: "user asked about old"}}, got)

	// an empty history is never compacted
	collect(t, p.Answer(context.Background(), "first", map[string]any{MetaSessionID: "s-3"}))
	require.Equal(t, 1, calls)
	require.Empty(t, got)
}

func TestPlanningFailureYieldsApology(t *testing.T) {
	reg := router.NewRegistry()
	rec := &memRecorder{}
	pl := plannerFunc(func(context.Context, planner.Input) (common.Plan, error) {
		return common.Plan{}, errors.New("model timeout")
	})
	p, err := New(pl, newExecutor(t, reg, executor.Capabilities{}), reg, WithRecorder(rec))
	require.NoError(t, err)

	chunks := collect(t, p.Answer(context.Background(), "q", nil))
	require.Len(t, chunks, 1)
	require.Equal(t, ChunkFinal, chunks[0].Kind)
	require.Equal(t, PlanningFailedAnswer, chunks[0].Text)
	require.NotEmpty(t, chunks[0].SessionID)
	require.Equal(t, []string{"model timeout"}, rec.rounds[chunks[0].SessionID][0].Errors)
}

func TestDirectResponseSkipsPlanChunk(t *testing.T) {
	reg := router.NewRegistry()
	pl := plannerFunc(func(context.Context, planner.Input) (common.Plan, error) {
		return common.Plan{Goal: "greet", DirectResponse: "Hello! Ask me about projects."}, nil
	})
	p, err := New(pl, newExecutor(t, reg, executor.Capabilities{}), reg)
	require.NoError(t, err)

	chunks := collect(t, p.Answer(context.Background(), "hi", nil))
	require.Equal(t, []Chunk{{Kind: ChunkFinal, SessionID: chunks[0].SessionID, Text: "Hello! Ask me about projects."}}, chunks)
}

func TestEveryStepFailingStillEndsWithOneFinal(t *testing.T) {
	reg := router.NewRegistry()
	caps := executor.Capabilities{
		GraphQuery: executor.InvokerFunc(func(context.Context, string) (string, error) { return "", errors.New("neo4j down") }),
	}
	steps := make([]common.Step, 6)
	for i := range steps {
		steps[i] = common.Step{Instruction: "q", SuggestedTool: router.GraphQueryTool}
	}
	pl := plannerFunc(func(context.Context, planner.Input) (common.Plan, error) {
		return common.Plan{Goal: "g", Steps: steps}, nil
	})
	p, err := New(pl, newExecutor(t, reg, caps), reg)
	require.NoError(t, err)

	chunks := collect(t, p.Answer(context.Background(), "q", nil))
	require.Equal(t, 1, finals(chunks))
	require.Equal(t, ChunkFinal, chunks[len(chunks)-1].Kind)
	// circuit opens after the fourth failure
	require.Len(t, chunks, 1+4+1)
	require.True(t, chunks[1].Failed)
}

func TestAbandonedStreamCloses(t *testing.T) {
	reg := router.NewRegistry()
	started := make(chan struct{})
	caps := executor.Capabilities{
		GraphQuery: executor.InvokerFunc(func(ctx context.Context, _ string) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}),
	}
	pl := plannerFunc(func(context.Context, planner.Input) (common.Plan, error) {
		return common.Plan{Goal: "g", Steps: []common.Step{{Instruction: "q", SuggestedTool: router.GraphQueryTool}}}, nil
	})
	rec := &memRecorder{}
	p, err := New(pl, newExecutor(t, reg, caps), reg, WithRecorder(rec))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Answer(ctx, "q", nil)
	first := <-ch
	require.Equal(t, ChunkPlan, first.Kind)
	<-started
	cancel()

	rest := collect(t, ch)
	require.Zero(t, finals(rest))
	require.Empty(t, rec.rounds)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(nil, nil, nil)
	require.Error(t, err)
}
