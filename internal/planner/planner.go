package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/events"
	"kgqa_agent/internal/prompts"
	"kgqa_agent/internal/router"
	"kgqa_agent/pkg/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/elastic/go-elasticsearch/v7"
)

// Input is the input to a planner invocation.
type Input struct {
	Question  string
	SessionID string
	History   []common.Exchange // earlier rounds of the same session, oldest first
}

// Planner wraps a compiled eino graph that produces a Plan from a user question.
type Planner struct {
	graph    compose.Runnable[map[string]any, common.Plan]
	registry *router.Registry
	emitter  events.Emitter
	metrics  *logger.Metrics
	es       *elasticsearch.Client
}

type Option func(*Planner)

func WithEmitter(em events.Emitter) Option {
	return func(p *Planner) {
		if em != nil {
			p.emitter = em
		}
	}
}

func WithMetrics(m *logger.Metrics) Option {
	return func(p *Planner) { p.metrics = m }
}

// WithCallbackES mirrors model callback payloads to es.
func WithCallbackES(es *elasticsearch.Client) Option {
	return func(p *Planner) { p.es = es }
}

// New builds the planner graph: prompt -> model -> parse.
// The tool catalogue is rendered from reg on every call, so utilities registered later
// are still offered to the model.
func New(ctx context.Context, cm model.BaseChatModel, reg *router.Registry, opts ...Option) (*Planner, error) {
	if cm == nil {
		return nil, errors.New("planner: nil chat model")
	}
	if reg == nil {
		return nil, errors.New("planner: nil registry")
	}
	plannerPrompt, err := prompts.GetSinglePrompt(prompts.Planner)
	if err != nil {
		return nil, fmt.Errorf("load planner prompt: %w", err)
	}

	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(plannerPrompt),
		schema.UserMessage("{{.user_input}}"),
	)

	parseLambda := compose.InvokableLambda(func(ctx context.Context, input *schema.Message) (common.Plan, error) {
		return ParsePlan(input.Content)
	})

	g := compose.NewGraph[map[string]any, common.Plan]()
	_ = g.AddChatTemplateNode("planner-prompt", tpl)
	_ = g.AddChatModelNode("planner-model", cm)
	_ = g.AddLambdaNode("planner-parse", parseLambda)
	_ = g.AddEdge(compose.START, "planner-prompt")
	_ = g.AddEdge("planner-prompt", "planner-model")
	_ = g.AddEdge("planner-model", "planner-parse")
	_ = g.AddEdge("planner-parse", compose.END)

	compiled, err := g.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile planner graph: %w", err)
	}

	p := &Planner{graph: compiled, registry: reg, emitter: events.NopEmitter{}}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Generate runs the planner graph and returns the plan exactly as the model produced it.
// Tool names are untrusted; callers pass the plan through Validate before execution.
func (p *Planner) Generate(ctx context.Context, in Input) (common.Plan, error) {
	vars := map[string]any{
		"tools":      p.registry.FormatForPrompt(),
		"user_input": userInput(in),
	}

	cb := &logger.PrettyLoggerCallback{Es: p.es, Label: "Planner"}
	timer := logger.NewTimer()
	plan, err := p.graph.Invoke(ctx, vars, compose.WithCallbacks(cb))
	elapsed := timer.ElapsedMs()
	if err != nil {
		logger.Errorf("[Planner] failed after %dms: %v", elapsed, err)
		p.emitter.Emit(events.NewEvent(events.TypePlanError, in.SessionID, events.ErrorData{
			Phase:   logger.PhasePlanner,
			Message: err.Error(),
		}))
		p.metrics.Emit(logger.MetricsEvent{
			LogType: logger.LTPlannerError, Phase: logger.PhasePlanner, Event: logger.EventPhaseError,
			DurationMs: elapsed, Error: err.Error(), Input: in.Question,
		})
		return common.Plan{}, fmt.Errorf("planner invoke: %w", err)
	}

	logger.Infof("[Planner] plan with %d steps in %dms (callback_events=%d)", len(plan.Steps), elapsed, cb.Step)
	for i, s := range plan.Steps {
		logger.Infof("[Planner]   step %d: %s - %s", i+1, s.SuggestedTool, common.TruncateStr(s.Instruction, 80))
	}
	p.metrics.Emit(logger.MetricsEvent{
		LogType: logger.LTPlannerParsed, Phase: logger.PhasePlanner, Event: logger.EventPlanParsed,
		TotalSteps: len(plan.Steps), DurationMs: elapsed, Input: in.Question, Output: plan,
	})
	return plan, nil
}

// ParsePlan extracts the plan JSON object from a model reply.
func ParsePlan(content string) (common.Plan, error) {
	var plan common.Plan
	str, err := common.ExtractJSON(content)
	if err != nil {
		return common.Plan{}, fmt.Errorf("extract json from planner output: %w", err)
	}
	if err := json.Unmarshal([]byte(str), &plan); err != nil {
		return common.Plan{}, fmt.Errorf("unmarshal plan: %w | content: %s", err, common.TruncateStr(content, 1000))
	}
	// the model does not own execution state
	for i := range plan.Steps {
		plan.Steps[i].Result = ""
		plan.Steps[i].IsComplete = false
	}
	if len(plan.Steps) == 0 && strings.TrimSpace(plan.DirectResponse) == "" {
		return common.Plan{}, errors.New("planner returned neither steps nor a direct response")
	}
	return plan, nil
}

// PlanCreatedEvent describes plan for frontend consumers.
func PlanCreatedEvent(sessionID string, plan common.Plan) events.Event {
	steps := make([]events.StepInfo, len(plan.Steps))
	for i, s := range plan.Steps {
		steps[i] = events.StepInfo{Index: i, Instruction: s.Instruction, Tool: s.SuggestedTool}
	}
	return events.NewEvent(events.TypePlanCreated, sessionID, events.PlanCreatedData{
		Goal:           plan.Goal,
		TotalSteps:     len(plan.Steps),
		Steps:          steps,
		DirectResponse: plan.DirectResponse,
	})
}

func userInput(in Input) string {
	q := "User Question: " + in.Question +
		"\n\nCreate a plan to answer this question using ONLY the available tools listed above." +
		"\nFor each step, specify the exact tool name from the list."
	if h := historySection(in.History); h != "" {
		return h + "\n\n---\n\n" + q
	}
	return q
}

// historySection formats earlier rounds into a markdown section for the planner prompt.
func historySection(h []common.Exchange) string {
	if len(h) == 0 {
		return ""
	}
	parts := make([]string, 0, len(h))
	for i, ex := range h {
		parts = append(parts, fmt.Sprintf("### Round %d\n**Question:** %s\n**Answer:** %s",
			i+1, ex.Question, common.TruncateStr(ex.Answer, 1500)))
	}
	return "# Context From Previous Rounds\n\n" + strings.Join(parts, "\n\n")
}
