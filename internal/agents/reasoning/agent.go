// Package reasoning runs the reasoning capability: classify the instruction, reason over
// the gathered results, then write the answer. Each stage has a fallback, so a model
// failure degrades the answer instead of failing the step.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"kgqa_agent/internal/agents"
	"kgqa_agent/internal/common"
	"kgqa_agent/internal/executor"
	"kgqa_agent/internal/prompts"
	"kgqa_agent/pkg/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/elastic/go-elasticsearch/v7"
)

// Task is the parsed reasoning instruction.
type Task struct {
	TaskType string `json:"task_type"`
	Focus    string `json:"focus"`
	Context  string `json:"context"`
}

// Response is the outcome of the reasoning stage.
type Response struct {
	Reasoning  common.FlexString `json:"reasoning"`
	Conclusion common.FlexString `json:"conclusion"`
	Confidence float64           `json:"confidence"`
	KeyPoints  []string          `json:"key_points"`
}

const fallbackConfidence = 0.1

type Agent struct {
	task  agents.Chain
	think agents.Chain
	write agents.Chain
	es    *elasticsearch.Client
}

type Option func(*Agent)

// WithCallbackES mirrors model callback payloads to es.
func WithCallbackES(es *elasticsearch.Client) Option {
	return func(a *Agent) { a.es = es }
}

func New(ctx context.Context, cm model.BaseChatModel, opts ...Option) (*Agent, error) {
	a := &Agent{}
	for _, opt := range opts {
		opt(a)
	}
	var err error
	if a.task, err = agents.NewChain(ctx, cm, prompts.ReasoningTask,
		"Instruction: {{.instruction}}\n\nCurrent results:\n{{.current_results}}"); err != nil {
		return nil, err
	}
	if a.think, err = agents.NewChain(ctx, cm, prompts.ReasoningEngine,
		"Task type: {{.task_type}}\nFocus: {{.focus}}\nContext: {{.context}}\n\n"+
			"Current results:\n{{.current_results}}\n\nPartial results:\n{{.partial_results}}"); err != nil {
		return nil, err
	}
	if a.write, err = agents.NewChain(ctx, cm, prompts.ReasoningSynthesis,
		"Instruction: {{.instruction}}\n\nReasoning:\n{{.reasoning}}\n\nConclusion:\n{{.conclusion}}\n\nKey points:\n{{.key_points}}"); err != nil {
		return nil, err
	}
	return a, nil
}

var _ executor.Reasoner = (*Agent)(nil)

// Reason fails only when both the reasoning and the writing stage failed.
func (a *Agent) Reason(ctx context.Context, in executor.ReasoningInput) (string, error) {
	current := make([]any, len(in.CurrentResults))
	for i, r := range in.CurrentResults {
		current[i] = r
	}
	currentStr := common.FormatResults(current)

	task := a.parseTask(ctx, in.Instruction, currentStr)
	logger.Infof("[Reasoning] task=%s focus=%s", task.TaskType, common.TruncateStr(task.Focus, 80))

	resp, thinkErr := a.reason(ctx, task, currentStr, common.FormatResults(in.PartialResults))
	if thinkErr != nil {
		logger.Warnf("[Reasoning] reasoning stage failed, using fallback: %v", thinkErr)
		resp = Response{
			Reasoning:  "Error occurred during reasoning",
			Conclusion: common.FlexString(thinkErr.Error()),
			Confidence: fallbackConfidence,
		}
	} else {
		logger.Infof("[Reasoning] confidence=%.2f key_points=%d", resp.Confidence, len(resp.KeyPoints))
	}

	out, err := a.synthesize(ctx, in.Instruction, resp)
	if err != nil {
		if thinkErr != nil {
			return "", fmt.Errorf("reasoning: %w", thinkErr)
		}
		logger.Warnf("[Reasoning] synthesis failed, returning the conclusion: %v", err)
		return resp.Conclusion.String(), nil
	}
	return out, nil
}

func (a *Agent) parseTask(ctx context.Context, instruction, current string) Task {
	fallback := Task{TaskType: "analyze", Focus: instruction}
	out, err := agents.Text(ctx, a.task, map[string]any{"instruction": instruction, "current_results": current}, a.callbacks("ReasoningTask"))
	if err != nil {
		logger.Warnf("[Reasoning] task parse failed: %v", err)
		return fallback
	}
	var t Task
	if err := decode(out, &t); err != nil || strings.TrimSpace(t.TaskType) == "" {
		return fallback
	}
	if t.Focus == "" {
		t.Focus = instruction
	}
	return t
}

func (a *Agent) reason(ctx context.Context, t Task, current, partial string) (Response, error) {
	out, err := agents.Text(ctx, a.think, map[string]any{
		"task_type":       t.TaskType,
		"focus":           t.Focus,
		"context":         t.Context,
		"current_results": current,
		"partial_results": partial,
	}, a.callbacks("ReasoningEngine"))
	if err != nil {
		return Response{}, err
	}
	var r Response
	if err := decode(out, &r); err != nil {
		return Response{}, err
	}
	if strings.TrimSpace(r.Conclusion.String()) == "" {
		return Response{}, fmt.Errorf("reasoning reply has no conclusion")
	}
	return r, nil
}

func (a *Agent) synthesize(ctx context.Context, instruction string, r Response) (string, error) {
	points := make([]string, len(r.KeyPoints))
	for i, p := range r.KeyPoints {
		points[i] = "- " + p
	}
	out, err := agents.Text(ctx, a.write, map[string]any{
		"instruction": instruction,
		"reasoning":   r.Reasoning.String(),
		"conclusion":  r.Conclusion.String(),
		"key_points":  strings.Join(points, "\n"),
	}, a.callbacks("ReasoningSynthesis"))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty synthesis")
	}
	return out, nil
}

func (a *Agent) callbacks(label string) compose.Option {
	return compose.WithCallbacks(&logger.PrettyLoggerCallback{Es: a.es, Label: label})
}

func decode(content string, v any) error {
	raw, err := common.ExtractJSON(content)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}
