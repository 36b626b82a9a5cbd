package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/executor"
	"kgqa_agent/internal/llmtest"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
)

// stages answers each stage by its system prompt; a nil func fails that stage.
type stages struct {
	task, think, write func(user string) string
	seen               map[string]string
}

func (s *stages) model() *llmtest.ChatModel {
	s.seen = map[string]string{}
	return &llmtest.ChatModel{Respond: func(in []*schema.Message) (string, error) {
		sys, user := llmtest.System(in), llmtest.LastUser(in)
		var stage string
		var f func(string) string
		switch {
		case strings.HasPrefix(sys, "You classify"):
			stage, f = "task", s.task
		case strings.HasPrefix(sys, "You perform careful reasoning"):
			stage, f = "think", s.think
		default:
			stage, f = "write", s.write
		}
		s.seen[stage] = user
		if f == nil {
			return "", errors.New(stage + " unavailable")
		}
		return f(user), nil
	}}
}

var input = executor.ReasoningInput{
	Instruction:    "Compare the two regions",
	CurrentResults: []common.PriorResult{{Step: 1, Instruction: "count", Result: "Coquimbo: 4, Los Lagos: 2"}},
	PartialResults: []any{"Coquimbo: 4, Los Lagos: 2"},
}

func TestReasonRunsAllStages(t *testing.T) {
	s := &stages{
		task:  func(string) string { return `{"task_type": "compare", "focus": "project counts", "context": ""}` },
		think: func(string) string { return "```json\n" + `{"reasoning": "4 > 2", "conclusion": "Coquimbo has more", "confidence": 0.9, "key_points": ["4 vs 2"]}` + "\n```" },
		write: func(string) string { return "  Coquimbo has twice as many projects.\n" },
	}
	a, err := New(context.Background(), s.model())
	require.NoError(t, err)

	out, err := a.Reason(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, "Coquimbo has twice as many projects.", out)

	require.Contains(t, s.seen["task"], "Instruction: Compare the two regions")
	require.Contains(t, s.seen["task"], `"result": "Coquimbo: 4, Los Lagos: 2"`)
	require.Contains(t, s.seen["think"], "Task type: compare\nFocus: project counts")
	require.Contains(t, s.seen["think"], "Partial results:\n1. Coquimbo: 4, Los Lagos: 2")
	require.Contains(t, s.seen["write"], "Conclusion:\nCoquimbo has more")
	require.Contains(t, s.seen["write"], "Key points:\n- 4 vs 2")
}

func TestTaskParseFallsBackToAnalyze(t *testing.T) {
	s := &stages{
		think: func(string) string { return `{"reasoning": "r", "conclusion": "c", "confidence": 0.5, "key_points": []}` },
		write: func(string) string { return "done" },
	}
	a, err := New(context.Background(), s.model())
	require.NoError(t, err)

	out, err := a.Reason(context.Background(), executor.ReasoningInput{Instruction: "Summarize"})
	require.NoError(t, err)
	require.Equal(t, "done", out)
	require.Contains(t, s.seen["think"], "Task type: analyze\nFocus: Summarize")
	require.Contains(t, s.seen["think"], "Current results:\nNo results available")
}

func TestSynthesisFailureReturnsConclusion(t *testing.T) {
	s := &stages{
		task:  func(string) string { return `{"task_type": "summarize"}` },
		think: func(string) string { return `{"reasoning": "r", "conclusion": ["line one", "line two"], "confidence": 0.7}` },
	}
	a, err := New(context.Background(), s.model())
	require.NoError(t, err)

	out, err := a.Reason(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, "line one\nline two", out)
}

func TestReasoningFailureFeedsFallbackToSynthesis(t *testing.T) {
	s := &stages{
		task:  func(string) string { return "not json" },
		think: func(string) string { return `{"reasoning": "r"}` },
		write: func(string) string { return "I could not reach a conclusion." },
	}
	a, err := New(context.Background(), s.model())
	require.NoError(t, err)

	out, err := a.Reason(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, "I could not reach a conclusion.", out)
	require.Contains(t, s.seen["write"], "Reasoning:\nError occurred during reasoning")
	require.Contains(t, s.seen["write"], "reasoning reply has no conclusion")
}

func TestEveryStageFailing(t *testing.T) {
	a, err := New(context.Background(), llmtest.Fail(errors.New("offline")))
	require.NoError(t, err)
	_, err = a.Reason(context.Background(), input)
	require.ErrorContains(t, err, "offline")
}

func TestNewRequiresModel(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)
}
