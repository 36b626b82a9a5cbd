package agents

import (
	"context"
	"errors"
	"testing"

	"kgqa_agent/internal/llmtest"
	"kgqa_agent/internal/prompts"

	"github.com/stretchr/testify/require"
)

func TestParseVariants(t *testing.T) {
	reply := "```json\n" + `{"queries": ["How many projects?", {"query": "count of projects"}, "  how many   PROJECTS? ", "", "projects total", "extra"]}` + "\n```"
	got := ParseVariants(reply, "How many projects?", 3)
	require.Equal(t, []string{"How many projects?", "count of projects", "projects total"}, got)

	require.Equal(t, []string{"q"}, ParseVariants("no json here", "q", 3))
	require.Equal(t, []string{"q"}, ParseVariants(`{"queries": 7}`, "q", 3))
}

func TestVariantsFallBackOnModelError(t *testing.T) {
	v, err := NewVariants(context.Background(), llmtest.Fail(errors.New("down")), 0)
	require.NoError(t, err)
	require.Equal(t, []string{"q"}, v.Generate(context.Background(), "q"))
}

func TestVariantsRenderQuestionAndLimit(t *testing.T) {
	cm := llmtest.Reply(`{"queries": ["a", "b"]}`)
	v, err := NewVariants(context.Background(), cm, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"q", "a"}, v.Generate(context.Background(), "q"))

	calls := cm.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "Question: q", llmtest.LastUser(calls[0]))
	require.Contains(t, llmtest.System(calls[0]), "at most 2 entries")
}

func TestNewChainErrors(t *testing.T) {
	_, err := NewChain(context.Background(), nil, prompts.GraphAnswer, "{{.question}}")
	require.Error(t, err)
	_, err = NewChain(context.Background(), llmtest.Reply("x"), "missing_prompt", "{{.question}}")
	require.Error(t, err)
}
