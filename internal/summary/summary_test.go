package conversationsummary

import (
	"context"
	"errors"
	"testing"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/llmtest"

	"github.com/stretchr/testify/require"
)

// fixedCounter counts every round as n tokens.
func fixedCounter(n int64) TokenCounter {
	return func(_ context.Context, rounds []common.Exchange) ([]int64, error) {
		out := make([]int64, len(rounds))
		for i := range out {
			out[i] = n
		}
		return out, nil
	}
}

func rounds(n int) []common.Exchange {
	out := make([]common.Exchange, n)
	for i := range out {
		out[i] = common.Exchange{Question: "q" + string(rune('a'+i)), Answer: "a" + string(rune('a'+i))}
	}
	return out
}

func newCompactor(t *testing.T, cm *llmtest.ChatModel) *Compactor {
	t.Helper()
	c, err := New(context.Background(), &Config{
		Model:                    cm,
		MaxTokensBeforeSummary:   10,
		MaxTokensForRecentRounds: 5,
		Counter:                  fixedCounter(4),
	})
	require.NoError(t, err)
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.ErrorIs(t, err, ErrConfigNil)
	_, err = New(context.Background(), &Config{})
	require.ErrorIs(t, err, ErrModelRequired)

	cfg := &Config{}
	require.Equal(t, DefaultMaxTokensBeforeSummary, cfg.GetMaxTokensBeforeSummary())
	require.Equal(t, DefaultMaxTokensForRecentRounds, cfg.GetMaxTokensForRecentRounds())
}

func TestCompactBelowThresholdIsNoop(t *testing.T) {
	cm := llmtest.Reply("unused")
	c := newCompactor(t, cm)

	h := rounds(2)
	require.Equal(t, h, c.Compact(context.Background(), h))
	require.Empty(t, cm.Calls())
}

func TestCompactCondensesOlderRounds(t *testing.T) {
	cm := llmtest.Reply("  user asked about qa, qb and qc  ")
	c := newCompactor(t, cm)

	h := rounds(4)
	got := c.Compact(context.Background(), h)
	require.Equal(t, []common.Exchange{
		{Question: SummaryQuestion, Answer: "user asked about qa, qb and qc"},
		h[3],
	}, got)

	calls := cm.Calls()
	require.Len(t, calls, 1)
	user := llmtest.LastUser(calls[0])
	require.Contains(t, user, "### Round 1\nQuestion: qa")
	require.Contains(t, user, "### Round 3\nQuestion: qc")
	require.Contains(t, user, "<recent_rounds>\n### Round 4\nQuestion: qd")
	require.Contains(t, llmtest.System(calls[0]), "Session History Summarizer")
}

func TestCompactMergesPreviousSummary(t *testing.T) {
	cm := llmtest.Reply("merged")
	c := newCompactor(t, cm)

	h := append([]common.Exchange{{Question: SummaryQuestion, Answer: "earlier facts"}}, rounds(3)...)
	got := c.Compact(context.Background(), h)
	require.Len(t, got, 2)
	require.Equal(t, "merged", got[0].Answer)
	require.Equal(t, h[3], got[1])
	require.Contains(t, llmtest.LastUser(cm.Calls()[0]), "<previous_summary>\nearlier facts\n</previous_summary>")
}

func TestCompactFailureKeepsHistory(t *testing.T) {
	h := rounds(4)

	c := newCompactor(t, llmtest.Fail(errors.New("model down")))
	require.Equal(t, h, c.Compact(context.Background(), h))

	c = newCompactor(t, llmtest.Reply("   "))
	require.Equal(t, h, c.Compact(context.Background(), h))

	cm := llmtest.Reply("unused")
	c, err := New(context.Background(), &Config{
		Model:                  cm,
		MaxTokensBeforeSummary: 1,
		Counter: func(context.Context, []common.Exchange) ([]int64, error) {
			return []int64{1}, nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, h, c.Compact(context.Background(), h))
	require.Empty(t, cm.Calls())
}
