package session

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"kgqa_agent/internal/common"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "kgqa.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionRoundsBecomeHistory(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	sess, err := NewSession(ctx, store)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(sess.ID, "sess_"))

	h, err := sess.History(ctx)
	require.NoError(t, err)
	require.Empty(t, h)

	plan := common.Plan{Goal: "count", Steps: []common.Step{{Instruction: "count projects", SuggestedTool: "cypher_query_agent"}}}
	plan.Steps[0].Complete("4")
	require.NoError(t, sess.SaveRound(ctx, common.Round{Question: "How many?", Plan: plan, Answer: "Four."}))
	require.NoError(t, sess.SaveRound(ctx, common.Round{Question: "Where?", Answer: "Coquimbo.", Errors: []string{"Step 1 failed: x"}}))

	resumed, err := ResumeSession(ctx, store, sess.ID)
	require.NoError(t, err)
	require.Equal(t, 2, resumed.RoundNum)

	h, err = resumed.History(ctx)
	require.NoError(t, err)
	require.Equal(t, []common.Exchange{{Question: "How many?", Answer: "Four."}, {Question: "Where?", Answer: "Coquimbo."}}, h)

	rounds, err := store.Rounds(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	require.Equal(t, 1, rounds[0].Num)
	require.Equal(t, "4", rounds[0].Plan.Steps[0].Result)
	require.Empty(t, rounds[0].Errors)
	require.Equal(t, []string{"Step 1 failed: x"}, rounds[1].Errors)
}

func TestSaveRoundCreatesUnknownSession(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.SaveRound(ctx, "external-id", common.Round{Question: "q", Answer: "a"}))
	ok, err := store.SessionExists(ctx, "external-id")
	require.NoError(t, err)
	require.True(t, ok)
	n, err := store.GetRoundCount(ctx, "external-id")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestResumeUnknownSession(t *testing.T) {
	_, err := ResumeSession(context.Background(), openTestStore(t), "nope")
	require.Error(t, err)
}
