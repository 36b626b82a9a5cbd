package graphstore

import (
	"context"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/require"
)

func TestCheckReadOnly(t *testing.T) {
	require.NoError(t, CheckReadOnly("MATCH (p:Project)-[:IN_REGION]->(r:Region) RETURN count(p)"))
	require.NoError(t, CheckReadOnly("MATCH (n) WHERE n.settlement = 'x' RETURN n.created_at"))
	for _, q := range []string{
		"CREATE (n:Project {name: 'x'})",
		"match (n) detach delete n",
		"MATCH (n) SET n.x = 1",
		"MERGE (r:Region {name: 'y'})",
	} {
		require.ErrorIs(t, CheckReadOnly(q), ErrWriteCall, q)
	}
}

func TestCheckReadOnlyIgnoresQuotedKeywords(t *testing.T) {
	require.NoError(t, CheckReadOnly("MATCH (p) WHERE toLower(p.description) CONTAINS 'set' RETURN p"))
	require.NoError(t, CheckReadOnly(`MATCH (p) WHERE p.note = "Create or merge, don't delete" RETURN p`))
	require.NoError(t, CheckReadOnly("MATCH (p) WHERE p.name = 'it\\'s a drop' RETURN p.`Set` AS s"))
	require.ErrorIs(t, CheckReadOnly("MATCH (p) WHERE p.name = 'set' SET p.seen = true"), ErrWriteCall)
}

func TestRunRequiresOpen(t *testing.T) {
	s := New(Config{URI: "neo4j://localhost:7687"})
	_, err := s.Run(context.Background(), "MATCH (n) RETURN n LIMIT 1", nil)
	require.ErrorIs(t, err, ErrNotOpen)
	require.NoError(t, s.Close(context.Background()))
}

func TestOpenRejectsEmptyURI(t *testing.T) {
	require.Error(t, New(Config{}).Open(context.Background()))
}

func TestPlainFlattensGraphTypes(t *testing.T) {
	node := neo4j.Node{Labels: []string{"Project"}, Props: map[string]any{"name": "Parque Eólico"}}
	got := plain([]any{node, int64(3)})
	require.Equal(t, []any{
		map[string]any{"name": "Parque Eólico", "_labels": []string{"Project"}},
		int64(3),
	}, got)
}

func TestRunnerFunc(t *testing.T) {
	var r Runner = RunnerFunc(func(_ context.Context, q string, p map[string]any) ([]map[string]any, error) {
		return []map[string]any{{"q": q, "region": p["region"]}}, nil
	})
	rows, err := r.Run(context.Background(), "MATCH", map[string]any{"region": "Los Lagos"})
	require.NoError(t, err)
	require.Equal(t, "Los Lagos", rows[0]["region"])
}
