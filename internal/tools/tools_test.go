package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"kgqa_agent/internal/graphstore"
	"kgqa_agent/internal/router"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
)

type fakeGraph struct {
	rows   []map[string]any
	err    error
	params map[string]any
}

func (f *fakeGraph) Run(_ context.Context, _ string, params map[string]any) ([]map[string]any, error) {
	f.params = params
	return f.rows, f.err
}

func newKit(t *testing.T, g graphstore.Runner) *Kit {
	t.Helper()
	k, err := NewKit(context.Background(), NewLookupTools(g)...)
	require.NoError(t, err)
	return k
}

func TestListRegionsPayload(t *testing.T) {
	g := &fakeGraph{rows: []map[string]any{{"name": "Región de Coquimbo"}, {"name": "Región de Los Lagos"}, {"name": nil}}}
	out, err := newKit(t, g).Run(context.Background(), ListRegions, "list every region")
	require.NoError(t, err)

	var payload struct {
		Regions []string `json:"regions"`
		Count   int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, []string{"Región de Coquimbo", "Región de Los Lagos"}, payload.Regions)
	require.Equal(t, 2, payload.Count)
}

func TestProjectsByCommuneExtractsRegionAndSorts(t *testing.T) {
	g := &fakeGraph{rows: []map[string]any{
		{"project_name": "Planta B", "commune_name": "Ovalle"},
		{"project_name": "Planta A", "commune_name": "Ovalle"},
		{"project_name": "Parque Sol", "commune_name": "Andacollo"},
		{"project_name": "Planta A", "commune_name": "Ovalle"},
	}}
	out, err := newKit(t, g).Run(context.Background(), ListProjectsByCommuneInRegion,
		"List the projects of Región de Coquimbo grouped by commune")
	require.NoError(t, err)
	require.Equal(t, "Región de Coquimbo", g.params["region"])

	var payload struct {
		Region   string           `json:"region"`
		Projects []projectCommune `json:"projects"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &payload))
	require.Equal(t, 3, payload.Count)
	require.Equal(t, []projectCommune{
		{Project: "Parque Sol", Commune: "Andacollo"},
		{Project: "Planta A", Commune: "Ovalle"},
		{Project: "Planta B", Commune: "Ovalle"},
	}, payload.Projects)
}

func TestMissingRegionIsExplainedNotFailed(t *testing.T) {
	g := &fakeGraph{}
	out, err := newKit(t, g).Run(context.Background(), ListCommunesInRegion, "list all communes")
	require.NoError(t, err)
	require.Contains(t, out, "Could not extract region parameter")
	require.Nil(t, g.params, "store must not be queried")
}

func TestStoreFailureBecomesErrorPayload(t *testing.T) {
	g := &fakeGraph{err: errors.New("connection refused")}
	out, err := newKit(t, g).Run(context.Background(), ListCommunes, "communes")
	require.NoError(t, err)
	require.JSONEq(t, `{"error":"connection refused"}`, out)
}

func TestNilStoreAndBadArgs(t *testing.T) {
	tl := NewLookupTools(nil)[0]
	out, err := tl.InvokableRun(context.Background(), "{}")
	require.NoError(t, err)
	require.Contains(t, out, "not configured")

	out, err = NewLookupTools(&fakeGraph{})[2].InvokableRun(context.Background(), "{not json")
	require.NoError(t, err)
	require.Contains(t, out, "invalid arguments")
}

func TestUnknownToolIsAnError(t *testing.T) {
	_, err := newKit(t, &fakeGraph{}).Run(context.Background(), "list_planets", "x")
	require.ErrorIs(t, err, errUnknownTool)
}

func TestKitRegistersUtilities(t *testing.T) {
	reg := router.NewRegistry()
	k := newKit(t, &fakeGraph{})
	k.Register(reg)
	require.Equal(t, []string{ListRegions, ListCommunes, ListCommunesInRegion, ListProjectsByCommuneInRegion}, k.Names())

	d := reg.Route("list_projects_by_commune_in_region")
	require.Equal(t, router.KindUtility, d.Kind)
	require.Contains(t, d.Keywords, "commune")
}

func TestInfoDeclaresRegionParam(t *testing.T) {
	info, err := NewLookupTools(nil)[2].Info(context.Background())
	require.NoError(t, err)
	require.Equal(t, ListCommunesInRegion, info.Name)
	require.NotNil(t, info.ParamsOneOf)

	info, err = NewLookupTools(nil)[0].Info(context.Background())
	require.NoError(t, err)
	require.Nil(t, info.ParamsOneOf)
}

func TestExtractRegion(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"List communes for region: Los Lagos.", "Los Lagos", true},
		{"Región: Metropolitana de Santiago, please", "Metropolitana de Santiago", true},
		{"Projects in Región de Coquimbo, grouped by commune", "Región de Coquimbo", true},
		{"Listar comunas para la Araucanía", "Araucanía", true},
		{"list all communes", "", false},
	}
	for _, c := range cases {
		got, ok := ExtractRegion(c.in)
		require.Equal(t, c.ok, ok, c.in)
		require.Equal(t, c.want, got, c.in)
	}
}

type erroringTool struct{}

func (erroringTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: "broken"}, nil
}

func (erroringTool) InvokableRun(context.Context, string, ...tool.Option) (string, error) {
	return "", errors.New("timeout")
}

func TestSafeWrapperConvertsErrors(t *testing.T) {
	w := WrapToolSafe(erroringTool{})
	require.Same(t, w, WrapToolSafe(w))
	out, err := w.InvokableRun(context.Background(), "{}")
	require.NoError(t, err)
	require.Equal(t, "Error invoking tool broken: timeout", out)
}
