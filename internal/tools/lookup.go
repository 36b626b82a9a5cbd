package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/graphstore"
	"kgqa_agent/pkg/logger"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Names of the structured lookups.
const (
	ListRegions                   = "list_regions"
	ListCommunes                  = "list_communes"
	ListCommunesInRegion          = "list_communes_in_region"
	ListProjectsByCommuneInRegion = "list_projects_by_commune_in_region"
)

// lookupArgs is the union of every lookup's arguments.
type lookupArgs struct {
	Region string `json:"region,omitempty"`
}

// lookupTool is a read-only graph lookup exposed as an eino tool. Lookup failures are
// reported as {"error": "..."} payloads, never as Go errors.
type lookupTool struct {
	name     string
	desc     string
	required []string
	store    graphstore.Runner
	query    string
	shape    func(args lookupArgs, rows []map[string]any) any
}

func (t *lookupTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	params := map[string]*schema.ParameterInfo{}
	for _, p := range t.required {
		params[p] = &schema.ParameterInfo{Type: schema.String, Desc: "Exact region name to match", Required: true}
	}
	info := &schema.ToolInfo{Name: t.name, Desc: t.desc}
	if len(params) > 0 {
		info.ParamsOneOf = schema.NewParamsOneOfByParams(params)
	}
	return info, nil
}

// RequiredArgs lists the argument names that must be derived from the instruction.
func (t *lookupTool) RequiredArgs() []string {
	return t.required
}

func (t *lookupTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args lookupArgs
	if s := strings.TrimSpace(argumentsInJSON); s != "" {
		if err := json.Unmarshal([]byte(s), &args); err != nil {
			return common.ErrorPayload(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
	}
	for _, p := range t.required {
		if p == "region" && strings.TrimSpace(args.Region) == "" {
			return common.ErrorPayload("'region' must be a non-empty string"), nil
		}
	}
	if t.store == nil {
		return common.ErrorPayload("Neo4j connection is not configured"), nil
	}

	params := map[string]any{}
	if args.Region != "" {
		params["region"] = args.Region
	}
	rows, err := t.store.Run(ctx, t.query, params)
	if err != nil {
		logger.Warnf("[Tools] %s failed: %v", t.name, err)
		return common.ErrorPayload(err.Error()), nil
	}
	b, err := json.Marshal(t.shape(args, rows))
	if err != nil {
		return common.ErrorPayload(err.Error()), nil
	}
	return string(b), nil
}

// NewLookupTools returns the structured graph lookups backed by store.
func NewLookupTools(store graphstore.Runner) []tool.InvokableTool {
	return []tool.InvokableTool{
		&lookupTool{
			name:  ListRegions,
			desc:  "List all unique region names in the knowledge graph",
			store: store,
			query: "MATCH (r:Region) RETURN DISTINCT r.name AS name ORDER BY name",
			shape: func(_ lookupArgs, rows []map[string]any) any {
				names := stringColumn(rows, "name")
				return map[string]any{"regions": names, "count": len(names)}
			},
		},
		&lookupTool{
			name:  ListCommunes,
			desc:  "List all unique commune names in the knowledge graph",
			store: store,
			query: "MATCH (c:Commune) RETURN DISTINCT c.name AS name ORDER BY name",
			shape: func(_ lookupArgs, rows []map[string]any) any {
				names := stringColumn(rows, "name")
				return map[string]any{"communes": names, "count": len(names)}
			},
		},
		&lookupTool{
			name:     ListCommunesInRegion,
			desc:     "List all unique commune names with projects in a given region",
			required: []string{"region"},
			store:    store,
			query: `MATCH (r:Region {name: $region})<-[:IN_REGION]-(p:Project)-[:IN_COMMUNE]->(c:Commune)
RETURN DISTINCT c.name AS name ORDER BY name`,
			shape: func(args lookupArgs, rows []map[string]any) any {
				names := stringColumn(rows, "name")
				sort.Strings(names)
				return map[string]any{"region": args.Region, "communes": names, "count": len(names)}
			},
		},
		&lookupTool{
			name:     ListProjectsByCommuneInRegion,
			desc:     "List all projects with their commune for a given region",
			required: []string{"region"},
			store:    store,
			query: `MATCH (p:Project)-[:IN_REGION]->(r:Region {name: $region})
MATCH (p)-[:IN_COMMUNE]->(c:Commune)
RETURN p.name AS project_name, c.name AS commune_name`,
			shape: func(args lookupArgs, rows []map[string]any) any {
				items := projectPairs(rows)
				return map[string]any{"region": args.Region, "projects": items, "count": len(items)}
			},
		},
	}
}

type projectCommune struct {
	Project string `json:"project"`
	Commune string `json:"commune"`
}

// projectPairs dedupes (project, commune) pairs and sorts them by commune, then project.
func projectPairs(rows []map[string]any) []projectCommune {
	seen := make(map[projectCommune]struct{})
	out := make([]projectCommune, 0, len(rows))
	for _, row := range rows {
		p, ok1 := row["project_name"].(string)
		c, ok2 := row["commune_name"].(string)
		if !ok1 || !ok2 {
			continue
		}
		pc := projectCommune{Project: p, Commune: c}
		if _, dup := seen[pc]; dup {
			continue
		}
		seen[pc] = struct{}{}
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Commune != out[j].Commune {
			return out[i].Commune < out[j].Commune
		}
		return out[i].Project < out[j].Project
	})
	return out
}

func stringColumn(rows []map[string]any, key string) []string {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		if s, ok := row[key].(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

var errUnknownTool = errors.New("unknown utility tool")
