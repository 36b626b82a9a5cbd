// Package graphquery answers questions by generating Cypher for several phrasings of
// the question, running the queries concurrently and answering over their results.
package graphquery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"kgqa_agent/internal/agents"
	"kgqa_agent/internal/common"
	"kgqa_agent/internal/fanout"
	"kgqa_agent/internal/graphstore"
	"kgqa_agent/internal/prompts"
	"kgqa_agent/pkg/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/elastic/go-elasticsearch/v7"
)

// DefaultMaxResultTokens caps the query results handed to the answer model.
const DefaultMaxResultTokens = 5000

var errNoQuery = errors.New("model returned an empty query")

type Agent struct {
	variants *agents.Variants
	cypher   agents.Chain
	answer   agents.Chain
	store    graphstore.Runner

	maxVariants     int
	maxResultTokens int
	fanOpts         []fanout.Option
	es              *elasticsearch.Client
}

type Option func(*Agent)

func WithMaxVariants(n int) Option {
	return func(a *Agent) { a.maxVariants = n }
}

func WithMaxResultTokens(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxResultTokens = n
		}
	}
}

// WithFanOut passes opts to both fan-out stages.
func WithFanOut(opts ...fanout.Option) Option {
	return func(a *Agent) { a.fanOpts = append(a.fanOpts, opts...) }
}

// WithCallbackES mirrors model callback payloads to es.
func WithCallbackES(es *elasticsearch.Client) Option {
	return func(a *Agent) { a.es = es }
}

func New(ctx context.Context, cm model.BaseChatModel, store graphstore.Runner, opts ...Option) (*Agent, error) {
	if store == nil {
		return nil, errors.New("graphquery: nil graph store")
	}
	a := &Agent{store: store, maxVariants: agents.DefaultMaxVariants, maxResultTokens: DefaultMaxResultTokens}
	for _, opt := range opts {
		opt(a)
	}

	var err error
	if a.variants, err = agents.NewVariants(ctx, cm, a.maxVariants); err != nil {
		return nil, err
	}
	if a.cypher, err = agents.NewChain(ctx, cm, prompts.CypherGeneration, "Question: {{.question}}"); err != nil {
		return nil, err
	}
	if a.answer, err = agents.NewChain(ctx, cm, prompts.GraphAnswer, "Question: {{.question}}"); err != nil {
		return nil, err
	}
	return a, nil
}

// Invoke answers question from the graph. It fails only when no query produced
// results or the answer model fails.
func (a *Agent) Invoke(ctx context.Context, question string) (string, error) {
	questions := a.variants.Generate(ctx, question)
	logger.Infof("[GraphQuery] %d question variants", len(questions))

	queries := fanout.Gather(ctx, questions, a.generate,
		append([]fanout.Option{fanout.WithName("cypher-generate")}, a.fanOpts...)...)
	results := fanout.Gather(ctx, queries, a.run,
		append([]fanout.Option{
			fanout.WithName("cypher-run"),
			fanout.WithErrorFormat(func(_ int, err error) string {
				return common.ErrorPayload("ERROR: " + err.Error())
			}),
		}, a.fanOpts...)...)

	if firstErr, ok := allFailed(results); ok {
		return "", fmt.Errorf("all %d graph queries failed: %s", len(results), firstErr)
	}

	joined := common.TruncateTokens(strings.Join(results, "\n"), a.maxResultTokens)
	cb := &logger.PrettyLoggerCallback{Es: a.es, Label: "GraphAnswer"}
	answer, err := agents.Text(ctx, a.answer, map[string]any{"question": question, "results": joined}, compose.WithCallbacks(cb))
	if err != nil {
		return "", fmt.Errorf("graph answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// generate turns one phrasing into a read-only Cypher query.
func (a *Agent) generate(ctx context.Context, question string) (string, error) {
	out, err := agents.Text(ctx, a.cypher, map[string]any{"question": question})
	if err != nil {
		return "", fmt.Errorf("generate cypher for %q: %w", question, err)
	}
	query := common.StripFences(out, "cypher")
	if query == "" {
		return "", errNoQuery
	}
	if err := graphstore.CheckReadOnly(query); err != nil {
		return "", err
	}
	return query, nil
}

// run executes one generated query. Generation failures arrive as error payloads and
// pass through untouched.
func (a *Agent) run(ctx context.Context, query string) (string, error) {
	if common.IsErrorPayload(query) {
		return query, nil
	}
	rows, err := a.store.Run(ctx, query, nil)
	if err != nil {
		return "", err
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	b, err := json.Marshal(map[string]any{"query": query, "rows": rows, "count": len(rows)})
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}
	return string(b), nil
}

func allFailed(results []string) (string, bool) {
	if len(results) == 0 {
		return "no queries", true
	}
	for _, r := range results {
		if !common.IsErrorPayload(r) {
			return "", false
		}
	}
	return results[0], true
}
