// Package hybrid answers questions from retrieved document passages. Every phrasing
// of the question is searched and answered on its own branch; the distinct answers
// are joined.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kgqa_agent/internal/agents"
	"kgqa_agent/internal/common"
	"kgqa_agent/internal/fanout"
	"kgqa_agent/internal/prompts"
	"kgqa_agent/internal/retrieval"
	"kgqa_agent/pkg/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/elastic/go-elasticsearch/v7"
)

const answerSeparator = "\n\n---\n\n"

type Agent struct {
	variants *agents.Variants
	answer   agents.Chain
	searcher retrieval.Searcher

	topK        int
	maxVariants int
	fanOpts     []fanout.Option
	es          *elasticsearch.Client
}

type Option func(*Agent)

func WithTopK(k int) Option {
	return func(a *Agent) {
		if k > 0 {
			a.topK = k
		}
	}
}

func WithMaxVariants(n int) Option {
	return func(a *Agent) { a.maxVariants = n }
}

func WithFanOut(opts ...fanout.Option) Option {
	return func(a *Agent) { a.fanOpts = append(a.fanOpts, opts...) }
}

// WithCallbackES mirrors model callback payloads to es.
func WithCallbackES(es *elasticsearch.Client) Option {
	return func(a *Agent) { a.es = es }
}

func New(ctx context.Context, cm model.BaseChatModel, s retrieval.Searcher, opts ...Option) (*Agent, error) {
	if s == nil {
		return nil, errors.New("hybrid: nil searcher")
	}
	a := &Agent{searcher: s, topK: retrieval.DefaultTopK, maxVariants: agents.DefaultMaxVariants}
	for _, opt := range opts {
		opt(a)
	}
	var err error
	if a.variants, err = agents.NewVariants(ctx, cm, a.maxVariants); err != nil {
		return nil, err
	}
	if a.answer, err = agents.NewChain(ctx, cm, prompts.HybridAnswer, "Question: {{.question}}"); err != nil {
		return nil, err
	}
	return a, nil
}

// Invoke searches and answers every phrasing of question concurrently. A failed branch
// contributes an error payload; the call fails only when every branch failed.
func (a *Agent) Invoke(ctx context.Context, question string) (string, error) {
	questions := a.variants.Generate(ctx, question)
	results := fanout.Gather(ctx, questions, a.searchAndAnswer,
		append([]fanout.Option{
			fanout.WithName("hybrid-search"),
			fanout.WithErrorFormat(func(i int, err error) string {
				return common.ErrorPayload(fmt.Sprintf("GraphRAG search failed for '%s': %v", questions[i], err))
			}),
		}, a.fanOpts...)...)

	var answers, failures []string
	for _, r := range results {
		if common.IsErrorPayload(r) {
			failures = append(failures, r)
			continue
		}
		answers = append(answers, r)
	}
	if len(answers) == 0 {
		if len(failures) == 0 {
			return "", errors.New("no search branches ran")
		}
		return "", errors.New(strings.Join(failures, "\n"))
	}
	logger.Infof("[Hybrid] %d answers, %d failed branches", len(answers), len(failures))
	return strings.Join(answers, answerSeparator), nil
}

func (a *Agent) searchAndAnswer(ctx context.Context, question string) (string, error) {
	hits, err := a.searcher.Search(ctx, question, a.topK)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return fmt.Sprintf("No relevant passages were found for '%s'.", question), nil
	}
	cb := &logger.PrettyLoggerCallback{Es: a.es, Label: "HybridAnswer"}
	out, err := agents.Text(ctx, a.answer, map[string]any{
		"question": question,
		"passages": retrieval.FormatHits(hits),
	}, compose.WithCallbacks(cb))
	if err != nil {
		return "", fmt.Errorf("answer over %d passages: %w", len(hits), err)
	}
	return strings.TrimSpace(out), nil
}
