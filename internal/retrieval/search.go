// Package retrieval searches document chunks of assessment projects in Elasticsearch,
// by BM25 alone or blended with vector similarity when an embedder is configured.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"kgqa_agent/internal/common"
	"kgqa_agent/pkg/logger"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/elastic/go-elasticsearch/v7"
)

const (
	DefaultIndex = "kgqa_chunks"
	DefaultTopK  = 5
)

// Hit is one retrieved chunk.
type Hit struct {
	ID      string  `json:"id"`
	Project string  `json:"project"`
	Section string  `json:"section"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// Searcher is what the hybrid capability needs from retrieval.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]Hit, error)
}

type ES struct {
	es          *elasticsearch.Client
	index       string
	embedder    embedding.Embedder
	vectorField string
	alpha       float64
}

type Option func(*ES)

// WithEmbedder blends cosine similarity on field into the BM25 score. alpha weights
// the vector part and is clamped to [0, 1].
func WithEmbedder(e embedding.Embedder, field string, alpha float64) Option {
	return func(s *ES) {
		s.embedder = e
		if field != "" {
			s.vectorField = field
		}
		s.alpha = min(max(alpha, 0), 1)
	}
}

func New(es *elasticsearch.Client, index string, opts ...Option) (*ES, error) {
	if es == nil {
		return nil, errors.New("retrieval: nil elasticsearch client")
	}
	if index == "" {
		index = DefaultIndex
	}
	s := &ES{es: es, index: index, vectorField: "embedding", alpha: 0.5}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *ES) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty query")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	body, err := s.body(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}

	timer := logger.NewTimer()
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index),
		s.es.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		raw, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search %s: %s: %s", s.index, res.Status(), strings.TrimSpace(string(raw)))
	}

	hits, err := decodeHits(res.Body)
	if err != nil {
		return nil, err
	}
	logger.Infof("[Retrieval] %d hits for %q in %dms", len(hits), common.TruncateStr(query, 60), timer.ElapsedMs())
	return hits, nil
}

func (s *ES) body(ctx context.Context, query string, topK int) (map[string]any, error) {
	match := map[string]any{"match": map[string]any{"text": map[string]any{"query": query}}}
	if s.embedder == nil {
		return map[string]any{"size": topK, "query": match}, nil
	}

	vecs, err := s.embedder.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, errors.New("embed query: empty vector")
	}
	// every document stays a candidate so that purely semantic matches can rank
	return map[string]any{
		"size": topK,
		"query": map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"bool": map[string]any{
					"must":   []any{map[string]any{"match_all": map[string]any{}}},
					"should": []any{match},
				}},
				"script": map[string]any{
					"source": fmt.Sprintf("params.alpha * (cosineSimilarity(params.qv, '%s') + 1.0) + (1 - params.alpha) * _score", s.vectorField),
					"params": map[string]any{"qv": vecs[0], "alpha": s.alpha},
				},
			},
		},
	}, nil
}

func decodeHits(r io.Reader) ([]Hit, error) {
	var resp struct {
		Hits struct {
			Hits []struct {
				ID     string  `json:"_id"`
				Score  float64 `json:"_score"`
				Source struct {
					Project string `json:"project"`
					Section string `json:"section"`
					Text    string `json:"text"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	hits := make([]Hit, 0, len(resp.Hits.Hits))
	for _, h := range resp.Hits.Hits {
		hits = append(hits, Hit{
			ID: h.ID, Project: h.Source.Project, Section: h.Source.Section,
			Text: h.Source.Text, Score: h.Score,
		})
	}
	return hits, nil
}

// FormatHits renders hits as labelled passages for an answer prompt.
func FormatHits(hits []Hit) string {
	parts := make([]string, 0, len(hits))
	for i, h := range hits {
		parts = append(parts, fmt.Sprintf("[%d] Project: %s | Section: %s\n%s", i+1, h.Project, h.Section, strings.TrimSpace(h.Text)))
	}
	return strings.Join(parts, "\n\n")
}
