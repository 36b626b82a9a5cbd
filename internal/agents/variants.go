package agents

import (
	"context"
	"encoding/json"
	"strings"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/prompts"
	"kgqa_agent/pkg/logger"

	"github.com/cloudwego/eino/components/model"
)

// DefaultMaxVariants bounds the number of phrasings fanned out per question.
const DefaultMaxVariants = 3

// Variants rewrites a question into alternative phrasings.
type Variants struct {
	chain Chain
	max   int
}

func NewVariants(ctx context.Context, cm model.BaseChatModel, max int) (*Variants, error) {
	c, err := NewChain(ctx, cm, prompts.QuestionVariants, "Question: {{.question}}")
	if err != nil {
		return nil, err
	}
	if max <= 0 {
		max = DefaultMaxVariants
	}
	return &Variants{chain: c, max: max}, nil
}

// Generate returns at most max distinct phrasings, the original question first.
// Any model or parse failure degrades to the question alone.
func (v *Variants) Generate(ctx context.Context, question string) []string {
	out, err := Text(ctx, v.chain, map[string]any{"question": question, "max_queries": v.max})
	if err != nil {
		logger.Warnf("[Variants] generation failed, using the question as is: %v", err)
		return []string{question}
	}
	return ParseVariants(out, question, v.max)
}

// ParseVariants reads {"queries": [...]} from a model reply. Entries may be strings
// or {"query": "..."} objects. Blank and repeated entries are dropped.
func ParseVariants(content, question string, max int) []string {
	qs := []string{question}
	raw, err := common.ExtractJSON(content)
	if err != nil {
		return qs
	}
	var parsed struct {
		Queries []json.RawMessage `json:"queries"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		logger.Warnf("[Variants] unparsable reply: %v", err)
		return qs
	}

	seen := map[string]bool{normalize(question): true}
	for _, r := range parsed.Queries {
		if max > 0 && len(qs) >= max {
			break
		}
		q := variantText(r)
		key := normalize(q)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		qs = append(qs, strings.TrimSpace(q))
	}
	return qs
}

func variantText(r json.RawMessage) string {
	var s string
	if json.Unmarshal(r, &s) == nil {
		return s
	}
	var obj struct {
		Query string `json:"query"`
	}
	if json.Unmarshal(r, &obj) == nil {
		return obj.Query
	}
	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
