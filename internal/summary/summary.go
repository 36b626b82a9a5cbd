/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package conversationsummary

import (
	"context"
	"fmt"
	"strings"

	"kgqa_agent/internal/common"
	"kgqa_agent/pkg/logger"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// SummaryQuestion marks the synthetic round that carries a summary of earlier rounds.
const SummaryQuestion = "Summary of earlier rounds"

type Compactor struct {
	counter    TokenCounter
	maxBefore  int
	maxRecent  int
	summarizer compose.Runnable[map[string]any, *schema.Message]
}

// New creates a Compactor that condenses long session histories into a single
// summary round when the token threshold is exceeded.
// The summarizer chain is: ChatTemplate(SystemPrompt) -> ChatModel(Model).
func New(ctx context.Context, cfg *Config) (*Compactor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = PromptOfSummary
	}

	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(summaryUserTemplate))

	summarizer, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(tpl).
		AppendChatModel(cfg.Model).
		Compile(ctx, compose.WithGraphName("HistorySummarizer"))
	if err != nil {
		return nil, fmt.Errorf("compile summarizer failed, err=%w", err)
	}

	counter := cfg.Counter
	if counter == nil {
		counter = defaultCounterToken
	}

	return &Compactor{
		counter:    counter,
		maxBefore:  cfg.GetMaxTokensBeforeSummary(),
		maxRecent:  cfg.GetMaxTokensForRecentRounds(),
		summarizer: summarizer,
	}, nil
}

// Compact returns history unchanged while it fits the threshold. Otherwise the newest
// rounds that fit the recent budget are kept verbatim and every older round is replaced
// by one summary round placed first. Any failure returns history unchanged.
func (c *Compactor) Compact(ctx context.Context, history []common.Exchange) []common.Exchange {
	if len(history) < 2 {
		return history
	}

	counts, err := c.counter(ctx, history)
	if err != nil {
		logger.Warnf("[Summary] count tokens failed: %v", err)
		return history
	}
	if len(counts) != len(history) {
		logger.Warnf("[Summary] token count mismatch, rounds=%d, counts=%d", len(history), len(counts))
		return history
	}

	var total int64
	for _, t := range counts {
		total += t
	}
	if total <= int64(c.maxBefore) {
		return history
	}

	rounds := history
	var previous string
	if rounds[0].Question == SummaryQuestion {
		previous = rounds[0].Answer
		rounds, counts = rounds[1:], counts[1:]
	}

	// newest first, stopping at the first round that does not fit so order is kept
	split := len(rounds)
	var recentTokens int64
	for i := len(rounds) - 1; i >= 0; i-- {
		if recentTokens+counts[i] > int64(c.maxRecent) {
			break
		}
		recentTokens += counts[i]
		split = i
	}
	older, recent := rounds[:split], rounds[split:]
	if len(older) == 0 {
		return history
	}

	cb := &logger.PrettyLoggerCallback{Label: "Summary"}
	msg, err := c.summarizer.Invoke(ctx, map[string]any{
		"previous_summary": previous,
		"older_rounds":     renderRounds(older, 1),
		"recent_rounds":    renderRounds(recent, split+1),
	}, compose.WithCallbacks(cb))
	if err != nil {
		logger.Warnf("[Summary] summarize failed: %v", err)
		return history
	}
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return history
	}

	logger.Infof("[Summary] condensed %d rounds (%d tokens total), kept %d", len(older), total, len(recent))
	out := make([]common.Exchange, 0, len(recent)+1)
	out = append(out, common.Exchange{Question: SummaryQuestion, Answer: content})
	return append(out, recent...)
}

func renderRounds(rounds []common.Exchange, first int) string {
	var sb strings.Builder
	for i, r := range rounds {
		fmt.Fprintf(&sb, "### Round %d\nQuestion: %s\nAnswer: %s\n\n", first+i, r.Question, r.Answer)
	}
	return strings.TrimSpace(sb.String())
}
