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
	"errors"

	"kgqa_agent/internal/common"

	"github.com/cloudwego/eino/components/model"
)

var (
	ErrConfigNil     = errors.New("conversationsummary: config is nil")
	ErrModelRequired = errors.New("conversationsummary: model is required")
)

// TokenCounter counts tokens in a list of session rounds.
//
// It should return a slice of token counts with the same length as the input rounds,
// where each element represents the token count of the corresponding round.
type TokenCounter func(ctx context.Context, rounds []common.Exchange) (tokenNum []int64, err error)

// Config defines parameters for the history compactor.
//
// Required fields:
//   - Model: The language model used to generate summaries
//
// Optional fields:
//   - MaxTokensBeforeSummary: Trigger threshold (default: 8K)
//   - MaxTokensForRecentRounds: Recent round budget (default: 2K)
//   - Counter: Custom token counter (default: cl100k_base encoding)
//   - SystemPrompt: Summarization prompt (default: built-in prompt)
type Config struct {
	// MaxTokensBeforeSummary is the history size that triggers summarization.
	//
	// Set to 0 or negative to use DefaultMaxTokensBeforeSummary.
	MaxTokensBeforeSummary int

	// MaxTokensForRecentRounds is the budget for rounds kept verbatim, counted from the newest.
	// Older rounds are condensed into a single summary round.
	//
	// Set to 0 or negative to use DefaultMaxTokensForRecentRounds.
	MaxTokensForRecentRounds int

	// Counter is optional. If nil, rounds are counted with the cl100k_base encoding.
	Counter TokenCounter

	// Model is required. It may be smaller than the planner model.
	Model model.BaseChatModel

	// SystemPrompt is optional. If empty, PromptOfSummary is used.
	SystemPrompt string
}

const (
	DefaultMaxTokensBeforeSummary   = 8 * 1024
	DefaultMaxTokensForRecentRounds = 2 * 1024
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}
	if c.Model == nil {
		return ErrModelRequired
	}
	return nil
}

// GetMaxTokensBeforeSummary returns the effective threshold, using default if not set.
func (c *Config) GetMaxTokensBeforeSummary() int {
	if c.MaxTokensBeforeSummary <= 0 {
		return DefaultMaxTokensBeforeSummary
	}
	return c.MaxTokensBeforeSummary
}

// GetMaxTokensForRecentRounds returns the effective recent round budget, using default if not set.
func (c *Config) GetMaxTokensForRecentRounds() int {
	if c.MaxTokensForRecentRounds <= 0 {
		return DefaultMaxTokensForRecentRounds
	}
	return c.MaxTokensForRecentRounds
}
