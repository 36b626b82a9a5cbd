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

// Package conversationsummary keeps the session history handed to the planner within a
// token budget.
//
// Every planning call receives the earlier rounds of its session. Long sessions would
// eventually crowd the planner prompt, so the Compactor condenses the older rounds into a
// single summary round while keeping the newest rounds verbatim.
//
// Basic Usage:
//
//	compactor, err := conversationsummary.New(ctx, &conversationsummary.Config{
//		Model:                    model,
//		MaxTokensBeforeSummary:   8 * 1024,
//		MaxTokensForRecentRounds: 2 * 1024,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	history = compactor.Compact(ctx, history)
//
// How It Works:
//
// 1. Token Counting: each round (question and answer) is counted, by default with cl100k_base
// 2. Threshold Check: below MaxTokensBeforeSummary the history is returned as is
// 3. Budget Allocation: from newest to oldest, rounds are kept until MaxTokensForRecentRounds is spent
// 4. LLM Summarization: the remaining older rounds, plus any earlier summary round, are condensed
// 5. Result: [Summary round] + [Recent rounds]
//
// Compaction never fails the request. When counting or summarizing fails the original
// history is returned and a warning is logged.
package conversationsummary
