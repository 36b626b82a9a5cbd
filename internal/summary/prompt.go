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

// PromptOfSummary is the default system prompt for the history summarizer.
//
// The user message carries three tagged sections:
//   - previous_summary: an earlier summary round, if the history already starts with one
//   - older_rounds: the rounds to be condensed
//   - recent_rounds: rounds that stay verbatim (reference only)
const PromptOfSummary = `<role>
Session History Summarizer for a Knowledge-Graph Question Answering Agent
</role>

<primary_objective>
Condense the older rounds of a question answering session into a short, factual context summary.
The summary is read by a planner that decides which tools to call for the next question, so it must
keep every concrete entity the user has already asked about or received an answer on.
</primary_objective>

<contextual_goals>
- **Preserve Concrete Entities:** project names, regions, communes, companies, dates, amounts and counts.
- **Record Answers:** for every question keep the key figure or finding of its answer.
- **Record Gaps:** note questions that could not be answered so the planner does not repeat them blindly.
- **Track Topic:** state what the user is currently investigating.
</contextual_goals>

<instructions>
1. Merge 'previous_summary' and 'older_rounds' into one refined summary.
2. Do not repeat information that is already present in 'recent_rounds'.
3. Never invent facts that are not present in the rounds.
4. Write plain markdown bullet points, at most 15 of them, in the language of the questions.
5. Output only the summary, without any preamble.
</instructions>`

// summaryUserTemplate is rendered with the GoTemplate format.
const summaryUserTemplate = `<previous_summary>
{{.previous_summary}}
</previous_summary>

<older_rounds>
{{.older_rounds}}
</older_rounds>

<recent_rounds>
{{.recent_rounds}}
</recent_rounds>

Summarize 'older_rounds'.`
