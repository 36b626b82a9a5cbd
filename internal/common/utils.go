package common

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// ExtractJSON strips markdown code fences and locates the first JSON object in the input.
func ExtractJSON(input string) (string, error) {
	if strings.Contains(input, "```") {
		start := strings.Index(input, "```")
		end := strings.LastIndex(input, "```")
		if end > start {
			content := input[start+3 : end]
			if idx := strings.Index(content, "\n"); idx != -1 {
				if strings.Contains(strings.ToLower(content[:idx]), "json") {
					content = content[idx+1:]
				}
			}
			input = content
		}
	}

	start := strings.Index(input, "{")
	end := strings.LastIndex(input, "}")

	if start == -1 || end == -1 || start > end {
		return "", fmt.Errorf("no valid json object found")
	}

	return input[start : end+1], nil
}

// StripFences removes a surrounding markdown code fence and an optional language tag
// on its first line (e.g. ```cypher).
func StripFences(s, lang string) string {
	cleaned := strings.TrimSpace(s)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	stripped := strings.TrimSpace(strings.Trim(cleaned, "`"))
	first, rest, ok := strings.Cut(stripped, "\n")
	if ok && strings.HasPrefix(strings.ToLower(strings.TrimSpace(first)), lang) {
		return strings.TrimSpace(rest)
	}
	return stripped
}

// ErrorPayload renders msg as the {"error": "..."} object used for failed lookups and branches.
func ErrorPayload(msg string) string {
	b, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return `{"error": "unserializable error"}`
	}
	return string(b)
}

// IsErrorPayload reports whether s is an object produced by ErrorPayload or a branch
// error formatter, i.e. a JSON object whose only key is "error".
func IsErrorPayload(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return false
	}
	_, ok := m["error"]
	return ok && len(m) == 1
}

// TruncateStr truncates s to at most maxLen bytes, appending "..." if truncated.
// The cut never splits a multi-byte character.
func TruncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:runeFloor(s, maxLen)] + "..."
}

// runeFloor moves byte offset n back to the start of the character containing it.
func runeFloor(s string, n int) int {
	if n <= 0 {
		return 0
	}
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// runeCeil moves byte offset n forward to the next character start.
func runeCeil(s string, n int) int {
	if n <= 0 {
		return 0
	}
	for n < len(s) && !utf8.RuneStart(s[n]) {
		n++
	}
	return n
}

const omissionNote = "\n\n[... content truncated for length; parts were omitted ...]\n\n"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, encErr
}

// TruncateTokens keeps the head and tail of text so that it fits in maxTokens cl100k tokens,
// inserting an omission note in the middle. When the encoding is unavailable it falls back
// to a character budget of four characters per token.
func TruncateTokens(text string, maxTokens int) string {
	// a token covers at least one byte, so short inputs never need encoding
	if maxTokens <= 0 || len(text) <= maxTokens {
		return text
	}
	tkt, err := encoding()
	if err != nil {
		return truncateMiddle(text, maxTokens*4)
	}
	tokens := tkt.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	head := maxTokens / 2
	tail := maxTokens - head - 50
	if tail < 0 {
		tail = 0
	}
	// token boundaries may fall inside a character
	return strings.ToValidUTF8(tkt.Decode(tokens[:head]), "") + omissionNote +
		strings.ToValidUTF8(tkt.Decode(tokens[len(tokens)-tail:]), "")
}

func truncateMiddle(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}
	head := maxChars / 2
	tail := maxChars - head - 200
	if tail < 0 {
		tail = 0
	}
	return text[:runeFloor(text, head)] + omissionNote + text[runeCeil(text, len(text)-tail):]
}

// FormatPlanOverview formats a Plan into a human-readable markdown summary.
func FormatPlanOverview(p Plan) string {
	var sb strings.Builder
	sb.WriteString("## Plan\n\n")
	sb.WriteString("**Goal**: " + p.Goal + "\n\n")
	for i, s := range p.Steps {
		status := " "
		if s.IsComplete {
			status = "x"
		}
		sb.WriteString(fmt.Sprintf("- [%s] **Step %d** (%s): %s\n", status, i+1, s.SuggestedTool, s.Instruction))
	}
	return sb.String()
}

// FormatResults renders a list of heterogeneous results as a numbered list,
// cutting long strings at 1000 characters.
func FormatResults(results []any) string {
	if len(results) == 0 {
		return "No results available"
	}
	parts := make([]string, 0, len(results))
	for i, r := range results {
		switch v := r.(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%d. %s", i+1, TruncateStr(v, 1000)))
		case nil:
			parts = append(parts, fmt.Sprintf("%d. <nil>", i+1))
		default:
			b, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				parts = append(parts, fmt.Sprintf("%d. %v", i+1, v))
				continue
			}
			parts = append(parts, fmt.Sprintf("%d. %s", i+1, b))
		}
	}
	return strings.Join(parts, "\n\n")
}
