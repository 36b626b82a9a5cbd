// Package reducer merges partial results produced by concurrent branches.
//
// Merge keeps a deduplicated, first-occurrence-ordered list of strings and is used for
// free-text answer fragments. Append concatenates verbatim and is used for structured
// per-step records where every entry must survive.
//
// To clear accumulated state, pass the typed Reset value. The untyped string
// "delete" is treated as data and merged like any other fragment, so callers
// holding a plain string cannot trigger a reset by accident.
package reducer

import (
	"fmt"

	"kgqa_agent/pkg/logger"
)

type resetSignal string

// Reset discards all prior contents when passed as the incoming value.
// Its string form is "delete"; a plain "delete" string is ordinary data.
const Reset resetSignal = "delete"

// Merge combines existing with incoming, dropping duplicates while keeping the
// position of each value's first occurrence.
//
// incoming may be nil, a string, a []string, a []any, or Reset. Any other value,
// and any non-string element of a []any, is coerced with fmt.Sprint.
func Merge(existing []string, incoming any) []string {
	if _, ok := incoming.(resetSignal); ok {
		return []string{}
	}

	items := normalize(incoming)
	if len(items) == 0 {
		if existing == nil {
			return []string{}
		}
		return existing
	}
	if len(existing) == 0 {
		return dedupe(nil, items)
	}
	return dedupe(existing, items)
}

// Append concatenates existing and incoming without deduplication.
// incoming may be nil, Reset, a []any, or a single value which is appended as one element.
func Append(existing []any, incoming any) []any {
	if _, ok := incoming.(resetSignal); ok {
		return []any{}
	}
	out := make([]any, 0, len(existing)+1)
	out = append(out, existing...)
	switch v := incoming.(type) {
	case nil:
	case []any:
		out = append(out, v...)
	default:
		out = append(out, v)
	}
	return out
}

// AppendTyped is Append for a concrete element type.
func AppendTyped[T any](existing []T, incoming []T, reset bool) []T {
	if reset {
		return []T{}
	}
	out := make([]T, 0, len(existing)+len(incoming))
	out = append(out, existing...)
	return append(out, incoming...)
}

func normalize(incoming any) []string {
	switch v := incoming.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
				continue
			}
			logger.Warnf("[Reducer] coercing %T element to string", item)
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		logger.Warnf("[Reducer] coercing incoming %T to string", incoming)
		return []string{fmt.Sprint(v)}
	}
}

func dedupe(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	for _, group := range [][]string{existing, incoming} {
		for _, s := range group {
			if _, dup := seen[s]; dup {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
