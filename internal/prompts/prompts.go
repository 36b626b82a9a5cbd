package prompts

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
)

//go:embed *.md
var promptFiles embed.FS

// Prompt names.
const (
	Planner            = "planner"
	QuestionVariants   = "question_variants"
	CypherGeneration   = "cypher_generation"
	GraphAnswer        = "graph_answer"
	HybridAnswer       = "hybrid_answer"
	ReasoningTask      = "reasoning_task"
	ReasoningEngine    = "reasoning_engine"
	ReasoningSynthesis = "reasoning_synthesis"
)

var (
	loadOnce sync.Once
	loaded   map[string]string
	loadErr  error
)

// GetPrompts returns every embedded prompt keyed by file name without extension.
// The returned map is a copy.
func GetPrompts() (map[string]string, error) {
	loadOnce.Do(func() {
		loaded, loadErr = load()
	})
	if loadErr != nil {
		return nil, loadErr
	}
	out := make(map[string]string, len(loaded))
	for k, v := range loaded {
		out[k] = v
	}
	return out, nil
}

func GetSinglePrompt(name string) (string, error) {
	prompts, err := GetPrompts()
	if err != nil {
		return "", err
	}
	val, ok := prompts[name]
	if !ok {
		return "", fmt.Errorf("prompt %q does not exist", name)
	}
	return val, nil
}

func load() (map[string]string, error) {
	prompts := make(map[string]string)
	err := fs.WalkDir(promptFiles, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}
		content, err := promptFiles.ReadFile(path)
		if err != nil {
			return err
		}
		fileName := filepath.Base(path)
		prompts[fileName[:len(fileName)-len(filepath.Ext(fileName))]] = string(content)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prompts, nil
}
