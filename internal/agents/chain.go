// Package agents holds the pieces shared by the capability agents: compiled
// prompt chains and question variant generation.
package agents

import (
	"context"
	"fmt"

	"kgqa_agent/internal/prompts"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// Chain is a compiled system-prompt -> model pipeline.
type Chain = compose.Runnable[map[string]any, *schema.Message]

// NewChain compiles the named system prompt and the user template into a chain on cm.
// Both are Go templates rendered with the variables passed to Invoke.
func NewChain(ctx context.Context, cm model.BaseChatModel, systemPrompt, userTemplate string) (Chain, error) {
	if cm == nil {
		return nil, fmt.Errorf("chain %s: nil chat model", systemPrompt)
	}
	sys, err := prompts.GetSinglePrompt(systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("load %s prompt: %w", systemPrompt, err)
	}
	tpl := prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(sys),
		schema.UserMessage(userTemplate),
	)
	r, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(tpl).
		AppendChatModel(cm).
		Compile(ctx, compose.WithGraphName(systemPrompt))
	if err != nil {
		return nil, fmt.Errorf("compile %s chain: %w", systemPrompt, err)
	}
	return r, nil
}

// Text invokes c and returns the trimmed reply content.
func Text(ctx context.Context, c Chain, vars map[string]any, opts ...compose.Option) (string, error) {
	msg, err := c.Invoke(ctx, vars, opts...)
	if err != nil {
		return "", err
	}
	if msg == nil {
		return "", fmt.Errorf("empty model reply")
	}
	return msg.Content, nil
}
