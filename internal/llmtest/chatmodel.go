// Package llmtest provides a scripted chat model for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ChatModel answers every Generate call with Respond. It is safe for concurrent use.
type ChatModel struct {
	Respond func(in []*schema.Message) (string, error)

	mu    sync.Mutex
	calls [][]*schema.Message
}

// Reply returns a model that always answers content.
func Reply(content string) *ChatModel {
	return &ChatModel{Respond: func([]*schema.Message) (string, error) { return content, nil }}
}

// Fail returns a model whose every call fails with err.
func Fail(err error) *ChatModel {
	return &ChatModel{Respond: func([]*schema.Message) (string, error) { return "", err }}
}

// Script returns a model that answers the given replies in call order and fails once
// they are exhausted.
func Script(replies ...string) *ChatModel {
	var mu sync.Mutex
	i := 0
	return &ChatModel{Respond: func([]*schema.Message) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(replies) {
			return "", errors.New("llmtest: script exhausted")
		}
		i++
		return replies[i-1], nil
	}}
}

func (m *ChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, in)
	m.mu.Unlock()
	content, err := m.Respond(in)
	if err != nil {
		return nil, err
	}
	return schema.AssistantMessage(content, nil), nil
}

func (m *ChatModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// Calls returns the message lists received so far.
func (m *ChatModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.calls...)
}

// LastUser returns the content of the last user message in in, or "".
func LastUser(in []*schema.Message) string {
	for i := len(in) - 1; i >= 0; i-- {
		if in[i].Role == schema.User {
			return in[i].Content
		}
	}
	return ""
}

// System returns the content of the first system message in in, or "".
func System(in []*schema.Message) string {
	for _, m := range in {
		if m.Role == schema.System {
			return m.Content
		}
	}
	return ""
}
