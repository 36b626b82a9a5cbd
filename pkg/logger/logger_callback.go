package logger

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"unicode/utf8"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
	"github.com/elastic/go-elasticsearch/v7"
)

// CallbackIndex is the ES index receiving raw callback payloads.
const CallbackIndex = "kgqa_callbacks"

// PrettyLoggerCallback logs eino node starts/ends in a compact, readable form and
// optionally mirrors the payloads to ES. It counts node starts in Step.
type PrettyLoggerCallback struct {
	Es    *elasticsearch.Client
	Label string
	Step  int64
}

func (cb *PrettyLoggerCallback) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if err := IndexDoc(cb.Es, Doc{Index: CallbackIndex, Kind: "callback.start", Body: input}); err != nil {
		Warnf("[%s] ES callback write failed: %v", cb.Label, err)
	}
	n := atomic.AddInt64(&cb.Step, 1)
	switch in := input.(type) {
	case []*schema.Message:
		Infof("[%s] #%d %s start: %d messages", cb.Label, n, nodeName(info), len(in))
	case *schema.Message:
		Infof("[%s] #%d %s start: [%s] %s", cb.Label, n, nodeName(info), in.Role, truncate(in.Content, 100))
	default:
		Infof("[%s] #%d %s start", cb.Label, n, nodeName(info))
	}
	return ctx
}

func (cb *PrettyLoggerCallback) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if err := IndexDoc(cb.Es, Doc{Index: CallbackIndex, Kind: "callback.end", Body: output}); err != nil {
		Warnf("[%s] ES callback write failed: %v", cb.Label, err)
	}
	if msg, ok := output.(*schema.Message); ok {
		Infof("[%s] %s done: [%s] %s", cb.Label, nodeName(info), msg.Role, truncate(msg.Content, 200))
		return ctx
	}
	Infof("[%s] %s done", cb.Label, nodeName(info))
	return ctx
}

func (cb *PrettyLoggerCallback) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	Errorf("[%s] %s failed: %v", cb.Label, nodeName(info), err)
	return ctx
}

func (cb *PrettyLoggerCallback) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	defer input.Close()
	return ctx
}

func (cb *PrettyLoggerCallback) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				Errorf("[%s] stream output panic: %v", cb.Label, err)
			}
		}()
		defer output.Close()

		frames := 0
		for {
			_, err := output.Recv()
			if errors.Is(err, io.EOF) {
				Infof("[%s] %s stream done: %d frames", cb.Label, nodeName(info), frames)
				return
			}
			if err != nil {
				Warnf("[%s] %s stream read error: %v", cb.Label, nodeName(info), err)
				return
			}
			frames++
		}
	}()
	return ctx
}

func nodeName(info *callbacks.RunInfo) string {
	if info == nil || info.Name == "" {
		return "node"
	}
	return info.Name
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !utf8.RuneStart(s[maxLen]) {
		maxLen--
	}
	return s[:maxLen] + "..."
}
