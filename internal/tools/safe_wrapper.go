package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// SafeToolWrapper wraps any InvokableTool so that errors from InvokableRun are
// returned as string results instead of Go errors. A lookup that fails still
// completes its step with a readable explanation.
type SafeToolWrapper struct {
	inner tool.InvokableTool
	name  string
}

// WrapToolSafe wraps a tool so its invocation errors become string results.
func WrapToolSafe(t tool.InvokableTool) tool.InvokableTool {
	if _, ok := t.(*SafeToolWrapper); ok {
		return t
	}
	w := &SafeToolWrapper{inner: t}
	if info, err := t.Info(context.Background()); err == nil && info != nil {
		w.name = info.Name
	}
	return w
}

func (w *SafeToolWrapper) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return w.inner.Info(ctx)
}

func (w *SafeToolWrapper) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (res string, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = fmt.Sprintf("Error invoking tool %s: panic: %v", w.name, r), nil
		}
	}()
	result, err := w.inner.InvokableRun(ctx, argumentsInJSON, opts...)
	if err != nil {
		return fmt.Sprintf("Error invoking tool %s: %s", w.name, err.Error()), nil
	}
	return result, nil
}
