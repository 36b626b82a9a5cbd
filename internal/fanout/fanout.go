// Package fanout dispatches independent work items to concurrent branches and folds
// their outcomes back through the reducer.
package fanout

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/reducer"
	"kgqa_agent/internal/telemetry"
	"kgqa_agent/pkg/logger"

	"github.com/bytedance/gopkg/util/gopool"
)

// Branch processes one work item. It receives only its own item.
type Branch[T any] func(ctx context.Context, item T) (string, error)

// MergeMode selects how branch outputs are folded together.
type MergeMode int

const (
	// Dedupe keeps the first occurrence of each distinct output.
	Dedupe MergeMode = iota
	// AllowDuplicates keeps every output verbatim.
	AllowDuplicates
)

var defaultPool = gopool.NewPool("kgqa-fanout", 64, gopool.NewConfig())

type options struct {
	pool    gopool.Pool
	merge   MergeMode
	name    string
	metrics *telemetry.Metrics
	events  *logger.Metrics
	onError func(item int, err error) string
}

// Option configures a Gather call.
type Option func(*options)

// WithLimit runs the branches on a dedicated pool capped at n workers.
func WithLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.pool = gopool.NewPool("kgqa-fanout-limited", int32(n), gopool.NewConfig())
		}
	}
}

// WithPool runs the branches on p.
func WithPool(p gopool.Pool) Option {
	return func(o *options) {
		if p != nil {
			o.pool = p
		}
	}
}

func WithMerge(m MergeMode) Option {
	return func(o *options) { o.merge = m }
}

// WithName sets the label used in log lines.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEventMetrics reports each completed fan-out to m.
func WithEventMetrics(m *logger.Metrics) Option {
	return func(o *options) { o.events = m }
}

// WithErrorFormat overrides how a failed branch is rendered. The returned string is
// merged like any other output, so it should be an error payload.
func WithErrorFormat(f func(item int, err error) string) Option {
	return func(o *options) {
		if f != nil {
			o.onError = f
		}
	}
}

// Scatter runs branch once per item and returns the outputs indexed like items.
// A failed or panicking branch yields an error payload in its slot; Scatter never
// returns early and never propagates a branch failure.
func Scatter[T any](ctx context.Context, items []T, branch Branch[T], opts ...Option) []string {
	return scatter(ctx, items, branch, buildOptions(opts))
}

func scatter[T any](ctx context.Context, items []T, branch Branch[T], o *options) []string {
	out := make([]string, len(items))
	if len(items) == 0 {
		return out
	}

	logger.Infof("[FanOut] %s: dispatching %d branches", o.name, len(items))
	timer := logger.NewTimer()

	failures := make([]bool, len(items))
	var wg sync.WaitGroup
	wg.Add(len(items))
	for i := range items {
		idx, item := i, items[i]
		o.pool.CtxGo(ctx, func() {
			defer wg.Done()
			res, err := runBranch(ctx, branch, item)
			if err != nil {
				logger.Warnf("[FanOut] %s: branch %d failed: %v", o.name, idx, err)
				out[idx] = o.onError(idx, err)
				failures[idx] = true
			} else {
				out[idx] = res
			}
			o.metrics.RecordBranch(err != nil)
		})
	}
	wg.Wait()

	elapsed := timer.ElapsedMs()
	failed := 0
	for _, f := range failures {
		if f {
			failed++
		}
	}
	logger.Infof("[FanOut] %s: %d branches joined in %dms (%d failed)", o.name, len(items), elapsed, failed)
	o.events.Emit(logger.MetricsEvent{
		LogType: logger.LTFanOutCompleted, Phase: logger.PhaseFanOut, Event: logger.EventPhaseEnd,
		DurationMs: elapsed, Detail: map[string]any{"name": o.name, "branches": len(items), "failed": failed},
	})
	return out
}

// Gather runs branch once per item and folds the outputs in dispatch order, so the
// merged result does not depend on completion order.
func Gather[T any](ctx context.Context, items []T, branch Branch[T], opts ...Option) []string {
	o := buildOptions(opts)
	outs := scatter(ctx, items, branch, o)
	if o.merge == AllowDuplicates {
		merged := make([]string, 0, len(outs))
		return reducer.AppendTyped(merged, outs, false)
	}
	var merged []string
	for _, s := range outs {
		merged = reducer.Merge(merged, s)
	}
	if merged == nil {
		merged = []string{}
	}
	return merged
}

func runBranch[T any](ctx context.Context, branch Branch[T], item T) (res string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[FanOut] branch panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("branch panicked: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return branch(ctx, item)
}

func buildOptions(opts []Option) *options {
	o := &options{
		pool:  defaultPool,
		merge: Dedupe,
		name:  "gather",
		onError: func(_ int, err error) string {
			return common.ErrorPayload(err.Error())
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
