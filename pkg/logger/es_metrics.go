package logger

import (
	"time"

	"github.com/elastic/go-elasticsearch/v7"
)

const (
	DefaultMetricsIndex = "kgqa_metrics"

	PhasePlanner  = "planner"
	PhaseGuard    = "guard"
	PhaseExecutor = "executor"
	PhaseFanOut   = "fanout"
	PhaseFinish   = "finish"

	// LogType values used to filter documents in ES.
	LTPlannerRawOutput = "planner.model_output"
	LTPlannerParsed    = "planner.plan_parsed"
	LTPlannerError     = "planner.error"

	LTGuardRemap = "guard.remap"

	LTExecutorStart   = "executor.start"
	LTExecutorEnd     = "executor.end"
	LTStepResult      = "executor.step.result"
	LTStepError       = "executor.step.error"
	LTCircuitBreaker  = "executor.circuit_breaker"
	LTReflect         = "executor.reflect"
	LTFanOutCompleted = "fanout.completed"

	LTFinalOutput = "pipeline.final_output"

	EventPhaseStart  = "phase_start"
	EventPhaseEnd    = "phase_end"
	EventPhaseError  = "phase_error"
	EventStepStart   = "step_start"
	EventStepEnd     = "step_end"
	EventStepError   = "step_error"
	EventPlanParsed  = "plan_parsed"
	EventLoopEnter   = "loop_enter"
	EventFinalOutput = "final_output"
)

// MetricsEvent is one measurement document written to ES.
type MetricsEvent struct {
	Timestamp  time.Time   `json:"@timestamp"`
	LogType    string      `json:"log_type"`
	Phase      string      `json:"phase"`
	Event      string      `json:"event"`
	StepIndex  int         `json:"step_index,omitempty"`
	Tool       string      `json:"tool,omitempty"`
	TotalSteps int         `json:"total_steps,omitempty"`
	DurationMs int64       `json:"duration_ms,omitempty"`
	Error      string      `json:"error,omitempty"`
	Input      interface{} `json:"input,omitempty"`
	Output     interface{} `json:"output,omitempty"`
	Detail     interface{} `json:"detail,omitempty"`
}

// Metrics ships MetricsEvents to ES. A nil receiver or nil client silently skips.
type Metrics struct {
	es    *elasticsearch.Client
	index string
}

func NewMetrics(es *elasticsearch.Client, index string) *Metrics {
	if index == "" {
		index = DefaultMetricsIndex
	}
	return &Metrics{es: es, index: index}
}

// Emit writes one event; failures are logged and never block the caller's flow.
func (m *Metrics) Emit(evt MetricsEvent) {
	if m == nil || m.es == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	logType := evt.LogType
	if logType == "" {
		logType = evt.Phase + "." + evt.Event
	}
	if err := IndexDoc(m.es, Doc{Index: m.index, Kind: logType, At: evt.Timestamp, Body: evt}); err != nil {
		Warnf("[Metrics] ES write failed (log_type=%s): %v", logType, err)
	}
}

// Timer measures elapsed wall time.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ElapsedMs() int64 {
	return time.Since(t.start).Milliseconds()
}
