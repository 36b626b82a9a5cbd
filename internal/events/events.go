package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event types for frontend consumption.
const (
	// Planner events
	TypePlanCreated = "plan.created"
	TypePlanError   = "plan.error"
	TypeGuardRemap  = "plan.remap"

	// Executor events
	TypeStepStarted = "step.started"
	TypeStepResult  = "step.result"
	TypeStepError   = "step.error"
	TypeCircuitOpen = "executor.circuit_open"

	// Final
	TypeFinalAnswer = "answer.final"

	// General
	TypeInfo  = "info"
	TypeError = "error"
)

// Event is the unified event structure sent to consumers (CLI printer, NDJSON stream, ES).
// Data is a json.RawMessage so consumers can decode it based on Type.
type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent creates an Event, marshaling data to JSON. If marshaling fails, data is set to null.
func NewEvent(eventType string, sessionID string, data any) Event {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("null")
	}
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now(),
		Data:      raw,
	}
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// --- Typed event data structs (frontend-friendly JSON) ---

type PlanCreatedData struct {
	Goal           string     `json:"goal"`
	TotalSteps     int        `json:"total_steps"`
	Steps          []StepInfo `json:"steps"`
	DirectResponse string     `json:"direct_response,omitempty"`
}

type StepInfo struct {
	Index       int    `json:"index"`
	Instruction string `json:"instruction"`
	Tool        string `json:"tool"`
}

type RemapData struct {
	StepIndex int    `json:"step_index"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type StepStartedData struct {
	Index       int    `json:"index"`
	Instruction string `json:"instruction"`
	Tool        string `json:"tool"`
	TotalSteps  int    `json:"total_steps"`
}

type StepResultData struct {
	Index       int    `json:"index"`
	Instruction string `json:"instruction"`
	Tool        string `json:"tool"`
	Result      string `json:"result"`
	Failed      bool   `json:"failed,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

type FinalAnswerData struct {
	Answer     string `json:"answer"`
	ContentLen int    `json:"content_length"`
	TotalSteps int    `json:"total_steps"`
	Executed   int    `json:"executed_steps"`
	Errors     int    `json:"errors"`
}

type ErrorData struct {
	Phase     string `json:"phase"`
	Message   string `json:"message"`
	StepIndex int    `json:"step_index,omitempty"`
}

type InfoData struct {
	Message string `json:"message"`
}

// --- Emitter interface and channel-based implementation ---

// Emitter is the interface for publishing events. Implementations may push to a channel,
// write to ES, or stream to an HTTP client.
type Emitter interface {
	Emit(event Event)
	Subscribe() <-chan Event
	Close()
}

// ChannelEmitter is a buffered channel-based Emitter.
type ChannelEmitter struct {
	bufSize int
	subs    []chan Event
	mu      sync.RWMutex
	closed  bool
}

// NewChannelEmitter creates a new emitter whose subscribers get the given buffer size.
func NewChannelEmitter(bufSize int) *ChannelEmitter {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &ChannelEmitter{bufSize: bufSize}
}

// Emit publishes an event to all subscribers. Non-blocking: drops if subscriber is full.
func (e *ChannelEmitter) Emit(event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	for _, sub := range e.subs {
		select {
		case sub <- event:
		default:
			// drop if subscriber can't keep up
		}
	}
}

// Subscribe returns a channel that receives all emitted events.
func (e *ChannelEmitter) Subscribe() <-chan Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan Event, e.bufSize)
	if e.closed {
		close(ch)
		return ch
	}
	e.subs = append(e.subs, ch)
	return ch
}

// Close closes all subscriber channels.
func (e *ChannelEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, sub := range e.subs {
		close(sub)
	}
}

// FuncEmitter calls a function synchronously for every event. Subscribe returns a
// closed channel.
type FuncEmitter func(Event)

func (f FuncEmitter) Emit(event Event)        { f(event) }
func (FuncEmitter) Subscribe() <-chan Event { return closedEvents() }
func (FuncEmitter) Close()                  {}

// Tee forwards every event to each of the given emitters. Close closes all of them.
type Tee []Emitter

func (t Tee) Emit(event Event) {
	for _, e := range t {
		if e != nil {
			e.Emit(event)
		}
	}
}

// Subscribe subscribes to the first emitter.
func (t Tee) Subscribe() <-chan Event {
	if len(t) == 0 || t[0] == nil {
		return closedEvents()
	}
	return t[0].Subscribe()
}

func (t Tee) Close() {
	for _, e := range t {
		if e != nil {
			e.Close()
		}
	}
}

// NopEmitter is a no-op emitter for when event reporting is not needed.
type NopEmitter struct{}

func (NopEmitter) Emit(Event)              {}
func (NopEmitter) Subscribe() <-chan Event { return closedEvents() }

func closedEvents() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}
func (NopEmitter) Close()                  {}
