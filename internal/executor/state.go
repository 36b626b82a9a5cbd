package executor

import (
	"kgqa_agent/internal/common"
)

// Phase is a state of the step machine.
type Phase int

const (
	PhaseCheckPlan Phase = iota
	PhaseExecuteStep
	PhaseReflect
	PhaseFinish
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseCheckPlan:
		return "check_plan"
	case PhaseExecuteStep:
		return "execute_step"
	case PhaseReflect:
		return "reflect"
	case PhaseFinish:
		return "finish"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// RunState is the execution state of one question. It is owned by a single driver
// loop and never shared across requests.
type RunState struct {
	Plan             *common.Plan
	CurrentStepIndex int
	ToolResults      []common.ToolResult
	Errors           []string
	FinalAnswer      string
	IsComplete       bool
}

func NewRunState(plan *common.Plan) *RunState {
	return &RunState{Plan: plan}
}

func (st *RunState) totalSteps() int {
	if st.Plan == nil {
		return 0
	}
	return len(st.Plan.Steps)
}

// setFinalAnswer writes the answer once; later writes are ignored.
func (st *RunState) setFinalAnswer(answer string) {
	if st.FinalAnswer == "" {
		st.FinalAnswer = answer
	}
}

// reasoningInput collects the completed steps before the current one and every
// tool result gathered so far.
func (st *RunState) reasoningInput(instruction string) ReasoningInput {
	in := ReasoningInput{Instruction: instruction}
	for i, s := range st.Plan.Steps[:st.CurrentStepIndex] {
		if s.IsComplete && s.Result != "" {
			in.CurrentResults = append(in.CurrentResults, common.PriorResult{
				Step:        i + 1,
				Instruction: s.Instruction,
				Result:      s.Result,
			})
		}
	}
	for _, tr := range st.ToolResults {
		in.PartialResults = append(in.PartialResults, tr.Result)
	}
	return in
}
