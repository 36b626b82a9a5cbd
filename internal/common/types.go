package common

import (
	"encoding/json"
	"strings"
)

// Step is a single unit of work in a Plan.
type Step struct {
	Instruction   string `json:"instruction"`
	SuggestedTool string `json:"suggested_tool"` // untrusted label from the planner LLM
	Reasoning     string `json:"reasoning"`
	Result        string `json:"result"`
	IsComplete    bool   `json:"is_complete"`
}

// Complete records the step result. The first call wins; a completed step is never reset.
func (s *Step) Complete(result string) bool {
	if s.IsComplete {
		return false
	}
	s.Result = result
	s.IsComplete = true
	return true
}

// Plan is the top-level structure returned by the planner LLM.
type Plan struct {
	Goal           string `json:"goal"`
	Steps          []Step `json:"steps"`
	DirectResponse string `json:"direct_response_to_the_user"`
}

// IsComplete reports whether every step has been completed.
func (p *Plan) IsComplete() bool {
	for _, s := range p.Steps {
		if !s.IsComplete {
			return false
		}
	}
	return true
}

// ToolResult is the record of one step execution attempt.
// Exactly one of Result/Error is meaningful.
type ToolResult struct {
	ToolName  string `json:"tool_name"`
	StepIndex int    `json:"step_index"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Failed reports whether the execution attempt produced an error.
func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// PriorResult is the context handed to the reasoning capability for an earlier step.
type PriorResult struct {
	Step        int    `json:"step"`
	Instruction string `json:"instruction"`
	Result      string `json:"result"`
}

// Exchange is one answered question of an earlier round in the same session.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// FlexString handles LLM returning either a string or []string, unifying to string.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*f = FlexString(strings.Join(arr, "\n"))
		return nil
	}
	*f = FlexString(string(data))
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// Round is one answered question as persisted by the session store.
type Round struct {
	Question string   `json:"question"`
	Plan     Plan     `json:"plan"`
	Answer   string   `json:"answer"`
	Errors   []string `json:"errors,omitempty"`
}
