package planner

import (
	"strings"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/router"
	"kgqa_agent/pkg/logger"
)

// Remap records one tool name rewritten by Validate.
type Remap struct {
	StepIndex int
	From      string
	To        string
}

// Validate rewrites, in place, every step whose suggested tool is not one of valid.
// Names matching case-insensitively are normalized to their canonical spelling. Other
// names are mapped with the router's keyword heuristic when that lands on a valid
// name, and to the reasoning capability otherwise. Afterwards every suggested tool is
// in valid or is router.ReasoningTool. A nil reg uses the core capabilities only.
func Validate(plan *common.Plan, valid []string, reg *router.Registry) []Remap {
	if plan == nil {
		return nil
	}
	if reg == nil {
		reg = router.NewRegistry()
	}
	canonical := make(map[string]string, len(valid))
	for _, v := range valid {
		canonical[strings.ToLower(strings.TrimSpace(v))] = v
	}

	var remaps []Remap
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if name, ok := canonical[strings.ToLower(strings.TrimSpace(step.SuggestedTool))]; ok {
			step.SuggestedTool = name
			continue
		}
		to := router.ReasoningTool
		if d, ok := reg.Match(step.SuggestedTool); ok {
			if name, ok := canonical[strings.ToLower(d.Name)]; ok {
				to = name
			}
		}
		logger.Warnf("[Guard] step %d: mapped unknown tool %q to %q", i+1, step.SuggestedTool, to)
		remaps = append(remaps, Remap{StepIndex: i, From: step.SuggestedTool, To: to})
		step.SuggestedTool = to
	}
	return remaps
}
