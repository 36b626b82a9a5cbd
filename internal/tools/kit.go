package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"kgqa_agent/internal/common"
	"kgqa_agent/internal/router"
	"kgqa_agent/pkg/logger"

	"github.com/cloudwego/eino/components/tool"
)

// Kit runs utility tools for plan steps, deriving arguments from the step instruction.
type Kit struct {
	order    []string
	tools    map[string]tool.InvokableTool
	descs    map[string]string
	required map[string][]string
}

type argSpec interface {
	RequiredArgs() []string
}

// NewKit indexes ts by their tool name. Every tool is wrapped with WrapToolSafe.
func NewKit(ctx context.Context, ts ...tool.InvokableTool) (*Kit, error) {
	k := &Kit{
		tools:    make(map[string]tool.InvokableTool, len(ts)),
		descs:    make(map[string]string, len(ts)),
		required: make(map[string][]string, len(ts)),
	}
	for _, t := range ts {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		if _, dup := k.tools[info.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", info.Name)
		}
		if spec, ok := t.(argSpec); ok {
			k.required[info.Name] = spec.RequiredArgs()
		}
		k.order = append(k.order, info.Name)
		k.tools[info.Name] = WrapToolSafe(t)
		k.descs[info.Name] = info.Desc
	}
	return k, nil
}

// Register adds every tool in the kit to reg as a utility capability.
func (k *Kit) Register(reg *router.Registry) {
	for _, name := range k.order {
		reg.Register(router.Descriptor{Name: name, Kind: router.KindUtility, Description: k.descs[name]})
	}
}

// Names returns the tool names in registration order.
func (k *Kit) Names() []string {
	return append([]string(nil), k.order...)
}

// Run invokes the named tool. A required region that cannot be found in the
// instruction produces an explanatory result rather than an error.
func (k *Kit) Run(ctx context.Context, name, instruction string) (string, error) {
	t, ok := k.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", errUnknownTool, name)
	}
	args := map[string]string{}
	for _, p := range k.required[name] {
		if p != "region" {
			continue
		}
		region, found := ExtractRegion(instruction)
		if !found {
			logger.Warnf("[Tools] could not extract region from instruction: %q", common.TruncateStr(instruction, 100))
			return fmt.Sprintf("Error: Could not extract region parameter from instruction. "+
				"Please ensure the instruction contains a clear region name. Instruction was: '%s'", instruction), nil
		}
		logger.Infof("[Tools] %s: extracted region %q", name, region)
		args["region"] = region
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return t.InvokableRun(ctx, string(raw))
}

// explicit "region:" markers take priority, then a "Región de X" mention, then prepositions
var (
	explicitMarkers    = []string{"region:", "región:"}
	prepositionMarkers = []string{"para la ", "de la ", "en la ", "para ", "de ", "en ", "in ", "for "}
	regionMention      = regexp.MustCompile(`[Rr]egi[oó]n\s+(?:del?\s+)?\p{Lu}[\p{L}']*(?:\s+(?:(?:de|del|la|los|las|y|el)\s+)*\p{Lu}[\p{L}']*)*`)
)

// ExtractRegion finds a region name in a free-text instruction.
func ExtractRegion(instruction string) (string, bool) {
	if r, ok := afterMarker(instruction, explicitMarkers, false); ok {
		return r, true
	}
	if m := regionMention.FindString(instruction); m != "" {
		m = strings.TrimSpace(m)
		if len(m) > len("región ") {
			return m, true
		}
	}
	return afterMarker(instruction, prepositionMarkers, true)
}

func afterMarker(text string, markers []string, wordStart bool) (string, bool) {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		// byte offsets would not line up with the original
		text = lower
	}
	for _, mk := range markers {
		idx := -1
		if wordStart {
			if i := strings.Index(" "+lower, " "+mk); i >= 0 {
				idx = i
			}
		} else {
			idx = strings.Index(lower, mk)
		}
		if idx < 0 {
			continue
		}
		candidate := strings.TrimSpace(text[idx+len(mk):])
		candidate = strings.Trim(candidate, "\"'.,")
		if i := strings.IndexAny(candidate, ",.?!\n"); i >= 0 {
			candidate = candidate[:i]
		}
		candidate = strings.TrimSpace(candidate)
		if len(candidate) > 3 {
			return candidate, true
		}
	}
	return "", false
}
