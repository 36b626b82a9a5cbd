package router

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind is the closed set of capability families a step can be routed to.
type Kind int

const (
	KindReasoning Kind = iota
	KindGraphQuery
	KindSemanticRetrieval
	KindUtility
)

func (k Kind) String() string {
	switch k {
	case KindGraphQuery:
		return "graph-query"
	case KindSemanticRetrieval:
		return "semantic-hybrid-retrieval"
	case KindReasoning:
		return "reasoning-synthesis"
	case KindUtility:
		return "utility"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Registered names of the core capabilities.
const (
	GraphQueryTool = "cypher_query_agent"
	HybridTool     = "hybrid_graphRAG_agent"
	ReasoningTool  = "reasoning_agent"
)

// Descriptor describes one callable capability.
type Descriptor struct {
	Name        string
	Kind        Kind
	Description string
	UseCases    []string
	Keywords    []string // scored by Suggest and listed in the planner prompt
}

// routing keywords are deliberately narrower than descriptive keywords:
// a label only needs to hint at the family.
var routeRules = []struct {
	kind   Kind
	tokens []string
}{
	{KindGraphQuery, []string{"cypher", "metadata"}},
	{KindSemanticRetrieval, []string{"hybrid", "graphrag", "chunk"}},
	{KindReasoning, []string{"reason", "think", "analy"}},
}

// CoreDescriptors returns the three LLM-backed capabilities.
func CoreDescriptors() []Descriptor {
	return []Descriptor{
		{
			Name:        GraphQueryTool,
			Kind:        KindGraphQuery,
			Description: "Executes Cypher queries on the Neo4j knowledge graph to retrieve metadata and structured information",
			UseCases: []string{
				"Query project metadata",
				"Find entities by attributes",
				"Retrieve relationships between entities",
				"Count and aggregate data",
				"Filter by region, commune, or other metadata",
			},
			Keywords: []string{"cypher", "metadata", "neo4j", "graph", "query", "filter", "count"},
		},
		{
			Name:        HybridTool,
			Kind:        KindSemanticRetrieval,
			Description: "Performs hybrid (vector + keyword) retrieval over document chunks and synthesizes an answer",
			UseCases: []string{
				"Search document content",
				"Find information in text chunks",
				"Retrieve flora and fauna descriptions",
				"Access environmental impact studies",
				"Get detailed project descriptions",
			},
			Keywords: []string{"hybrid", "graphrag", "content", "chunk", "document", "text", "search"},
		},
		{
			Name:        ReasoningTool,
			Kind:        KindReasoning,
			Description: "Performs intellectual tasks like summarizing, analyzing, reflecting, and synthesizing information",
			UseCases: []string{
				"Summarize findings",
				"Analyze patterns",
				"Synthesize information from multiple sources",
				"Interpret results",
				"Reflect on implications",
				"Compare and evaluate data",
			},
			Keywords: []string{"reasoning", "reason", "think", "analyze", "summarize", "synthesize", "interpret", "reflect"},
		},
	}
}

// Registry holds the capabilities known to the router. It is safe for concurrent reads
// after registration.
type Registry struct {
	mu     sync.RWMutex
	order  []Descriptor
	byName map[string]int // lower-cased name -> index in order
}

// NewRegistry returns a registry preloaded with the core capabilities.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]int)}
	for _, d := range CoreDescriptors() {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a capability. Utility descriptors without keywords get
// keywords derived from their name tokens.
func (r *Registry) Register(d Descriptor) {
	if d.Kind == KindUtility && len(d.Keywords) == 0 {
		d.Keywords = nameTokens(d.Name)
	}
	if len(d.UseCases) == 0 && d.Kind == KindUtility {
		d.UseCases = []string{"Direct data lookup", "List/lookup metadata", "Parameterised utility"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(d.Name)
	if i, ok := r.byName[key]; ok {
		r.order[i] = d
		return
	}
	r.byName[key] = len(r.order)
	r.order = append(r.order, d)
}

// Unregister removes the capability registered under name (case-insensitive) and
// reports whether it was present. Route still resolves its kind through core.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return false
	}
	r.order = append(r.order[:i], r.order[i+1:]...)
	r.byName = make(map[string]int, len(r.order))
	for j, d := range r.order {
		r.byName[strings.ToLower(d.Name)] = j
	}
	return true
}

// Lookup returns the descriptor registered under name (case-insensitive).
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Descriptor{}, false
	}
	return r.order[i], true
}

// Names returns every registered capability name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	for i, d := range r.order {
		names[i] = d.Name
	}
	return names
}

// Descriptors returns a copy of the registered descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Descriptor(nil), r.order...)
}

// Match resolves a label by exact name first and then by routing keywords.
// ok is false when neither matched.
func (r *Registry) Match(label string) (Descriptor, bool) {
	if d, ok := r.Lookup(label); ok {
		return d, true
	}
	lower := strings.ToLower(label)
	for _, rule := range routeRules {
		for _, tok := range rule.tokens {
			if strings.Contains(lower, tok) {
				return r.core(rule.kind), true
			}
		}
	}
	return Descriptor{}, false
}

// Route maps any label to a capability. Unrecognized labels fall back to reasoning.
func (r *Registry) Route(label string) Descriptor {
	if d, ok := r.Match(label); ok {
		return d
	}
	return r.core(KindReasoning)
}

// Suggest scores every capability by how many of its keywords occur in description
// and returns the best name. Ties go to the earliest registered; no hits yields reasoning.
func (r *Registry) Suggest(description string) string {
	lower := strings.ToLower(description)
	best, bestScore := ReasoningTool, 0
	for _, d := range r.Descriptors() {
		score := 0
		for _, kw := range d.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = d.Name, score
		}
	}
	return best
}

// FormatForPrompt renders the tool catalogue injected into the planner prompt.
func (r *Registry) FormatForPrompt() string {
	var sb strings.Builder
	sb.WriteString("## Available Tools\n\n")
	sb.WriteString("You have access to the following tools:\n\n")
	descs := r.Descriptors()
	for i, d := range descs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fmt.Sprintf("- **%s**: %s\n", d.Name, d.Description))
		sb.WriteString(fmt.Sprintf("  Use cases: %s\n", strings.Join(head(d.UseCases, 3), ", ")))
		sb.WriteString(fmt.Sprintf("  Keywords: %s", strings.Join(head(d.Keywords, 4), ", ")))
	}
	sb.WriteString("\n\n**Important**: Only use these exact tool names. Do not hallucinate or invent tool names.")
	return sb.String()
}

// core returns the descriptor of a core kind, synthesizing it if the registry was
// built without it so that Route stays total.
func (r *Registry) core(k Kind) Descriptor {
	for _, d := range r.Descriptors() {
		if d.Kind == k {
			return d
		}
	}
	for _, d := range CoreDescriptors() {
		if d.Kind == k {
			return d
		}
	}
	return Descriptor{Name: ReasoningTool, Kind: KindReasoning}
}

func nameTokens(name string) []string {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ReplaceAll(name, "_", " ")) {
		set[strings.ToLower(tok)] = struct{}{}
	}
	if len(set) == 0 {
		return []string{name}
	}
	out := make([]string, 0, len(set))
	for tok := range set {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

func head(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
