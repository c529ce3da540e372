package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

type agentTool struct {
	def   llms.Tool
	label string
	run   func(ctx context.Context, scope Scope, args string) (string, error)
}

// AgentToolbox exposes the research tools to the langchaingo agent loop.
type AgentToolbox struct {
	deps  *Dependencies
	tools map[string]agentTool
	order []string
}

// NewAgentToolbox creates the toolbox offered to the research agent.
func NewAgentToolbox(deps *Dependencies) *AgentToolbox {
	b := &AgentToolbox{deps: deps, tools: make(map[string]agentTool)}

	linkSchema := map[string]any{
		"type": "array",
		"items": object(map[string]any{
			"url":   prop("string", "Absolute URL of the source"),
			"label": prop("string", "Short human readable label, e.g. the outlet or journal"),
		}, "url", "label"),
	}

	b.add(ToolSaveFinding, saveFindingDescription, "Saving finding...", object(map[string]any{
		"title":            prop("string", "Headline of the finding"),
		"source":           prop("string", "Publisher or outlet"),
		"relevance_reason": prop("string", "Why this finding matters to the user"),
		"citations":        prop("integer", "Number of academic citations, default 0"),
		"websites":         prop("integer", "Number of websites covering it, default 1"),
		"news_sources":     linkSchema,
		"paper_sources":    linkSchema,
	}, "title", "source", "relevance_reason"), func(ctx context.Context, scope Scope, args string) (string, error) {
		in, err := decodeArgs[SaveFindingInput](args)
		if err != nil {
			return "", err
		}
		in.DialogID = 0
		text, _ := SaveFinding(ctx, deps, scope, in)
		return text, nil
	})

	b.add(ToolWebSearch, webSearchDescription, "Searching medical news...", queryParams(false),
		runQuery(func(ctx context.Context, in QueryInput) string { return WebSearch(ctx, deps, in) }))
	b.add(ToolSemanticScholar, semanticScholarDescription, "Searching Semantic Scholar...", queryParams(false),
		runQuery(func(ctx context.Context, in QueryInput) string { return SemanticScholarSearch(ctx, deps, in) }))
	b.add(ToolOpenAlex, openAlexDescription, "Searching OpenAlex...", queryParams(true),
		runQuery(func(ctx context.Context, in LiteratureInput) string { return OpenAlexSearch(ctx, deps, in) }))
	b.add(ToolLiterature, literatureDescription, "Searching the literature...", queryParams(true),
		runQuery(func(ctx context.Context, in LiteratureInput) string { return LiteratureSearch(ctx, deps, in) }))

	return b
}

func (b *AgentToolbox) add(name, description, label string, params map[string]any, run func(context.Context, Scope, string) (string, error)) {
	b.tools[name] = agentTool{
		def: llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        name,
				Description: description,
				Parameters:  params,
			},
		},
		label: label,
		run:   run,
	}
	b.order = append(b.order, name)
}

// Definitions returns the tool definitions in registration order.
func (b *AgentToolbox) Definitions() []llms.Tool {
	defs := make([]llms.Tool, 0, len(b.order))
	for _, name := range b.order {
		defs = append(defs, b.tools[name].def)
	}
	return defs
}

// StatusLabel returns the progress label shown while a tool runs.
func (b *AgentToolbox) StatusLabel(name string) string {
	if t, ok := b.tools[name]; ok {
		return t.label
	}
	return "Running " + name + "..."
}

// Call executes a tool. Unknown tools and malformed arguments are reported as
// text so the model can correct itself.
func (b *AgentToolbox) Call(ctx context.Context, scope Scope, name, arguments string) string {
	t, ok := b.tools[name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q. Available tools: %s", name, strings.Join(b.order, ", "))
	}
	out, err := t.run(ctx, scope, arguments)
	if err != nil {
		b.deps.logger().Warn("tool call rejected", "tool", name, "error", err)
		return fmt.Sprintf("Error: invalid arguments for %s: %v", name, err)
	}
	return out
}

func runQuery[In interface{ query() string }](run func(context.Context, In) string) func(context.Context, Scope, string) (string, error) {
	return func(ctx context.Context, _ Scope, args string) (string, error) {
		in, err := decodeArgs[In](args)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(in.query()) == "" {
			return "", fmt.Errorf("query is required")
		}
		return run(ctx, in), nil
	}
}

func (in QueryInput) query() string      { return in.Query }
func (in LiteratureInput) query() string { return in.Query }

func decodeArgs[T any](args string) (T, error) {
	var v T
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return v, err
	}
	return v, nil
}

func queryParams(withYear bool) map[string]any {
	props := map[string]any{"query": prop("string", "The search query text")}
	if withYear {
		props["year_min"] = prop("integer", "Only return works published in or after this year")
	}
	return object(props, "query")
}

func object(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
