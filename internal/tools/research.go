package tools

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	webSearchDescription       = "Searches recent medical news (last month) with Tavily. Returns headlines, URLs and snippets."
	semanticScholarDescription = "Searches Semantic Scholar for academic papers. Returns titles, authors, year, venue, citation counts and abstracts."
	openAlexDescription        = "Searches OpenAlex for recent peer-reviewed articles with a DOI, newest and most cited first. Optionally restricted to years after year_min."
	literatureDescription      = "Searches Semantic Scholar and OpenAlex at once and returns both result lists."
)

// QueryInput defines the input schema for news and paper searches.
type QueryInput struct {
	Query string `json:"query" jsonschema:"The search query text"`
}

// LiteratureInput defines the input schema for searches with a year filter.
type LiteratureInput struct {
	Query   string `json:"query" jsonschema:"The search query text"`
	YearMin int    `json:"year_min,omitempty" jsonschema:"Only return works published in or after this year"`
}

// WebSearch runs a news search. Failures come back as text.
func WebSearch(ctx context.Context, deps *Dependencies, in QueryInput) string {
	return deps.Tavily.SearchText(ctx, strings.TrimSpace(in.Query))
}

// SemanticScholarSearch runs a paper search on Semantic Scholar.
func SemanticScholarSearch(ctx context.Context, deps *Dependencies, in QueryInput) string {
	return deps.Scholar.SearchText(ctx, strings.TrimSpace(in.Query))
}

// OpenAlexSearch runs a work search on OpenAlex.
func OpenAlexSearch(ctx context.Context, deps *Dependencies, in LiteratureInput) string {
	return deps.OpenAlex.SearchText(ctx, strings.TrimSpace(in.Query), in.YearMin)
}

// LiteratureSearch queries both academic providers concurrently.
func LiteratureSearch(ctx context.Context, deps *Dependencies, in LiteratureInput) string {
	return deps.Literature().SearchText(ctx, strings.TrimSpace(in.Query), in.YearMin)
}

// newQueryHandler adapts a text search to an MCP handler.
func newQueryHandler[In interface{ query() string }](deps *Dependencies, run func(context.Context, *Dependencies, In) string) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input In) (*mcp.CallToolResult, any, error) {
		if strings.TrimSpace(input.query()) == "" {
			return ErrorResult("Query cannot be empty", "Provide a search query"), nil, nil
		}
		return TextResult(run(ctx, deps, input)), nil, nil
	}
}

// NewWebSearchHandler creates the web_search tool handler.
func NewWebSearchHandler(deps *Dependencies) mcp.ToolHandlerFor[QueryInput, any] {
	return newQueryHandler(deps, WebSearch)
}

// NewSemanticScholarHandler creates the semantic_scholar_search tool handler.
func NewSemanticScholarHandler(deps *Dependencies) mcp.ToolHandlerFor[QueryInput, any] {
	return newQueryHandler(deps, SemanticScholarSearch)
}

// NewOpenAlexHandler creates the openalex_search tool handler.
func NewOpenAlexHandler(deps *Dependencies) mcp.ToolHandlerFor[LiteratureInput, any] {
	return newQueryHandler(deps, OpenAlexSearch)
}

// NewLiteratureHandler creates the literature_search tool handler.
func NewLiteratureHandler(deps *Dependencies) mcp.ToolHandlerFor[LiteratureInput, any] {
	return newQueryHandler(deps, LiteratureSearch)
}
