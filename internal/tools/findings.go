package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/medresearch/internal/models"
)

// Tool names.
const (
	ToolSaveFinding     = "save_finding"
	ToolWebSearch       = "web_search"
	ToolSemanticScholar = "semantic_scholar_search"
	ToolOpenAlex        = "openalex_search"
	ToolLiterature      = "literature_search"
	ToolListFindings    = "list_findings"
	ToolMarkFinding     = "mark_finding"
	ToolPing            = "ping"
)

// MsgNoActiveDialog is returned by save_finding outside of a dialog.
const MsgNoActiveDialog = "Error: No active dialog. Cannot save finding."

const saveFindingDescription = "Saves a verified medical finding to the side panel. Call this for EVERY relevant result you find before generating the final answer."

// LinkSource is a labeled URL supplied by the agent.
type LinkSource struct {
	URL   string `json:"url" jsonschema:"Absolute URL of the source"`
	Label string `json:"label" jsonschema:"Short human readable label, e.g. the outlet or journal"`
}

// SaveFindingInput defines the input schema for the save_finding tool.
type SaveFindingInput struct {
	DialogID        int64        `json:"dialog_id,omitempty" jsonschema:"Dialog the finding belongs to (MCP clients only)"`
	Title           string       `json:"title" jsonschema:"Headline of the finding"`
	Source          string       `json:"source" jsonschema:"Publisher or outlet"`
	RelevanceReason string       `json:"relevance_reason" jsonschema:"Why this finding matters to the user"`
	Citations       int          `json:"citations,omitempty" jsonschema:"Number of academic citations, default 0"`
	Websites        *int         `json:"websites,omitempty" jsonschema:"Number of websites covering it, default 1"`
	NewsSources     []LinkSource `json:"news_sources,omitempty" jsonschema:"News articles about the finding"`
	PaperSources    []LinkSource `json:"paper_sources,omitempty" jsonschema:"Academic papers backing the finding"`
}

func (in SaveFindingInput) toNewFinding(dialogID int64) models.NewFinding {
	websites := 1
	if in.Websites != nil {
		websites = *in.Websites
	}
	return models.NewFinding{
		DialogID:        dialogID,
		Title:           strings.TrimSpace(in.Title),
		Source:          strings.TrimSpace(in.Source),
		RelevanceReason: strings.TrimSpace(in.RelevanceReason),
		Citations:       in.Citations,
		Websites:        websites,
		NewsLinks:       toLinks(in.NewsSources),
		PaperLinks:      toLinks(in.PaperSources),
	}
}

func toLinks(sources []LinkSource) []models.Link {
	links := make([]models.Link, 0, len(sources))
	for _, s := range sources {
		if strings.TrimSpace(s.URL) == "" {
			continue
		}
		links = append(links, models.Link{Title: s.Label, URL: s.URL})
	}
	return links
}

// SaveFinding persists a finding for the scoped dialog and reports the outcome as text.
func SaveFinding(ctx context.Context, deps *Dependencies, scope Scope, in SaveFindingInput) (string, bool) {
	if scope.DialogID == 0 || scope.Findings == nil {
		return MsgNoActiveDialog, false
	}
	nf := in.toNewFinding(scope.DialogID)
	f, err := scope.Findings.Create(ctx, nf)
	if err != nil {
		deps.logger().Error("save finding failed", "dialog_id", scope.DialogID, "error", err)
		return fmt.Sprintf("Error: Could not save finding: %v", err), false
	}
	deps.logger().Info("finding saved", "dialog_id", scope.DialogID, "finding_id", f.ID, "title", f.Title)
	return fmt.Sprintf("Success: Saved finding '%s' with %d news and %d papers.",
		f.Title, len(f.NewsLinks), len(f.PaperLinks)), true
}

// NewSaveFindingHandler creates the save_finding tool handler for MCP clients.
func NewSaveFindingHandler(deps *Dependencies) mcp.ToolHandlerFor[SaveFindingInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SaveFindingInput) (*mcp.CallToolResult, any, error) {
		if input.DialogID == 0 {
			return ErrorResult(MsgNoActiveDialog, "Pass dialog_id"), nil, nil
		}
		d, err := deps.Store.Dialogs().GetByID(ctx, input.DialogID)
		if err != nil {
			deps.logger().Error("get dialog failed", "dialog_id", input.DialogID, "error", err)
			return ErrorResult("Failed to load dialog", "Database may be unavailable"), nil, nil
		}
		if d == nil {
			return ErrorResult(MsgNoActiveDialog, "Unknown dialog_id"), nil, nil
		}

		text, ok := SaveFinding(ctx, deps, Scope{DialogID: d.ID, Findings: deps.Store.Findings()}, input)
		if !ok {
			return ErrorResult(text, ""), nil, nil
		}
		return TextResult(text), nil, nil
	}
}

// ListFindingsInput defines the input schema for the list_findings tool.
type ListFindingsInput struct {
	DialogID int64 `json:"dialog_id" jsonschema:"Dialog to list findings for"`
}

// NewListFindingsHandler lists the findings of a dialog, newest first.
func NewListFindingsHandler(deps *Dependencies) mcp.ToolHandlerFor[ListFindingsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListFindingsInput) (*mcp.CallToolResult, any, error) {
		if input.DialogID == 0 {
			return ErrorResult("dialog_id is required", ""), nil, nil
		}
		findings, err := deps.Store.Findings().ListByDialog(ctx, input.DialogID)
		if err != nil {
			deps.logger().Error("list findings failed", "dialog_id", input.DialogID, "error", err)
			return ErrorResult("Failed to list findings", "Database may be unavailable"), nil, nil
		}
		jsonBytes, _ := json.MarshalIndent(findings, "", "  ")
		return TextResult(string(jsonBytes)), nil, nil
	}
}

// MarkFindingInput defines the input schema for the mark_finding tool.
type MarkFindingInput struct {
	FindingID int64 `json:"finding_id" jsonschema:"Finding to mark"`
	Relevant  bool  `json:"relevant,omitempty" jsonschema:"true restores the finding, false excludes it from future turns"`
}

// NewMarkFindingHandler records relevance feedback on a finding.
func NewMarkFindingHandler(deps *Dependencies) mcp.ToolHandlerFor[MarkFindingInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input MarkFindingInput) (*mcp.CallToolResult, any, error) {
		f, err := deps.Store.Findings().GetByID(ctx, input.FindingID)
		if err != nil {
			deps.logger().Error("get finding failed", "finding_id", input.FindingID, "error", err)
			return ErrorResult("Failed to load finding", "Database may be unavailable"), nil, nil
		}
		if f == nil {
			return ErrorResult(fmt.Sprintf("Finding %d not found", input.FindingID), "Use list_findings to look up ids"), nil, nil
		}

		mark, verb := deps.Store.Findings().MarkNonRelevant, "not relevant"
		if input.Relevant {
			mark, verb = deps.Store.Findings().MarkRelevant, "relevant"
		}
		if err := mark(ctx, f.ID); err != nil {
			deps.logger().Error("mark finding failed", "finding_id", f.ID, "error", err)
			return ErrorResult("Failed to mark finding", ""), nil, nil
		}
		return TextResult(fmt.Sprintf("Marked finding '%s' as %s.", f.Title, verb)), nil, nil
	}
}
