package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolPing,
		Description: "Test tool - responds with pong or echoes input",
	}, NewPingHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolWebSearch,
		Description: webSearchDescription,
	}, NewWebSearchHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolSemanticScholar,
		Description: semanticScholarDescription,
	}, NewSemanticScholarHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolOpenAlex,
		Description: openAlexDescription,
	}, NewOpenAlexHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolLiterature,
		Description: literatureDescription,
	}, NewLiteratureHandler(deps))

	// Findings require an explicit dialog_id outside of a chat turn.
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolSaveFinding,
		Description: saveFindingDescription,
	}, NewSaveFindingHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolListFindings,
		Description: "List the findings saved for a dialog, newest first",
	}, NewListFindingsHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolMarkFinding,
		Description: "Mark a finding as not relevant (excluded from future research) or relevant again",
	}, NewMarkFindingHandler(deps))
}
