// Package tools provides the research tools shared by the agent and the MCP server.
package tools

import (
	"log/slog"

	"github.com/raphaelgruber/medresearch/internal/search"
	"github.com/raphaelgruber/medresearch/internal/store"
)

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	Store    store.Store
	Tavily   *search.Tavily
	Scholar  *search.SemanticScholar
	OpenAlex *search.OpenAlex
	Logger   *slog.Logger
}

// Literature combines both academic providers.
func (d *Dependencies) Literature() *search.Literature {
	return &search.Literature{Scholar: d.Scholar, OpenAlex: d.OpenAlex}
}

func (d *Dependencies) logger() *slog.Logger {
	if d == nil || d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Scope binds tool calls to the dialog of the running turn.
type Scope struct {
	DialogID int64
	Findings store.Findings
}
