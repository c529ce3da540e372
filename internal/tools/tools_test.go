package tools_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/retry"
	"github.com/raphaelgruber/medresearch/internal/search"
	"github.com/raphaelgruber/medresearch/internal/store/memory"
	"github.com/raphaelgruber/medresearch/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newDeps wires the search clients to a fake provider server.
func newDeps(t *testing.T, st *memory.Store, tavilyKey string) *tools.Dependencies {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/search":
			_, _ = io.WriteString(w, `{"answer":"","results":[{"title":"New statin trial","url":"https://news.example/statin","content":"<p>Big trial</p>","published_date":"2025-01-02"}]}`)
		case "/paper/search":
			_, _ = io.WriteString(w, `{"data":[{"title":"Statins in the elderly","year":2024,"authors":[{"name":"A. Author"}],"url":"https://s2.example/p1","citationCount":12}]}`)
		case "/works":
			_, _ = io.WriteString(w, `{"results":[{"title":"Statin outcomes cohort","publication_year":2025,"doi":"https://doi.org/10.1/x","cited_by_count":3}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	policy := retry.None()
	logger := testLogger()
	return &tools.Dependencies{
		Store:    st,
		Tavily:   search.NewTavily(srv.URL, tavilyKey, time.Second, policy, logger),
		Scholar:  search.NewSemanticScholar(srv.URL, "", time.Second, policy, logger),
		OpenAlex: search.NewOpenAlex(srv.URL, "", time.Second, policy, logger),
		Logger:   logger,
	}
}

func connect(t *testing.T, deps *tools.Dependencies) (context.Context, *mcp.ClientSession) {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "test-medresearch", Version: "0.0.1-test"}, nil)
	tools.RegisterAll(server, deps)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err, "client should connect successfully")

	t.Cleanup(func() {
		_ = session.Close()
		cancel()
		select {
		case <-serverErr:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop within timeout")
		}
	})
	return ctx, session
}

func callText(t *testing.T, ctx context.Context, session *mcp.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content should be TextContent")
	return text.Text, result.IsError
}

func TestRegisterAll_ListsTools(t *testing.T) {
	ctx, session := connect(t, newDeps(t, memory.New(), "key"))

	result, err := session.ListTools(ctx, nil)
	require.NoError(t, err)

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		tools.ToolPing, tools.ToolWebSearch, tools.ToolSemanticScholar, tools.ToolOpenAlex,
		tools.ToolLiterature, tools.ToolSaveFinding, tools.ToolListFindings, tools.ToolMarkFinding,
	}, names)
}

func TestPingTool(t *testing.T) {
	ctx, session := connect(t, newDeps(t, memory.New(), ""))

	text, isErr := callText(t, ctx, session, tools.ToolPing, map[string]any{})
	assert.Equal(t, "pong", text)
	assert.False(t, isErr)

	text, _ = callText(t, ctx, session, tools.ToolPing, map[string]any{"echo": "hello world"})
	assert.Equal(t, "hello world", text)
}

func TestSaveListMarkFindings(t *testing.T) {
	st := memory.New()
	d, err := st.Dialogs().Create(context.Background(), 1, nil, "")
	require.NoError(t, err)
	ctx, session := connect(t, newDeps(t, st, ""))

	text, isErr := callText(t, ctx, session, tools.ToolSaveFinding, map[string]any{
		"title":            "Study A",
		"source":           "NEJM",
		"relevance_reason": "large RCT",
	})
	assert.True(t, isErr)
	assert.Contains(t, text, tools.MsgNoActiveDialog)

	text, isErr = callText(t, ctx, session, tools.ToolSaveFinding, map[string]any{
		"dialog_id":        d.ID,
		"title":            "Study A",
		"source":           "NEJM",
		"relevance_reason": "large RCT",
		"news_sources":     []map[string]any{{"url": "https://news.example/a", "label": "News A"}},
		"paper_sources":    []map[string]any{{"url": "https://doi.org/1", "label": "Paper"}, {"url": "https://doi.org/2", "label": "Paper 2"}},
	})
	require.False(t, isErr, text)
	assert.Equal(t, "Success: Saved finding 'Study A' with 1 news and 2 papers.", text)

	text, isErr = callText(t, ctx, session, tools.ToolListFindings, map[string]any{"dialog_id": d.ID})
	require.False(t, isErr, text)
	var listed []models.Finding
	require.NoError(t, json.Unmarshal([]byte(text), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, 1, listed[0].Websites, "websites defaults to 1")
	assert.Equal(t, []models.Link{{Title: "News A", URL: "https://news.example/a"}}, listed[0].NewsLinks)

	text, isErr = callText(t, ctx, session, tools.ToolMarkFinding, map[string]any{"finding_id": listed[0].ID})
	require.False(t, isErr, text)
	f, err := st.Findings().GetByID(context.Background(), listed[0].ID)
	require.NoError(t, err)
	assert.True(t, f.NonRelevanceMark)

	_, isErr = callText(t, ctx, session, tools.ToolMarkFinding, map[string]any{"finding_id": 999})
	assert.True(t, isErr)
}

func TestSearchTools(t *testing.T) {
	ctx, session := connect(t, newDeps(t, memory.New(), "key"))

	text, _ := callText(t, ctx, session, tools.ToolWebSearch, map[string]any{"query": "statins"})
	assert.Contains(t, text, "New statin trial")
	assert.Contains(t, text, "Big trial")
	assert.NotContains(t, text, "<p>")

	text, _ = callText(t, ctx, session, tools.ToolSemanticScholar, map[string]any{"query": "statins"})
	assert.Contains(t, text, "Statins in the elderly")

	text, _ = callText(t, ctx, session, tools.ToolOpenAlex, map[string]any{"query": "statins"})
	assert.Contains(t, text, "Statin outcomes cohort")

	text, _ = callText(t, ctx, session, tools.ToolLiterature, map[string]any{"query": "statins", "year_min": 2024})
	assert.Contains(t, text, "=== Semantic Scholar ===")
	assert.Contains(t, text, "=== OpenAlex ===")

	_, isErr := callText(t, ctx, session, tools.ToolWebSearch, map[string]any{"query": " "})
	assert.True(t, isErr)
}

func TestWebSearchWithoutKey(t *testing.T) {
	ctx, session := connect(t, newDeps(t, memory.New(), ""))

	text, isErr := callText(t, ctx, session, tools.ToolWebSearch, map[string]any{"query": "statins"})
	assert.False(t, isErr, "search failures are soft")
	assert.Equal(t, "Web Search Failed: no Tavily API key configured (Status: 0)", text)
}
