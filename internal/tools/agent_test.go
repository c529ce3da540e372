package tools_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/medresearch/internal/store/memory"
	"github.com/raphaelgruber/medresearch/internal/tools"
)

func TestAgentToolbox_Definitions(t *testing.T) {
	box := tools.NewAgentToolbox(newDeps(t, memory.New(), "key"))

	defs := box.Definitions()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		require.NotNil(t, d.Function)
		assert.Equal(t, "function", d.Type)
		assert.NotEmpty(t, d.Function.Description)
		names = append(names, d.Function.Name)
	}
	assert.Equal(t, []string{
		tools.ToolSaveFinding, tools.ToolWebSearch, tools.ToolSemanticScholar, tools.ToolOpenAlex, tools.ToolLiterature,
	}, names)
	assert.Equal(t, "Searching medical news...", box.StatusLabel(tools.ToolWebSearch))
	assert.Equal(t, "Running nope...", box.StatusLabel("nope"))
}

func TestAgentToolbox_SaveFinding(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	d, err := st.Dialogs().Create(ctx, 1, nil, "")
	require.NoError(t, err)
	box := tools.NewAgentToolbox(newDeps(t, st, ""))

	args := `{"title":"Study A","source":"Lancet","relevance_reason":"new guideline","citations":4,"websites":0,
		"news_sources":[{"url":"https://n.example","label":"N"}],"paper_sources":[{"url":"","label":"dropped"}]}`

	out := box.Call(ctx, tools.Scope{}, tools.ToolSaveFinding, args)
	assert.Equal(t, tools.MsgNoActiveDialog, out)

	out = box.Call(ctx, tools.Scope{DialogID: d.ID, Findings: st.Findings()}, tools.ToolSaveFinding, args)
	assert.Equal(t, "Success: Saved finding 'Study A' with 1 news and 0 papers.", out)

	findings, err := st.Findings().ListByDialog(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, 4, findings[0].Citations)
	assert.Equal(t, 0, findings[0].Websites)
	assert.Equal(t, "Lancet", findings[0].Source)
}

func TestAgentToolbox_Errors(t *testing.T) {
	ctx := context.Background()
	box := tools.NewAgentToolbox(newDeps(t, memory.New(), "key"))

	out := box.Call(ctx, tools.Scope{}, "delete_everything", `{}`)
	assert.Contains(t, out, `unknown tool "delete_everything"`)

	out = box.Call(ctx, tools.Scope{}, tools.ToolWebSearch, `{not json`)
	assert.Contains(t, out, "Error: invalid arguments for web_search")

	out = box.Call(ctx, tools.Scope{}, tools.ToolWebSearch, ``)
	assert.Contains(t, out, "query is required")

	out = box.Call(ctx, tools.Scope{}, tools.ToolWebSearch, `{"query":"statins"}`)
	assert.Contains(t, out, "New statin trial")
}
