package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/medresearch/internal/metrics"
	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/retry"
	"github.com/raphaelgruber/medresearch/internal/service"
	"github.com/raphaelgruber/medresearch/internal/store/memory"
	"github.com/raphaelgruber/medresearch/internal/tools"
)

// scriptedModel replays responses in order and records every request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []any // *llms.ContentResponse or error
	requests  [][]llms.MessageContent
	options   []llms.CallOptions
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	m.requests = append(m.requests, messages)
	m.options = append(m.options, opts)

	if len(m.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	return next.(*llms.ContentResponse), nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func text(s string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        s,
		GenerationInfo: map[string]any{"PromptTokens": 10, "CompletionTokens": 4},
	}}}
}

func toolCall(id, name, args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{
			ID:           id,
			Type:         "function",
			FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
		}},
	}}}
}

type fakeToolbox struct {
	calls []string
	scope tools.Scope
}

func (f *fakeToolbox) Definitions() []llms.Tool {
	return []llms.Tool{{Type: "function", Function: &llms.FunctionDefinition{Name: "web_search"}}}
}

func (f *fakeToolbox) Call(_ context.Context, scope tools.Scope, name, arguments string) string {
	f.calls = append(f.calls, name+" "+arguments)
	f.scope = scope
	return "result for " + name
}

func (f *fakeToolbox) StatusLabel(name string) string { return "Running " + name }

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 1}
}

func TestResearchAgent_ToolLoop(t *testing.T) {
	model := &scriptedModel{responses: []any{
		toolCall("call_1", "web_search", `{"query":"metformin"}`),
		text("<think>planning</think>Metformin lowers glucose."),
	}}
	toolbox := &fakeToolbox{}
	collector := metrics.NewCollector()
	agent := NewResearchAgent(NewModelFromLLM(model, "primary").WithCollector(collector), toolbox, AgentOptions{MaxSteps: 4}, collector, nil)

	findings := memory.New().Findings()
	var statuses []string
	reply, err := agent.Invoke(context.Background(), service.AgentRequest{
		DialogID: 7,
		Messages: []models.ChatMessage{models.SystemMessage("CTX"), models.UserMessage("What is metformin?")},
		Findings: findings,
		Status:   func(s string) { statuses = append(statuses, s) },
	})
	require.NoError(t, err)
	assert.Equal(t, "Metformin lowers glucose.", reply)
	assert.Equal(t, []string{`web_search {"query":"metformin"}`}, toolbox.calls)
	assert.Equal(t, int64(7), toolbox.scope.DialogID)
	assert.Equal(t, []string{"Running web_search"}, statuses)

	require.Len(t, model.requests, 2)
	first := model.requests[0]
	require.Len(t, first, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, first[0].Role)
	assert.Equal(t, llms.ChatMessageTypeSystem, first[1].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, first[2].Role)
	assert.Len(t, model.options[0].Tools, 1)

	second := model.requests[1]
	require.Len(t, second, 5)
	assert.Equal(t, llms.ChatMessageTypeAI, second[3].Role)
	assert.Equal(t, llms.ChatMessageTypeTool, second[4].Role)
	resp, ok := second[4].Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	assert.Equal(t, "call_1", resp.ToolCallID)
	assert.Equal(t, "result for web_search", resp.Content)

	snap := collector.Snapshot()
	require.NotNil(t, snap.LLMGenerate)
	assert.Equal(t, int64(2), snap.LLMGenerate.Count)
	require.NotNil(t, snap.ToolCall)
	assert.Equal(t, int64(1), snap.ToolCall.Count)
}

func TestResearchAgent_SingleSystemPromptFoldsContext(t *testing.T) {
	model := &scriptedModel{responses: []any{text("Statins are well tolerated.")}}
	agent := NewResearchAgent(NewModelFromLLM(model, "claude").WithSingleSystemPrompt(), &fakeToolbox{}, AgentOptions{}, nil, nil)

	_, err := agent.Invoke(context.Background(), service.AgentRequest{
		DialogID: 3,
		Messages: []models.ChatMessage{
			models.SystemMessage("[4 earlier messages omitted]"),
			models.UserMessage("earlier"),
			models.AssistantMessage("answer"),
			models.SystemMessage("EXISTING FINDINGS:\n- Study A"),
			models.UserMessage("Are statins safe?"),
		},
	})
	require.NoError(t, err)

	require.Len(t, model.requests, 1)
	req := model.requests[0]
	require.Len(t, req, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, req[0].Role)
	for _, m := range req[1:] {
		assert.NotEqual(t, llms.ChatMessageTypeSystem, m.Role)
	}
	last := req[3]
	assert.Equal(t, llms.ChatMessageTypeHuman, last.Role)
	assert.Equal(t, llms.TextContent{Text: "EXISTING FINDINGS:\n- Study A\n\nAre statins safe?"}, last.Parts[0])
}

func TestFoldSystemMessages(t *testing.T) {
	tests := []struct {
		name string
		in   []models.ChatMessage
		want []models.ChatMessage
	}{
		{
			name: "no system messages",
			in:   []models.ChatMessage{models.UserMessage("q"), models.AssistantMessage("a")},
			want: []models.ChatMessage{models.UserMessage("q"), models.AssistantMessage("a")},
		},
		{
			name: "marker and context before user",
			in: []models.ChatMessage{
				models.SystemMessage("marker"), models.SystemMessage("context"), models.UserMessage("q"),
			},
			want: []models.ChatMessage{models.UserMessage("marker\n\ncontext\n\nq")},
		},
		{
			name: "trailing system message",
			in:   []models.ChatMessage{models.UserMessage("q"), models.SystemMessage("context")},
			want: []models.ChatMessage{models.UserMessage("q"), models.UserMessage("context")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, foldSystemMessages(tt.in))
		})
	}
}

func TestResearchAgent_StepLimit(t *testing.T) {
	model := &scriptedModel{responses: []any{
		toolCall("1", "web_search", `{}`),
		toolCall("2", "web_search", `{}`),
		text("final"),
	}}
	agent := NewResearchAgent(NewModelFromLLM(model, "m"), &fakeToolbox{}, AgentOptions{MaxSteps: 2}, nil, nil)

	reply, err := agent.Invoke(context.Background(), service.AgentRequest{Messages: []models.ChatMessage{models.UserMessage("q")}})
	require.NoError(t, err)
	assert.Equal(t, "final", reply)
	require.Len(t, model.options, 3)
	assert.Empty(t, model.options[2].Tools, "the final call offers no tools")
}

func TestResearchAgent_RetriesTransientErrors(t *testing.T) {
	model := &scriptedModel{responses: []any{
		errors.New("502 bad gateway"),
		text("recovered"),
	}}
	agent := NewResearchAgent(NewModelFromLLM(model, "m"), nil, AgentOptions{Retry: fastRetry(3)}, nil, nil)

	reply, err := agent.Invoke(context.Background(), service.AgentRequest{Messages: []models.ChatMessage{models.UserMessage("q")}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
	assert.Len(t, model.requests, 2)
}

func TestResearchAgent_FatalErrorsAreNotRetried(t *testing.T) {
	model := &scriptedModel{responses: []any{
		errors.New("invalid api key"),
		text("unreachable"),
	}}
	agent := NewResearchAgent(NewModelFromLLM(model, "m"), nil, AgentOptions{Retry: fastRetry(3)}, nil, nil)

	_, err := agent.Invoke(context.Background(), service.AgentRequest{Messages: []models.ChatMessage{models.UserMessage("q")}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatalAPI)
	assert.Len(t, model.requests, 1)
}

func TestResearchAgent_Fallback(t *testing.T) {
	primary := &scriptedModel{responses: []any{errors.New("overloaded")}}
	fallback := &scriptedModel{responses: []any{text("from fallback")}}
	agent := NewResearchAgent(NewModelFromLLM(primary, "primary"), nil, AgentOptions{
		Retry:    fastRetry(1),
		Fallback: NewModelFromLLM(fallback, "fallback"),
	}, nil, nil)

	reply, err := agent.Invoke(context.Background(), service.AgentRequest{Messages: []models.ChatMessage{models.UserMessage("q")}})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", reply)
	assert.Contains(t, agent.String(), "fallback")
}

func TestResearchAgent_FallbackFailureJoinsErrors(t *testing.T) {
	primary := &scriptedModel{responses: []any{errors.New("primary down")}}
	fallback := &scriptedModel{responses: []any{errors.New("fallback down")}}
	agent := NewResearchAgent(NewModelFromLLM(primary, "p"), nil, AgentOptions{
		Retry:    fastRetry(1),
		Fallback: NewModelFromLLM(fallback, "f"),
	}, nil, nil)

	_, err := agent.Invoke(context.Background(), service.AgentRequest{Messages: []models.ChatMessage{models.UserMessage("q")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "fallback down")
}

func TestTitleGenerator(t *testing.T) {
	tests := []struct {
		name    string
		resp    any
		want    string
		wantErr bool
	}{
		{"plain", text("Metformin Overview"), "Metformin Overview", false},
		{"quoted", text(`"GLP-1 Cardiac Outcomes."`), "GLP-1 Cardiac Outcomes", false},
		{"thinking and extra lines", text("<think>hmm</think>\nStatin Safety Update\nHope this helps"), "Statin Safety Update", false},
		{"too long", text("one two three four five six"), "one two three four five", false},
		{"blank", text("  "), "", true},
		{"error", errors.New("boom"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &scriptedModel{responses: []any{tt.resp}}
			got, err := NewTitleGenerator(NewModelFromLLM(model, "title")).GenerateTitle(context.Background(), "What is metformin?")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			opts := model.options[0]
			assert.InDelta(t, 0.3, opts.Temperature, 1e-9)
			assert.Equal(t, 25, opts.MaxTokens)
		})
	}
}
