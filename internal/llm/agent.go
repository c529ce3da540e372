package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/medresearch/internal/metrics"
	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/retry"
	"github.com/raphaelgruber/medresearch/internal/service"
	"github.com/raphaelgruber/medresearch/internal/tools"
)

// Toolbox executes the tools offered to the research agent.
// Tool failures are reported in the returned text.
type Toolbox interface {
	Definitions() []llms.Tool
	Call(ctx context.Context, scope tools.Scope, name, arguments string) string
	StatusLabel(name string) string
}

// AgentOptions configures the research agent.
type AgentOptions struct {
	MaxSteps int
	Retry    retry.Policy
	// Fallback is tried once when the primary model fails. Optional.
	Fallback *Model
}

// ResearchAgent answers research questions with a tool-calling loop.
type ResearchAgent struct {
	model     *Model
	tools     Toolbox
	opts      AgentOptions
	collector *metrics.Collector
	logger    *slog.Logger
}

// NewResearchAgent creates a research agent. collector and logger may be nil.
func NewResearchAgent(model *Model, toolbox Toolbox, opts AgentOptions, collector *metrics.Collector, logger *slog.Logger) *ResearchAgent {
	if opts.MaxSteps < 1 {
		opts.MaxSteps = 8
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = retry.None()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResearchAgent{
		model:     model,
		tools:     toolbox,
		opts:      opts,
		collector: collector,
		logger:    logger,
	}
}

// Invoke runs the agent on req.Messages and returns the final reply.
func (a *ResearchAgent) Invoke(ctx context.Context, req service.AgentRequest) (string, error) {
	history := req.Messages
	if a.model.singleSystem {
		history = foldSystemMessages(history)
	}
	messages := make([]llms.MessageContent, 0, len(history)+1)
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt))
	messages = append(messages, toMessageContent(history)...)

	scope := tools.Scope{DialogID: req.DialogID, Findings: req.Findings}
	var opts []llms.CallOption
	if a.tools != nil {
		if defs := a.tools.Definitions(); len(defs) > 0 {
			opts = append(opts, llms.WithTools(defs))
		}
	}

	log := a.logger.With("dialog_id", req.DialogID)

	for step := 0; step < a.opts.MaxSteps; step++ {
		choice, err := a.generate(ctx, messages, log, opts...)
		if err != nil {
			return "", err
		}
		if len(choice.ToolCalls) == 0 {
			return stripThinking(choice.Content), nil
		}

		messages = append(messages, assistantToolMessage(choice))
		for _, call := range choice.ToolCalls {
			messages = append(messages, a.runTool(ctx, scope, call, req.Status, log))
		}
	}

	// Out of steps: ask for a final answer without tools.
	log.Warn("agent step limit reached", "max_steps", a.opts.MaxSteps)
	choice, err := a.generate(ctx, append(messages,
		llms.TextParts(llms.ChatMessageTypeHuman, "Stop searching and write the final answer from the findings gathered so far.")), log)
	if err != nil {
		return "", err
	}
	return stripThinking(choice.Content), nil
}

// generate calls the primary model under the retry policy, then the fallback once.
func (a *ResearchAgent) generate(ctx context.Context, messages []llms.MessageContent, log *slog.Logger, opts ...llms.CallOption) (*llms.ContentChoice, error) {
	choice, err := a.generateWith(ctx, a.model, messages, log, opts...)
	if err == nil || a.opts.Fallback == nil || ctx.Err() != nil {
		return choice, err
	}

	log.Warn("primary model failed, trying fallback", "model", a.model.Model(), "fallback", a.opts.Fallback.Model(), "error", err)
	choice, fbErr := a.generateWith(ctx, a.opts.Fallback, messages, log, opts...)
	if fbErr != nil {
		return nil, errors.Join(err, fbErr)
	}
	return choice, nil
}

func (a *ResearchAgent) generateWith(ctx context.Context, model *Model, messages []llms.MessageContent, log *slog.Logger, opts ...llms.CallOption) (*llms.ContentChoice, error) {
	resp, err := retry.DoValue(ctx, a.opts.Retry, func(ctx context.Context) (*llms.ContentResponse, error) {
		resp, err := model.GenerateContent(ctx, metrics.OpLLMGenerate, messages, opts...)
		if errors.Is(err, ErrFatalAPI) {
			return nil, retry.Permanent(err)
		}
		return resp, err
	}, func(err error, wait time.Duration) {
		log.Warn("llm call failed, retrying", "model", model.Model(), "wait", wait, "error", err)
	})
	if err != nil {
		return nil, err
	}
	return resp.Choices[0], nil
}

func (a *ResearchAgent) runTool(ctx context.Context, scope tools.Scope, call llms.ToolCall, status service.StatusFunc, log *slog.Logger) llms.MessageContent {
	name, args := "", ""
	if call.FunctionCall != nil {
		name, args = call.FunctionCall.Name, call.FunctionCall.Arguments
	}
	if status != nil {
		status(a.tools.StatusLabel(name))
	}

	start := time.Now()
	out := a.tools.Call(ctx, scope, name, args)
	if a.collector != nil {
		a.collector.RecordTiming(metrics.OpToolCall, time.Since(start))
	}
	log.Debug("tool call", "tool", name, "duration", time.Since(start), "output_len", len(out))

	return llms.MessageContent{
		Role: llms.ChatMessageTypeTool,
		Parts: []llms.ContentPart{llms.ToolCallResponse{
			ToolCallID: call.ID,
			Name:       name,
			Content:    out,
		}},
	}
}

func assistantToolMessage(choice *llms.ContentChoice) llms.MessageContent {
	msg := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if choice.Content != "" {
		msg.Parts = append(msg.Parts, llms.TextContent{Text: choice.Content})
	}
	for _, call := range choice.ToolCalls {
		msg.Parts = append(msg.Parts, call)
	}
	return msg
}

func toMessageContent(msgs []models.ChatMessage) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llms.TextParts(chatRole(m.Role), m.Content))
	}
	return out
}

// foldSystemMessages prepends system messages to the user message that follows
// them. Trailing system messages become a user message of their own.
func foldSystemMessages(msgs []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(msgs))
	var pending []string
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			pending = append(pending, m.Content)
			continue
		}
		if m.Role == models.RoleUser && len(pending) > 0 {
			m.Content = strings.Join(append(pending, m.Content), "\n\n")
			pending = nil
		}
		out = append(out, m)
	}
	if len(pending) > 0 {
		out = append(out, models.UserMessage(strings.Join(pending, "\n\n")))
	}
	return out
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}

var _ service.Agent = (*ResearchAgent)(nil)
var _ service.TitleGenerator = (*TitleGenerator)(nil)

// String identifies the agent in logs.
func (a *ResearchAgent) String() string {
	if a.opts.Fallback != nil {
		return fmt.Sprintf("research agent (%s, fallback %s)", a.model.Model(), a.opts.Fallback.Model())
	}
	return fmt.Sprintf("research agent (%s)", a.model.Model())
}
