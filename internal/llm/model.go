// Package llm wraps langchaingo models for the research agent and the title generator.
package llm

import (
	"context"
	"fmt"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/medresearch/internal/config"
	"github.com/raphaelgruber/medresearch/internal/metrics"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Model wraps langchaingo LLM for text generation.
type Model struct {
	llm       llms.Model
	modelName string
	collector *metrics.Collector
	// singleSystem is set for providers that accept only one system prompt.
	singleSystem bool
}

// NewModel creates an LLM model for modelName using the configured provider.
func NewModel(ctx context.Context, cfg config.Config, modelName string) (*Model, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(modelName),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderGroq:
		if cfg.GroqAPIKey == "" {
			return nil, fmt.Errorf("Groq API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.GroqAPIKey),
			openai.WithModel(modelName),
			openai.WithBaseURL(GroqBaseURL),
		)
		if err != nil {
			return nil, fmt.Errorf("create groq model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		model, err = bedrock.New(
			bedrock.WithClient(bedrockruntime.NewFromConfig(awsCfg)),
			bedrock.WithModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return &Model{
		llm:          model,
		modelName:    modelName,
		singleSystem: cfg.LLMProvider == config.ProviderAnthropic || cfg.LLMProvider == config.ProviderBedrock,
	}, nil
}

// NewModelFromLLM wraps an existing langchaingo model.
func NewModelFromLLM(model llms.Model, name string) *Model {
	return &Model{llm: model, modelName: name}
}

// WithCollector records timing and token usage of every call in c.
func (m *Model) WithCollector(c *metrics.Collector) *Model {
	m.collector = c
	return m
}

// WithSingleSystemPrompt marks the model as accepting only a leading system
// prompt. Later system messages are folded into the next user message.
func (m *Model) WithSingleSystemPrompt() *Model {
	m.singleSystem = true
	return m
}

// Model returns the LLM model name.
func (m *Model) Model() string {
	return m.modelName
}

// GenerateContent runs one chat completion. Fatal provider errors wrap ErrFatalAPI.
func (m *Model) GenerateContent(ctx context.Context, op string, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	start := time.Now()
	resp, err := m.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, wrapFatalError(fmt.Errorf("%s: %w", m.modelName, err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no response choices", m.modelName)
	}
	if m.collector != nil {
		in, out := tokenUsage(resp.Choices[0])
		m.collector.RecordLLMUsage(op, time.Since(start), in, out)
	}
	return resp, nil
}

// GenerateWithSystem generates text with a system prompt.
func (m *Model) GenerateWithSystem(ctx context.Context, op, systemPrompt, userPrompt string, opts ...llms.CallOption) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.GenerateContent(ctx, op, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("generate with system: %w", err)
	}
	return response.Choices[0].Content, nil
}

// tokenUsage reads token counts from generation info. Providers disagree on key names.
func tokenUsage(choice *llms.ContentChoice) (int64, int64) {
	if choice == nil || choice.GenerationInfo == nil {
		return 0, 0
	}
	info := choice.GenerationInfo
	return firstInt(info, "PromptTokens", "InputTokens", "input_tokens", "prompt_tokens"),
		firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens", "completion_tokens")
}

func firstInt(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
