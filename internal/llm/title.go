package llm

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/medresearch/internal/metrics"
	"github.com/raphaelgruber/medresearch/internal/models"
)

const titleMaxWords = 5

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// TitleGenerator summarizes a user query into a short dialog title.
type TitleGenerator struct {
	model *Model
}

// NewTitleGenerator creates a title generator backed by model.
func NewTitleGenerator(model *Model) *TitleGenerator {
	return &TitleGenerator{model: model}
}

// GenerateTitle returns a title of at most five words.
func (g *TitleGenerator) GenerateTitle(ctx context.Context, firstUserMessage string) (string, error) {
	out, err := g.model.GenerateWithSystem(ctx, metrics.OpTitleGenerate, titlePrompt, firstUserMessage,
		llms.WithTemperature(0.3),
		llms.WithMaxTokens(25),
	)
	if err != nil {
		return "", err
	}
	title := cleanTitle(out)
	if title == "" {
		return "", errors.New("model returned a blank title")
	}
	return title, nil
}

func cleanTitle(s string) string {
	s = stripThinking(s)
	if line, _, ok := strings.Cut(strings.TrimSpace(s), "\n"); ok {
		s = line
	}
	s = strings.Trim(strings.TrimSpace(s), "\"'`*#.")
	s = strings.NewReplacer("\"", "", "“", "", "”", "").Replace(s)
	return models.ClampWords(s, titleMaxWords)
}

// stripThinking removes reasoning blocks some models emit before the answer.
func stripThinking(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}
