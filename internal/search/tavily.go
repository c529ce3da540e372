package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/medresearch/internal/retry"
)

// TavilyRequest is the body of a Tavily search.
type TavilyRequest struct {
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	Topic             string `json:"topic"`
	SearchDepth       string `json:"search_depth"`
	IncludeAnswer     bool   `json:"include_answer"`
	IncludeRawContent bool   `json:"include_raw_content"`
	TimeRange         string `json:"time_range"`
}

// TavilyResult is one hit.
type TavilyResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date"`
}

// TavilyResponse is the search response.
type TavilyResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer"`
	Results []TavilyResult `json:"results"`
}

// Tavily searches recent news.
type Tavily struct {
	t          *Transport
	configured bool
}

// NewTavily creates a client. Without an API key every search reports that
// web search is unavailable.
func NewTavily(baseURL, apiKey string, timeout time.Duration, policy retry.Policy, logger *slog.Logger) *Tavily {
	t := NewTransport("tavily", baseURL, timeout, policy, logger)
	if apiKey != "" {
		t.SetHeader("Authorization", "Bearer "+apiKey)
	}
	return &Tavily{t: t, configured: apiKey != ""}
}

// Search runs a news search over the last month.
func (c *Tavily) Search(ctx context.Context, query string) (*TavilyResponse, error) {
	var resp TavilyResponse
	err := c.t.PostJSON(ctx, "/search", TavilyRequest{
		Query:         query,
		MaxResults:    5,
		Topic:         "news",
		SearchDepth:   "basic",
		IncludeAnswer: true,
		TimeRange:     "month",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchText runs Search and renders the result for the agent.
func (c *Tavily) SearchText(ctx context.Context, query string) string {
	if !c.configured {
		return "Web Search Failed: no Tavily API key configured (Status: 0)"
	}
	resp, err := c.Search(ctx, query)
	if err != nil {
		msg, status := Describe(err)
		return fmt.Sprintf("Web Search Failed: %s (Status: %d)", msg, status)
	}
	return FormatNews(resp)
}

// FormatNews renders a Tavily response.
func FormatNews(resp *TavilyResponse) string {
	if resp == nil || (len(resp.Results) == 0 && resp.Answer == "") {
		return "No news results found for this query."
	}
	var blocks []string
	if resp.Answer != "" {
		blocks = append(blocks, "Answer: "+resp.Answer)
	}
	for _, r := range resp.Results {
		published := r.PublishedDate
		if published == "" {
			published = "N/A"
		}
		blocks = append(blocks, fmt.Sprintf("Title: %s\nURL: %s\nPublished: %s\nContent: %s",
			r.Title, r.URL, published, StripMarkup(r.Content)))
	}
	return strings.Join(blocks, "\n\n")
}
