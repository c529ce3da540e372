package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/medresearch/internal/retry"
)

const semanticScholarFields = "title,url,abstract,year,citationCount,isOpenAccess,authors"

// Paper is one Semantic Scholar search hit.
type Paper struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Abstract      *string  `json:"abstract"`
	Year          *int     `json:"year"`
	CitationCount int      `json:"citationCount"`
	IsOpenAccess  bool     `json:"isOpenAccess"`
	Authors       []Author `json:"authors"`
}

// Author is a paper author.
type Author struct {
	Name string `json:"name"`
}

type paperSearchResponse struct {
	Total int     `json:"total"`
	Data  []Paper `json:"data"`
}

// SemanticScholar queries the Semantic Scholar Graph API.
type SemanticScholar struct {
	t     *Transport
	limit int
}

// NewSemanticScholar creates a client. apiKey is optional.
func NewSemanticScholar(baseURL, apiKey string, timeout time.Duration, policy retry.Policy, logger *slog.Logger) *SemanticScholar {
	t := NewTransport("semantic_scholar", baseURL, timeout, policy, logger)
	if apiKey != "" {
		t.SetHeader("x-api-key", apiKey)
	}
	return &SemanticScholar{t: t, limit: 5}
}

// Search returns up to five papers for query.
func (s *SemanticScholar) Search(ctx context.Context, query string) ([]Paper, error) {
	var resp paperSearchResponse
	err := s.t.GetJSON(ctx, "/paper/search", map[string]string{
		"query":  query,
		"limit":  strconv.Itoa(s.limit),
		"fields": semanticScholarFields,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SearchText runs Search and renders the result for the agent. Failures are
// reported as text.
func (s *SemanticScholar) SearchText(ctx context.Context, query string) string {
	papers, err := s.Search(ctx, query)
	return renderPapers(papers, err)
}

func renderPapers(papers []Paper, err error) string {
	if err != nil {
		msg, status := Describe(err)
		return fmt.Sprintf("Semantic Scholar Search Failed: %s (Status: %d)", msg, status)
	}
	return FormatPapers(papers)
}

// FormatPapers renders papers as blank-line separated blocks.
func FormatPapers(papers []Paper) string {
	if len(papers) == 0 {
		return "No academic papers found for this query."
	}

	blocks := make([]string, 0, len(papers))
	for _, p := range papers {
		names := make([]string, 0, 3)
		for i, a := range p.Authors {
			if i == 3 {
				break
			}
			name := a.Name
			if name == "" {
				name = "Unknown"
			}
			names = append(names, name)
		}

		abstract := "No abstract available"
		if p.Abstract != nil && strings.TrimSpace(*p.Abstract) != "" {
			abstract = truncateRunes(StripMarkup(*p.Abstract), 400) + "..."
		}

		title := p.Title
		if title == "" {
			title = "Untitled"
		}
		year := "N/A"
		if p.Year != nil {
			year = strconv.Itoa(*p.Year)
		}
		link := p.URL
		if link == "" {
			link = "N/A"
		}

		blocks = append(blocks, fmt.Sprintf("Title: %s\nYear: %s\nCitations: %d\nAuthors: %s\nLink: %s\nAbstract: %s",
			title, year, p.CitationCount, joinAuthors(names, len(p.Authors)), link, abstract))
	}
	return strings.Join(blocks, "\n\n")
}
