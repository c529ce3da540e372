package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/medresearch/internal/retry"
)

var openAlexSelect = strings.Join([]string{
	"id",
	"title",
	"publication_year",
	"cited_by_count",
	"doi",
	"primary_location",
	"authorships",
	"abstract_inverted_index",
}, ",")

// Work is one OpenAlex work.
type Work struct {
	ID                    string           `json:"id"`
	Title                 *string          `json:"title"`
	PublicationYear       *int             `json:"publication_year"`
	CitedByCount          int              `json:"cited_by_count"`
	DOI                   *string          `json:"doi"`
	PrimaryLocation       *Location        `json:"primary_location"`
	Authorships           []Authorship     `json:"authorships"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
}

// Location is where a work is hosted.
type Location struct {
	LandingPageURL *string `json:"landing_page_url"`
}

// Authorship links a work to an author.
type Authorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type worksResponse struct {
	Results []Work `json:"results"`
}

// Link returns the DOI, else the landing page, else the OpenAlex id.
func (w Work) Link() string {
	if w.DOI != nil && *w.DOI != "" {
		return *w.DOI
	}
	if w.PrimaryLocation != nil && w.PrimaryLocation.LandingPageURL != nil && *w.PrimaryLocation.LandingPageURL != "" {
		return *w.PrimaryLocation.LandingPageURL
	}
	return w.ID
}

// Abstract rebuilds the plain abstract from the inverted index.
func (w Work) Abstract() string {
	return ReconstructAbstract(w.AbstractInvertedIndex)
}

// ReconstructAbstract orders the words of an inverted index by position.
func ReconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	type placed struct {
		pos  int
		word string
	}
	var words []placed
	for word, positions := range index {
		for _, p := range positions {
			words = append(words, placed{p, word})
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if words[i].pos != words[j].pos {
			return words[i].pos < words[j].pos
		}
		return words[i].word < words[j].word
	})
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = w.word
	}
	return strings.Join(out, " ")
}

// OpenAlex queries the OpenAlex works API.
type OpenAlex struct {
	t      *Transport
	mailto string
}

// NewOpenAlex creates a client. mailto opts into the polite pool.
func NewOpenAlex(baseURL, mailto string, timeout time.Duration, policy retry.Policy, logger *slog.Logger) *OpenAlex {
	return &OpenAlex{
		t:      NewTransport("openalex", baseURL, timeout, policy, logger),
		mailto: mailto,
	}
}

// Search returns up to five articles with a DOI, newest and most cited first.
// yearMin of zero disables the year filter.
func (o *OpenAlex) Search(ctx context.Context, query string, yearMin int) ([]Work, error) {
	filters := []string{"type:article", "has_doi:true"}
	if yearMin > 0 {
		filters = append(filters, fmt.Sprintf("publication_year:>%d", yearMin-1))
	}
	params := map[string]string{
		"search":   query,
		"filter":   strings.Join(filters, ","),
		"sort":     "publication_year:desc,cited_by_count:desc",
		"per_page": "5",
		"select":   openAlexSelect,
	}
	if o.mailto != "" {
		params["mailto"] = o.mailto
	}

	var resp worksResponse
	if err := o.t.GetJSON(ctx, "/works", params, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// SearchWithFallback runs Search, relaxing yearMin by one year when nothing
// matched. expanded reports whether the relaxed query was used.
func (o *OpenAlex) SearchWithFallback(ctx context.Context, query string, yearMin int) (works []Work, expanded bool, err error) {
	works, err = o.Search(ctx, query, yearMin)
	if err == nil && len(works) == 0 && yearMin > 0 {
		works, err = o.Search(ctx, query, yearMin-1)
		expanded = true
	}
	return works, expanded, err
}

// SearchText runs SearchWithFallback and renders the result for the agent.
// Failures are reported as text.
func (o *OpenAlex) SearchText(ctx context.Context, query string, yearMin int) string {
	works, expanded, err := o.SearchWithFallback(ctx, query, yearMin)
	return renderWorks(works, expanded, yearMin, err)
}

func renderWorks(works []Work, expanded bool, yearMin int, err error) string {
	if err != nil {
		msg, status := Describe(err)
		return fmt.Sprintf("OpenAlex Search Failed: %s (Status: %d)", msg, status)
	}
	if len(works) == 0 {
		return "No academic sources found on OpenAlex for this query."
	}

	var blocks []string
	if expanded {
		blocks = append(blocks, fmt.Sprintf("NOTE: No results found for %d. Showing results from %d+.", yearMin, yearMin-1))
	}
	for _, w := range works {
		blocks = append(blocks, formatWork(w))
	}
	return strings.Join(blocks, "\n\n")
}

func formatWork(w Work) string {
	abstract := StripMarkup(w.Abstract())
	if abstract == "" {
		abstract = "No abstract available."
	}

	names := make([]string, 0, 3)
	for i, a := range w.Authorships {
		if i == 3 {
			break
		}
		name := a.Author.DisplayName
		if name == "" {
			name = "Unknown"
		}
		names = append(names, name)
	}

	title := "Untitled"
	if w.Title != nil && *w.Title != "" {
		title = *w.Title
	}
	year := "N/A"
	if w.PublicationYear != nil {
		year = strconv.Itoa(*w.PublicationYear)
	}

	return fmt.Sprintf("Title: %s\nYear: %s | Citations: %d\nAuthors: %s\nLink: %s\nAbstract: %s...",
		title, year, w.CitedByCount, joinAuthors(names, len(w.Authorships)), w.Link(), truncateRunes(abstract, 600))
}
