package search

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Literature fans a query out to Semantic Scholar and OpenAlex.
type Literature struct {
	Scholar  *SemanticScholar
	OpenAlex *OpenAlex
}

// LiteratureResult holds the outcome of each provider. A provider error does
// not affect the other provider's results.
type LiteratureResult struct {
	Papers     []Paper
	ScholarErr error

	Works       []Work
	Expanded    bool
	YearMin     int
	OpenAlexErr error
}

// Search queries both providers concurrently. It fails only when ctx is done.
func (l *Literature) Search(ctx context.Context, query string, yearMin int) (*LiteratureResult, error) {
	res := &LiteratureResult{YearMin: yearMin}

	var g errgroup.Group
	g.Go(func() error {
		res.Papers, res.ScholarErr = l.Scholar.Search(ctx, query)
		return ctx.Err()
	})
	g.Go(func() error {
		res.Works, res.Expanded, res.OpenAlexErr = l.OpenAlex.SearchWithFallback(ctx, query, yearMin)
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// Text renders both providers' sections for the agent.
func (r *LiteratureResult) Text() string {
	return "=== Semantic Scholar ===\n" + renderPapers(r.Papers, r.ScholarErr) +
		"\n\n=== OpenAlex ===\n" + renderWorks(r.Works, r.Expanded, r.YearMin, r.OpenAlexErr)
}

// SearchText runs Search and renders the result. Provider failures appear in
// their section.
func (l *Literature) SearchText(ctx context.Context, query string, yearMin int) string {
	res, err := l.Search(ctx, query, yearMin)
	if err != nil {
		return "Literature Search Failed: " + err.Error()
	}
	return res.Text()
}
