package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/store"
)

type findings struct {
	c *Client
}

func (f *findings) Create(ctx context.Context, nf models.NewFinding) (*models.Finding, error) {
	if err := nf.Validate(); err != nil {
		return nil, fmt.Errorf("create finding: %w", err)
	}
	built := nf.Build(f.c.now())
	id, err := f.c.nextID(ctx, tableFinding)
	if err != nil {
		return nil, err
	}

	rows, err := queryRows[findingRow](ctx, f.c, `
		CREATE type::record("finding", $id) CONTENT {
			dialog_id: $dialog_id,
			title: $title,
			source: $source,
			relevance_reason: $relevance_reason,
			citations: $citations,
			websites: $websites,
			status: $status,
			non_relevance_mark: false,
			news_links: $news_links,
			paper_links: $paper_links,
			created_at: time::now()
		} RETURN AFTER
	`, map[string]any{
		"id":               id,
		"dialog_id":        built.DialogID,
		"title":            built.Title,
		"source":           built.Source,
		"relevance_reason": built.RelevanceReason,
		"citations":        built.Citations,
		"websites":         built.Websites,
		"status":           string(built.Status),
		"news_links":       built.NewsLinks,
		"paper_links":      built.PaperLinks,
	})
	if err != nil {
		return nil, fmt.Errorf("create finding: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create finding: empty result")
	}
	return rows[0].toModel()
}

// GetByID retrieves a finding by ID.
// Returns nil if not found.
func (f *findings) GetByID(ctx context.Context, id int64) (*models.Finding, error) {
	rows, err := queryRows[findingRow](ctx, f.c, `
		SELECT * FROM type::record("finding", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get finding: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel()
}

func (f *findings) ListByDialog(ctx context.Context, dialogID int64) ([]*models.Finding, error) {
	rows, err := queryRows[findingRow](ctx, f.c, `
		SELECT * FROM finding WHERE dialog_id = $dialog_id
	`, map[string]any{"dialog_id": dialogID})
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}

	out := make([]*models.Finding, 0, len(rows))
	for _, row := range rows {
		fnd, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("list findings: %w", err)
		}
		out = append(out, fnd)
	}
	store.SortFindings(out)
	return out, nil
}

func (f *findings) Update(ctx context.Context, fnd *models.Finding) error {
	cloned := fnd.Clone()
	rows, err := queryRows[findingRow](ctx, f.c, `
		UPDATE type::record("finding", $id) SET
			dialog_id = $dialog_id,
			title = $title,
			source = $source,
			relevance_reason = $relevance_reason,
			citations = $citations,
			websites = $websites,
			status = $status,
			non_relevance_mark = $non_relevance_mark,
			news_links = $news_links,
			paper_links = $paper_links,
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"id":                 fnd.ID,
		"dialog_id":          cloned.DialogID,
		"title":              cloned.Title,
		"source":             cloned.Source,
		"relevance_reason":   cloned.RelevanceReason,
		"citations":          cloned.Citations,
		"websites":           cloned.Websites,
		"status":             string(cloned.Status),
		"non_relevance_mark": cloned.NonRelevanceMark,
		"news_links":         cloned.NewsLinks,
		"paper_links":        cloned.PaperLinks,
	})
	if err != nil {
		return fmt.Errorf("update finding %d: %w", fnd.ID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("update finding %d: %w", fnd.ID, store.ErrNotFound)
	}
	fnd.UpdatedAt = rows[0].UpdatedAt
	return nil
}

func (f *findings) Delete(ctx context.Context, id int64) error {
	_, err := surrealdb.Query[any](ctx, f.c.db, `
		DELETE type::record("finding", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete finding %d: %w", id, wrapQueryError(err))
	}
	return nil
}

func (f *findings) MarkNonRelevant(ctx context.Context, id int64) error {
	return f.setMark(ctx, id, true)
}

func (f *findings) MarkRelevant(ctx context.Context, id int64) error {
	return f.setMark(ctx, id, false)
}

// setMark touches only the mark; updated_at is left alone.
func (f *findings) setMark(ctx context.Context, id int64, mark bool) error {
	_, err := surrealdb.Query[any](ctx, f.c.db, `
		UPDATE type::record("finding", $id) SET non_relevance_mark = $mark
	`, map[string]any{"id": id, "mark": mark})
	if err != nil {
		return fmt.Errorf("mark finding %d: %w", id, wrapQueryError(err))
	}
	return nil
}
