package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/store"
)

type dialogs struct {
	c *Client
}

func (d *dialogs) Create(ctx context.Context, userID int64, messages []models.ChatMessage, title string) (*models.Dialog, error) {
	if title == "" {
		title = models.DefaultDialogTitle
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	id, err := d.c.nextID(ctx, tableDialog)
	if err != nil {
		return nil, err
	}

	rows, err := queryRows[dialogRow](ctx, d.c, `
		CREATE type::record("dialog", $id) CONTENT {
			user_id: $user_id,
			title: $title,
			chat_history: $history,
			created_at: time::now()
		} RETURN AFTER
	`, map[string]any{
		"id":      id,
		"user_id": userID,
		"title":   title,
		"history": messages,
	})
	if err != nil {
		return nil, fmt.Errorf("create dialog: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create dialog: empty result")
	}
	return rows[0].toModel()
}

// GetByID retrieves a dialog by ID.
// Returns nil if not found.
func (d *dialogs) GetByID(ctx context.Context, id int64) (*models.Dialog, error) {
	rows, err := queryRows[dialogRow](ctx, d.c, `
		SELECT * FROM type::record("dialog", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get dialog: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel()
}

func (d *dialogs) ListByUser(ctx context.Context, userID int64) ([]*models.Dialog, error) {
	rows, err := queryRows[dialogRow](ctx, d.c, `
		SELECT * FROM dialog WHERE user_id = $user_id
	`, map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}

	out := make([]*models.Dialog, 0, len(rows))
	for _, row := range rows {
		dlg, err := row.toModel()
		if err != nil {
			return nil, fmt.Errorf("list dialogs: %w", err)
		}
		out = append(out, dlg)
	}
	store.SortDialogs(out)
	return out, nil
}

// Save uses UPDATE, which never creates a record, so a missing id surfaces
// as an empty result.
func (d *dialogs) Save(ctx context.Context, dlg *models.Dialog) error {
	history := dlg.ChatHistory
	if history == nil {
		history = []models.ChatMessage{}
	}
	rows, err := queryRows[dialogRow](ctx, d.c, `
		UPDATE type::record("dialog", $id) SET
			title = $title,
			chat_history = $history,
			updated_at = time::now()
		RETURN AFTER
	`, map[string]any{
		"id":      dlg.ID,
		"title":   dlg.Title,
		"history": history,
	})
	if err != nil {
		return fmt.Errorf("save dialog %d: %w", dlg.ID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("save dialog %d: %w", dlg.ID, store.ErrNotFound)
	}
	dlg.UpdatedAt = rows[0].UpdatedAt
	return nil
}

func (d *dialogs) Delete(ctx context.Context, id int64) error {
	_, err := surrealdb.Query[any](ctx, d.c.db, `
		BEGIN TRANSACTION;
		DELETE finding WHERE dialog_id = $id;
		DELETE type::record("dialog", $id);
		COMMIT TRANSACTION;
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete dialog %d: %w", id, wrapQueryError(err))
	}
	return nil
}
