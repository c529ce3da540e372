package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/medresearch/internal/models"
)

const maxConflictRetries = 5

type counterRow struct {
	Seq int64 `json:"seq"`
}

type dialogRow struct {
	ID          surrealmodels.RecordID `json:"id"`
	UserID      int64                  `json:"user_id"`
	Title       string                 `json:"title"`
	ChatHistory []models.ChatMessage   `json:"chat_history"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   *time.Time             `json:"updated_at,omitempty"`
}

type findingRow struct {
	ID               surrealmodels.RecordID `json:"id"`
	DialogID         int64                  `json:"dialog_id"`
	Title            string                 `json:"title"`
	Source           string                 `json:"source"`
	RelevanceReason  string                 `json:"relevance_reason"`
	Citations        int                    `json:"citations"`
	Websites         int                    `json:"websites"`
	Status           string                 `json:"status"`
	NonRelevanceMark bool                   `json:"non_relevance_mark"`
	NewsLinks        []models.Link          `json:"news_links"`
	PaperLinks       []models.Link          `json:"paper_links"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        *time.Time             `json:"updated_at,omitempty"`
}

type userRow struct {
	ID           surrealmodels.RecordID `json:"id"`
	Email        string                 `json:"email"`
	Name         string                 `json:"name"`
	Picture      string                 `json:"picture"`
	TrustedSites []string               `json:"trusted_sites"`
	CreatedAt    *time.Time             `json:"created_at,omitempty"`
	LastLoginAt  *time.Time             `json:"last_login_at,omitempty"`
}

// recordInt extracts the integer key from a SurrealDB RecordID.
// CBOR decodes positive integers as uint64, so every integer kind is accepted.
func recordInt(id surrealmodels.RecordID) (int64, error) {
	switch v := id.ID.(type) {
	case int64:
		return v, nil
	case uint64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("unexpected ID type: %T (expected integer)", id.ID)
	}
}

func (r dialogRow) toModel() (*models.Dialog, error) {
	id, err := recordInt(r.ID)
	if err != nil {
		return nil, err
	}
	history := r.ChatHistory
	if history == nil {
		history = []models.ChatMessage{}
	}
	return &models.Dialog{
		ID:          id,
		UserID:      r.UserID,
		Title:       r.Title,
		ChatHistory: history,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func (r findingRow) toModel() (*models.Finding, error) {
	id, err := recordInt(r.ID)
	if err != nil {
		return nil, err
	}
	f := &models.Finding{
		ID:               id,
		DialogID:         r.DialogID,
		Title:            r.Title,
		Source:           r.Source,
		RelevanceReason:  r.RelevanceReason,
		Citations:        r.Citations,
		Websites:         r.Websites,
		Status:           models.FindingStatus(r.Status),
		NonRelevanceMark: r.NonRelevanceMark,
		NewsLinks:        r.NewsLinks,
		PaperLinks:       r.PaperLinks,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	// Clone normalizes nil link slices.
	return f.Clone(), nil
}

func (r userRow) toModel() (*models.User, error) {
	id, err := recordInt(r.ID)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		ID: id,
		Profile: models.UserProfile{
			Email:        r.Email,
			Name:         r.Name,
			Picture:      r.Picture,
			TrustedSites: r.TrustedSites,
			CreatedAt:    r.CreatedAt,
			LastLoginAt:  r.LastLoginAt,
		},
	}
	return u.Clone(), nil
}

// queryRows runs a single-statement query and returns its rows.
func queryRows[T any](ctx context.Context, c *Client, sql string, vars map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, c.db, sql, vars)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

// nextID bumps the sequence for table and returns the new value.
// Concurrent allocations on the same counter conflict; those are retried.
func (c *Client) nextID(ctx context.Context, table string) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		rows, err := queryRows[counterRow](ctx, c, `
			UPSERT type::record("counter", $table) SET seq += 1 RETURN AFTER
		`, map[string]any{"table": table})
		if errors.Is(err, ErrTransactionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("allocate %s id: %w", table, err)
		}
		if len(rows) == 0 {
			return 0, fmt.Errorf("allocate %s id: empty result", table)
		}
		return rows[0].Seq, nil
	}
	return 0, fmt.Errorf("allocate %s id: %w", table, lastErr)
}
