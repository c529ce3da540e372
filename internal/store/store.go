// Package store defines the persistence contracts for dialogs, findings and users.
//
// Every backend follows the same discipline: Create always allocates a fresh id,
// Save/Update require an existing id and return ErrNotFound otherwise, getters
// return (nil, nil) for absent records and Delete is idempotent.
package store

import (
	"context"
	"errors"

	"github.com/raphaelgruber/medresearch/internal/models"
)

// ErrNotFound is returned by Save/Update when the record does not exist.
var ErrNotFound = errors.New("record not found")

// Store exposes the repositories of one backend.
// Implementations live under internal/store/<backend>/ and internal/db.
type Store interface {
	Dialogs() Dialogs
	Findings() Findings
	Users() Users
	Close(ctx context.Context) error
}

// Dialogs persists conversation transcripts.
type Dialogs interface {
	// Create allocates an id strictly greater than any previously allocated one.
	// An empty title is replaced with models.DefaultDialogTitle.
	Create(ctx context.Context, userID int64, messages []models.ChatMessage, title string) (*models.Dialog, error)
	GetByID(ctx context.Context, id int64) (*models.Dialog, error)
	// ListByUser orders by most recently updated first; never-updated dialogs sort last.
	ListByUser(ctx context.Context, userID int64) ([]*models.Dialog, error)
	// Save replaces title and chat history of an existing dialog.
	Save(ctx context.Context, d *models.Dialog) error
	// Delete removes the dialog and its findings.
	Delete(ctx context.Context, id int64) error
}

// Findings persists research findings. No deduplication is performed.
type Findings interface {
	Create(ctx context.Context, nf models.NewFinding) (*models.Finding, error)
	GetByID(ctx context.Context, id int64) (*models.Finding, error)
	// ListByDialog returns findings newest first.
	ListByDialog(ctx context.Context, dialogID int64) ([]*models.Finding, error)
	Update(ctx context.Context, f *models.Finding) error
	Delete(ctx context.Context, id int64) error
	MarkNonRelevant(ctx context.Context, id int64) error
	MarkRelevant(ctx context.Context, id int64) error
}

// Users persists user profiles keyed by email.
type Users interface {
	// Create returns the existing user when the email is already known.
	Create(ctx context.Context, profile models.UserProfile) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Save(ctx context.Context, u *models.User) error
}
