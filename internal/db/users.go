package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/store"
)

type users struct {
	c *Client
}

func (u *users) Create(ctx context.Context, profile models.UserProfile) (*models.User, error) {
	if profile.Email == "" {
		return nil, fmt.Errorf("create user: email is required")
	}
	existing, err := u.GetByEmail(ctx, profile.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	id, err := u.c.nextID(ctx, tableUser)
	if err != nil {
		return nil, err
	}
	sites := profile.TrustedSites
	if sites == nil {
		sites = []string{}
	}
	rows, err := queryRows[userRow](ctx, u.c, `
		CREATE type::record("app_user", $id) CONTENT {
			email: $email,
			name: $name,
			picture: $picture,
			trusted_sites: $trusted_sites,
			created_at: time::now(),
			last_login_at: time::now()
		} RETURN AFTER
	`, map[string]any{
		"id":            id,
		"email":         profile.Email,
		"name":          profile.Name,
		"picture":       profile.Picture,
		"trusted_sites": sites,
	})
	if errors.Is(err, ErrAlreadyExists) {
		// Lost a race on the unique email index.
		return u.GetByEmail(ctx, profile.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create user: empty result")
	}
	return rows[0].toModel()
}

// GetByID retrieves a user by ID.
// Returns nil if not found.
func (u *users) GetByID(ctx context.Context, id int64) (*models.User, error) {
	rows, err := queryRows[userRow](ctx, u.c, `
		SELECT * FROM type::record("app_user", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel()
}

// GetByEmail retrieves a user by email.
// Returns nil if not found.
func (u *users) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	rows, err := queryRows[userRow](ctx, u.c, `
		SELECT * FROM app_user WHERE email = $email LIMIT 1
	`, map[string]any{"email": email})
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel()
}

// Save replaces the mutable profile fields. Email and created_at are kept.
func (u *users) Save(ctx context.Context, usr *models.User) error {
	sites := usr.Profile.TrustedSites
	if sites == nil {
		sites = []string{}
	}
	vars := map[string]any{
		"id":            usr.ID,
		"name":          usr.Profile.Name,
		"picture":       usr.Profile.Picture,
		"trusted_sites": sites,
	}
	loginClause := ""
	if usr.Profile.LastLoginAt != nil {
		loginClause = ", last_login_at = $last_login_at"
		vars["last_login_at"] = usr.Profile.LastLoginAt.UTC()
	}
	rows, err := queryRows[userRow](ctx, u.c, `
		UPDATE type::record("app_user", $id) SET
			name = $name,
			picture = $picture,
			trusted_sites = $trusted_sites`+loginClause+`
		RETURN AFTER
	`, vars)
	if err != nil {
		return fmt.Errorf("save user %d: %w", usr.ID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("save user %d: %w", usr.ID, store.ErrNotFound)
	}
	return nil
}
