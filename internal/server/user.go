package server

import (
	"context"

	"github.com/raphaelgruber/medresearch/internal/models"
)

func withUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// currentUser returns the user resolved by the API middleware.
func currentUser(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}
