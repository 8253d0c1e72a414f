package handlers

import (
	"context"

	"github.com/HammerMeetNail/friendlane/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

func SetUserInContext(ctx context.Context, user *models.Identity) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// GetUserFromContext returns the authenticated caller, or nil.
func GetUserFromContext(ctx context.Context) *models.Identity {
	user, ok := ctx.Value(userContextKey).(*models.Identity)
	if !ok || user == nil || user.ID == "" {
		return nil
	}
	return user
}
