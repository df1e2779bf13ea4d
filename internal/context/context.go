package context

import (
	"context"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	userContextKey contextKey = "user"
)

// UserInfo identifies the caller that owns upload sessions and videos.
type UserInfo struct {
	ID       uuid.UUID
	Username string
}

// GetUserFromContext retrieves user info from context. An explicitly stored
// user wins over the JWT claims.
func GetUserFromContext(ctx context.Context) *UserInfo {
	if user, ok := ctx.Value(userContextKey).(*UserInfo); ok {
		return user
	}

	_, claims, err := jwtauth.FromContext(ctx)
	if err != nil {
		return nil
	}

	return getUserFromClaims(claims)
}

// OwnerID returns the caller's id or nil for anonymous requests
func OwnerID(ctx context.Context) *uuid.UUID {
	user := GetUserFromContext(ctx)
	if user == nil {
		return nil
	}
	id := user.ID
	return &id
}

// getUserFromClaims creates UserInfo from JWT claims
func getUserFromClaims(claims map[string]interface{}) *UserInfo {
	userID, _ := claims["user_id"].(string)
	username, _ := claims["username"].(string)
	if userID == "" {
		return nil
	}
	parsedID, err := uuid.Parse(userID)
	if err != nil {
		log.Debug().
			Str("user_id", userID).
			Msg("ignoring malformed user_id claim")
		return nil
	}
	return &UserInfo{
		ID:       parsedID,
		Username: username,
	}
}

// WithUser adds user info to the context
func WithUser(ctx context.Context, user *UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
