package context

import (
	"context"
	"testing"

	"github.com/go-chi/jwtauth/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUserFromContext(t *testing.T) {
	id := uuid.New()
	ja := jwtauth.New("HS256", []byte("secret"), nil)

	t.Run("Anonymous", func(t *testing.T) {
		assert.Nil(t, GetUserFromContext(context.Background()))
		assert.Nil(t, OwnerID(context.Background()))
	})

	t.Run("Stored user", func(t *testing.T) {
		ctx := WithUser(context.Background(), &UserInfo{ID: id, Username: "ada"})
		user := GetUserFromContext(ctx)
		require.NotNil(t, user)
		assert.Equal(t, id, user.ID)
		assert.Equal(t, id, *OwnerID(ctx))
	})

	t.Run("JWT claims", func(t *testing.T) {
		token, _, err := ja.Encode(map[string]interface{}{"user_id": id.String(), "username": "ada"})
		require.NoError(t, err)

		ctx := jwtauth.NewContext(context.Background(), token, nil)
		user := GetUserFromContext(ctx)
		require.NotNil(t, user)
		assert.Equal(t, id, user.ID)
		assert.Equal(t, "ada", user.Username)
	})

	t.Run("Malformed claim", func(t *testing.T) {
		token, _, err := ja.Encode(map[string]interface{}{"user_id": "not-a-uuid"})
		require.NoError(t, err)

		ctx := jwtauth.NewContext(context.Background(), token, nil)
		assert.Nil(t, GetUserFromContext(ctx))
	})
}
