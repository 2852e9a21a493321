package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zerr0-C00L/DebridArr/internal/debrid"
	"github.com/Zerr0-C00L/DebridArr/internal/secrets"
)

func TestImplicitCompleteExtractsFragmentToken(t *testing.T) {
	c := NewImplicitController(secrets.NewMemoryStore(), nil, nil)

	assert.Contains(t, c.AuthorizationURL(), "response_type=token")

	err := c.Complete("https://localhost/callback#access_token=pm-token&token_type=Bearer")
	require.NoError(t, err)
	assert.True(t, c.IsAuthorized())

	token, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pm-token", token)
}

func TestImplicitCompleteRejectsMissingToken(t *testing.T) {
	c := NewImplicitController(secrets.NewMemoryStore(), nil, nil)

	err := c.Complete("https://localhost/callback#state=abc")
	var authErr *debrid.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.False(t, c.IsAuthorized())
}

func TestImplicitLogoutClearsState(t *testing.T) {
	c := NewImplicitController(secrets.NewMemoryStore(), nil, nil)
	require.NoError(t, c.Complete("https://localhost/callback#access_token=pm-token"))

	require.NoError(t, c.Logout(context.Background()))
	_, err := c.Token(context.Background())
	require.ErrorIs(t, err, debrid.ErrInvalidToken)
}
