package authsvc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	encoded, err := HashPassword("test123")
	require.NoError(t, err)
	require.Contains(t, encoded, "argon2id$")

	ok, err := verifyPassword("test123", encoded)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = verifyPassword("wrong", encoded)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashProducesUniqueSalts(t *testing.T) {
	a, err := HashPassword("same-password")
	require.NoError(t, err)
	b, err := HashPassword("same-password")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyRejectsMalformedVerifier(t *testing.T) {
	_, err := verifyPassword("x", "not-a-valid-verifier")
	require.Error(t, err)
}
