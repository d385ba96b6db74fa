package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retracehq/retrace/internal/auth"
)

func TestHashAndVerifyAPIKey(t *testing.T) {
	hash, err := auth.HashAPIKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyAPIKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyAPIKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestHashAPIKey_SaltedHashesDiffer(t *testing.T) {
	h1, err := auth.HashAPIKey("same-key")
	require.NoError(t, err)
	h2, err := auth.HashAPIKey("same-key")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2, "each hash carries a fresh salt")
}

func TestVerifyAPIKey_MalformedHash(t *testing.T) {
	_, err := auth.VerifyAPIKey("key", "not-a-valid-hash")
	require.Error(t, err)
}

func TestVerifier_DisabledAllowsEverything(t *testing.T) {
	v := auth.NewVerifier("")
	assert.False(t, v.Enabled())
	assert.NoError(t, v.Authenticate(""))
	assert.NoError(t, v.Authenticate("Bearer anything"))
}

func TestVerifier_Authenticate(t *testing.T) {
	hash, err := auth.HashAPIKey("sk-live-1234")
	require.NoError(t, err)
	v := auth.NewVerifier(hash)
	require.True(t, v.Enabled())

	assert.NoError(t, v.Authenticate("Bearer sk-live-1234"))
	assert.Error(t, v.Authenticate("Bearer wrong-key"))
	assert.Error(t, v.Authenticate(""))
	assert.Error(t, v.Authenticate("Basic sk-live-1234"))
	assert.Error(t, v.Authenticate("Bearer "))
}
