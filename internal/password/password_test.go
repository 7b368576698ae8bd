package password_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keystonehq/identity/internal/password"
)

func TestHashAndVerify(t *testing.T) {
	hasher := password.NewHasher(4)

	digest, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	require.NotEqual(t, "correct horse battery staple", digest)

	ok, err := hasher.Verify("correct horse battery staple", digest)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = hasher.Verify("wrong password", digest)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashIsSalted(t *testing.T) {
	hasher := password.NewHasher(4)

	a, err := hasher.Hash("secret")
	require.NoError(t, err)
	b, err := hasher.Hash("secret")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVerifyGarbageDigest(t *testing.T) {
	hasher := password.NewHasher(4)

	ok, err := hasher.Verify("secret", "not-a-bcrypt-digest")
	require.Error(t, err)
	require.False(t, ok)
}

func TestOutOfRangeCostFallsBack(t *testing.T) {
	hasher := password.NewHasher(99)

	digest, err := hasher.Hash("secret")
	require.NoError(t, err)

	ok, err := hasher.Verify("secret", digest)
	require.NoError(t, err)
	require.True(t, ok)
}
