package token_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keystonehq/identity/internal/domain"
	"github.com/keystonehq/identity/internal/token"
)

func newTestCodec(accessTTL, refreshTTL time.Duration) *token.Codec {
	return token.NewCodec("Identity Provider", "access-secret", "refresh-secret", accessTTL, refreshTTL)
}

func TestMintAndVerifyRoundTrip(t *testing.T) {
	codec := newTestCodec(time.Minute, time.Hour)
	payload := domain.TokenPayload{UserID: 42, Email: "user@example.com", Roles: []domain.Role{domain.RoleUser}}

	access, err := codec.MintAccess(payload)
	require.NoError(t, err)
	refresh, err := codec.MintRefresh(payload)
	require.NoError(t, err)
	require.NotEqual(t, access, refresh)

	got, err := codec.VerifyAccess(access)
	require.NoError(t, err)
	require.Equal(t, payload.UserID, got.UserID)
	require.Equal(t, payload.Email, got.Email)
	require.Equal(t, payload.Roles, got.Roles)

	got, err = codec.VerifyRefresh(refresh)
	require.NoError(t, err)
	require.Equal(t, payload.UserID, got.UserID)
}

func TestKindsAreNotInterchangeable(t *testing.T) {
	codec := newTestCodec(time.Minute, time.Hour)
	payload := domain.TokenPayload{UserID: 1, Email: "a@b.c"}

	access, err := codec.MintAccess(payload)
	require.NoError(t, err)
	refresh, err := codec.MintRefresh(payload)
	require.NoError(t, err)

	_, err = codec.VerifyRefresh(access)
	require.ErrorIs(t, err, token.ErrInvalidToken)
	_, err = codec.VerifyAccess(refresh)
	require.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	codec := newTestCodec(time.Minute, time.Hour)
	other := token.NewCodec("Identity Provider", "other-access", "other-refresh", time.Minute, time.Hour)

	access, err := other.MintAccess(domain.TokenPayload{UserID: 7})
	require.NoError(t, err)

	_, err = codec.VerifyAccess(access)
	require.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestVerifyRejectsExpired(t *testing.T) {
	codec := newTestCodec(-time.Minute, -time.Minute)

	access, err := codec.MintAccess(domain.TokenPayload{UserID: 7})
	require.NoError(t, err)

	_, err = codec.VerifyAccess(access)
	require.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	codec := newTestCodec(time.Minute, time.Hour)

	_, err := codec.VerifyAccess("not-a-jwt")
	require.ErrorIs(t, err, token.ErrInvalidToken)
}

func TestHashIsDeterministic(t *testing.T) {
	require.Equal(t, token.Hash("abc"), token.Hash("abc"))
	require.NotEqual(t, token.Hash("abc"), token.Hash("abd"))
	require.Len(t, token.Hash("abc"), 64)
}

func TestRandomTokensAreUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		tok := token.Random()
		require.Len(t, tok, 64)
		_, dup := seen[tok]
		require.False(t, dup)
		seen[tok] = struct{}{}
	}
}
