package totp

import (
	"encoding/base32"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// RFC 4226 appendix D vectors for the shared secret "12345678901234567890".
func TestHotpReferenceVectors(t *testing.T) {
	key := []byte("12345678901234567890")
	expected := []string{
		"755224", "287082", "359152", "969429", "338314",
		"254676", "287922", "162583", "399871", "520489",
	}
	for counter, want := range expected {
		require.Equal(t, want, hotp(key, uint64(counter)), "counter %d", counter)
	}
}

func TestGenerateSecretShape(t *testing.T) {
	secret := GenerateSecret()
	require.NotEmpty(t, secret)
	require.NotContains(t, secret, "=")

	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secret)
	require.NoError(t, err)
	require.Len(t, decoded, secretBytes)

	require.NotEqual(t, secret, GenerateSecret())
}

func TestVerifyAcceptsCurrentAndAdjacentSteps(t *testing.T) {
	secret := GenerateSecret()
	key, err := b32.DecodeString(secret)
	require.NoError(t, err)

	counter := time.Now().Unix() / int64(period.Seconds())
	for delta := int64(-1); delta <= 1; delta++ {
		code := hotp(key, uint64(counter+delta))
		require.True(t, Verify(code, secret), "delta %d", delta)
	}

	stale := hotp(key, uint64(counter-10))
	current := hotp(key, uint64(counter))
	if stale != current {
		require.False(t, Verify(stale, secret))
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	secret := GenerateSecret()
	require.False(t, Verify("", secret))
	require.False(t, Verify("12345", secret))
	require.False(t, Verify("1234567", secret))
	require.False(t, Verify("123456", "not base32!!"))
	require.False(t, Verify("123456", ""))
}

func TestKeyURI(t *testing.T) {
	uri := KeyURI("Identity Provider", "user@example.com", "SECRET")
	require.True(t, strings.HasPrefix(uri, "otpauth://totp/"), uri)
	require.Contains(t, uri, "secret=SECRET")
	require.Contains(t, uri, "digits=6")
	require.Contains(t, uri, "period=30")
	require.Contains(t, uri, "algorithm=SHA1")
}

func TestGenerateBackupCodesShape(t *testing.T) {
	codes := GenerateBackupCodes(10)
	require.Len(t, codes, 10)

	seen := map[string]struct{}{}
	for _, code := range codes {
		require.Regexp(t, `^[0-9A-F]{4}-[0-9A-F]{4}$`, code)
		seen[code] = struct{}{}
	}
	require.Len(t, seen, 10)

	require.Len(t, GenerateBackupCodes(0), backupCount)
}

func TestHashBackupCode(t *testing.T) {
	code := "ABCD-1234"
	require.Equal(t, HashBackupCode(code), HashBackupCode(code))
	require.NotEqual(t, code, HashBackupCode(code))
	require.Len(t, HashBackupCode(code), 64)
}
