package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	codeLength = 6
	period     = 30 * time.Second
	// skew is the number of adjacent time steps accepted on either side
	// of the current one, absorbing client clock drift.
	skew = 1

	secretBytes = 20
	backupCount = 10
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh shared secret in base32 form, suitable
// for authenticator app provisioning.
func GenerateSecret() string {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return b32.EncodeToString(b)
}

// KeyURI builds the otpauth:// provisioning URI encoded into the QR code
// shown at enrollment time.
func KeyURI(issuer, email, secret string) string {
	label := url.PathEscape(issuer + ":" + email)
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("algorithm", "SHA1")
	v.Set("digits", fmt.Sprintf("%d", codeLength))
	v.Set("period", fmt.Sprintf("%d", int(period.Seconds())))
	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Verify reports whether code matches the secret within the allowed clock
// skew. It never fails hard: malformed input yields false.
func Verify(code, secret string) bool {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != codeLength {
		return false
	}
	key, err := b32.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil || len(key) == 0 {
		return false
	}

	counter := time.Now().Unix() / int64(period.Seconds())
	for delta := int64(-skew); delta <= skew; delta++ {
		expected := hotp(key, uint64(counter+delta))
		if subtle.ConstantTimeCompare([]byte(trimmed), []byte(expected)) == 1 {
			return true
		}
	}
	return false
}

// hotp implements RFC 4226 dynamic truncation over an HMAC-SHA1 counter.
func hotp(key []byte, counter uint64) string {
	msg := make([]byte, 8)
	binary.BigEndian.PutUint64(msg, counter)
	mac := hmac.New(sha1.New, key)
	mac.Write(msg)
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := int(sum[offset]&0x7f)<<24 |
		int(sum[offset+1]&0xff)<<16 |
		int(sum[offset+2]&0xff)<<8 |
		int(sum[offset+3]&0xff)
	return fmt.Sprintf("%0*d", codeLength, code%1000000)
}

// GenerateBackupCodes returns n human-readable recovery codes of the form
// XXXX-XXXX. Raw values are disclosed exactly once; only their hashes are
// ever stored.
func GenerateBackupCodes(n int) []string {
	if n <= 0 {
		n = backupCount
	}
	codes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			panic(err)
		}
		raw := strings.ToUpper(hex.EncodeToString(b))
		codes = append(codes, raw[:4]+"-"+raw[4:])
	}
	return codes
}

// HashBackupCode returns the SHA-256 hex digest stored in place of a raw
// backup code.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
