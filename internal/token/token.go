package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v4"
	gojwt "github.com/go-jose/go-jose/v4/jwt"

	"github.com/keystonehq/identity/internal/domain"
)

// Kind distinguishes the two token families. It doubles as the audience
// claim so an access token can never pass refresh verification.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// ErrInvalidToken covers any signature, issuer, audience or expiry failure.
var ErrInvalidToken = errors.New("invalid token")

// Codec mints and verifies signed, expiring, audience-scoped tokens.
// Access and refresh tokens are signed with independent secrets so a
// compromise of one key cannot forge the other kind.
type Codec struct {
	issuer        string
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewCodec constructs a codec. Issuer is the product name.
func NewCodec(issuer, accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Codec {
	return &Codec{
		issuer:        issuer,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// MintAccess signs a short-lived access token for the payload.
func (c *Codec) MintAccess(payload domain.TokenPayload) (string, error) {
	return c.mint(KindAccess, payload)
}

// MintRefresh signs a long-lived refresh token for the payload.
func (c *Codec) MintRefresh(payload domain.TokenPayload) (string, error) {
	return c.mint(KindRefresh, payload)
}

func (c *Codec) mint(kind Kind, payload domain.TokenPayload) (string, error) {
	secret, ttl := c.keyFor(kind)

	signer, err := gojose.NewSigner(
		gojose.SigningKey{Algorithm: gojose.HS256, Key: secret},
		(&gojose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("new signer: %w", err)
	}

	now := time.Now().UTC()
	std := gojwt.Claims{
		Subject:   fmt.Sprintf("%d", payload.UserID),
		Issuer:    c.issuer,
		Audience:  gojwt.Audience{string(kind)},
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		Expiry:    gojwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := gojwt.Signed(signer).Claims(std).Claims(payload).Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize jwt: %w", err)
	}
	return signed, nil
}

// VerifyAccess decodes an access token, or fails with ErrInvalidToken.
func (c *Codec) VerifyAccess(raw string) (domain.TokenPayload, error) {
	return c.verify(KindAccess, raw)
}

// VerifyRefresh decodes a refresh token, or fails with ErrInvalidToken.
func (c *Codec) VerifyRefresh(raw string) (domain.TokenPayload, error) {
	return c.verify(KindRefresh, raw)
}

func (c *Codec) verify(kind Kind, raw string) (domain.TokenPayload, error) {
	secret, _ := c.keyFor(kind)

	parsed, err := gojwt.ParseSigned(raw, []gojose.SignatureAlgorithm{gojose.HS256})
	if err != nil {
		return domain.TokenPayload{}, ErrInvalidToken
	}

	var std gojwt.Claims
	var payload domain.TokenPayload
	if err := parsed.Claims(secret, &std, &payload); err != nil {
		return domain.TokenPayload{}, ErrInvalidToken
	}

	expected := gojwt.Expected{
		Issuer:      c.issuer,
		AnyAudience: gojwt.Audience{string(kind)},
		Time:        time.Now().UTC(),
	}
	if err := std.Validate(expected); err != nil {
		return domain.TokenPayload{}, ErrInvalidToken
	}

	return payload, nil
}

func (c *Codec) keyFor(kind Kind) ([]byte, time.Duration) {
	if kind == KindRefresh {
		return c.refreshSecret, c.refreshTTL
	}
	return c.accessSecret, c.accessTTL
}

// Hash returns the SHA-256 hex digest used to store and look up refresh
// tokens. Not suitable for passwords; those go through the slow hash in
// the password package.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Random returns a cryptographically random opaque token for single-use
// email-verification and password-reset links.
func Random() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
