package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keystonehq/identity/internal/config"
	"github.com/keystonehq/identity/internal/domain"
	"github.com/keystonehq/identity/internal/password"
	"github.com/keystonehq/identity/internal/repository"
	"github.com/keystonehq/identity/internal/service"
	"github.com/keystonehq/identity/internal/token"
)

type fixture struct {
	auth   *service.AuthService
	users  *memoryUserRepo
	tokens *memoryTokenRepo
	audit  *memoryAuditRepo
	states *memoryMfaStore
	hasher *password.Hasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	users := &memoryUserRepo{users: map[int64]domain.User{}}
	tokens := &memoryTokenRepo{rows: map[string]domain.RefreshToken{}}
	audit := &memoryAuditRepo{}
	states := &memoryMfaStore{states: map[string]repository.PendingLogin{}}
	hasher := password.NewHasher(4)

	cfg := config.Config{
		AppName:         "Identity Provider",
		BackendBaseURL:  "http://localhost:3000",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}
	codec := token.NewCodec(cfg.AppName, "access-secret", "refresh-secret", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	auth := service.NewAuthService(users, tokens, audit, states, codec, hasher, nil, node, cfg, zap.NewNop())
	return &fixture{auth: auth, users: users, tokens: tokens, audit: audit, states: states, hasher: hasher}
}

func (f *fixture) register(t *testing.T, email, pass string) domain.User {
	t.Helper()
	result, err := f.auth.Register(context.Background(), email, pass, "Test", "User")
	require.NoError(t, err)
	user, err := f.users.GetByID(context.Background(), result.User.ID)
	require.NoError(t, err)
	return user
}

func (f *fixture) registerVerified(t *testing.T, email, pass string) domain.User {
	t.Helper()
	user := f.register(t, email, pass)
	require.NoError(t, f.auth.VerifyEmail(context.Background(), user.EmailVerificationToken))
	user, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	return user
}

func authCode(t *testing.T, err error) string {
	t.Helper()
	var authErr *service.AuthError
	require.ErrorAs(t, err, &authErr)
	return authErr.Code
}

func TestRegisterVerifyLoginFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.auth.Register(ctx, "Alice@Example.com", "s3cret-password", "Alice", "Smith")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", result.User.Email)
	require.False(t, result.User.IsEmailVerified)
	require.Equal(t, []domain.Role{domain.RoleUser}, result.User.Roles)

	// Login before verification is refused.
	_, err = f.auth.Login(ctx, "alice@example.com", "s3cret-password", "", "1.2.3.4", "go-test")
	require.Equal(t, "email_not_verified", authCode(t, err))

	stored, err := f.users.GetByID(ctx, result.User.ID)
	require.NoError(t, err)
	require.NotEmpty(t, stored.EmailVerificationToken)
	require.NoError(t, f.auth.VerifyEmail(ctx, stored.EmailVerificationToken))

	login, err := f.auth.Login(ctx, "alice@example.com", "s3cret-password", "", "1.2.3.4", "go-test")
	require.NoError(t, err)
	require.NotEmpty(t, login.AccessToken)
	require.NotEmpty(t, login.RefreshToken)
	require.False(t, login.RequiresMfa)

	// The refresh token is persisted by hash only.
	row, err := f.tokens.GetByHash(ctx, token.Hash(login.RefreshToken))
	require.NoError(t, err)
	require.Equal(t, result.User.ID, row.UserID)
	require.NotContains(t, f.tokens.hashes(), login.RefreshToken)

	stored, err = f.users.GetByID(ctx, result.User.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)

	require.Equal(t, []string{domain.AuditUserRegistered, domain.AuditUserLogin}, f.audit.actions())
}

func TestRegisterDuplicateEmailConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.register(t, "bob@example.com", "s3cret-password")

	_, err := f.auth.Register(ctx, "BOB@example.com", "another-password", "Bob", "Jones")
	require.Equal(t, "conflict", authCode(t, err))
	var authErr *service.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, 409, authErr.Status)
}

func TestVerifyEmailRejectsUnknownOrExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.auth.VerifyEmail(ctx, "nope")
	require.Equal(t, "invalid_or_expired_token", authCode(t, err))

	user := f.register(t, "carol@example.com", "s3cret-password")
	expired := time.Now().Add(-time.Hour)
	user.EmailVerificationExpiry = &expired
	_, err = f.users.Update(ctx, user)
	require.NoError(t, err)

	err = f.auth.VerifyEmail(ctx, user.EmailVerificationToken)
	require.Equal(t, "invalid_or_expired_token", authCode(t, err))
}

func TestLoginFailureModes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerVerified(t, "dave@example.com", "s3cret-password")
	f.audit.reset()

	// Unknown account: same error as a bad password, and no audit entry.
	_, err := f.auth.Login(ctx, "ghost@example.com", "whatever", "", "", "")
	require.Equal(t, "invalid_credentials", authCode(t, err))
	require.Empty(t, f.audit.actions())

	// Wrong password for a real account is audited.
	_, err = f.auth.Login(ctx, "dave@example.com", "wrong", "", "", "")
	require.Equal(t, "invalid_credentials", authCode(t, err))
	require.Equal(t, []string{domain.AuditLoginFailed}, f.audit.actions())

	user.IsActive = false
	_, err = f.users.Update(ctx, user)
	require.NoError(t, err)
	_, err = f.auth.Login(ctx, "dave@example.com", "s3cret-password", "", "", "")
	require.Equal(t, "account_deactivated", authCode(t, err))
}

func TestMfaStepUpLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerVerified(t, "erin@example.com", "s3cret-password")
	secret := enrollMfa(t, f, user.ID)

	// Without a code the login parks state and issues no session tokens.
	stepUp, err := f.auth.Login(ctx, "erin@example.com", "s3cret-password", "", "1.2.3.4", "go-test")
	require.NoError(t, err)
	require.True(t, stepUp.RequiresMfa)
	require.NotEmpty(t, stepUp.TempToken)
	require.Empty(t, stepUp.AccessToken)
	require.Empty(t, stepUp.RefreshToken)

	_, err = f.auth.CompleteMfaLogin(ctx, stepUp.TempToken, "000000")
	require.Equal(t, "invalid_mfa_code", authCode(t, err))

	// The failed attempt consumed the temp token.
	_, err = f.auth.CompleteMfaLogin(ctx, stepUp.TempToken, currentTotpCode(t, secret))
	require.Equal(t, "unauthenticated", authCode(t, err))

	stepUp, err = f.auth.Login(ctx, "erin@example.com", "s3cret-password", "", "1.2.3.4", "go-test")
	require.NoError(t, err)
	session, err := f.auth.CompleteMfaLogin(ctx, stepUp.TempToken, currentTotpCode(t, secret))
	require.NoError(t, err)
	require.NotEmpty(t, session.AccessToken)
	require.NotEmpty(t, session.RefreshToken)

	// An inline code skips the step-up round trip entirely.
	inline, err := f.auth.Login(ctx, "erin@example.com", "s3cret-password", currentTotpCode(t, secret), "1.2.3.4", "go-test")
	require.NoError(t, err)
	require.NotEmpty(t, inline.AccessToken)

	_, err = f.auth.Login(ctx, "erin@example.com", "s3cret-password", "000000", "1.2.3.4", "go-test")
	require.Equal(t, "invalid_mfa_code", authCode(t, err))
}

func TestRefreshIssuesAccessWithoutRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.registerVerified(t, "frank@example.com", "s3cret-password")

	login, err := f.auth.Login(ctx, "frank@example.com", "s3cret-password", "", "", "")
	require.NoError(t, err)

	access, err := f.auth.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, access)

	// The same refresh token keeps working: no rotation.
	access2, err := f.auth.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, access2)

	payload, err := f.auth.VerifyAccessToken(access)
	require.NoError(t, err)
	require.Equal(t, "frank@example.com", payload.Email)
}

func TestRefreshFailureModes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerVerified(t, "grace@example.com", "s3cret-password")

	_, err := f.auth.Refresh(ctx, "")
	require.Equal(t, "unauthenticated", authCode(t, err))

	_, err = f.auth.Refresh(ctx, "garbage")
	require.Equal(t, "invalid_token", authCode(t, err))

	login, err := f.auth.Login(ctx, "grace@example.com", "s3cret-password", "", "", "")
	require.NoError(t, err)

	// Expiry in the store wins over the claim expiry.
	f.tokens.expire(token.Hash(login.RefreshToken))
	_, err = f.auth.Refresh(ctx, login.RefreshToken)
	require.Equal(t, "token_expired", authCode(t, err))

	login, err = f.auth.Login(ctx, "grace@example.com", "s3cret-password", "", "", "")
	require.NoError(t, err)
	require.NoError(t, f.auth.Logout(ctx, login.RefreshToken))
	_, err = f.auth.Refresh(ctx, login.RefreshToken)
	require.Equal(t, "token_revoked", authCode(t, err))

	// Logout stays idempotent.
	require.NoError(t, f.auth.Logout(ctx, login.RefreshToken))
	require.NoError(t, f.auth.Logout(ctx, ""))

	login, err = f.auth.Login(ctx, "grace@example.com", "s3cret-password", "", "", "")
	require.NoError(t, err)
	user.IsActive = false
	_, err = f.users.Update(ctx, user)
	require.NoError(t, err)
	_, err = f.auth.Refresh(ctx, login.RefreshToken)
	require.Equal(t, "unauthenticated", authCode(t, err))
}

func TestResetPasswordRevokesAllSessions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerVerified(t, "heidi@example.com", "old-password")

	first, err := f.auth.Login(ctx, "heidi@example.com", "old-password", "", "", "")
	require.NoError(t, err)
	second, err := f.auth.Login(ctx, "heidi@example.com", "old-password", "", "", "")
	require.NoError(t, err)

	require.NoError(t, f.auth.ForgotPassword(ctx, "heidi@example.com"))
	user, err = f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, user.PasswordResetToken)

	require.NoError(t, f.auth.ResetPassword(ctx, user.PasswordResetToken, "new-password"))

	// Every outstanding session is dead.
	_, err = f.auth.Refresh(ctx, first.RefreshToken)
	require.Equal(t, "token_revoked", authCode(t, err))
	_, err = f.auth.Refresh(ctx, second.RefreshToken)
	require.Equal(t, "token_revoked", authCode(t, err))

	_, err = f.auth.Login(ctx, "heidi@example.com", "old-password", "", "", "")
	require.Equal(t, "invalid_credentials", authCode(t, err))
	login, err := f.auth.Login(ctx, "heidi@example.com", "new-password", "", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, login.AccessToken)

	// The reset token is single-use.
	err = f.auth.ResetPassword(ctx, user.PasswordResetToken, "again")
	require.Equal(t, "invalid_or_expired_token", authCode(t, err))
}

func TestForgotPasswordDoesNotRevealAccounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.auth.ForgotPassword(ctx, "nobody@example.com"))
}

func TestMfaEnrollmentLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerVerified(t, "ivan@example.com", "s3cret-password")

	setup, err := f.auth.EnableMfa(ctx, user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, setup.Secret)
	require.Len(t, setup.BackupCodes, 10)
	require.Contains(t, setup.QRCode, "otpauth://totp/")
	require.Contains(t, setup.QRCode, "secret="+setup.Secret)

	// Only hashes of the backup codes are stored.
	stored, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, stored.MfaBackupCodes, 10)
	for _, raw := range setup.BackupCodes {
		require.NotContains(t, stored.MfaBackupCodes, raw)
	}

	// Enrollment is pending until verified.
	require.False(t, stored.IsMfaEnabled)
	login, err := f.auth.Login(ctx, "ivan@example.com", "s3cret-password", "", "", "")
	require.NoError(t, err)
	require.False(t, login.RequiresMfa)

	err = f.auth.VerifyMfa(ctx, user.ID, "000000")
	require.Equal(t, "invalid_mfa_code", authCode(t, err))

	require.NoError(t, f.auth.VerifyMfa(ctx, user.ID, currentTotpCode(t, setup.Secret)))
	stored, err = f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, stored.IsMfaEnabled)

	_, err = f.auth.EnableMfa(ctx, user.ID)
	require.Equal(t, "mfa_already_enabled", authCode(t, err))

	err = f.auth.DisableMfa(ctx, user.ID, "000000")
	require.Equal(t, "invalid_mfa_code", authCode(t, err))

	require.NoError(t, f.auth.DisableMfa(ctx, user.ID, currentTotpCode(t, setup.Secret)))
	stored, err = f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.False(t, stored.IsMfaEnabled)
	require.Empty(t, stored.MfaSecret)
	require.Empty(t, stored.MfaBackupCodes)

	err = f.auth.DisableMfa(ctx, user.ID, "000000")
	require.Equal(t, "mfa_not_enabled", authCode(t, err))
}

func TestVerifyMfaWithoutSetup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	user := f.registerVerified(t, "judy@example.com", "s3cret-password")

	err := f.auth.VerifyMfa(ctx, user.ID, "123456")
	require.Equal(t, "mfa_setup_not_initiated", authCode(t, err))
}

// enrollMfa runs the full enrollment and returns the shared secret.
func enrollMfa(t *testing.T, f *fixture, userID int64) string {
	t.Helper()
	setup, err := f.auth.EnableMfa(context.Background(), userID)
	require.NoError(t, err)
	require.NoError(t, f.auth.VerifyMfa(context.Background(), userID, currentTotpCode(t, setup.Secret)))
	return setup.Secret
}

// currentTotpCode derives the code an authenticator app would show right
// now for the given base32 secret.
func currentTotpCode(t *testing.T, secret string) string {
	t.Helper()
	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	require.NoError(t, err)

	counter := uint64(time.Now().Unix() / 30)
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
	return fmt.Sprintf("%06d", code%1000000)
}

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[int64]domain.User
}

func (m *memoryUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (m *memoryUserRepo) GetByID(ctx context.Context, userID int64) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memoryUserRepo) GetByVerificationToken(ctx context.Context, tok string, now time.Time) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.EmailVerificationToken == tok && tok != "" && u.EmailVerificationExpiry != nil && u.EmailVerificationExpiry.After(now) {
			return u, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (m *memoryUserRepo) GetByResetToken(ctx context.Context, tok string, now time.Time) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.PasswordResetToken == tok && tok != "" && u.PasswordResetExpiry != nil && u.PasswordResetExpiry.After(now) {
			return u, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (m *memoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return domain.User{}, repository.ErrDuplicate
		}
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUserRepo) Update(ctx context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return domain.User{}, repository.ErrNotFound
	}
	user.UpdatedAt = time.Now()
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUserRepo) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.LastLoginAt = &at
	m.users[userID] = u
	return nil
}

func (m *memoryUserRepo) SetMfaPending(ctx context.Context, userID int64, secret string, hashedBackupCodes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if u.IsMfaEnabled {
		return repository.ErrStaleWrite
	}
	u.MfaSecret = secret
	u.MfaBackupCodes = hashedBackupCodes
	m.users[userID] = u
	return nil
}

func (m *memoryUserRepo) ActivateMfa(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if u.IsMfaEnabled || u.MfaSecret == "" {
		return repository.ErrStaleWrite
	}
	u.IsMfaEnabled = true
	m.users[userID] = u
	return nil
}

func (m *memoryUserRepo) ClearMfa(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsMfaEnabled = false
	u.MfaSecret = ""
	u.MfaBackupCodes = nil
	m.users[userID] = u
	return nil
}

func (m *memoryUserRepo) List(ctx context.Context) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

type memoryTokenRepo struct {
	mu   sync.Mutex
	rows map[string]domain.RefreshToken
}

func (m *memoryTokenRepo) Create(ctx context.Context, tok domain.RefreshToken) (domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok.CreatedAt = time.Now()
	m.rows[tok.TokenHash] = tok
	return tok, nil
}

func (m *memoryTokenRepo) GetByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[tokenHash]
	if !ok {
		return domain.RefreshToken{}, repository.ErrNotFound
	}
	return row, nil
}

func (m *memoryTokenRepo) Revoke(ctx context.Context, tokenHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[tokenHash]; ok {
		row.IsRevoked = true
		row.RevokedAt = &at
		m.rows[tokenHash] = row
	}
	return nil
}

func (m *memoryTokenRepo) RevokeAllForUser(ctx context.Context, userID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for hash, row := range m.rows {
		if row.UserID == userID && !row.IsRevoked {
			row.IsRevoked = true
			row.RevokedAt = &at
			m.rows[hash] = row
		}
	}
	return nil
}

func (m *memoryTokenRepo) expire(tokenHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[tokenHash]; ok {
		row.ExpiresAt = time.Now().Add(-time.Minute)
		m.rows[tokenHash] = row
	}
}

func (m *memoryTokenRepo) hashes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.rows))
	for hash := range m.rows {
		out = append(out, hash)
	}
	return out
}

type memoryAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
}

func (m *memoryAuditRepo) Create(ctx context.Context, entry domain.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryAuditRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.Action)
	}
	return out
}

func (m *memoryAuditRepo) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

type memoryMfaStore struct {
	mu     sync.Mutex
	states map[string]repository.PendingLogin
}

func (m *memoryMfaStore) Put(ctx context.Context, tempToken string, state repository.PendingLogin, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[tempToken] = state
	return nil
}

func (m *memoryMfaStore) Consume(ctx context.Context, tempToken string) (repository.PendingLogin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[tempToken]
	if !ok {
		return repository.PendingLogin{}, repository.ErrNotFound
	}
	delete(m.states, tempToken)
	return state, nil
}

var (
	_ repository.UserRepository         = (*memoryUserRepo)(nil)
	_ repository.RefreshTokenRepository = (*memoryTokenRepo)(nil)
	_ repository.AuditLogRepository     = (*memoryAuditRepo)(nil)
	_ repository.MfaStateStore          = (*memoryMfaStore)(nil)
)
