package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/keystonehq/identity/internal/config"
	"github.com/keystonehq/identity/internal/domain"
	"github.com/keystonehq/identity/internal/mail"
	"github.com/keystonehq/identity/internal/password"
	"github.com/keystonehq/identity/internal/repository"
	"github.com/keystonehq/identity/internal/token"
	"github.com/keystonehq/identity/internal/totp"
)

const (
	verificationTokenTTL = 24 * time.Hour
	resetTokenTTL        = time.Hour
	mfaTempTokenTTL      = 5 * time.Minute
)

// AuthService orchestrates the session lifecycle: registration, login with
// MFA step-up, token refresh, logout, email verification, password reset
// and MFA enrollment.
type AuthService struct {
	users     repository.UserRepository
	tokens    repository.RefreshTokenRepository
	audit     repository.AuditLogRepository
	mfaStates repository.MfaStateStore
	codec     *token.Codec
	hasher    *password.Hasher
	mailer    mail.Dispatcher
	node      *snowflake.Node
	cfg       config.Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(
	users repository.UserRepository,
	tokens repository.RefreshTokenRepository,
	audit repository.AuditLogRepository,
	mfaStates repository.MfaStateStore,
	codec *token.Codec,
	hasher *password.Hasher,
	mailer mail.Dispatcher,
	node *snowflake.Node,
	cfg config.Config,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		audit:     audit,
		mfaStates: mfaStates,
		codec:     codec,
		hasher:    hasher,
		mailer:    mailer,
		node:      node,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("github.com/keystonehq/identity/internal/service"),
	}
}

// Register creates a user pending email verification. A duplicate email,
// compared case-insensitively, yields a conflict.
func (s *AuthService) Register(ctx context.Context, email, pass, firstName, lastName string) (*RegisterResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer span.End()

	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || pass == "" {
		return nil, errValidation("Email and password are required")
	}

	if _, err := s.users.GetByEmail(ctx, normalized); err == nil {
		return nil, errConflict("User with this email already exists")
	} else if !errors.Is(err, repository.ErrNotFound) {
		span.RecordError(err)
		return nil, fmt.Errorf("register lookup: %w", err)
	}

	hashed, err := s.hasher.Hash(pass)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("register hash password: %w", err)
	}

	verificationToken := token.Random()
	expiry := time.Now().Add(verificationTokenTTL)

	user := domain.User{
		ID:                      s.node.Generate().Int64(),
		Email:                   normalized,
		PasswordHash:            hashed,
		FirstName:               strings.TrimSpace(firstName),
		LastName:                strings.TrimSpace(lastName),
		Roles:                   []domain.Role{domain.RoleUser},
		IsActive:                true,
		MfaBackupCodes:          []string{},
		EmailVerificationToken:  verificationToken,
		EmailVerificationExpiry: &expiry,
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, errConflict("User with this email already exists")
		}
		span.RecordError(err)
		return nil, fmt.Errorf("register create user: %w", err)
	}

	subject, body := mail.VerificationEmail(s.cfg.AppName, s.cfg.BackendBaseURL, verificationToken)
	s.sendMail(created.Email, subject, body)

	s.writeAudit(ctx, created.ID, domain.AuditUserRegistered, "USER", "", "", true)

	return &RegisterResult{
		User:    sanitizeUser(created),
		Message: "Registration successful. Please check your email to verify your account.",
	}, nil
}

// Login authenticates with email and password, stepping up to an MFA code
// when the account has MFA active. When MFA is required and no code is
// supplied, the result carries a temp token and no session tokens.
func (s *AuthService) Login(ctx context.Context, email, pass, totpCode, ipAddress, userAgent string) (*LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// No audit entry on the absent-user path; only a password
			// mismatch for a real account is recorded.
			return nil, errInvalidCredentials()
		}
		span.RecordError(err)
		return nil, fmt.Errorf("login lookup: %w", err)
	}

	if !user.IsActive {
		return nil, errAccountDeactivated()
	}

	valid, err := s.hasher.Verify(pass, user.PasswordHash)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("login verify password: %w", err)
	}
	if !valid {
		s.writeAudit(ctx, user.ID, domain.AuditLoginFailed, "AUTH", ipAddress, userAgent, false)
		return nil, errInvalidCredentials()
	}

	if !user.IsEmailVerified {
		return nil, errEmailNotVerified()
	}

	if user.IsMfaEnabled {
		if totpCode == "" {
			tempToken := token.Random()
			state := repository.PendingLogin{UserID: user.ID, IPAddress: ipAddress, DeviceInfo: userAgent}
			if err := s.mfaStates.Put(ctx, tempToken, state, mfaTempTokenTTL); err != nil {
				span.RecordError(err)
				return nil, fmt.Errorf("login park mfa state: %w", err)
			}
			return &LoginResult{User: sanitizeUser(user), RequiresMfa: true, TempToken: tempToken}, nil
		}
		if !totp.Verify(totpCode, user.MfaSecret) {
			return nil, errInvalidMfaCode()
		}
	}

	return s.issueSession(ctx, user, ipAddress, userAgent)
}

// CompleteMfaLogin finishes a stepped-up login using the temp token issued
// by Login. Temp tokens are single-use and expire quickly.
func (s *AuthService) CompleteMfaLogin(ctx context.Context, tempToken, totpCode string) (*LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.CompleteMfaLogin")
	defer span.End()

	if tempToken == "" || totpCode == "" {
		return nil, errValidation("Temp token and MFA code are required")
	}

	state, err := s.mfaStates.Consume(ctx, tempToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errUnauthenticated("Invalid or expired temp token")
		}
		span.RecordError(err)
		return nil, fmt.Errorf("consume mfa state: %w", err)
	}

	user, err := s.users.GetByID(ctx, state.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, errUnauthenticated("Invalid or expired temp token")
	}
	if !user.IsActive {
		return nil, errAccountDeactivated()
	}
	if !totp.Verify(totpCode, user.MfaSecret) {
		return nil, errInvalidMfaCode()
	}

	return s.issueSession(ctx, user, state.IPAddress, state.DeviceInfo)
}

func (s *AuthService) issueSession(ctx context.Context, user domain.User, ipAddress, userAgent string) (*LoginResult, error) {
	payload := domain.TokenPayload{UserID: user.ID, Email: user.Email, Roles: user.Roles}

	access, err := s.codec.MintAccess(payload)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	refresh, err := s.codec.MintRefresh(payload)
	if err != nil {
		return nil, fmt.Errorf("mint refresh token: %w", err)
	}

	now := time.Now()
	row := domain.RefreshToken{
		ID:         s.node.Generate().Int64(),
		UserID:     user.ID,
		TokenHash:  token.Hash(refresh),
		ExpiresAt:  now.Add(s.cfg.RefreshTokenTTL),
		DeviceInfo: userAgent,
		IPAddress:  ipAddress,
	}
	if _, err := s.tokens.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("persist refresh token: %w", err)
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, fmt.Errorf("update last login: %w", err)
	}

	s.writeAudit(ctx, user.ID, domain.AuditUserLogin, "AUTH", ipAddress, userAgent, true)

	subject, body := mail.LoginNotificationEmail(ipAddress, userAgent, now)
	s.sendMail(user.Email, subject, body)

	return &LoginResult{
		User:         sanitizeUser(user),
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

// Refresh exchanges a valid refresh token for a new access token. The
// refresh token itself is not rotated; it stays live until its expiry or
// explicit revocation.
func (s *AuthService) Refresh(ctx context.Context, rawRefreshToken string) (string, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer span.End()

	if rawRefreshToken == "" {
		return "", errUnauthenticated("Refresh token not found")
	}

	payload, err := s.codec.VerifyRefresh(rawRefreshToken)
	if err != nil {
		return "", newAuthError("invalid_token", "Invalid refresh token", 401)
	}

	stored, err := s.tokens.GetByHash(ctx, token.Hash(rawRefreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", errTokenRevoked()
		}
		span.RecordError(err)
		return "", fmt.Errorf("refresh lookup: %w", err)
	}
	if stored.IsRevoked {
		return "", errTokenRevoked()
	}
	if time.Now().After(stored.ExpiresAt) {
		return "", errTokenExpired()
	}

	user, err := s.users.GetByID(ctx, payload.UserID)
	if err != nil || !user.IsActive {
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			span.RecordError(err)
			return "", fmt.Errorf("refresh load user: %w", err)
		}
		return "", errUnauthenticated("User not found or inactive")
	}

	access, err := s.codec.MintAccess(domain.TokenPayload{UserID: user.ID, Email: user.Email, Roles: user.Roles})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("refresh mint access token: %w", err)
	}
	return access, nil
}

// Logout revokes the refresh token's store row. Idempotent: an absent or
// already-revoked token still succeeds.
func (s *AuthService) Logout(ctx context.Context, rawRefreshToken string) error {
	ctx, span := s.startSpan(ctx, "AuthService.Logout")
	defer span.End()

	if rawRefreshToken == "" {
		return nil
	}
	if err := s.tokens.Revoke(ctx, token.Hash(rawRefreshToken), time.Now()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("logout revoke: %w", err)
	}
	return nil
}

// VerifyEmail consumes a verification token and marks the address
// verified.
func (s *AuthService) VerifyEmail(ctx context.Context, verificationToken string) error {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyEmail")
	defer span.End()

	user, err := s.users.GetByVerificationToken(ctx, verificationToken, time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errInvalidOrExpiredToken()
		}
		span.RecordError(err)
		return fmt.Errorf("verify email lookup: %w", err)
	}

	user.IsEmailVerified = true
	user.EmailVerificationToken = ""
	user.EmailVerificationExpiry = nil
	if _, err := s.users.Update(ctx, user); err != nil {
		span.RecordError(err)
		return fmt.Errorf("verify email update: %w", err)
	}
	return nil
}

// ForgotPasswordMessage is returned whether or not the address exists, so
// the endpoint cannot be used to enumerate accounts.
const ForgotPasswordMessage = "If the email exists, a reset link has been sent"

// ForgotPassword issues a reset token when the account exists. The caller
// always receives the same generic message.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ForgotPassword")
	defer span.End()

	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("forgot password lookup: %w", err)
	}

	resetToken := token.Random()
	expiry := time.Now().Add(resetTokenTTL)
	user.PasswordResetToken = resetToken
	user.PasswordResetExpiry = &expiry
	if _, err := s.users.Update(ctx, user); err != nil {
		span.RecordError(err)
		return fmt.Errorf("forgot password update: %w", err)
	}

	subject, body := mail.PasswordResetEmail(s.cfg.BackendBaseURL, resetToken)
	s.sendMail(user.Email, subject, body)
	return nil
}

// ResetPassword consumes a reset token, sets the new password and revokes
// every outstanding refresh token for the user. The writes are sequenced,
// not transactional; a revocation failure surfaces as an error even
// though the password change already committed.
func (s *AuthService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	ctx, span := s.startSpan(ctx, "AuthService.ResetPassword")
	defer span.End()

	if newPassword == "" {
		return errValidation("New password is required")
	}

	user, err := s.users.GetByResetToken(ctx, resetToken, time.Now())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errInvalidOrExpiredToken()
		}
		span.RecordError(err)
		return fmt.Errorf("reset password lookup: %w", err)
	}

	hashed, err := s.hasher.Hash(newPassword)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("reset password hash: %w", err)
	}

	user.PasswordHash = hashed
	user.PasswordResetToken = ""
	user.PasswordResetExpiry = nil
	if _, err := s.users.Update(ctx, user); err != nil {
		span.RecordError(err)
		return fmt.Errorf("reset password update: %w", err)
	}

	if err := s.tokens.RevokeAllForUser(ctx, user.ID, time.Now()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("reset password revoke sessions: %w", err)
	}
	return nil
}

// EnableMfa starts two-step enrollment: the secret and backup codes are
// generated and stored, but MFA stays off until VerifyMfa confirms a
// working authenticator. The raw secret and codes are returned exactly
// once.
func (s *AuthService) EnableMfa(ctx context.Context, userID int64) (*MfaSetup, error) {
	ctx, span := s.startSpan(ctx, "AuthService.EnableMfa")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errNotFound("User not found")
		}
		span.RecordError(err)
		return nil, fmt.Errorf("enable mfa lookup: %w", err)
	}
	if user.IsMfaEnabled {
		return nil, errMfaAlreadyEnabled()
	}

	secret := totp.GenerateSecret()
	backupCodes := totp.GenerateBackupCodes(10)
	hashedCodes := make([]string, 0, len(backupCodes))
	for _, code := range backupCodes {
		hashedCodes = append(hashedCodes, totp.HashBackupCode(code))
	}

	if err := s.users.SetMfaPending(ctx, userID, secret, hashedCodes); err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			// Lost a concurrent enable race; the store's conditional
			// update kept state intact.
			return nil, errMfaAlreadyEnabled()
		}
		span.RecordError(err)
		return nil, fmt.Errorf("enable mfa store secret: %w", err)
	}

	return &MfaSetup{
		Secret:      secret,
		QRCode:      totp.KeyURI(s.cfg.AppName, user.Email, secret),
		BackupCodes: backupCodes,
	}, nil
}

// VerifyMfa confirms the enrollment code and activates MFA.
func (s *AuthService) VerifyMfa(ctx context.Context, userID int64, code string) error {
	ctx, span := s.startSpan(ctx, "AuthService.VerifyMfa")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errNotFound("User not found")
		}
		span.RecordError(err)
		return fmt.Errorf("verify mfa lookup: %w", err)
	}
	if user.MfaSecret == "" {
		return errMfaSetupNotInitiated()
	}
	if !totp.Verify(code, user.MfaSecret) {
		return errInvalidMfaCode()
	}

	if err := s.users.ActivateMfa(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrStaleWrite) {
			return errMfaAlreadyEnabled()
		}
		span.RecordError(err)
		return fmt.Errorf("verify mfa activate: %w", err)
	}
	return nil
}

// DisableMfa turns MFA off after validating a current code, clearing the
// secret and backup codes.
func (s *AuthService) DisableMfa(ctx context.Context, userID int64, code string) error {
	ctx, span := s.startSpan(ctx, "AuthService.DisableMfa")
	defer span.End()

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errNotFound("User not found")
		}
		span.RecordError(err)
		return fmt.Errorf("disable mfa lookup: %w", err)
	}
	if !user.IsMfaEnabled {
		return errMfaNotEnabled()
	}
	if !totp.Verify(code, user.MfaSecret) {
		return errInvalidMfaCode()
	}

	if err := s.users.ClearMfa(ctx, userID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("disable mfa clear: %w", err)
	}
	return nil
}

// VerifyAccessToken decodes a bearer token for the auth middleware.
func (s *AuthService) VerifyAccessToken(raw string) (domain.TokenPayload, error) {
	return s.codec.VerifyAccess(raw)
}

func (s *AuthService) writeAudit(ctx context.Context, userID int64, action, resource, ipAddress, userAgent string, success bool) {
	entry := domain.AuditLogEntry{
		ID:        s.node.Generate().Int64(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IPAddress: ipAddress,
		UserAgent: userAgent,
		Success:   success,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.log().Warn("audit write failed", zap.String("action", action), zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	s.log().Info("audit",
		zap.String("action", action),
		zap.Int64("user_id", userID),
		zap.Bool("success", success),
	)
}

// sendMail dispatches best-effort: a transport failure is logged and never
// fails the operation that triggered it.
func (s *AuthService) sendMail(to, subject, body string) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.Send(to, subject, body); err != nil {
		s.log().Warn("email dispatch failed", zap.String("subject", subject), zap.Error(err))
	}
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
