package repository

import (
	"context"
	"errors"
	"time"

	"github.com/keystonehq/identity/internal/domain"
)

// Sentinel errors callers can test with errors.Is.
var (
	// ErrNotFound signals an absent entity.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate signals a unique-constraint violation.
	ErrDuplicate = errors.New("duplicate")
	// ErrStaleWrite signals a conditional update that matched no row, i.e.
	// the entity was no longer in the expected state.
	ErrStaleWrite = errors.New("stale write")
)

// UserRepository exposes persistence for users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, userID int64) (domain.User, error)
	GetByVerificationToken(ctx context.Context, token string, now time.Time) (domain.User, error)
	GetByResetToken(ctx context.Context, token string, now time.Time) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	Update(ctx context.Context, user domain.User) (domain.User, error)
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error
	// SetMfaPending stores the secret and hashed backup codes without
	// flipping the enabled flag. The update is conditional on MFA still
	// being disabled; a lost race surfaces as ErrStaleWrite.
	SetMfaPending(ctx context.Context, userID int64, secret string, hashedBackupCodes []string) error
	// ActivateMfa flips the enabled flag, conditional on a pending secret
	// being present and the flag still unset.
	ActivateMfa(ctx context.Context, userID int64) error
	// ClearMfa removes the secret, backup codes and flag.
	ClearMfa(ctx context.Context, userID int64) error
	List(ctx context.Context) ([]domain.User, error)
}

// RefreshTokenRepository handles refresh token persistence. Tokens are
// looked up only by their one-way hash.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) (domain.RefreshToken, error)
	GetByHash(ctx context.Context, tokenHash string) (domain.RefreshToken, error)
	Revoke(ctx context.Context, tokenHash string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID int64, at time.Time) error
}

// OriginRepository manages the admin-owned allow-list of client origins.
type OriginRepository interface {
	ListActive(ctx context.Context) ([]domain.AllowedOrigin, error)
	List(ctx context.Context) ([]domain.AllowedOrigin, error)
	GetByID(ctx context.Context, id int64) (domain.AllowedOrigin, error)
	Create(ctx context.Context, origin domain.AllowedOrigin) (domain.AllowedOrigin, error)
	Update(ctx context.Context, origin domain.AllowedOrigin) (domain.AllowedOrigin, error)
	Delete(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) (domain.AllowedOrigin, error)
}

// AuditLogRepository appends security events. Write-only.
type AuditLogRepository interface {
	Create(ctx context.Context, entry domain.AuditLogEntry) error
}

// PendingLogin is the state parked between a password check and the MFA
// code submission during step-up login.
type PendingLogin struct {
	UserID     int64  `json:"user_id"`
	IPAddress  string `json:"ip_address,omitempty"`
	DeviceInfo string `json:"device_info,omitempty"`
}

// MfaStateStore holds short-lived step-up state keyed by temp token.
type MfaStateStore interface {
	Put(ctx context.Context, tempToken string, state PendingLogin, ttl time.Duration) error
	// Consume returns the state and deletes it so a temp token is
	// single-use. ErrNotFound when absent or expired.
	Consume(ctx context.Context, tempToken string) (PendingLogin, error)
}
