package domain

import "time"

// RefreshToken persists one issued session line. Only the SHA-256 hash of
// the raw token is stored; the raw value leaves the service exactly once,
// in the login response.
type RefreshToken struct {
	ID         int64
	UserID     int64
	TokenHash  string
	ExpiresAt  time.Time
	IsRevoked  bool
	RevokedAt  *time.Time
	DeviceInfo string
	IPAddress  string
	CreatedAt  time.Time
}

// TokenPayload is the claim set embedded in signed access and refresh
// tokens. It is transient and never persisted.
type TokenPayload struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Roles  []Role `json:"roles"`
}
