package service

import (
	"time"

	"github.com/keystonehq/identity/internal/domain"
)

// SanitizedUser is the user shape returned to clients: password hash, MFA
// secret and single-use tokens stripped.
type SanitizedUser struct {
	ID              int64         `json:"id,string"`
	Email           string        `json:"email"`
	FirstName       string        `json:"firstName,omitempty"`
	LastName        string        `json:"lastName,omitempty"`
	Roles           []domain.Role `json:"roles"`
	IsEmailVerified bool          `json:"isEmailVerified"`
	IsActive        bool          `json:"isActive"`
	IsMfaEnabled    bool          `json:"isMfaEnabled"`
	LastLoginAt     *time.Time    `json:"lastLoginAt,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func sanitizeUser(u domain.User) SanitizedUser {
	return SanitizedUser{
		ID:              u.ID,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Roles:           u.Roles,
		IsEmailVerified: u.IsEmailVerified,
		IsActive:        u.IsActive,
		IsMfaEnabled:    u.IsMfaEnabled,
		LastLoginAt:     u.LastLoginAt,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

// RegisterResult is the registration response.
type RegisterResult struct {
	User    SanitizedUser `json:"user"`
	Message string        `json:"message"`
}

// LoginResult carries either a completed session or an MFA step-up. When
// RequiresMfa is set, no access or refresh token is issued. RefreshToken
// is handed to the transport layer for cookie placement and is never
// serialized into a JSON body.
type LoginResult struct {
	User         SanitizedUser `json:"user"`
	AccessToken  string        `json:"accessToken,omitempty"`
	RefreshToken string        `json:"-"`
	RequiresMfa  bool          `json:"requiresMfa,omitempty"`
	TempToken    string        `json:"tempToken,omitempty"`
}

// MfaSetup is returned once at enrollment: the only time the raw secret
// and backup codes are disclosed.
type MfaSetup struct {
	Secret      string   `json:"secret"`
	QRCode      string   `json:"qrCode"`
	BackupCodes []string `json:"backupCodes"`
}
