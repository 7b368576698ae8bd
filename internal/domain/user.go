package domain

import "time"

// Role is a coarse privilege tier assigned to a user.
type Role string

const (
	RoleUser      Role = "USER"
	RoleModerator Role = "MODERATOR"
	RoleAdmin     Role = "ADMIN"
)

// User represents an identity record. Email is stored lower-cased and is
// unique across the table. Deactivation is a soft delete via IsActive.
type User struct {
	ID                      int64
	Email                   string
	PasswordHash            string
	FirstName               string
	LastName                string
	Roles                   []Role
	IsEmailVerified         bool
	IsActive                bool
	IsMfaEnabled            bool
	MfaSecret               string
	MfaBackupCodes          []string
	EmailVerificationToken  string
	EmailVerificationExpiry *time.Time
	PasswordResetToken      string
	PasswordResetExpiry     *time.Time
	LastLoginAt             *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// HasRole reports whether the user carries any of the given roles.
func (u User) HasRole(roles ...Role) bool {
	for _, want := range roles {
		for _, have := range u.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}
