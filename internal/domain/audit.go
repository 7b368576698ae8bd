package domain

import "time"

// Audit actions recorded by the auth engine.
const (
	AuditUserRegistered     = "USER_REGISTERED"
	AuditUserLogin          = "USER_LOGIN"
	AuditLoginFailed        = "LOGIN_FAILED"
	AuditAccountDeactivated = "ACCOUNT_DEACTIVATED"
)

// AuditLogEntry is an append-only record of a security-relevant event.
// The engine only ever writes these; it never reads them back.
type AuditLogEntry struct {
	ID        int64
	UserID    int64
	Action    string
	Resource  string
	IPAddress string
	UserAgent string
	Success   bool
	CreatedAt time.Time
}
