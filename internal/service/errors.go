package service

import (
	"fmt"
	"net/http"
)

// AuthError is a domain error the transport layer maps onto a specific
// status and client-facing message. Anything that is not an AuthError
// propagates as a generic internal failure with detail suppressed outside
// development mode.
type AuthError struct {
	Code    string
	Message string
	Status  int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAuthError(code, message string, status int) *AuthError {
	return &AuthError{Code: code, Message: message, Status: status}
}

// Error constructors for the taxonomy the engine emits.
func errValidation(message string) *AuthError {
	return newAuthError("validation_error", message, http.StatusBadRequest)
}

func errConflict(message string) *AuthError {
	return newAuthError("conflict", message, http.StatusConflict)
}

func errInvalidCredentials() *AuthError {
	return newAuthError("invalid_credentials", "Invalid credentials", http.StatusUnauthorized)
}

func errAccountDeactivated() *AuthError {
	return newAuthError("account_deactivated", "Account has been deactivated", http.StatusUnauthorized)
}

func errEmailNotVerified() *AuthError {
	return newAuthError("email_not_verified", "Please verify your email before logging in", http.StatusUnauthorized)
}

func errInvalidMfaCode() *AuthError {
	return newAuthError("invalid_mfa_code", "Invalid MFA code", http.StatusUnauthorized)
}

func errUnauthenticated(message string) *AuthError {
	return newAuthError("unauthenticated", message, http.StatusUnauthorized)
}

func errTokenRevoked() *AuthError {
	return newAuthError("token_revoked", "Refresh token has been revoked", http.StatusUnauthorized)
}

func errTokenExpired() *AuthError {
	return newAuthError("token_expired", "Refresh token has expired", http.StatusUnauthorized)
}

func errInvalidOrExpiredToken() *AuthError {
	return newAuthError("invalid_or_expired_token", "Invalid or expired token", http.StatusBadRequest)
}

func errNotFound(message string) *AuthError {
	return newAuthError("not_found", message, http.StatusNotFound)
}

func errMfaAlreadyEnabled() *AuthError {
	return newAuthError("mfa_already_enabled", "MFA is already enabled", http.StatusConflict)
}

func errMfaSetupNotInitiated() *AuthError {
	return newAuthError("mfa_setup_not_initiated", "MFA setup not initiated", http.StatusBadRequest)
}

func errMfaNotEnabled() *AuthError {
	return newAuthError("mfa_not_enabled", "MFA is not enabled", http.StatusBadRequest)
}
