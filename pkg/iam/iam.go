package iam

import (
	"fmt"
	"net/http"

	"github.com/Abraxas-365/bastion/pkg/errx"
)

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("IAM")

var (
	CodeUnauthorized      = ErrRegistry.Register("UNAUTHORIZED", errx.TypeAuthorization, http.StatusUnauthorized, "Session token not found. Session expired?")
	CodeBadCredentials    = ErrRegistry.Register("BAD_CREDENTIALS", errx.TypeAuthorization, http.StatusUnauthorized, "Bad credentials")
	CodeSessionExpired    = ErrRegistry.Register("SESSION_EXPIRED", errx.TypeAuthorization, http.StatusUnauthorized, "Session expired")
	CodeNonceExpired      = ErrRegistry.Register("NONCE_EXPIRED", errx.TypeAuthorization, http.StatusUnauthorized, "Nonce expired")
	CodeAccountDisabled   = ErrRegistry.Register("ACCOUNT_DISABLED", errx.TypeAuthorization, http.StatusUnauthorized, "Account disabled or locked")
	CodeNotAllowed        = ErrRegistry.Register("NOT_ALLOWED", errx.TypeForbidden, http.StatusForbidden, "Operation not allowed")
	CodeAccessDenied      = ErrRegistry.Register("ACCESS_DENIED", errx.TypeForbidden, http.StatusForbidden, "Access denied")
	CodeNotFound          = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Resource not found")
	CodeIllegalArgument   = ErrRegistry.Register("ILLEGAL_ARGUMENT", errx.TypeValidation, http.StatusBadRequest, "Illegal argument")
	CodeDataIntegrity     = ErrRegistry.Register("DATA_INTEGRITY", errx.TypeConflict, http.StatusConflict, "Data integrity violation")
	CodeTokenInvalidation = ErrRegistry.Register("TOKEN_INVALIDATION", errx.TypeInternal, http.StatusInternalServerError, "Failed to invalidate session tokens")
)

func ErrUnauthorized() *errx.Error {
	return ErrRegistry.New(CodeUnauthorized)
}

func ErrBadCredentials(reason string) *errx.Error {
	return ErrRegistry.New(CodeBadCredentials).WithDetail("reason", reason)
}

func ErrSessionExpired() *errx.Error {
	return ErrRegistry.New(CodeSessionExpired)
}

func ErrNonceExpired() *errx.Error {
	return ErrRegistry.New(CodeNonceExpired)
}

func ErrAccountDisabled() *errx.Error {
	return ErrRegistry.New(CodeAccountDisabled)
}

func ErrNotAllowed(message string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeNotAllowed, message)
}

func ErrAccessDenied() *errx.Error {
	return ErrRegistry.New(CodeAccessDenied)
}

func ErrNotFound(resource string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ErrIllegalArgument(message string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeIllegalArgument, message)
}

func ErrDataIntegrity(message string) *errx.Error {
	return ErrRegistry.NewWithMessage(CodeDataIntegrity, message)
}

// ErrTokenInvalidation wraps a failure that happened while purging sessions.
func ErrTokenInvalidation(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeTokenInvalidation, cause)
}

// Source values for User.Source. Federated providers use their own id.
const (
	SourceLocal = "local"
	SourceLDAP  = "ldap"
)
