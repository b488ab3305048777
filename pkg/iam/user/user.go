package user

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/ptrx"
	"github.com/google/uuid"
)

// User is an identity that can log in and hold roles.
type User struct {
	ID                  kernel.UserID `json:"id"`
	Email               string        `json:"email"`
	FirstName           string        `json:"first_name"`
	LastName            string        `json:"last_name"`
	Phone               string        `json:"phone,omitempty"`
	Mobile              string        `json:"mobile,omitempty"`
	Locale              string        `json:"locale"`
	PasswordHash        *string       `json:"-"`
	Nonce               string        `json:"-"`
	Source              string        `json:"source"`
	Roles               []string      `json:"roles"`
	Enabled             bool          `json:"enabled"`
	LoginDisabled       bool          `json:"login_disabled"`
	FailedLoginAttempts int           `json:"failed_login_attempts"`
	ResetToken          *string       `json:"-"`
	ResetTokenIssuedAt  *time.Time    `json:"-"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// NormalizeEmail lowercases and trims an email used as username.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewNonce returns a fresh 8 character nonce.
func NewNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// RotateNonce replaces the nonce so previously issued tokens stop verifying.
func (u *User) RotateNonce() {
	u.Nonce = NewNonce()
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func (u User) IsLocal() bool {
	return u.Source == "" || u.Source == iam.SourceLocal
}

// CanLogin reports whether the account is enabled and not locked.
func (u User) CanLogin() bool {
	return u.Enabled && !u.LoginDisabled
}

func (u User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether u holds at least one of names.
func (u User) HasAnyRole(names []string) bool {
	for _, n := range names {
		if u.HasRole(n) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (u User) Clone() User {
	u.Roles = append([]string(nil), u.Roles...)
	u.PasswordHash = ptrx.Clone(u.PasswordHash)
	u.ResetToken = ptrx.Clone(u.ResetToken)
	u.ResetTokenIssuedAt = ptrx.Clone(u.ResetTokenIssuedAt)
	return u
}

// SessionFieldsEqual compares the attributes that are baked into issued
// tokens or gate login: email, locale, roles, enabled, lock state and
// source.
func (u User) SessionFieldsEqual(other User) bool {
	return NormalizeEmail(u.Email) == NormalizeEmail(other.Email) &&
		u.Locale == other.Locale &&
		u.Enabled == other.Enabled &&
		u.LoginDisabled == other.LoginDisabled &&
		u.Source == other.Source &&
		sameRoles(u.Roles, other.Roles)
}

func sameRoles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("USER")

var (
	CodeUserNotFound      = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "User not found")
	CodeUserAlreadyExists = ErrRegistry.Register("ALREADY_EXISTS", errx.TypeConflict, http.StatusConflict, "User already exists")
	CodeInvalidEmail      = ErrRegistry.Register("INVALID_EMAIL", errx.TypeValidation, http.StatusBadRequest, "Invalid email")
	CodeInvalidPatch      = ErrRegistry.Register("INVALID_PATCH", errx.TypeValidation, http.StatusBadRequest, "Invalid user patch")
	CodeWrongPassword     = ErrRegistry.Register("WRONG_PASSWORD", errx.TypeValidation, http.StatusBadRequest, "Current password does not match")
	CodeWeakPassword      = ErrRegistry.Register("WEAK_PASSWORD", errx.TypeValidation, http.StatusBadRequest, "Password does not meet the minimum requirements")
	CodeInvalidResetToken = ErrRegistry.Register("INVALID_RESET_TOKEN", errx.TypeValidation, http.StatusBadRequest, "Reset token is invalid or expired")
)

func ErrUserNotFound() *errx.Error {
	return ErrRegistry.New(CodeUserNotFound)
}

func ErrUserAlreadyExists() *errx.Error {
	return ErrRegistry.New(CodeUserAlreadyExists)
}

func ErrInvalidEmail() *errx.Error {
	return ErrRegistry.New(CodeInvalidEmail)
}

func ErrInvalidPatch(reason string) *errx.Error {
	return ErrRegistry.New(CodeInvalidPatch).WithDetail("reason", reason)
}

func ErrWrongPassword() *errx.Error {
	return ErrRegistry.New(CodeWrongPassword)
}

func ErrWeakPassword() *errx.Error {
	return ErrRegistry.New(CodeWeakPassword)
}

func ErrInvalidResetToken() *errx.Error {
	return ErrRegistry.New(CodeInvalidResetToken)
}
