// Package federation turns identities verified by an external provider
// into local users and sessions.
package federation

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
)

// Identity is what a provider vouches for after its own protocol exchange.
type Identity struct {
	Provider     string
	Username     string
	FirstName    string
	LastName     string
	ClaimedRoles []string
}

// Provider performs an interactive login flow with an external identity
// provider.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// StateStore keeps the anti-forgery state of pending logins.
type StateStore interface {
	Issue(ctx context.Context, p PendingLogin, ttl time.Duration) (string, error)
	// Consume returns the pending login once. Unknown or expired states
	// yield ErrInvalidState.
	Consume(ctx context.Context, state string) (*PendingLogin, error)
}

// PendingLogin is stored under a state value between redirect and callback.
type PendingLogin struct {
	Provider    string `json:"provider"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

const (
	PlaceholderFirstName = "Unknown"
	PlaceholderLastName  = "Unknown"
)

// SplitName splits a display name into first and last name at the last
// space.
func SplitName(name string) (string, string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	i := strings.LastIndex(name, " ")
	if i < 0 {
		return name, ""
	}
	return strings.TrimSpace(name[:i]), strings.TrimSpace(name[i+1:])
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("FEDERATION")

var (
	CodeUnknownProvider = ErrRegistry.Register("UNKNOWN_PROVIDER", errx.TypeNotFound, http.StatusNotFound, "Unknown identity provider")
	CodeInvalidState    = ErrRegistry.Register("INVALID_STATE", errx.TypeAuthorization, http.StatusUnauthorized, "Login state is invalid or expired")
	CodeSignupDisabled  = ErrRegistry.Register("SIGNUP_DISABLED", errx.TypeForbidden, http.StatusForbidden, "No local account and signup is disabled")
	CodeMissingUsername = ErrRegistry.Register("MISSING_USERNAME", errx.TypeValidation, http.StatusBadRequest, "Provider did not return a usable username")
	CodeExchangeFailed  = ErrRegistry.Register("EXCHANGE_FAILED", errx.TypeExternal, http.StatusBadGateway, "Identity provider exchange failed")
)

func ErrUnknownProvider(name string) *errx.Error {
	return ErrRegistry.New(CodeUnknownProvider).WithDetail("provider", name)
}

func ErrInvalidState() *errx.Error {
	return ErrRegistry.New(CodeInvalidState)
}

func ErrSignupDisabled() *errx.Error {
	return ErrRegistry.New(CodeSignupDisabled)
}

func ErrMissingUsername() *errx.Error {
	return ErrRegistry.New(CodeMissingUsername)
}

func ErrExchangeFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeExchangeFailed, cause)
}
