package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/kernel"
)

// TokenType distinguishes the three kinds of issued JWT.
type TokenType string

const (
	TypeRefresh TokenType = "REFRESH"
	TypeAccess  TokenType = "ACCESS"
	TypeAPI     TokenType = "API"
)

func (t TokenType) String() string { return string(t) }

// ParseTokenType accepts the header value of a JWT.
func ParseTokenType(s string) (TokenType, bool) {
	switch TokenType(strings.ToUpper(s)) {
	case TypeRefresh:
		return TypeRefresh, true
	case TypeAccess:
		return TypeAccess, true
	case TypeAPI:
		return TypeAPI, true
	}
	return "", false
}

// SessionToken is the persisted record behind one issued JWT. Its ID is the
// JWT kid and Key is the HMAC secret only this token is signed with.
type SessionToken struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Type          TokenType `json:"type"`
	Key           []byte    `json:"-"`
	IssuedAt      time.Time `json:"issued_at"`
	Expiration    time.Time `json:"expiration"`
	UserAgent     string    `json:"user_agent"`
	ParentTokenID *string   `json:"parent_token_id,omitempty"`
}

// IsExpiredAt reports whether the token is no longer valid at now.
func (t SessionToken) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.Expiration)
}

// BelongsTo compares usernames case-insensitively.
func (t SessionToken) BelongsTo(username string) bool {
	return strings.EqualFold(t.Username, username)
}

func (t SessionToken) HasParent(id string) bool {
	return t.ParentTokenID != nil && *t.ParentTokenID == id
}

// Principal is the identity a token is minted for.
type Principal struct {
	UserID    kernel.UserID
	Username  string
	FirstName string
	LastName  string
	Locale    string
	Nonce     string
	Roles     []string
	Rights    []string
	Extra     map[string]interface{}
}

// APIUsername is the session username used for tokens backing an API token.
func APIUsername(linkedUser, apiTokenID string) string {
	return linkedUser + "-api-token-" + apiTokenID
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("SESSION")

var (
	CodeSessionNotFound   = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Session token not found")
	CodeKeyGeneration     = ErrRegistry.Register("KEY_GENERATION_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Failed to generate signing key")
	CodeSigningFailed     = ErrRegistry.Register("SIGNING_FAILED", errx.TypeInternal, http.StatusInternalServerError, "Failed to sign token")
	CodeParentNotRefresh  = ErrRegistry.Register("PARENT_NOT_REFRESH", errx.TypeValidation, http.StatusBadRequest, "Access tokens can only be derived from a refresh token")
	CodeMissingExpiration = ErrRegistry.Register("MISSING_EXPIRATION", errx.TypeValidation, http.StatusBadRequest, "Token expiration is required")
)

func ErrSessionNotFound() *errx.Error {
	return ErrRegistry.New(CodeSessionNotFound)
}

func ErrKeyGeneration(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeKeyGeneration, cause)
}

func ErrSigningFailed(cause error) *errx.Error {
	return ErrRegistry.NewWithCause(CodeSigningFailed, cause)
}
