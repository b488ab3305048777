package apitoken

import (
	"net/http"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
)

// Status of an API token.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusRevoked     Status = "REVOKED"
	StatusExpired     Status = "EXPIRED"
	StatusUserDeleted Status = "USER_DELETED"
	StatusUserChanged Status = "USER_CHANGED"
)

// ClaimAPITokenID links an API JWT back to its ApiToken row.
const ClaimAPITokenID = "api_token_id"

// ApiToken is a long-lived credential scoped to a subset of its issuer's
// rights. It cannot be edited after creation.
type ApiToken struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	LinkedUser  string    `json:"linked_user"`
	Rights      []string  `json:"rights"`
	ValidUntil  time.Time `json:"valid_until"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

func (t ApiToken) IsActiveAt(now time.Time) bool {
	return t.Status == StatusActive && now.Before(t.ValidUntil)
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("API_TOKEN")

var (
	CodeNotFound             = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "API token not found")
	CodeDuplicateDescription = ErrRegistry.Register("DUPLICATE_DESCRIPTION", errx.TypeConflict, http.StatusConflict, "An API token with this description already exists")
	CodeNotActive            = ErrRegistry.Register("NOT_ACTIVE", errx.TypeAuthorization, http.StatusUnauthorized, "API token is not active")
)

func ErrNotFound() *errx.Error {
	return ErrRegistry.New(CodeNotFound)
}

func ErrDuplicateDescription() *errx.Error {
	return ErrRegistry.New(CodeDuplicateDescription)
}

func ErrNotActive() *errx.Error {
	return ErrRegistry.New(CodeNotActive)
}
