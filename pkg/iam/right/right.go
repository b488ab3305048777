package right

import (
	"net/http"
	"sort"

	"github.com/Abraxas-365/bastion/pkg/errx"
)

// Right is a single grantable authority.
type Right struct {
	Authority   string `db:"authority" json:"authority"`
	Description string `db:"description" json:"description"`
}

// Baseline application rights. The administrative baseline is the subset
// of these that exists in the right store.
const (
	APIDeveloper = "API_DEVELOPER"
	UserCreate   = "USER_CREATE"
	UserRead     = "USER_READ"
	UserUpdate   = "USER_UPDATE"
	UserDelete   = "USER_DELETE"
	RoleCreate   = "ROLE_CREATE"
	RoleRead     = "ROLE_READ"
	RoleUpdate   = "ROLE_UPDATE"
	RoleDelete   = "ROLE_DELETE"
	RightRead    = "RIGHT_READ"
	RightUpdate  = "RIGHT_UPDATE"
)

// Basic returns the baseline application rights in a stable order.
func Basic() []Right {
	return []Right{
		{Authority: APIDeveloper, Description: "Create and manage own API tokens"},
		{Authority: UserCreate, Description: "Create users"},
		{Authority: UserRead, Description: "Read users"},
		{Authority: UserUpdate, Description: "Update users"},
		{Authority: UserDelete, Description: "Delete users"},
		{Authority: RoleCreate, Description: "Create roles"},
		{Authority: RoleRead, Description: "Read roles"},
		{Authority: RoleUpdate, Description: "Update roles"},
		{Authority: RoleDelete, Description: "Delete roles"},
		{Authority: RightRead, Description: "Read rights"},
		{Authority: RightUpdate, Description: "Update rights"},
	}
}

// IsBasic reports whether authority belongs to the baseline.
func IsBasic(authority string) bool {
	for _, r := range Basic() {
		if r.Authority == authority {
			return true
		}
	}
	return false
}

// Set is an unordered collection of authorities.
type Set map[string]struct{}

func NewSet(authorities ...string) Set {
	s := make(Set, len(authorities))
	for _, a := range authorities {
		s[a] = struct{}{}
	}
	return s
}

func (s Set) Has(authority string) bool {
	_, ok := s[authority]
	return ok
}

// ContainsAll reports whether every authority of other is in s.
func (s Set) ContainsAll(other Set) bool {
	for a := range other {
		if !s.Has(a) {
			return false
		}
	}
	return true
}

// Sorted returns the authorities in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("RIGHT")

var (
	CodeRightNotFound      = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Right not found")
	CodeRightAlreadyExists = ErrRegistry.Register("ALREADY_EXISTS", errx.TypeConflict, http.StatusConflict, "Right already exists")
	CodeAuthorityMismatch  = ErrRegistry.Register("AUTHORITY_MISMATCH", errx.TypeValidation, http.StatusBadRequest, "Authority needs to match entity authority")
)

func ErrRightNotFound() *errx.Error {
	return ErrRegistry.New(CodeRightNotFound)
}

func ErrRightAlreadyExists() *errx.Error {
	return ErrRegistry.New(CodeRightAlreadyExists)
}

func ErrAuthorityMismatch() *errx.Error {
	return ErrRegistry.New(CodeAuthorityMismatch)
}
