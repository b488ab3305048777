package role

import (
	"net/http"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
)

// Role bundles rights under a unique name.
type Role struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Rights        []string `json:"rights"`
	IsProtected   bool     `json:"is_protected"`
	IsDefaultRole bool     `json:"is_default_role"`
	IsSystemRole  bool     `json:"is_system_role"`
}

// RightSet returns the role's authorities as a set.
func (r Role) RightSet() right.Set {
	return right.NewSet(r.Rights...)
}

// HasRight reports whether the role grants authority.
func (r Role) HasRight(authority string) bool {
	for _, a := range r.Rights {
		if a == authority {
			return true
		}
	}
	return false
}

// WithoutRight returns a copy of r that no longer grants authority.
func (r Role) WithoutRight(authority string) Role {
	kept := make([]string, 0, len(r.Rights))
	for _, a := range r.Rights {
		if a != authority {
			kept = append(kept, a)
		}
	}
	r.Rights = kept
	return r
}

// Clone returns a deep copy.
func (r Role) Clone() Role {
	r.Rights = append([]string(nil), r.Rights...)
	return r
}

// Names returns the names of roles.
func Names(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = r.Name
	}
	return out
}

// ============================================================================
// Error Registry
// ============================================================================

var ErrRegistry = errx.NewRegistry("ROLE")

var (
	CodeRoleNotFound      = ErrRegistry.Register("NOT_FOUND", errx.TypeNotFound, http.StatusNotFound, "Role not found")
	CodeRoleAlreadyExists = ErrRegistry.Register("ALREADY_EXISTS", errx.TypeConflict, http.StatusConflict, "Role already exists")
	CodeNameMismatch      = ErrRegistry.Register("NAME_MISMATCH", errx.TypeValidation, http.StatusBadRequest, "Name needs to match entity name")
	CodeInvalidPatch      = ErrRegistry.Register("INVALID_PATCH", errx.TypeValidation, http.StatusBadRequest, "Invalid role patch")
	CodeRoleProtected     = ErrRegistry.Register("PROTECTED", errx.TypeForbidden, http.StatusForbidden, "Protected roles cannot be modified")
)

func ErrRoleNotFound() *errx.Error {
	return ErrRegistry.New(CodeRoleNotFound)
}

func ErrRoleAlreadyExists() *errx.Error {
	return ErrRegistry.New(CodeRoleAlreadyExists)
}

func ErrNameMismatch() *errx.Error {
	return ErrRegistry.New(CodeNameMismatch)
}

func ErrInvalidPatch(reason string) *errx.Error {
	return ErrRegistry.New(CodeInvalidPatch).WithDetail("reason", reason)
}

func ErrRoleProtected() *errx.Error {
	return ErrRegistry.New(CodeRoleProtected)
}
