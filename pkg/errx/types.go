package errx

import "net/http"

// Type is the category of an error. It decides the HTTP status when no
// registered code overrides it.
type Type string

const (
	TypeInternal Type = "INTERNAL"
	// TypeValidation is a malformed or illegal request argument.
	TypeValidation Type = "VALIDATION"
	// TypeAuthorization means credentials were missing or rejected.
	TypeAuthorization Type = "AUTHORIZATION"
	// TypeForbidden means an authenticated caller lacks the right for the operation.
	TypeForbidden Type = "FORBIDDEN"
	TypeNotFound  Type = "NOT_FOUND"
	TypeConflict  Type = "CONFLICT"
	TypeBusiness  Type = "BUSINESS"
	// TypeExternal is a failure of a downstream dependency (database, broker, mail provider).
	TypeExternal Type = "EXTERNAL"
)

func (t Type) String() string {
	return string(t)
}

// HTTPStatus returns the default status for the type.
func (t Type) HTTPStatus() int {
	switch t {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeAuthorization:
		return http.StatusUnauthorized
	case TypeForbidden:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeBusiness:
		return http.StatusUnprocessableEntity
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func typeForStatus(status int) Type {
	switch {
	case status == http.StatusUnauthorized:
		return TypeAuthorization
	case status == http.StatusForbidden:
		return TypeForbidden
	case status == http.StatusNotFound:
		return TypeNotFound
	case status == http.StatusConflict:
		return TypeConflict
	case status == http.StatusUnprocessableEntity:
		return TypeBusiness
	case status >= http.StatusInternalServerError:
		return TypeInternal
	default:
		return TypeValidation
	}
}
