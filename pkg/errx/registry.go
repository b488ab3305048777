package errx

import (
	"fmt"
	"sort"
	"sync"
)

// ErrorCode is a registered error code. Codes are compared by Code, so two
// registries never hand out the same string.
type ErrorCode struct {
	Code       string
	Type       Type
	HTTPStatus int
	Message    string
}

func (c *ErrorCode) build(message string, cause error) *Error {
	return &Error{
		Code:       c.Code,
		Message:    message,
		Type:       c.Type,
		HTTPStatus: c.HTTPStatus,
		Err:        cause,
	}
}

// Registry hands out codes under a package prefix, e.g. IAM_NOT_ALLOWED.
type Registry struct {
	prefix string
}

var (
	catalogMu sync.Mutex
	catalog   = make(map[string]*ErrorCode)
)

func NewRegistry(prefix string) *Registry {
	return &Registry{prefix: prefix}
}

// Register declares a code. It panics when the full code was already
// registered, which can only happen through a programming error at init.
func (r *Registry) Register(code string, errType Type, httpStatus int, message string) *ErrorCode {
	ec := &ErrorCode{
		Code:       fmt.Sprintf("%s_%s", r.prefix, code),
		Type:       errType,
		HTTPStatus: httpStatus,
		Message:    message,
	}

	catalogMu.Lock()
	defer catalogMu.Unlock()
	if _, dup := catalog[ec.Code]; dup {
		panic("errx: duplicate error code " + ec.Code)
	}
	catalog[ec.Code] = ec
	return ec
}

func (r *Registry) New(code *ErrorCode) *Error {
	return code.build(code.Message, nil)
}

func (r *Registry) NewWithMessage(code *ErrorCode, message string) *Error {
	return code.build(message, nil)
}

// NewWithCause keeps cause for logging. Only the registered message reaches clients.
func (r *Registry) NewWithCause(code *ErrorCode, cause error) *Error {
	return code.build(code.Message, cause)
}

// Codes returns every registered code sorted by name.
func Codes() []ErrorCode {
	catalogMu.Lock()
	defer catalogMu.Unlock()

	out := make([]ErrorCode, 0, len(catalog))
	for _, c := range catalog {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
