package errx

import (
	"errors"
	"fmt"
)

// Error is the error value every package returns across its API. Code is
// stable and machine readable, Message is safe to show to clients and Err
// is never serialized.
type Error struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Type       Type           `json:"type"`
	HTTPStatus int            `json:"http_status"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail and returns e for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates an uncoded error of the given type. The type doubles as code.
func New(message string, errType Type) *Error {
	return &Error{
		Code:       string(errType),
		Message:    message,
		Type:       errType,
		HTTPStatus: errType.HTTPStatus(),
	}
}

// Wrap puts err behind a client safe message. A wrapped *Error keeps its
// code, status and details so callers still match it with IsCode.
func Wrap(err error, message string, errType Type) *Error {
	if err == nil {
		return nil
	}

	var coded *Error
	if errors.As(err, &coded) {
		return &Error{
			Code:       coded.Code,
			Message:    message,
			Type:       errType,
			HTTPStatus: coded.HTTPStatus,
			Details:    coded.Details,
			Err:        err,
		}
	}

	e := New(message, errType)
	e.Err = err
	return e
}

// IsCode reports whether any *Error in err's chain carries the registered code.
func IsCode(err error, code *ErrorCode) bool {
	if err == nil || code == nil {
		return false
	}
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code.Code {
			return true
		}
		err = e.Err
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
