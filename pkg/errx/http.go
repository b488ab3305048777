package errx

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// HTTPErrorResponse is the body of every non 2xx API response.
type HTTPErrorResponse struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Type       string         `json:"type"`
	Details    map[string]any `json:"details,omitempty"`
	StatusCode int            `json:"status_code"`
	RequestID  string         `json:"request_id,omitempty"`
}

func (e *Error) ToHTTPResponse() HTTPErrorResponse {
	return HTTPErrorResponse{
		Code:       e.Code,
		Message:    e.Message,
		Type:       string(e.Type),
		Details:    e.Details,
		StatusCode: e.HTTPStatus,
	}
}

// FromError normalizes any error into an *Error. Fiber errors keep their
// status, everything else becomes an internal error.
func FromError(err error) *Error {
	var custom *Error
	if errors.As(err, &custom) {
		return custom
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		e := New(fe.Message, typeForStatus(fe.Code))
		e.HTTPStatus = fe.Code
		return e
	}

	return Wrap(err, "An unexpected error occurred", TypeInternal)
}

// WriteFiber writes the error as a JSON response on the fiber context.
func (e *Error) WriteFiber(c *fiber.Ctx) error {
	resp := e.ToHTTPResponse()
	resp.RequestID = c.GetRespHeader(fiber.HeaderXRequestID, c.Get(fiber.HeaderXRequestID))
	return c.Status(e.HTTPStatus).JSON(resp)
}

// FiberErrorHandler is a fiber.Config.ErrorHandler that renders every error
// through the errx response shape. Internal causes are never serialized.
func FiberErrorHandler(c *fiber.Ctx, err error) error {
	return FromError(err).WriteFiber(c)
}
