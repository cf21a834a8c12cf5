package policy

import "net/http"

// Code is the stable machine-readable reason attached to a denial.
type Code string

const (
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeBadInput        Code = "BAD_INPUT"
	CodeInternal        Code = "INTERNAL"
)

// Error is returned when policy evaluation denies or cannot complete.
type Error struct {
	Code       Code
	Message    string
	ResourceID string
	Err        error
}

var (
	ErrUnauthenticated = &Error{Code: CodeUnauthenticated, Message: "you must be logged in"}
	ErrForbidden       = &Error{Code: CodeForbidden, Message: "you are not allowed to perform this action"}
	ErrNotFound        = &Error{Code: CodeNotFound, Message: "resource not found"}
	ErrBadInput        = &Error{Code: CodeBadInput, Message: "bad input"}
	ErrInternal        = &Error{Code: CodeInternal, Message: "internal error"}
)

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so callers can test against
// the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPStatus maps the code onto a REST status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBadInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Extensions exposes the code to GraphQL clients. The wrapped cause is never
// included.
func (e *Error) Extensions() map[string]interface{} {
	ext := map[string]interface{}{"code": string(e.Code)}
	if e.ResourceID != "" {
		ext["resourceId"] = e.ResourceID
	}
	return ext
}

func unauthenticated() *Error {
	return &Error{Code: CodeUnauthenticated, Message: ErrUnauthenticated.Message}
}

func forbidden(resourceID string) *Error {
	return &Error{Code: CodeForbidden, Message: ErrForbidden.Message, ResourceID: resourceID}
}

func notFound(kind Kind, id string) *Error {
	return &Error{Code: CodeNotFound, Message: kind.String() + " not found", ResourceID: id}
}

func badInput(arg string) *Error {
	return &Error{Code: CodeBadInput, Message: "missing required argument " + arg}
}

func internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: ErrInternal.Message, Err: err}
}
