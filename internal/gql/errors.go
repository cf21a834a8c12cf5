package gql

import (
	"errors"

	"trullo.app/internal/obs"
	"trullo.app/internal/policy"
	"trullo.app/internal/tracker"
)

const codeConflict = "CONFLICT"

// Error is a business failure reported to clients under extensions.code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": e.Code}
}

// toError keeps policy errors as they are and gives tracker errors a code.
// Unexpected failures are logged and reported without detail.
func toError(err error) error {
	if err == nil {
		return nil
	}
	var perr *policy.Error
	if errors.As(err, &perr) {
		if perr.Code == policy.CodeInternal {
			logInternal(perr)
		}
		return perr
	}
	switch {
	case errors.Is(err, tracker.ErrInvalidCredentials), errors.Is(err, tracker.ErrInvalidInput):
		return &Error{Code: string(policy.CodeBadInput), Message: err.Error()}
	case errors.Is(err, tracker.ErrConflict):
		return &Error{Code: codeConflict, Message: err.Error()}
	case errors.Is(err, tracker.ErrNotFound):
		return &Error{Code: string(policy.CodeNotFound), Message: err.Error()}
	default:
		logInternal(err)
		return &Error{Code: string(policy.CodeInternal), Message: policy.ErrInternal.Message}
	}
}

// logInternal records the cause behind an INTERNAL error. Clients only see
// the generic message.
func logInternal(err error) {
	cause := err
	if u := errors.Unwrap(err); u != nil {
		cause = u
	}
	obs.Log("error", "graphql_internal_error", map[string]any{"error": cause.Error()})
}
