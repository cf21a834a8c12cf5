package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"trullo.app/internal/obs"
	"trullo.app/internal/policy"
	"trullo.app/internal/tracker"
)

const (
	statusSuccess = "SUCCESS"
	statusFail    = "FAIL"

	codeConflict = "CONFLICT"
)

type envelope struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, code int, message string, data any) {
	writeJSON(w, code, envelope{Status: statusSuccess, Message: message, Data: data})
}

func writeFail(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, envelope{
		Status:    statusFail,
		Message:   message,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeError is used for transport-level failures outside the domain
// envelope (rate limiting, unknown routes, wrong methods).
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func notFoundRoute(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "resource not found")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeDenial(w http.ResponseWriter, r *http.Request, err error) {
	var perr *policy.Error
	if !errors.As(err, &perr) {
		perr = &policy.Error{Code: policy.CodeInternal, Message: policy.ErrInternal.Message, Err: err}
	}
	if perr.Code == policy.CodeInternal {
		logInternal(r, perr)
	}
	writeFail(w, r, perr.HTTPStatus(), string(perr.Code), perr.Message)
}

// handleTrackerError maps business errors to the FAIL envelope. Policy
// errors raised below the guard keep their own code.
func handleTrackerError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *policy.Error
	switch {
	case errors.As(err, &perr):
		writeDenial(w, r, perr)
	case errors.Is(err, tracker.ErrInvalidCredentials):
		writeFail(w, r, http.StatusBadRequest, string(policy.CodeBadInput), err.Error())
	case errors.Is(err, tracker.ErrInvalidInput):
		writeFail(w, r, http.StatusBadRequest, string(policy.CodeBadInput), err.Error())
	case errors.Is(err, tracker.ErrConflict):
		writeFail(w, r, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, tracker.ErrNotFound):
		writeFail(w, r, http.StatusNotFound, string(policy.CodeNotFound), err.Error())
	default:
		logInternal(r, err)
		writeFail(w, r, http.StatusInternalServerError, string(policy.CodeInternal), policy.ErrInternal.Message)
	}
}

func logInternal(r *http.Request, err error) {
	cause := err
	if u := errors.Unwrap(err); u != nil {
		cause = u
	}
	obs.Log("error", "internal_error", map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
		"error":      cause.Error(),
	})
}

// pageRequest reads page and limit query parameters. limit=0 lists everything.
func pageRequest(r *http.Request) (tracker.PageRequest, error) {
	req := tracker.DefaultPageRequest()
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("page")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return req, errors.New("page must be a positive integer")
		}
		req.Page = n
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > 1000 {
			return req, errors.New("limit must be between 0 and 1000")
		}
		req.Limit = n
	}
	return req, nil
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeFail(w, r, http.StatusBadRequest, string(policy.CodeBadInput), msg)
}
