package common

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// AppError pairs a failure with the code and status the API reports for it.
// Message is safe to show clients; Err keeps the cause for logs and errors.Is.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// ErrorBody is the error payload returned by the API. RequestID echoes the
// X-Request-Id assigned by the router so clients can quote it.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// JSON writes v as the JSON response body.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders {"error": ErrorBody} for r.
func JSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	body := ErrorBody{Code: code, Message: message}
	if r != nil {
		body.RequestID = middleware.GetReqID(r.Context())
	}
	JSON(w, status, map[string]ErrorBody{"error": body})
}

// WriteError renders err with the code and status of the first AppError in its chain.
// Errors without an AppError are reported as an opaque internal failure.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		JSONError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	JSONError(w, r, status, appErr.Code, appErr.Message)
}
