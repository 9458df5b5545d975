// Package errors defines the API error type returned by the Rupee HTTP
// surface and the mapping from storage errors to it.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rupee/rupee/internal/blob"
	"github.com/rupee/rupee/internal/meta"
	"github.com/rupee/rupee/internal/service"
)

// APIError is an error with a machine-readable code, a human-readable
// message and the HTTP status it is served with.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("APIError %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// GetStatus lets the API framework pick the response status.
func (e *APIError) GetStatus() int {
	return e.HTTPStatus
}

// WithMessage returns a copy of e carrying msg.
func (e *APIError) WithMessage(msg string) *APIError {
	cp := *e
	cp.Message = msg
	return &cp
}

var (
	ErrNoSuchBlob = &APIError{
		Code:       "NoSuchBlob",
		Message:    "The specified blob does not exist",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrBlobRefMismatch is returned when a stored reference does not belong
	// to the backend it is recorded under.
	ErrBlobRefMismatch = &APIError{
		Code:       "BlobRefMismatch",
		Message:    "The stored reference does not match its backend",
		HTTPStatus: http.StatusConflict,
	}

	ErrInvalidBlobID = &APIError{
		Code:       "InvalidBlobID",
		Message:    "The blob id is not a valid UUID",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrBlobTooLarge = &APIError{
		Code:       "BlobTooLarge",
		Message:    "The blob exceeds the maximum allowed size",
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}

	ErrInternalError = &APIError{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// FromError maps a storage or service error onto an APIError. Unknown
// errors become ErrInternalError so internal detail never reaches clients.
func FromError(err error) *APIError {
	var apiErr *APIError
	switch {
	case err == nil:
		return nil
	case stderrors.As(err, &apiErr):
		return apiErr
	case stderrors.Is(err, meta.ErrNotFound):
		return ErrNoSuchBlob
	case stderrors.Is(err, blob.ErrRefMismatch):
		return ErrBlobRefMismatch
	case stderrors.Is(err, service.ErrUnavailable):
		return ErrInternalError.WithMessage("No backend could return the blob")
	default:
		return ErrInternalError
	}
}

// WriteJSON renders err as a JSON body with its HTTP status.
func WriteJSON(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	if encErr := json.NewEncoder(w).Encode(err); encErr != nil {
		slog.Warn("Writing error response failed", "code", err.Code, "error", encErr)
	}
}
