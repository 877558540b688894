package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"binledger/internal/apperror"
	applog "binledger/internal/log"
)

// errorResponse is the body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", applog.FieldError, err)
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrInvalidCredential), errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound), errors.Is(err, apperror.ErrUsernameNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrUsernameTaken),
		errors.Is(err, apperror.ErrIdentityConflict),
		errors.Is(err, apperror.ErrNoOpChange):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as an errorResponse. Messages of errors outside the
// taxonomy are not shown to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: "internal server error", Code: apperror.Code(err)}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
		resp.Field = appErr.Field
	}

	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentHTTP)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", applog.FieldError, err, applog.FieldStatusCode, status)
	} else {
		logger.DebugContext(r.Context(), "Request rejected", applog.FieldError, err, applog.FieldStatusCode, status)
	}
	writeJSON(w, status, resp)
}
