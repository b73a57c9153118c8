package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/axisimaging/dicomweb"
	"github.com/axisimaging/dicomweb/auth"
)

// ErrorResponse represents a JSON error response. Error is a stable,
// machine-readable code; Message is for humans.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, code int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error response
func WriteError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errCode,
		Message: message,
	}); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// Standard response factories.

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "bad_request", message)
}

// WriteUnauthorized writes a 401 with a bearer challenge header.
func WriteUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="dicomweb"`)
	WriteError(w, http.StatusUnauthorized, "unauthorized", message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, "access_denied", message)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, "not_found", message)
}

func WriteNotAcceptable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotAcceptable, "not_acceptable", message)
}

func WriteConflict(w http.ResponseWriter, errCode, message string) {
	WriteError(w, http.StatusConflict, errCode, message)
}

func WritePayloadTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", message)
}

func WriteUnsupportedMediaType(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", message)
}

func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
}

func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusServiceUnavailable, "service_unavailable", message)
}

// HandleError maps domain sentinels to their response. Unrecognized
// errors surface as 500.
func HandleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dicomweb.ErrNotFound):
		WriteNotFound(w, "Resource not found")
	case errors.Is(err, dicomweb.ErrInvalidInput):
		WriteBadRequest(w, err.Error())
	case errors.Is(err, dicomweb.ErrTransactionUIDRequired):
		WriteBadRequest(w, "Transaction UID required")
	case errors.Is(err, dicomweb.ErrTransactionUIDMismatch):
		WriteConflict(w, "transaction_uid_mismatch", "Transaction UID does not match")
	case errors.Is(err, dicomweb.ErrInvalidStateTransition):
		WriteConflict(w, "invalid_state_transition", "State transition not permitted")
	case errors.Is(err, dicomweb.ErrWorkitemFinal):
		WriteConflict(w, "workitem_final", "Workitem is in a final state")
	case errors.Is(err, auth.ErrAccessDenied):
		WriteForbidden(w, err.Error())
	default:
		slog.Error("request error", "error", err)
		WriteInternalError(w)
	}
}
