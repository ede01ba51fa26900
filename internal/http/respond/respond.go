package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hongminglow/qrpay/internal/apperr"
)

// Envelope is the standard API response wrapper used across handlers.
type Envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes a success or informational response using the common envelope.
func JSON(w http.ResponseWriter, status int, message string, data any) {
	write(w, status, Envelope{Code: status, Message: message, Data: data})
}

// Error writes an error response with the shared envelope structure.
func Error(w http.ResponseWriter, status int, message string) {
	write(w, status, Envelope{Code: status, Message: message})
}

// FromError writes err with the status its kind maps to.
func FromError(w http.ResponseWriter, err error) {
	Failure(w, err, nil)
}

// Failure is FromError with a payload, used when a request failed but still
// produced a record the caller should see, such as a FAILED transaction.
func Failure(w http.ResponseWriter, err error, data any) {
	status := Status(err)
	message := err.Error()
	if status == http.StatusServiceUnavailable || status == http.StatusInternalServerError {
		message = "service temporarily unavailable"
	}
	write(w, status, Envelope{Code: status, Message: message, Data: data})
}

// Status maps an error kind to an HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInactiveAccount):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrSessionExpired), errors.Is(err, apperr.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrExpired):
		return http.StatusGone
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrService):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func write(w http.ResponseWriter, status int, payload Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("respond: encode payload failed", zap.Error(err))
	}
}
