// Package handlers provides HTTP handlers for the appointment API.
package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/carebridge/carebridge/internal/domain/appointment"
)

// envelope is the body of every JSON response: success, message and any
// payload keys merged at the top level.
type envelope map[string]interface{}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, message string, payload envelope) {
	body := envelope{"success": true, "message": message}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

func fail(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{"success": false, "message": message})
}

// statusFor maps a domain failure kind to its HTTP status.
func statusFor(kind appointment.Kind) int {
	switch kind {
	case appointment.KindNotFound:
		return http.StatusNotFound
	case appointment.KindUnauthorized:
		return http.StatusForbidden
	case appointment.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// domainError writes err using its domain kind and user-facing message.
// Internal causes are logged, never returned.
func domainError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(appointment.KindOf(err))
	if status == http.StatusInternalServerError {
		logger.Error("appointment operation failed", zap.Error(err))
	}
	fail(w, status, appointment.MessageOf(err))
}
