package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rickicode/bulkpanel"
)

// errorResponse is the structured failure body: a human-readable
// message plus a stable machine code.
type errorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// httpStatusFromDomainError maps engine errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	switch {
	case errors.Is(err, bulkpanel.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, bulkpanel.ErrInvalidJob), errors.Is(err, bulkpanel.ErrUnknownKind):
		return http.StatusBadRequest
	case errors.Is(err, bulkpanel.ErrJobTerminal):
		return http.StatusConflict
	case errors.Is(err, bulkpanel.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := httpStatusFromDomainError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal detail stays in the logs.
		msg = "internal error"
	}
	writeErrorMessage(w, status, bulkpanel.Code(err), msg)
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Message: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
