package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cgradwohl/backend-services-2-sub001/pkg/schema"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"code": code, "error": msg})
}

// writeAutomationError maps err to a status code. Unclassified errors are
// reported without their internals.
func writeAutomationError(w http.ResponseWriter, err error) {
	var ae *schema.AutomationError
	if !errors.As(err, &ae) {
		writeError(w, http.StatusInternalServerError, schema.ErrCodeExecution, schema.UserMessage(err))
		return
	}
	writeError(w, statusFor(ae.Code), ae.Code, ae.Message)
}

func statusFor(code string) int {
	switch code {
	case schema.ErrCodeValidation:
		return http.StatusBadRequest
	case schema.ErrCodeNotFound:
		return http.StatusNotFound
	case schema.ErrCodeConflict:
		return http.StatusConflict
	case schema.ErrCodeCycleDetected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, schema.ErrCodeValidation, "invalid JSON: "+err.Error())
		return false
	}
	return true
}
