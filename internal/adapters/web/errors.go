package web

import (
	"encoding/json"
	"net/http"

	"subscription-ledger/internal/app"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := errorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(r.Context()),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeServiceError maps a ledger error onto an HTTP status. Anything
// unclassified is reported as 500 without the underlying message.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch app.ErrorKind(err) {
	case "not_found":
		writeError(w, r, err.Error(), "NOT_FOUND", http.StatusNotFound)
	case "duplicate":
		writeError(w, r, err.Error(), "DUPLICATE", http.StatusConflict)
	case "over_allocation":
		writeError(w, r, err.Error(), "OVER_ALLOCATION", http.StatusConflict)
	case "in_use":
		writeError(w, r, err.Error(), "IN_USE", http.StatusConflict)
	case "cross_customer":
		writeError(w, r, err.Error(), "CROSS_CUSTOMER", http.StatusUnprocessableEntity)
	case "invalid_amount":
		writeError(w, r, err.Error(), "INVALID_AMOUNT", http.StatusUnprocessableEntity)
	case "validation":
		writeError(w, r, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
	case "canceled":
		writeError(w, r, "request cancelled", "CANCELLED", http.StatusServiceUnavailable)
	default:
		writeError(w, r, "internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
