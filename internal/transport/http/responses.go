package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"tributary/pkg/platform/sentinel"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates sentinel errors into HTTP statuses. Cross-tenant
// reads already surface as not-found from the stores, so ErrTenantScope here
// means the caller's own scope was missing or mismatched.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		status, message = http.StatusNotFound, "not found"
	case errors.Is(err, sentinel.ErrTenantScope):
		status, message = http.StatusForbidden, "tenant scope missing or mismatched"
	case errors.Is(err, sentinel.ErrConflict):
		status, message = http.StatusConflict, "conflicting concurrent write"
	case errors.Is(err, sentinel.ErrInvalidState):
		status, message = http.StatusConflict, "invalid state for this operation"
	case errors.Is(err, sentinel.ErrQuarantined):
		status, message = http.StatusConflict, "row is quarantined"
	case errors.Is(err, sentinel.ErrUnavailable):
		status, message = http.StatusServiceUnavailable, "temporarily unavailable"
	}
	writeJSON(w, status, errorBody{Error: message})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: message})
}
