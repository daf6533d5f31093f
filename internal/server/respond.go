package server

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the uniform error body
type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

func respondValidationErrors(w http.ResponseWriter, errs []ValidationError) {
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Details: errs})
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
