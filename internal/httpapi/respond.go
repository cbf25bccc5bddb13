package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"meego/internal/apperr"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

// statusFromError maps an apperr sentinel to its HTTP status via
// apperr.StatusFor, the single source of truth for that mapping.
func statusFromError(err error) int {
	return apperr.StatusFor(err)
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("httpapi: empty request body")
	}
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
