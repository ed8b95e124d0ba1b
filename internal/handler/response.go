package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// errorResponse is the wire shape of every non-2xx body: a stable
// machine-readable code plus a human-readable message.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON serializes data with the given status. An encoding failure
// is dropped since the status line is already on the wire.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// readJSON decodes the request body into v. The contentTypeJSON
// middleware has already vetted the Content-Type header; unknown fields
// are rejected so a misspelled key fails instead of silently zeroing
// the field.
func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("request body: %v", err)
	}
	return nil
}
