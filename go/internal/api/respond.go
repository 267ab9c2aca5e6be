// Package api holds the JSON plumbing shared by the HTTP services.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

type errorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes v with the given status. Encoding failures are logged,
// the header is already gone at that point.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// WriteError writes a JSON error body with the given status.
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteJSON(w, status, errorBody{Error: err.Error()})
}

// Decode parses the request body into v, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
