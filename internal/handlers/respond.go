// Package handlers exposes the HTTP surface. Handlers validate the
// request shape and bearer credentials, then delegate to the owning
// component; every response is a JSON envelope with a success flag.
package handlers

import (
	"encoding/json"
	"net/http"

	"chess-arena/internal/apperr"
)

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondSuccess wraps the payload fields in a success envelope.
func respondSuccess(w http.ResponseWriter, fields map[string]interface{}) {
	body := map[string]interface{}{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	respondWithJSON(w, http.StatusOK, body)
}

// respondError maps the error to its envelope and status. Extra meta
// fields on the error (e.g. current game status on a conflict) are
// merged into the envelope so callers can resynchronize.
func respondError(w http.ResponseWriter, err error) {
	ae := apperr.From(err)
	body := map[string]interface{}{
		"success": false,
		"error":   string(ae.Code),
		"message": ae.Message,
	}
	for k, v := range ae.Meta {
		body[k] = v
	}
	respondWithJSON(w, ae.HTTPStatus(), body)
}

func respondBadRequest(w http.ResponseWriter, message string) {
	respondError(w, apperr.New(apperr.CodeBadRequest, message))
}

// decodeBody strictly decodes a JSON request body.
func decodeBody(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return apperr.New(apperr.CodeBadRequest, "invalid request body")
	}
	return nil
}
