package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeData writes the success envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{
		"success": true,
		"data":    data,
	})
}

// writeError writes the failure envelope. extra fields, if any, are merged
// into the body alongside "error".
func writeError(w http.ResponseWriter, status int, msg string, extra ...map[string]any) {
	body := map[string]any{
		"success": false,
		"error":   msg,
	}
	for _, m := range extra {
		for k, v := range m {
			body[k] = v
		}
	}
	writeJSON(w, status, body)
}

// decodeJSON decodes a request body, treating an empty body as an empty object.
func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
