package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/errors"
)

// WriteJSON writes a JSON response with the given status code.
// Encoding errors are ignored; the status line has already been sent.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes {"error": msg} with the given status code.
func WriteError(w http.ResponseWriter, code int, msg string) {
	WriteJSON(w, code, map[string]any{"error": msg})
}

// WriteErr maps err to its status code and writes it.
func WriteErr(w http.ResponseWriter, err error) {
	errors.WriteHTTPError(w, err)
}

// WriteSuccess writes {"status": "ok"} merged with data.
func WriteSuccess(w http.ResponseWriter, data map[string]any) {
	response := map[string]any{"status": "ok"}
	for k, v := range data {
		response[k] = v
	}
	WriteJSON(w, http.StatusOK, response)
}
