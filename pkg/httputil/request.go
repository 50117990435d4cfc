package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxBody caps JSON request bodies.
const DefaultMaxBody = 4 << 20

// DecodeJSONStrict decodes the request body into v, rejecting unknown fields,
// trailing data and bodies over maxBytes.
func DecodeJSONStrict(r *http.Request, v any, maxBytes int64) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON body")
	}
	return nil
}

// ReadBody reads the entire request body up to maxBytes.
// A body longer than maxBytes is an error rather than silently truncated.
func ReadBody(r *http.Request, maxBytes int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxBytes)
	}
	return b, nil
}

// QueryParam returns the value of a query parameter, or defaultValue if not present.
func QueryParam(r *http.Request, key, defaultValue string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return defaultValue
}
