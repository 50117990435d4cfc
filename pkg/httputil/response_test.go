package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/errors"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		data       any
		wantStatus int
		wantBody   string
	}{
		{"simple map", http.StatusOK, map[string]any{"key": "value"}, http.StatusOK, `{"key":"value"}`},
		{"array", http.StatusCreated, []string{"a", "b"}, http.StatusCreated, `["a","b"]`},
		{"nested", http.StatusOK, map[string]any{"event": map[string]any{"n": 1}}, http.StatusOK, `{"event":{"n":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.code, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusBadRequest, "tenant is required")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"tenant is required"}`, w.Body.String())
}

func TestWriteErrMapsStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErr(w, errors.NewNotFoundError("blob", "dataStore/t/r_c"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "blob")
	assert.Equal(t, errors.CodeNotFound, body["code"])
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]any{"id": "abc"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","id":"abc"}`, w.Body.String())
}
