package httputil

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONStrict(t *testing.T) {
	type body struct {
		Event map[string]any `json:"event"`
	}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", `{"event":{"a":1}}`, false},
		{"unknown field", `{"event":{},"extra":1}`, true},
		{"malformed", `{"event":`, true},
		{"trailing data", `{"event":{}} {"event":{}}`, true},
		{"too large", `{"event":{"a":"` + strings.Repeat("x", 100) + `"}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", strings.NewReader(tt.input))
			var b body
			err := DecodeJSONStrict(r, &b, 64)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReadBody(t *testing.T) {
	r := httptest.NewRequest("PUT", "/", strings.NewReader("hello"))
	b, err := ReadBody(r, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))

	r = httptest.NewRequest("PUT", "/", strings.NewReader("hello!"))
	_, err = ReadBody(r, 5)
	assert.Error(t, err)
}

func TestQueryParam(t *testing.T) {
	r := httptest.NewRequest("GET", "/?id=abc", nil)
	assert.Equal(t, "abc", QueryParam(r, "id", "default"))
	assert.Equal(t, "default", QueryParam(r, "missing", "default"))
}
