package utils

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, 200, map[string]string{"key": "value"})
	require.NoError(t, err)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "value", body["key"])
}

func TestWriteJSONNilBody(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, 204, nil)
	require.NoError(t, err)
	assert.Equal(t, 204, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteOK(w, "payload")
	require.NoError(t, err)
	assert.Equal(t, 200, w.Code)

	var body SuccessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "payload", body.Data)
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name     string
		write    func(w *httptest.ResponseRecorder) error
		code     int
		errLabel string
	}{
		{
			name:     "not found",
			write:    func(w *httptest.ResponseRecorder) error { return WriteNotFound(w, "") },
			code:     404,
			errLabel: "not_found",
		},
		{
			name:     "internal error",
			write:    func(w *httptest.ResponseRecorder) error { return WriteInternalServerError(w, "") },
			code:     500,
			errLabel: "internal_error",
		},
		{
			name:     "service unavailable",
			write:    func(w *httptest.ResponseRecorder) error { return WriteServiceUnavailable(w, "backends down") },
			code:     503,
			errLabel: "service_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))
			assert.Equal(t, tt.code, w.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.errLabel, body.Error)
			assert.NotEmpty(t, body.Message)
		})
	}
}
