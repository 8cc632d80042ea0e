package json

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorHelpers(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantError  string
	}{
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "sign in") }, http.StatusUnauthorized, "unauthorized"},
		{"bad request", func(w http.ResponseWriter) { WriteBadRequest(w, "bad") }, http.StatusBadRequest, "bad_request"},
		{"not found", func(w http.ResponseWriter) { WriteNotFound(w, "missing") }, http.StatusNotFound, "not_found"},
		{"bad gateway", func(w http.ResponseWriter) { WriteBadGateway(w, "transport_failure", "down") }, http.StatusBadGateway, "transport_failure"},
		{"gateway timeout", func(w http.ResponseWriter) { WriteGatewayTimeout(w, "slow") }, http.StatusGatewayTimeout, "gateway_timeout"},
		{"internal", func(w http.ResponseWriter) { WriteInternalServerError(w, "oops") }, http.StatusInternalServerError, "internal_server_error"},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "later") }, http.StatusServiceUnavailable, "service_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantError, resp.Error)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestWrite(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, Write(w, map[string]string{"status": "ok"}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestWriteRaw(t *testing.T) {
	w := httptest.NewRecorder()
	WriteRaw(w, json.RawMessage(`{"label":"greeting"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"label":"greeting"}`, w.Body.String())
}
