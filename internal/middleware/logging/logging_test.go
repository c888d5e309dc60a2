package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/deployproof/internal/middleware/realip"
)

func serve(t *testing.T, handler http.Handler, req *http.Request) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	rr := httptest.NewRecorder()
	Middleware(logger)(handler).ServeHTTP(rr, req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func respond(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func TestMiddleware_Fields(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/verifications", nil)
	req.RemoteAddr = "192.0.2.44:5000"
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "req-1"))

	entry := serve(t, respond(http.StatusOK, `{"outcome":"match"}`), req)

	assert.Equal(t, "request", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "POST", entry["method"])
	assert.Equal(t, "/api/v1/verifications", entry["path"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.Equal(t, float64(len(`{"outcome":"match"}`)), entry["bytes"])
	assert.Equal(t, "192.0.2.44", entry["client_ip"])
	assert.Contains(t, entry, "duration")
}

func TestMiddleware_Levels(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   string
	}{
		{"/api/v1/verifications", http.StatusOK, "INFO"},
		{"/api/v1/verifications", http.StatusBadRequest, "WARN"},
		{"/api/v1/verifications", http.StatusBadGateway, "ERROR"},
		{"/healthz", http.StatusOK, "DEBUG"},
		{"/readyz", http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.path+"/"+http.StatusText(tt.status), func(t *testing.T) {
			entry := serve(t, respond(tt.status, ""), httptest.NewRequest("GET", tt.path, nil))
			assert.Equal(t, tt.want, entry["level"])
		})
	}
}

func TestMiddleware_ImplicitStatus(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body"))
	})
	entry := serve(t, handler, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, float64(http.StatusOK), entry["status"])

	silent := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	entry = serve(t, silent, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, float64(http.StatusOK), entry["status"])
}

func TestMiddleware_UsesRealIP(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	chain := realip.Middleware(realip.Config{TrustProxy: true, TrustedProxies: []string{"10.0.0.0/8"}})(
		Middleware(logger)(respond(http.StatusOK, "")),
	)

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:12345"
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	chain.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "203.0.113.50", entry["client_ip"])
}
