package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInternalAPIKeyMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := InternalAPIKeyMiddleware("secret-key")(next)

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{name: "valid key", key: "secret-key", status: http.StatusOK},
		{name: "wrong key", key: "other-key", status: http.StatusForbidden},
		{name: "missing key", key: "", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/internal/wallets/w1/observations", nil)
			if tt.key != "" {
				req.Header.Set("x-internal-api-key", tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestInternalAPIKeyMiddleware_EmptyConfiguredKeyDeniesAll(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := InternalAPIKeyMiddleware("")(next)

	req := httptest.NewRequest("POST", "/internal/wallets/w1/observations", nil)
	req.Header.Set("x-internal-api-key", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 when no key is configured", rec.Code)
	}
}
