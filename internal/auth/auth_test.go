package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware(Config{Enabled: true, Token: "s3cret"})(ok)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"probe is public", "/healthz", "", http.StatusNoContent},
		{"catalog is public", "/api/v1/catalog", "", http.StatusNoContent},
		{"body state is public", "/api/v1/bodies/earth/state", "", http.StatusNoContent},
		{"keyframes are public", "/api/v1/keyframes/latest", "", http.StatusNoContent},
		{"evaluate needs a token", "/api/v1/evaluate", "", http.StatusUnauthorized},
		{"wrong token", "/api/v1/evaluate", "Bearer nope", http.StatusUnauthorized},
		{"missing scheme", "/api/v1/evaluate", "s3cret", http.StatusUnauthorized},
		{"empty bearer", "/api/v1/cache/stats", "Bearer ", http.StatusUnauthorized},
		{"valid token", "/api/v1/evaluate", "Bearer s3cret", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	h := Middleware(Config{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/evaluate", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 with auth disabled", w.Code)
	}
}
