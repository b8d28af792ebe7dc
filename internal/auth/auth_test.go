package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func setupTest(secret string) (http.Handler, *bool) {
	reached := false
	mw := NewMiddleware(secret)
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))
	return handler, &reached
}

func TestMiddleware_MissingKey(t *testing.T) {
	handler, reached := setupTest("secret")

	req := httptest.NewRequest("POST", "/process", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
	if *reached {
		t.Error("Handler must not run without an API key")
	}
}

func TestMiddleware_WrongKey(t *testing.T) {
	handler, reached := setupTest("secret")

	req := httptest.NewRequest("POST", "/process", nil)
	req.Header.Set("x-api-key", "wrong")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
	if *reached {
		t.Error("Handler must not run with a wrong API key")
	}
}

func TestMiddleware_ValidKey(t *testing.T) {
	mw := NewMiddleware("secret")
	var gotKey, gotRequestID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = GetAPIKey(r.Context())
		gotRequestID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/process", nil)
	req.Header.Set("x-api-key", "secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if gotKey != "secret" {
		t.Errorf("Expected raw key in context, got %q", gotKey)
	}
	if gotRequestID == "" {
		t.Error("Expected request ID in context")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID response header")
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if GetAPIKey(req.Context()) != "" {
		t.Error("Expected empty key for bare context")
	}
	if GetRequestID(req.Context()) != "" {
		t.Error("Expected empty request ID for bare context")
	}
}
