package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log"
	"net/http"

	"github.com/google/uuid"
)

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	apiKeyKey    contextKey = "api_key"
	requestIDKey contextKey = "request_id"
)

// NewMiddleware checks the x-api-key header against the configured shared
// secret. Unauthenticated requests never reach the handlers behind it; the
// raw key of authenticated requests is placed in the context so the
// orchestrator can derive the caller hash.
func NewMiddleware(sharedSecret string) Middleware {
	secret := []byte(sharedSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Generate RequestID
			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			apiKey := r.Header.Get("x-api-key")
			if apiKey == "" {
				log.Printf("auth: failed path=%s reason=missing_api_key", r.URL.Path)
				http.Error(w, "API key is required", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(apiKey), secret) != 1 {
				// Log only a hash prefix; the presented key never lands in logs.
				h := sha256.Sum256([]byte(apiKey))
				log.Printf("auth: failed path=%s reason=invalid_api_key key=%s",
					r.URL.Path, hex.EncodeToString(h[:])[:8])
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, apiKeyKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Helpers to extract from context
func GetAPIKey(ctx context.Context) string {
	if key, ok := ctx.Value(apiKeyKey).(string); ok {
		return key
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithAPIKey(ctx context.Context, apiKey string) context.Context {
	return context.WithValue(ctx, apiKeyKey, apiKey)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
