package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/duckrelay/duckrelay/internal/observability"
)

const (
	HeaderToken     = "X-Relay-Token"
	HeaderSignature = "X-Relay-Signature"
	HeaderKeyID     = "X-Relay-Key"
)

type contextKey string

const identityKey contextKey = "auth_identity"

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Middleware verifies the identity token and body signature before anything
// downstream runs; a rejected request never reaches the database or the
// completion service. The body is re-attached for the next handler.
func Middleware(logger *slog.Logger, verifier Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeUnauthorized(w, r, "unreadable request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			token := r.Header.Get(HeaderToken)
			keyID := r.Header.Get(HeaderKeyID)
			signature := r.Header.Get(HeaderSignature)

			identity, err := verifier.Verify(r.Context(), token, keyID, signature, body)
			if err != nil {
				if logger != nil {
					logger.WarnContext(r.Context(), "request verification failed",
						slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
						slog.String("path", r.URL.Path),
						slog.Any("error", err),
					)
				}
				writeUnauthorized(w, r, err.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
