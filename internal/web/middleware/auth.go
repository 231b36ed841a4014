package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const usernameContextKey contextKey = "username"

// TokenVerifier checks a bearer token and returns the username it was issued to.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// RequireAuth is middleware that requires a valid bearer token
func RequireAuth(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}
			username, err := tokens.Verify(token)
			if err != nil {
				unauthorized(w)
				return
			}

			ctx := SetUsernameInContext(r.Context(), username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUsernameFromContext returns the authenticated username, or "" outside RequireAuth
func GetUsernameFromContext(ctx context.Context) string {
	username, _ := ctx.Value(usernameContextKey).(string)
	return username
}

// SetUsernameInContext adds a username to the context.
// This is primarily for testing - use RequireAuth middleware in production.
func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameContextKey, username)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="photo-finder"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
}
